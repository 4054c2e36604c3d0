package deploy

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ferry/api/model"
	"ferry/api/remote"
	"ferry/api/trail"
)

var (
	ErrInvalidRequest       = errors.New("invalid deployment request")
	ErrDeploymentInProgress = errors.New("a deployment to this target path is already running")
)

// Policy decides what a non-zero exit of a step's command does.
type Policy int

const (
	PolicyContinue Policy = iota
	PolicyAbort
)

func (p Policy) String() string {
	if p == PolicyAbort {
		return "abort"
	}
	return "continue"
}

// StepError is returned when a command exits non-zero on an abort step.
type StepError struct {
	Step     string
	ExitCode int
	Stderr   string
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %s exited with status %d", e.Step, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// ArchiveKeeper stores a copy of a downloaded archive. Optional.
type ArchiveKeeper interface {
	Keep(ctx context.Context, key, localPath string) error
}

// Observer receives per-step timings. Optional.
type Observer interface {
	ObserveStep(step string, d time.Duration, err error)
}

type Orchestrator struct {
	Dialer     remote.Dialer
	SourceAuth remote.Auth // server-held key used for every source host
	Profile    *Profile
	Archives   ArchiveKeeper
	Observer   Observer
	Rand       io.Reader // secret source; crypto/rand when nil
	WorkDir    string    // local staging; os.TempDir when empty
	Logger     *slog.Logger

	mu     sync.Mutex
	active map[string]bool
}

// Result is the outcome of one pipeline run.
type Result struct {
	ArchiveKey string
}

// Deploy runs the full pipeline for req, writing progress to tr. The error is
// nil only when every step ran; the trail holds whatever was logged either
// way.
func (o *Orchestrator) Deploy(ctx context.Context, req *model.DeploymentRequest, tr *trail.Trail) (*Result, error) {
	req.Normalize()
	if missing := req.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}

	installDir := path.Join(req.InstallPath, req.Domain)
	key := req.TargetIP + ":" + installDir
	if !o.acquire(key) {
		return nil, ErrDeploymentInProgress
	}
	defer o.release(key)

	local, err := os.MkdirTemp(o.WorkDir, "ferry-")
	if err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(local)

	r := &run{
		o:          o,
		req:        req,
		tr:         tr,
		profile:    o.profile(),
		installDir: installDir,
		localTar:   filepath.Join(local, "instance.tar.gz"),
		result:     &Result{},
	}
	defer r.closeAll()

	for _, s := range r.plan() {
		r.cur = s
		tr.Step(ctx, s.num, "%s", s.title)

		start := time.Now()
		err := s.run(ctx, r)
		if o.Observer != nil {
			o.Observer.ObserveStep(s.name, time.Since(start), err)
		}
		if err != nil {
			o.logger().Warn("deployment aborted", "domain", req.Domain, "step", s.name, "error", err)
			return r.result, err
		}
	}

	tr.Add(ctx, "[Final] Deployment completed successfully!")
	return r.result, nil
}

func (o *Orchestrator) profile() *Profile {
	if o.Profile != nil {
		return o.Profile
	}
	return DefaultProfile()
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) random() io.Reader {
	if o.Rand != nil {
		return o.Rand
	}
	return rand.Reader
}

func (o *Orchestrator) acquire(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		o.active = make(map[string]bool)
	}
	if o.active[key] {
		return false
	}
	o.active[key] = true
	return true
}

func (o *Orchestrator) release(key string) {
	o.mu.Lock()
	delete(o.active, key)
	o.mu.Unlock()
}

// run is the state of one pipeline execution.
type run struct {
	o          *Orchestrator
	req        *model.DeploymentRequest
	tr         *trail.Trail
	profile    *Profile
	installDir string
	localTar   string
	result     *Result

	source remote.Session
	target remote.Session
	cur    step
}

func (r *run) closeAll() {
	if r.source != nil {
		r.source.Close()
		r.source = nil
	}
	if r.target != nil {
		r.target.Close()
		r.target = nil
	}
}

func (r *run) log(ctx context.Context, format string, args ...any) {
	r.tr.Step(ctx, r.cur.num, format, args...)
}

// exec runs cmd on sess and logs "label: output". Output falls back to
// stdout, then stderr, then fallback. A non-zero exit fails the step only
// under PolicyAbort.
func (r *run) exec(ctx context.Context, sess remote.Session, cmd, label, fallback string) error {
	out, err := sess.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", r.cur.name, err)
	}
	r.log(ctx, "%s: %s", label, firstNonEmpty(out.Stdout, out.Stderr, fallback))
	if !out.OK() && r.cur.policy == PolicyAbort {
		return &StepError{Step: r.cur.name, ExitCode: out.ExitCode, Stderr: out.Stderr}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
