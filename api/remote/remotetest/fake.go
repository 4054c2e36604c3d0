// Package remotetest provides an in-memory remote.Dialer for tests.
package remotetest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"ferry/api/remote"
)

// Call records one operation against a fake host.
type Call struct {
	Host string
	Op   string // dial, run, download, upload, write, shell, close
	Arg  string
}

type response struct {
	host     string
	contains string
	outcome  remote.Outcome
	err      error
}

// Dialer answers commands from registered responses. Unmatched commands
// succeed with empty output.
type Dialer struct {
	mu        sync.Mutex
	dialErr   map[string]error
	responses []response
	files     map[string][]byte
	stdinErr  map[string]error
	calls     []Call
}

func New() *Dialer {
	return &Dialer{
		dialErr:  make(map[string]error),
		files:    make(map[string][]byte),
		stdinErr: make(map[string]error),
	}
}

// FailDial makes every dial to host fail with err.
func (d *Dialer) FailDial(host string, err error) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr[host] = err
	return d
}

// On answers the first command on host containing substr with out. An empty
// host matches every host.
func (d *Dialer) On(host, substr string, out remote.Outcome) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = append(d.responses, response{host: host, contains: substr, outcome: out})
	return d
}

// OnError makes the first command on host containing substr fail at the
// transport level.
func (d *Dialer) OnError(host, substr string, err error) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses = append(d.responses, response{host: host, contains: substr, err: err})
	return d
}

// FailStdin makes writes to the stdin of shells on host fail with err while
// the shell itself keeps running.
func (d *Dialer) FailStdin(host string, err error) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stdinErr[host] = err
	return d
}

// PutFile seeds a remote file used by downloads.
func (d *Dialer) PutFile(host, path string, data []byte) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[host+":"+path] = data
	return d
}

func (d *Dialer) File(host, path string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.files[host+":"+path]
	return b, ok
}

func (d *Dialer) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Commands returns the commands run on host, in order.
func (d *Dialer) Commands(host string) []string {
	var out []string
	for _, c := range d.Calls() {
		if c.Host == host && c.Op == "run" {
			out = append(out, c.Arg)
		}
	}
	return out
}

// Closed reports how many times sessions on host were closed.
func (d *Dialer) Closed(host string) int {
	n := 0
	for _, c := range d.Calls() {
		if c.Host == host && c.Op == "close" {
			n++
		}
	}
	return n
}

func (d *Dialer) record(host, op, arg string) {
	d.mu.Lock()
	d.calls = append(d.calls, Call{Host: host, Op: op, Arg: arg})
	d.mu.Unlock()
}

func (d *Dialer) Dial(ctx context.Context, t remote.Target) (remote.Session, error) {
	d.record(t.Host, "dial", t.User)
	d.mu.Lock()
	err := d.dialErr[t.Host]
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &session{d: d, host: t.Host}, nil
}

type session struct {
	d    *Dialer
	host string
}

func (s *session) Run(ctx context.Context, cmd string) (remote.Outcome, error) {
	s.d.record(s.host, "run", cmd)
	s.d.mu.Lock()
	defer s.d.mu.Unlock()
	for _, r := range s.d.responses {
		if (r.host == "" || r.host == s.host) && strings.Contains(cmd, r.contains) {
			return r.outcome, r.err
		}
	}
	return remote.Outcome{}, nil
}

func (s *session) Download(ctx context.Context, remotePath, localPath string) error {
	s.d.record(s.host, "download", remotePath)
	data, ok := s.d.File(s.host, remotePath)
	if !ok {
		data = []byte("archive:" + remotePath)
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (s *session) Upload(ctx context.Context, localPath, remotePath string) error {
	s.d.record(s.host, "upload", remotePath)
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remotePath, err)
	}
	s.d.PutFile(s.host, remotePath, data)
	return nil
}

func (s *session) WriteFile(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error {
	s.d.record(s.host, "write", remotePath)
	s.d.PutFile(s.host, remotePath, append([]byte(nil), data...))
	return nil
}

func (s *session) Shell(ctx context.Context, cols, rows int) (remote.Shell, error) {
	s.d.record(s.host, "shell", fmt.Sprintf("%dx%d", cols, rows))
	s.d.mu.Lock()
	stdinErr := s.d.stdinErr[s.host]
	s.d.mu.Unlock()
	r, w := io.Pipe()
	return &EchoShell{r: r, w: w, done: make(chan struct{}), stdinErr: stdinErr}, nil
}

func (s *session) Close() error {
	s.d.record(s.host, "close", "")
	return nil
}

// EchoShell copies stdin to stdout and exits 0 once stdin is closed.
type EchoShell struct {
	r    *io.PipeReader
	w    *io.PipeWriter
	done chan struct{}
	once sync.Once

	stdinErr error

	mu      sync.Mutex
	resizes [][2]int
}

func (e *EchoShell) Stdin() io.WriteCloser { return stdin{e} }
func (e *EchoShell) Stdout() io.Reader     { return e.r }
func (e *EchoShell) Stderr() io.Reader     { return strings.NewReader("") }

func (e *EchoShell) Resize(cols, rows int) error {
	e.mu.Lock()
	e.resizes = append(e.resizes, [2]int{cols, rows})
	e.mu.Unlock()
	return nil
}

// Resizes returns the window sizes requested so far.
func (e *EchoShell) Resizes() [][2]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][2]int(nil), e.resizes...)
}

func (e *EchoShell) Wait() (int, error) {
	<-e.done
	return 0, nil
}

func (e *EchoShell) finish() {
	e.once.Do(func() {
		e.w.Close()
		close(e.done)
	})
}

func (e *EchoShell) Close() error {
	e.finish()
	return e.r.Close()
}

type stdin struct{ e *EchoShell }

func (s stdin) Write(p []byte) (int, error) {
	if s.e.stdinErr != nil {
		return 0, s.e.stdinErr
	}
	return s.e.w.Write(p)
}

func (s stdin) Close() error {
	if s.e.stdinErr == nil {
		s.e.finish()
	}
	return nil
}
