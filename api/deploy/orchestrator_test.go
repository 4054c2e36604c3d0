package deploy

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"ferry/api/model"
	"ferry/api/remote"
	"ferry/api/remote/remotetest"
	"ferry/api/trail"
)

const (
	sourceHost = "10.0.0.1"
	targetHost = "10.0.0.2"
)

func exampleRequest() *model.DeploymentRequest {
	return &model.DeploymentRequest{
		Source:             &model.SourceServer{IP: sourceHost, Username: "root"},
		TargetIP:           targetHost,
		TargetPassword:     "x",
		InstallPath:        "/srv",
		Domain:             "demo.example.com",
		Email:              "a@example.com",
		SourceInstancePath: "/root/app",
	}
}

func newOrchestrator(t *testing.T, d remote.Dialer) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Dialer:     d,
		SourceAuth: remote.Auth{PrivateKey: []byte("server-held")},
		WorkDir:    t.TempDir(),
	}
}

func deploy(t *testing.T, o *Orchestrator, req *model.DeploymentRequest) ([]string, error) {
	t.Helper()
	tr := trail.New("d-1", req.Domain)
	_, err := o.Deploy(context.Background(), req, tr)
	return tr.Lines(), err
}

func indexOf(lines []string, substr string) int {
	for i, l := range lines {
		if strings.Contains(l, substr) {
			return i
		}
	}
	return -1
}

func count(lines []string, substr string) int {
	n := 0
	for _, l := range lines {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

func TestExampleDeploymentSucceeds(t *testing.T) {
	fake := remotetest.New()
	lines, err := deploy(t, newOrchestrator(t, fake), exampleRequest())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	if last := lines[len(lines)-1]; last != "[Final] Deployment completed successfully!" {
		t.Errorf("last line = %q", last)
	}

	want := "tar -xzf /srv/demo.example.com/instance.tar.gz --strip-components=1 -C /srv/demo.example.com"
	found := false
	for _, c := range fake.Commands(targetHost) {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Errorf("no extraction command %q in %q", want, fake.Commands(targetHost))
	}

	if got := fake.Commands(sourceHost); len(got) != 1 || got[0] != "tar -czf /tmp/instance.tar.gz -C /root app" {
		t.Errorf("source commands = %q", got)
	}
	if fake.Closed(sourceHost) != 1 || fake.Closed(targetHost) != 1 {
		t.Errorf("closed source=%d target=%d, want 1 each", fake.Closed(sourceHost), fake.Closed(targetHost))
	}
}

func TestStepsRunInOrder(t *testing.T) {
	lines, err := deploy(t, newOrchestrator(t, remotetest.New()), exampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= len(stepNames); i++ {
		prefix := "[Step " + strconv.Itoa(i) + "]"
		next := "[Step " + strconv.Itoa(i+1) + "]"
		a, b := indexOf(lines, prefix), indexOf(lines, next)
		if a < 0 {
			t.Fatalf("missing %s", prefix)
		}
		if i < len(stepNames) && b < a {
			t.Errorf("%s logged before %s", next, prefix)
		}
	}
}

func TestSingleConnectEntryBeforeCommands(t *testing.T) {
	lines, err := deploy(t, newOrchestrator(t, remotetest.New()), exampleRequest())
	if err != nil {
		t.Fatal(err)
	}

	if n := count(lines, "Connecting to source server"); n != 1 {
		t.Errorf("source connect entries = %d, want 1", n)
	}
	if n := count(lines, "Connecting to target server"); n != 1 {
		t.Errorf("target connect entries = %d, want 1", n)
	}
	if indexOf(lines, "Connecting to source server") != 0 {
		t.Errorf("first line = %q", lines[0])
	}
	if indexOf(lines, "Connecting to target server") > indexOf(lines, "Removing old instance") {
		t.Error("target command logged before target connect")
	}
}

func TestSourceConnectRefused(t *testing.T) {
	fake := remotetest.New().FailDial(sourceHost, errors.New("connect ECONNREFUSED 10.0.0.1:22"))
	lines, err := deploy(t, newOrchestrator(t, fake), exampleRequest())

	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "ECONNREFUSED") {
		t.Errorf("error = %q", err)
	}
	if len(lines) != 1 {
		t.Errorf("lines = %q, want exactly one", lines)
	}
	if indexOf(lines, "target") >= 0 {
		t.Error("target entry logged after source failure")
	}
	for _, c := range fake.Calls() {
		if c.Host == targetHost {
			t.Errorf("target touched: %+v", c)
		}
	}
}

func TestStderrDoesNotStopPipeline(t *testing.T) {
	fake := remotetest.New().
		On(targetHost, "yarn build", remote.Outcome{Stderr: "warning: deprecated dependency"}).
		On(targetHost, "certbot", remote.Outcome{Stderr: "too many requests", ExitCode: 1})

	lines, err := deploy(t, newOrchestrator(t, fake), exampleRequest())
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if indexOf(lines, "[Step 14] Build result: warning: deprecated dependency") < 0 {
		t.Errorf("build stderr not logged: %q", lines)
	}
	if indexOf(lines, "[Step 22] Certbot result: too many requests") < 0 {
		t.Error("certbot stderr not logged")
	}
	if indexOf(lines, "[Final]") < 0 {
		t.Error("pipeline did not finish")
	}
}

func TestStrictStepAborts(t *testing.T) {
	fake := remotetest.New().On(targetHost, "yarn build", remote.Outcome{Stderr: "error TS2304", ExitCode: 2})
	o := newOrchestrator(t, fake)
	o.Profile = DefaultProfile()
	o.Profile.StrictSteps = []string{"build"}

	lines, err := deploy(t, o, exampleRequest())

	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want StepError", err)
	}
	if se.Step != "build" || se.ExitCode != 2 {
		t.Errorf("StepError = %+v", se)
	}
	if indexOf(lines, "[Final]") >= 0 || indexOf(lines, "[Step 15]") >= 0 {
		t.Error("pipeline continued past strict step")
	}
	if fake.Closed(targetHost) != 1 {
		t.Error("target session not closed on abort")
	}
}

func TestSourceClosedOnTransportFailure(t *testing.T) {
	fake := remotetest.New().OnError(sourceHost, "tar -czf", errors.New("connection reset"))
	lines, err := deploy(t, newOrchestrator(t, fake), exampleRequest())
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v", err)
	}
	if fake.Closed(sourceHost) != 1 {
		t.Errorf("source closed %d times, want 1", fake.Closed(sourceHost))
	}
	if last := lines[len(lines)-1]; !strings.HasPrefix(last, "[Step 2]") {
		t.Errorf("last line = %q, want the archive step title", last)
	}
}

func TestInstallPathTrailingSlash(t *testing.T) {
	fake := remotetest.New()
	req := exampleRequest()
	req.InstallPath = "/root/"

	lines, err := deploy(t, newOrchestrator(t, fake), req)
	if err != nil {
		t.Fatal(err)
	}
	if indexOf(lines, "Full installation path set to /root/demo.example.com.") < 0 {
		t.Errorf("install path line missing: %q", lines)
	}
	for _, c := range fake.Commands(targetHost) {
		if strings.Contains(c, "/root//") {
			t.Errorf("double slash in %q", c)
		}
	}
	if _, ok := fake.File(targetHost, "/root/demo.example.com/.env"); !ok {
		t.Error(".env not written to /root/demo.example.com")
	}
}

func TestLogsAreDeterministic(t *testing.T) {
	run := func() []string {
		fake := remotetest.New().On(targetHost, "pm2 status", remote.Outcome{Stdout: "online"})
		lines, err := deploy(t, newOrchestrator(t, fake), exampleRequest())
		if err != nil {
			t.Fatal(err)
		}
		return lines
	}
	a, b := run(), run()
	if strings.Join(a, "\n") != strings.Join(b, "\n") {
		t.Errorf("logs differ:\n%q\n%q", a, b)
	}
}

func TestGeneratedFiles(t *testing.T) {
	fake := remotetest.New()
	req := exampleRequest()
	req.TargetPassword = "hunter2-secret"
	lines, err := deploy(t, newOrchestrator(t, fake), req)
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(lines, "\n")

	env, ok := fake.File(targetHost, "/srv/demo.example.com/.env")
	if !ok {
		t.Fatal(".env not written")
	}
	for _, want := range []string{"HOST=0.0.0.0\n", "PORT=1337\n", "DATABASE_CLIENT=sqlite\n", "DATABASE_FILENAME=.tmp/data.db\n"} {
		if !strings.Contains(string(env), want) {
			t.Errorf(".env missing %q", want)
		}
	}
	for _, l := range strings.Split(string(env), "\n") {
		k, v, found := strings.Cut(l, "=")
		if !found || !strings.Contains(k, "SECRET") && !strings.Contains(k, "SALT") && k != "APP_KEYS" {
			continue
		}
		if k == "APP_KEYS" && len(strings.Split(v, ",")) != 4 {
			t.Errorf("APP_KEYS = %q, want 4 keys", v)
		}
		for _, s := range strings.Split(v, ",") {
			if strings.Contains(joined, s) {
				t.Errorf("secret %s leaked into log", k)
			}
		}
	}
	if strings.Contains(joined, req.TargetPassword) {
		t.Error("target password leaked into log")
	}

	eco, _ := fake.File(targetHost, "/srv/demo.example.com/ecosystem.config.js")
	if !strings.Contains(string(eco), `name: "demo.example.com"`) || !strings.Contains(string(eco), `max_memory_restart: "2G"`) {
		t.Errorf("ecosystem = %s", eco)
	}
	site, _ := fake.File(targetHost, "/etc/nginx/sites-available/demo.example.com")
	if !strings.Contains(string(site), "proxy_pass http://localhost:1337;") {
		t.Errorf("nginx site = %s", site)
	}
}

func TestSecretsFreshPerDeployment(t *testing.T) {
	envOf := func() string {
		fake := remotetest.New()
		if _, err := deploy(t, newOrchestrator(t, fake), exampleRequest()); err != nil {
			t.Fatal(err)
		}
		b, _ := fake.File(targetHost, "/srv/demo.example.com/.env")
		return string(b)
	}
	if envOf() == envOf() {
		t.Error("two deployments produced identical secrets")
	}
}

func TestDeploymentInProgress(t *testing.T) {
	o := newOrchestrator(t, remotetest.New())
	if !o.acquire(targetHost + ":/srv/demo.example.com") {
		t.Fatal("acquire failed")
	}
	_, err := deploy(t, o, exampleRequest())
	if !errors.Is(err, ErrDeploymentInProgress) {
		t.Errorf("err = %v, want ErrDeploymentInProgress", err)
	}
}

func TestInvalidRequest(t *testing.T) {
	req := exampleRequest()
	req.Domain = ""
	lines, err := deploy(t, newOrchestrator(t, remotetest.New()), req)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("err = %v, want ErrInvalidRequest", err)
	}
	if len(lines) != 0 {
		t.Errorf("lines = %q, want none", lines)
	}
}

type keeper struct {
	mu   sync.Mutex
	keys []string
}

func (k *keeper) Keep(_ context.Context, key, _ string) error {
	k.mu.Lock()
	k.keys = append(k.keys, key)
	k.mu.Unlock()
	return nil
}

type stepRecorder struct{ names []string }

func (s *stepRecorder) ObserveStep(step string, _ time.Duration, _ error) {
	s.names = append(s.names, step)
}

func TestArchiveRetainedAndStepsObserved(t *testing.T) {
	k := &keeper{}
	rec := &stepRecorder{}
	o := newOrchestrator(t, remotetest.New())
	o.Archives = k
	o.Observer = rec

	tr := trail.New("d-42", "demo.example.com")
	res, err := o.Deploy(context.Background(), exampleRequest(), tr)
	if err != nil {
		t.Fatal(err)
	}
	if res.ArchiveKey != "deployments/d-42/instance.tar.gz" || len(k.keys) != 1 {
		t.Errorf("ArchiveKey = %q, keys = %v", res.ArchiveKey, k.keys)
	}
	if len(rec.names) != len(stepNames) {
		t.Errorf("observed %d steps, want %d", len(rec.names), len(stepNames))
	}
}

func TestDatabaseSkippedForPostgres(t *testing.T) {
	fake := remotetest.New()
	req := exampleRequest()
	req.DatabaseType = "postgres"
	lines, err := deploy(t, newOrchestrator(t, fake), req)
	if err != nil {
		t.Fatal(err)
	}
	if indexOf(lines, "[Step 15] Skipped for postgres database.") < 0 {
		t.Errorf("lines = %q", lines)
	}
	env, _ := fake.File(targetHost, "/srv/demo.example.com/.env")
	if strings.Contains(string(env), "DATABASE_FILENAME") {
		t.Error("DATABASE_FILENAME written for postgres")
	}
}
