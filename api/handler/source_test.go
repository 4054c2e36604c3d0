package handler

import (
	"errors"
	"net/http"
	"testing"

	"ferry/api/model"
	"ferry/api/remote"
)

func TestListSourceInstances(t *testing.T) {
	env := newTestEnv(t)
	env.dialer.On("10.0.0.1", "ls /root/strapi-project/", remote.Outcome{Stdout: "blog\nshop\n"})

	rec := env.do(t, http.MethodPost, "/api/source/instances", map[string]string{"ip": "10.0.0.1", "username": "root"})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Instances []model.SourceInstance `json:"instances"`
	}
	decodeBody(t, rec, &body)
	if len(body.Instances) != 2 || body.Instances[1].Path != "/root/strapi-project/shop" {
		t.Errorf("instances = %+v", body.Instances)
	}
}

func TestListSourceInstancesErrors(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodPost, "/api/source/instances", map[string]string{"ip": "not-an-ip", "username": "root"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad ip code = %d", rec.Code)
	}

	env.dialer.FailDial("10.0.0.9", errors.New("handshake failed"))
	rec := env.do(t, http.MethodPost, "/api/source/instances", map[string]string{"ip": "10.0.0.9", "username": "root"})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("dial failure code = %d", rec.Code)
	}
}

func TestReadSourceFile(t *testing.T) {
	env := newTestEnv(t)
	env.dialer.
		On("10.0.0.1", "test -f", remote.Outcome{Stdout: "exists\n"}).
		On("10.0.0.1", "test -r", remote.Outcome{Stdout: "readable\n"}).
		On("10.0.0.1", "cat ", remote.Outcome{Stdout: "PORT=1337\n"})

	rec := env.do(t, http.MethodPost, "/api/source/file", map[string]string{
		"ip": "10.0.0.1", "username": "root", "filePath": "/root/app/.env",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp model.FileResponse
	decodeBody(t, rec, &resp)
	if resp.Content != "PORT=1337\n" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Logs[len(resp.Logs)-1] != "Connection closed" {
		t.Errorf("logs = %v", resp.Logs)
	}
}

func TestReadSourceFileRejectsDangerousPath(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/source/file", map[string]string{
		"ip": "10.0.0.1", "username": "root", "filePath": "/etc/passwd; rm -rf /",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("code = %d", rec.Code)
	}
	if len(env.dialer.Calls()) != 0 {
		t.Error("dangerous path reached the network")
	}
}

func TestPreflight(t *testing.T) {
	env := newTestEnv(t)
	env.dialer.
		On("10.0.0.1", "echo connected", remote.Outcome{Stdout: "connected\n"}).
		On("10.0.0.1", "ls /root/strapi-project/", remote.Outcome{Stdout: "blog\n"}).
		On("10.0.0.2", "whoami", remote.Outcome{Stdout: "root\n"})

	rec := env.do(t, http.MethodPost, "/api/preflight", map[string]interface{}{
		"source": map[string]string{"ip": "10.0.0.1", "username": "root"},
		"target": map[string]string{"ip": "10.0.0.2", "password": "x"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	var rep model.PreflightReport
	decodeBody(t, rec, &rep)
	if !rep.Ready || !rep.Target.RootAccess {
		t.Errorf("report = %+v", rep)
	}

	rec = env.do(t, http.MethodPost, "/api/preflight/target", map[string]string{"ip": "10.0.0.2"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("target without password code = %d", rec.Code)
	}
}
