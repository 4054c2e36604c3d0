package handler

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"ferry/api/model"
)

func exampleDeployBody() map[string]interface{} {
	return map[string]interface{}{
		"source":             map[string]string{"ip": "10.0.0.1", "username": "root"},
		"targetIP":           "10.0.0.2",
		"targetPassword":     "x",
		"installPath":        "/srv",
		"domain":             "demo.example.com",
		"email":              "a@example.com",
		"sourceInstancePath": "/root/app",
	}
}

func TestDeploySuccess(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/deploy", exampleDeployBody())
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp model.DeployResponse
	decodeBody(t, rec, &resp)
	if !resp.Success {
		t.Fatalf("success = false: %s", resp.Message)
	}
	last := resp.Logs[len(resp.Logs)-1]
	if !strings.Contains(last, "Deployment completed successfully") {
		t.Errorf("last line = %q", last)
	}

	if len(env.db.deployments) != 1 {
		t.Fatalf("deployments = %d, want 1", len(env.db.deployments))
	}
	for id, d := range env.db.deployments {
		if d.Status != model.StatusSucceeded || d.FinishedAt == nil {
			t.Errorf("deployment = %+v", d)
		}
		if got := len(env.db.entries[id]); got != len(resp.Logs) {
			t.Errorf("persisted %d lines, response has %d", got, len(resp.Logs))
		}
	}

	extracted := false
	for _, c := range env.dialer.Commands("10.0.0.2") {
		if strings.HasPrefix(c, "tar -xzf") && strings.Contains(c, "/srv/demo.example.com") {
			extracted = true
		}
	}
	if !extracted {
		t.Error("no extraction into /srv/demo.example.com")
	}
}

func TestDeploySourceRefused(t *testing.T) {
	env := newTestEnv(t)
	env.dialer.FailDial("10.0.0.1", errors.New("connect ECONNREFUSED 10.0.0.1:22"))

	rec := env.do(t, http.MethodPost, "/api/deploy", exampleDeployBody())
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	var resp model.DeployResponse
	decodeBody(t, rec, &resp)
	if resp.Success {
		t.Error("success = true")
	}
	if !strings.Contains(resp.Message, "ECONNREFUSED") {
		t.Errorf("message = %q", resp.Message)
	}
	if len(resp.Logs) != 1 {
		t.Errorf("logs = %v, want exactly one line", resp.Logs)
	}
	for _, d := range env.db.deployments {
		if d.Status != model.StatusFailed {
			t.Errorf("status = %s, want failed", d.Status)
		}
	}
	if n := len(env.dialer.Commands("10.0.0.2")); n != 0 {
		t.Errorf("target saw %d commands", n)
	}
}

func TestDeployValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   interface{}
		mutate func(map[string]interface{})
		code   int
		field  string
	}{
		{"malformed body", `{"domain": `, nil, http.StatusInternalServerError, "invalid request body"},
		{"missing domain", nil, func(b map[string]interface{}) { delete(b, "domain") }, http.StatusInternalServerError, "domain"},
		{"no source", nil, func(b map[string]interface{}) { delete(b, "source") }, http.StatusInternalServerError, "sourceServer.ip"},
		{"empty password", nil, func(b map[string]interface{}) { b["targetPassword"] = "" }, http.StatusInternalServerError, "targetPassword"},
		{"bad email", nil, func(b map[string]interface{}) { b["email"] = "nope" }, http.StatusBadRequest, "email"},
		{"shell in path", nil, func(b map[string]interface{}) { b["installPath"] = "/srv;reboot" }, http.StatusBadRequest, "installPath"},
		{"parent path", nil, func(b map[string]interface{}) { b["sourceInstancePath"] = "/root/../etc" }, http.StatusBadRequest, "sourceInstancePath"},
		{"bad target ip", nil, func(b map[string]interface{}) { b["targetIP"] = "300.1.1.1" }, http.StatusBadRequest, "targetIP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			body := tt.body
			if tt.mutate != nil {
				b := exampleDeployBody()
				tt.mutate(b)
				body = b
			}

			rec := env.do(t, http.MethodPost, "/api/deploy", body)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d, body = %s", rec.Code, tt.code, rec.Body.String())
			}
			var resp model.DeployResponse
			decodeBody(t, rec, &resp)
			if resp.Success || !strings.Contains(resp.Message, tt.field) {
				t.Errorf("resp = %+v", resp)
			}
			if resp.Logs == nil {
				t.Error("logs should be an empty list, not null")
			}
			if len(env.dialer.Calls()) != 0 {
				t.Error("invalid request reached the network")
			}
		})
	}
}

func TestDeploySecretsNotLogged(t *testing.T) {
	env := newTestEnv(t)
	body := exampleDeployBody()
	body["targetPassword"] = "hunter2-secret"
	rec := env.do(t, http.MethodPost, "/api/deploy", body)
	if strings.Contains(rec.Body.String(), "hunter2-secret") {
		t.Error("target password echoed in response")
	}
}

func TestDeploymentHistory(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/deploy", exampleDeployBody())

	rec := env.do(t, http.MethodGet, "/api/deployments?domain=demo.example.com", nil)
	var list struct {
		Deployments []model.Deployment `json:"deployments"`
		Total       int                `json:"total"`
	}
	decodeBody(t, rec, &list)
	if list.Total != 1 || len(list.Deployments) != 1 {
		t.Fatalf("list = %+v", list)
	}
	id := list.Deployments[0].ID

	rec = env.do(t, http.MethodGet, "/api/deployments/"+id, nil)
	var d model.Deployment
	decodeBody(t, rec, &d)
	if len(d.Logs) == 0 || !strings.Contains(d.Logs[0], "Connecting to source server") {
		t.Errorf("logs = %v", d.Logs)
	}

	rec = env.do(t, http.MethodGet, "/api/deployments/"+id+"/log", nil)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "✓ [Final] Deployment completed successfully!") {
		t.Errorf("log text = %s", rec.Body.String())
	}

	if rec := env.do(t, http.MethodGet, "/api/deployments/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing deployment code = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/deployments/"+id+"/archive", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("archive without retention code = %d", rec.Code)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/deploy", exampleDeployBody())

	rec := env.do(t, http.MethodGet, "/api/stats", nil)
	var stats struct {
		Total     int `json:"total"`
		Succeeded int `json:"succeeded"`
	}
	decodeBody(t, rec, &stats)
	if stats.Total != 1 || stats.Succeeded != 1 {
		t.Errorf("stats = %+v", stats)
	}

	if rec := env.do(t, http.MethodGet, "/api/stats?since=yesterday", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since code = %d", rec.Code)
	}
}
