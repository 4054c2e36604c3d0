package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ferry/api/model"
)

func TestClientSendsBearerToken(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(HealthStatus{Status: "healthy"})
	}))
	defer srv.Close()

	h, err := New(srv.URL+"/", "secret").Health()
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" {
		t.Errorf("status = %q", h.Status)
	}
	if got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestClientErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"message":"instance not found"}`))
	}))
	defer srv.Close()

	err := New(srv.URL, "").DeleteInstance("nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Message != "instance not found" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestDeployKeepsLogsOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/deploy" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		var req model.DeploymentRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Domain != "shop.example.com" {
			t.Errorf("domain = %q", req.Domain)
		}
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(model.DeployResponse{
			Logs:    []string{"[Step 1] Connecting to source server 10.0.0.1..."},
			Message: "connect to source server 10.0.0.1: refused",
		})
	}))
	defer srv.Close()

	resp, err := New(srv.URL, "").Deploy(model.DeploymentRequest{Domain: "shop.example.com"})
	if err == nil {
		t.Fatal("expected error")
	}
	if resp == nil || len(resp.Logs) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != resp.Message {
		t.Errorf("err = %v", err)
	}
}

func TestListDeploymentsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("domain") != "a.example.com" || q.Get("status") != "failed" || q.Get("limit") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(DeploymentPage{Total: 7, Limit: 5})
	}))
	defer srv.Close()

	page, err := New(srv.URL, "").ListDeployments("a.example.com", "failed", 5)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 7 {
		t.Errorf("total = %d", page.Total)
	}
}

func TestDeploymentLogIsPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/deployments/d-1/log" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("line one\nline two\n"))
	}))
	defer srv.Close()

	text, err := New(srv.URL, "").DeploymentLog("d-1")
	if err != nil {
		t.Fatal(err)
	}
	if text != "line one\nline two\n" {
		t.Errorf("text = %q", text)
	}
}

func TestWebSocketURLs(t *testing.T) {
	c := New("https://ferry.example.com", "")
	if got := c.WebSocketURL(); got != "wss://ferry.example.com/ws" {
		t.Errorf("WebSocketURL = %q", got)
	}
	if got := c.TerminalURL("s-1", 120, 40); got != "wss://ferry.example.com/api/servers/s-1/terminal?cols=120&rows=40" {
		t.Errorf("TerminalURL = %q", got)
	}
	if h := c.AuthHeader(); h.Get("Authorization") != "" {
		t.Error("no token should mean no Authorization header")
	}
}
