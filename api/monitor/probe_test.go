package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		code   int
		status string
		color  string
	}{
		{200, StatusOnline, ColorOK},
		{204, StatusOnline, ColorOK},
		{301, StatusOffline, ColorRedirect},
		{404, StatusOffline, ColorClientError},
		{503, StatusOffline, ColorServerError},
		{0, StatusOffline, ColorUnreachable},
	}
	for _, tt := range tests {
		status, color := Classify(tt.code)
		if status != tt.status || color != tt.color {
			t.Errorf("Classify(%d) = %s %s, want %s %s", tt.code, status, color, tt.status, tt.color)
		}
	}
}

func TestProbeStatusCodes(t *testing.T) {
	tests := []struct {
		name  string
		code  int
		color string
	}{
		{"ok", http.StatusOK, ColorOK},
		{"multiple choices", http.StatusMultipleChoices, ColorRedirect},
		{"not found", http.StatusNotFound, ColorClientError},
		{"unavailable", http.StatusServiceUnavailable, ColorServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			served := time.Date(2025, 3, 14, 22, 3, 3, 0, time.UTC)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Date", served.Format(http.TimeFormat))
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			p := NewProber()
			p.Now = func() time.Time { return fixed }

			e := p.Probe(context.Background(), srv.URL)
			if e.StatusCode != tt.code {
				t.Errorf("StatusCode = %d, want %d", e.StatusCode, tt.code)
			}
			if e.Color != tt.color {
				t.Errorf("Color = %q, want %q", e.Color, tt.color)
			}
			if e.StatusText != http.StatusText(tt.code) {
				t.Errorf("StatusText = %q", e.StatusText)
			}
			if !e.Date.Equal(served) {
				t.Errorf("Date = %v, want the response Date %v", e.Date, served)
			}
			if e.Timestamp != fixed.UnixMilli() {
				t.Errorf("Timestamp = %d, want %d", e.Timestamp, fixed.UnixMilli())
			}
		})
	}
}

func TestProbeWithoutDateHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Date"] = nil
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewProber()
	p.Now = func() time.Time { return fixed }

	e := p.Probe(context.Background(), srv.URL)
	if !e.Date.Equal(fixed) {
		t.Errorf("Date = %v, want local time %v", e.Date, fixed)
	}
}

func TestProbeFollowsRedirect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/admin", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/admin", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	e := NewProber().Probe(context.Background(), srv.URL)
	if e.Status != StatusOnline || e.Color != ColorOK {
		t.Errorf("got %s %s, want online %s", e.Status, e.Color, ColorOK)
	}
	if e.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", e.StatusCode)
	}
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := NewProber().Probe(context.Background(), url)
	if e.Status != StatusOffline || e.Color != ColorUnreachable {
		t.Errorf("got %s %s, want offline red", e.Status, e.Color)
	}
	if e.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", e.StatusCode)
	}
	if e.StatusText == "" {
		t.Error("StatusText should carry the transport error")
	}
}

func TestProbeTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	p := NewProber()
	p.Client.Timeout = 50 * time.Millisecond

	e := p.Probe(context.Background(), srv.URL)
	if e.Color != ColorUnreachable {
		t.Errorf("Color = %q, want %q", e.Color, ColorUnreachable)
	}
}
