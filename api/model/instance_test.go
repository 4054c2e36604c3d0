package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAppendStatusCapsHistory(t *testing.T) {
	var h []StatusEntry
	for i := 0; i < 15; i++ {
		h = AppendStatus(h, StatusEntry{StatusCode: i})
	}
	if len(h) != MaxStatusHistory {
		t.Fatalf("len = %d, want %d", len(h), MaxStatusHistory)
	}
	if h[0].StatusCode != 5 {
		t.Errorf("oldest kept = %d, want 5", h[0].StatusCode)
	}
	if h[len(h)-1].StatusCode != 14 {
		t.Errorf("newest = %d, want 14", h[len(h)-1].StatusCode)
	}
}

func TestAppendStatusDoesNotAlias(t *testing.T) {
	base := make([]StatusEntry, 2, 8)
	a := AppendStatus(base, StatusEntry{StatusCode: 1})
	b := AppendStatus(base, StatusEntry{StatusCode: 2})
	if a[2].StatusCode != 1 || b[2].StatusCode != 2 {
		t.Errorf("appends interfered: a=%d b=%d", a[2].StatusCode, b[2].StatusCode)
	}
}

func TestRecord(t *testing.T) {
	now := time.Date(2025, 3, 14, 22, 3, 3, 0, time.UTC)
	inst := Instance{ID: "i-1", URL: "https://demo.example.com"}
	inst.Record(StatusEntry{Color: "#4ff554", Status: "online", StatusCode: 200, StatusText: "OK", Date: now})

	if inst.Status != "online" || inst.Color != "#4ff554" || inst.StatusCode != 200 {
		t.Errorf("instance = %+v", inst)
	}
	if inst.Date == nil || !inst.Date.Equal(now) {
		t.Errorf("Date = %v", inst.Date)
	}
	if len(inst.StatusHistory) != 1 {
		t.Errorf("history len = %d", len(inst.StatusHistory))
	}
}

func TestServerCredentialsNotSerialized(t *testing.T) {
	s := ServerInput{Name: "box", Username: "root", IP: "10.0.0.9", RSAKey: "KEY", Password: "pw"}.ToServer("s-1")
	if s.Port != 22 {
		t.Errorf("Port = %d, want 22", s.Port)
	}
	data, _ := json.Marshal(s)
	var m map[string]any
	json.Unmarshal(data, &m)
	for _, k := range []string{"rsaKey", "RSAKey", "password", "Password"} {
		if _, ok := m[k]; ok {
			t.Errorf("credential field %q serialized", k)
		}
	}
	if m["hasKey"] != true {
		t.Error("hasKey should be true")
	}
}
