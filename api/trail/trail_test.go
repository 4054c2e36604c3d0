package trail

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestTrailOrderAndSinks(t *testing.T) {
	var got []Entry
	sink := SinkFunc(func(_ context.Context, e Entry) error {
		got = append(got, e)
		return nil
	})
	failing := SinkFunc(func(context.Context, Entry) error { return errors.New("down") })

	tr := New("d-1", "demo.example.com", failing, sink)
	ctx := context.Background()
	tr.Step(ctx, 1, "Connecting to source server %s...", "10.0.0.1")
	tr.Add(ctx, "[Final] Deployment completed successfully!")

	lines := tr.Lines()
	if len(lines) != 2 || lines[0] != "[Step 1] Connecting to source server 10.0.0.1..." {
		t.Fatalf("lines = %q", lines)
	}
	if len(got) != 2 {
		t.Fatalf("sink saw %d entries, want 2", len(got))
	}
	if got[0].Seq != 1 || got[0].Step != 1 || got[1].Seq != 2 || got[1].Step != 0 {
		t.Errorf("entries = %+v", got)
	}
	if got[0].DeploymentID != "d-1" || got[0].Domain != "demo.example.com" {
		t.Errorf("entry identity = %+v", got[0])
	}
}

func TestLinesIsCopy(t *testing.T) {
	tr := New("d-1", "x")
	tr.Add(context.Background(), "a")
	l := tr.Lines()
	l[0] = "mutated"
	if tr.Lines()[0] != "a" {
		t.Error("Lines leaked internal slice")
	}
}

func TestPlainFormatter(t *testing.T) {
	ts := time.Date(2025, 3, 14, 22, 3, 3, 0, time.UTC)
	out := (&PlainFormatter{}).Format([]Entry{
		{Line: "[Step 1] Connecting", Timestamp: ts},
		{Line: "[Final] Deployment completed successfully!", Timestamp: ts},
	})
	want := "22:03:03 ▶ [Step 1] Connecting\n22:03:03 ✓ [Final] Deployment completed successfully!\n"
	if out != want {
		t.Errorf("Format() = %q, want %q", out, want)
	}
	if !strings.Contains(out, "✓") {
		t.Error("missing completion marker")
	}
}
