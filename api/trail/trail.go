// Package trail accumulates the ordered log of a deployment and fans each
// line out to sinks as it is written.
package trail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Entry struct {
	DeploymentID string    `json:"deploymentId"`
	Domain       string    `json:"domain"`
	Seq          int       `json:"seq"`
	Step         int       `json:"step,omitempty"` // 0 for lines outside a numbered step
	Line         string    `json:"line"`
	Timestamp    time.Time `json:"timestamp"`
}

// Sink receives every entry in order. A failing sink never stops the trail.
type Sink interface {
	Record(ctx context.Context, e Entry) error
}

type SinkFunc func(ctx context.Context, e Entry) error

func (f SinkFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

type Trail struct {
	ID     string
	Domain string

	mu    sync.Mutex
	lines []string
	sinks []Sink
	now   func() time.Time
}

func New(id, domain string, sinks ...Sink) *Trail {
	return &Trail{ID: id, Domain: domain, sinks: sinks, now: time.Now}
}

// Add appends line outside any numbered step.
func (t *Trail) Add(ctx context.Context, line string) {
	t.add(ctx, 0, line)
}

// Step appends a line tagged "[Step n]".
func (t *Trail) Step(ctx context.Context, n int, format string, args ...any) {
	t.add(ctx, n, fmt.Sprintf("[Step %d] ", n)+fmt.Sprintf(format, args...))
}

func (t *Trail) add(ctx context.Context, step int, line string) {
	t.mu.Lock()
	t.lines = append(t.lines, line)
	e := Entry{
		DeploymentID: t.ID,
		Domain:       t.Domain,
		Seq:          len(t.lines),
		Step:         step,
		Line:         line,
		Timestamp:    t.now(),
	}
	sinks := t.sinks
	t.mu.Unlock()

	for _, s := range sinks {
		if err := s.Record(ctx, e); err != nil {
			slog.Warn("trail: sink failed", "deployment", t.ID, "seq", e.Seq, "error", err)
		}
	}
}

// Lines returns a copy of the log in append order.
func (t *Trail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string{}, t.lines...)
}

func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.lines)
}
