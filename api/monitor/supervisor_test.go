package monitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"ferry/api/hub"
	"ferry/api/model"
)

var errMissing = errors.New("not found")

type memStore struct {
	mu        sync.Mutex
	instances map[string]*model.Instance
}

func newMemStore(list ...model.Instance) *memStore {
	s := &memStore{instances: make(map[string]*model.Instance)}
	for i := range list {
		inst := list[i]
		s.instances[inst.ID] = &inst
	}
	return s
}

func (s *memStore) ListInstances(ctx context.Context) ([]model.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Instance
	for _, inst := range s.instances {
		out = append(out, *inst)
	}
	return out, nil
}

func (s *memStore) RecordStatus(ctx context.Context, id string, e model.StatusEntry) (*model.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, errMissing
	}
	inst.Record(e)
	cp := *inst
	return &cp, nil
}

type recorder struct {
	mu     sync.Mutex
	events []hub.Event
}

func (r *recorder) Broadcast(evt hub.Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

type counter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (c *counter) ObserveProbe(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[string]int)
	}
	c.seen[status]++
}

func TestScheduleAndUnschedule(t *testing.T) {
	sup := NewSupervisor(newMemStore(), nil, nil)

	inst := &model.Instance{ID: "a", URL: "http://example.invalid", Interval: 30}
	if err := sup.Schedule(inst); err != nil {
		t.Fatal(err)
	}
	if !sup.Scheduled("a") {
		t.Fatal("instance a not scheduled")
	}
	first := sup.jobs["a"].entry

	// Same settings keep the existing job.
	if err := sup.Schedule(inst); err != nil {
		t.Fatal(err)
	}
	if sup.jobs["a"].entry != first {
		t.Error("unchanged instance was rescheduled")
	}

	inst.Interval = 45
	if err := sup.Schedule(inst); err != nil {
		t.Fatal(err)
	}
	if sup.jobs["a"].entry == first {
		t.Error("changed interval did not replace the job")
	}
	if n := len(sup.cron.Entries()); n != 1 {
		t.Errorf("cron entries = %d, want 1", n)
	}

	sup.Unschedule("a")
	if sup.Scheduled("a") {
		t.Error("instance a still scheduled")
	}
	if n := len(sup.cron.Entries()); n != 0 {
		t.Errorf("cron entries = %d, want 0", n)
	}
}

func TestScheduleDefaultInterval(t *testing.T) {
	sup := NewSupervisor(newMemStore(), nil, nil)
	if err := sup.Schedule(&model.Instance{ID: "a", URL: "http://x"}); err != nil {
		t.Fatal(err)
	}
	if got := sup.jobs["a"].interval; got != DefaultInterval {
		t.Errorf("interval = %d, want %d", got, DefaultInterval)
	}
}

func TestSyncDropsRemovedInstances(t *testing.T) {
	store := newMemStore(
		model.Instance{ID: "a", URL: "http://a", Interval: 10},
		model.Instance{ID: "b", URL: "http://b", Interval: 10},
	)
	sup := NewSupervisor(store, nil, nil)
	if err := sup.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !sup.Scheduled("a") || !sup.Scheduled("b") {
		t.Fatal("expected both instances scheduled")
	}

	delete(store.instances, "b")
	if err := sup.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sup.Scheduled("b") {
		t.Error("removed instance b still scheduled")
	}
	if !sup.Scheduled("a") {
		t.Error("instance a lost its job")
	}
}

func TestProbeNowRecordsAndBroadcasts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newMemStore(model.Instance{ID: "a", URL: srv.URL})
	ws := &recorder{}
	obs := &counter{}
	sup := NewSupervisor(store, nil, ws)
	sup.Observer = obs

	for i := 0; i < model.MaxStatusHistory+3; i++ {
		if _, err := sup.ProbeNow(context.Background(), "a", srv.URL); err != nil {
			t.Fatal(err)
		}
	}

	inst := store.instances["a"]
	if len(inst.StatusHistory) != model.MaxStatusHistory {
		t.Errorf("history = %d entries, want %d", len(inst.StatusHistory), model.MaxStatusHistory)
	}
	if len(ws.events) != model.MaxStatusHistory+3 {
		t.Errorf("broadcasts = %d", len(ws.events))
	}
	if ws.events[0].Type != "monitor.status" || ws.events[0].Topic != "a" {
		t.Errorf("event = %+v", ws.events[0])
	}
	if obs.seen[StatusOffline] != model.MaxStatusHistory+3 {
		t.Errorf("observed = %v", obs.seen)
	}
}

func TestProbeNowWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ws := &recorder{}
	sup := NewSupervisor(newMemStore(), nil, ws)
	inst, err := sup.ProbeNow(context.Background(), "", srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Status != StatusOnline || inst.Color != ColorOK || len(inst.StatusHistory) != 1 {
		t.Errorf("inst = %+v", inst)
	}
	if len(ws.events) != 0 {
		t.Error("ad-hoc probe should not broadcast")
	}
}

func TestProbeNowUnknownInstance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	sup := NewSupervisor(newMemStore(), nil, nil)
	if _, err := sup.ProbeNow(context.Background(), "ghost", srv.URL); !errors.Is(err, errMissing) {
		t.Errorf("err = %v, want not found", err)
	}
}
