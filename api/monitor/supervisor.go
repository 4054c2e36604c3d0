package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"ferry/api/hub"
	"ferry/api/model"
)

// DefaultInterval applies to instances stored without an interval.
const DefaultInterval = 60

// Store is the persistence the supervisor needs.
type Store interface {
	ListInstances(ctx context.Context) ([]model.Instance, error)
	RecordStatus(ctx context.Context, id string, e model.StatusEntry) (*model.Instance, error)
}

type Broadcaster interface {
	Broadcast(evt hub.Event)
}

// ProbeObserver counts probe outcomes. Optional.
type ProbeObserver interface {
	ObserveProbe(status string)
}

type job struct {
	entry    cron.EntryID
	url      string
	interval int
}

// Supervisor owns exactly one scheduled probe per monitored instance.
type Supervisor struct {
	store    Store
	prober   *Prober
	ws       Broadcaster
	Observer ProbeObserver
	Logger   *slog.Logger

	cron *cron.Cron
	mu   sync.Mutex
	jobs map[string]job
}

func NewSupervisor(store Store, prober *Prober, ws Broadcaster) *Supervisor {
	if prober == nil {
		prober = NewProber()
	}
	s := &Supervisor{
		store:  store,
		prober: prober,
		ws:     ws,
		jobs:   make(map[string]job),
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{s})))
	return s
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Supervisor) Start() {
	s.cron.Start()
	s.logger().Info("monitor: supervisor started")
}

// Stop waits for running probes to finish.
func (s *Supervisor) Stop() {
	<-s.cron.Stop().Done()
	s.logger().Info("monitor: supervisor stopped")
}

// Sync schedules every stored instance and drops jobs for instances that no
// longer exist.
func (s *Supervisor) Sync(ctx context.Context) error {
	list, err := s.store.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	active := make(map[string]bool, len(list))
	for i := range list {
		active[list[i].ID] = true
		if err := s.Schedule(&list[i]); err != nil {
			s.logger().Warn("monitor: schedule failed", "instance", list[i].ID, "error", err)
		}
	}

	s.mu.Lock()
	for id, j := range s.jobs {
		if !active[id] {
			s.cron.Remove(j.entry)
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()
	return nil
}

// Schedule adds or replaces the probe job for inst. An unchanged job is left
// alone so its next run is not reset.
func (s *Supervisor) Schedule(inst *model.Instance) error {
	interval := inst.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[inst.ID]; ok {
		if j.url == inst.URL && j.interval == interval {
			return nil
		}
		s.cron.Remove(j.entry)
		delete(s.jobs, inst.ID)
	}

	id, url := inst.ID, inst.URL
	entry, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", interval), func() {
		if _, err := s.check(context.Background(), id, url); err != nil {
			s.logger().Warn("monitor: probe not recorded", "instance", id, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", id, err)
	}
	s.jobs[id] = job{entry: entry, url: url, interval: interval}
	s.logger().Debug("monitor: scheduled", "instance", id, "interval", interval)
	return nil
}

func (s *Supervisor) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		s.cron.Remove(j.entry)
		delete(s.jobs, id)
	}
}

// Scheduled reports whether id has a probe job.
func (s *Supervisor) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// ProbeNow probes url immediately. When id names a stored instance the
// result is recorded against it; otherwise the bare probe result is returned.
func (s *Supervisor) ProbeNow(ctx context.Context, id, url string) (*model.Instance, error) {
	if id == "" {
		e := s.prober.Probe(ctx, url)
		s.observe(e)
		inst := &model.Instance{URL: url}
		inst.Record(e)
		return inst, nil
	}
	return s.check(ctx, id, url)
}

func (s *Supervisor) check(ctx context.Context, id, url string) (*model.Instance, error) {
	e := s.prober.Probe(ctx, url)
	s.observe(e)

	inst, err := s.store.RecordStatus(ctx, id, e)
	if err != nil {
		return nil, err
	}
	if s.ws != nil {
		s.ws.Broadcast(hub.Event{Type: "monitor.status", Topic: id, Payload: inst})
	}
	return inst, nil
}

func (s *Supervisor) observe(e model.StatusEntry) {
	if s.Observer != nil {
		s.Observer.ObserveProbe(e.Status)
	}
}

// cronLogger routes cron's own messages to slog.
type cronLogger struct{ s *Supervisor }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.s.logger().Debug("cron: "+msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	if err == nil {
		err = errors.New("unknown")
	}
	l.s.logger().Error("cron: "+msg, append(kv, "error", err)...)
}
