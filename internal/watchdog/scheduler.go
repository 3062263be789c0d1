package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/genkeep/internal/metrics"
)

const (
	DefaultName      = "GenerationWatchdog"
	DefaultInterval  = 15 * time.Minute
	DefaultMinPeriod = 15 * time.Minute
)

// Policy decides what enqueueing an already scheduled name does.
type Policy string

const (
	// PolicyKeep leaves the existing schedule untouched.
	PolicyKeep Policy = "keep"
	// PolicyReplace swaps in the new period and work.
	PolicyReplace Policy = "replace"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyKeep:
		return PolicyKeep, nil
	case PolicyReplace:
		return PolicyReplace, nil
	}
	return "", fmt.Errorf("unknown schedule policy %q", s)
}

// Result is what a firing reports back to the scheduler.
type Result int

const ResultSuccess Result = 0

// Work is one periodic firing.
type Work func(ctx context.Context) Result

type SchedulerOptions struct {
	// MinPeriod floors every requested period. Zero means DefaultMinPeriod.
	MinPeriod time.Duration
	Location  *time.Location
	Logger    *slog.Logger
}

// Scheduler is a registry of uniquely named periodic work backed by robfig/cron.
// A firing never overlaps a still-running firing of the same name.
type Scheduler struct {
	mu        sync.Mutex
	cron      *cron.Cron
	entries   map[string]entry
	minPeriod time.Duration
	log       *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
}

type entry struct {
	id    cron.EntryID
	every time.Duration
	work  Work
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	minPeriod := opts.MinPeriod
	if minPeriod <= 0 {
		minPeriod = DefaultMinPeriod
	}
	cl := cronLogger{log: log.With("component", "scheduler")}
	copts := []cron.Option{
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	}
	if opts.Location != nil {
		copts = append(copts, cron.WithLocation(opts.Location))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:      cron.New(copts...),
		entries:   make(map[string]entry),
		minPeriod: minPeriod,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// EnqueueUniquePeriodic registers work under name. With PolicyKeep an existing
// schedule wins and false is returned; with PolicyReplace it is swapped out.
func (s *Scheduler) EnqueueUniquePeriodic(name string, every time.Duration, policy Policy, work Work) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, errors.New("schedule name is required")
	}
	if work == nil {
		return false, errors.New("schedule work is required")
	}
	if every <= 0 {
		return false, fmt.Errorf("schedule %q: period must be > 0", name)
	}
	if policy != PolicyKeep && policy != PolicyReplace {
		return false, fmt.Errorf("schedule %q: unknown policy %q", name, policy)
	}
	if every < s.minPeriod {
		s.log.Debug("schedule period raised to minimum", "name", name, "requested", every, "min", s.minPeriod)
		every = s.minPeriod
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[name]; ok {
		if policy == PolicyKeep {
			return false, nil
		}
		s.cron.Remove(old.id)
	}
	s.addLocked(name, every, work)
	s.log.Info("periodic work scheduled", "name", name, "every", every, "policy", string(policy))
	return true, nil
}

// SetPeriod reschedules existing work with a new period. It reports false
// when nothing is scheduled under name.
func (s *Scheduler) SetPeriod(name string, every time.Duration) (bool, error) {
	s.mu.Lock()
	old, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return s.EnqueueUniquePeriodic(name, every, PolicyReplace, old.work)
}

func (s *Scheduler) addLocked(name string, every time.Duration, work Work) {
	job := cron.FuncJob(func() {
		if res := work(s.ctx); res != ResultSuccess {
			s.log.Warn("periodic work reported non-success", "name", name, "result", int(res))
		}
	})
	id := s.cron.Schedule(cron.Every(every), job)
	s.entries[name] = entry{id: id, every: every, work: work}
	metrics.SetWatchdogScheduled(len(s.entries))
}

// CancelUnique removes the schedule registered under name.
func (s *Scheduler) CancelUnique(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(e.id)
	delete(s.entries, name)
	metrics.SetWatchdogScheduled(len(s.entries))
	s.log.Info("periodic work cancelled", "name", name)
	return true
}

func (s *Scheduler) Scheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[name]
	return ok
}

// Period returns the effective (floored) period of a schedule.
func (s *Scheduler) Period(name string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	return e.every, ok
}

// Next returns the next planned firing. It is zero until Start.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(e.id).Next, true
}

func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for n := range s.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts future firings for good. The returned context is done once
// running firings have finished.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	ctx := s.cron.Stop()
	go func() {
		<-ctx.Done()
		s.cancel()
	}()
	return ctx
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
