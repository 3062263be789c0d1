// Package control is the single entry point callers use to drive the task:
// it keeps the durable expectation, the runner and the watchdog schedule in
// step with each other.
package control

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/genkeep/internal/expect"
	"github.com/loykin/genkeep/internal/power"
	"github.com/loykin/genkeep/internal/runner"
	"github.com/loykin/genkeep/internal/watchdog"
)

const (
	DefaultTitle     = "Processing"
	DefaultBody      = "Preparing..."
	ExclusionReason  = "keep background generation running"
	exclusionTimeout = 30 * time.Second
)

// Request carries optional progress fields. Nil fields take their defaults.
type Request struct {
	Title    *string `json:"title,omitempty"`
	Body     *string `json:"body,omitempty"`
	Progress *int    `json:"progress,omitempty"`
}

// Runner is the part of runner.Runner the controller drives.
type Runner interface {
	Start(ctx context.Context, title, body string) error
	UpdateProgress(ctx context.Context, title, body string, progress int) error
	Stop(ctx context.Context) error
	Status() runner.Status
}

type Options struct {
	Store     *expect.Store
	Runner    Runner
	Scheduler *watchdog.Scheduler
	Worker    *watchdog.Worker
	Exemptor  power.Exemptor
	Logger    *slog.Logger

	WatchdogName     string
	WatchdogInterval time.Duration
	WatchdogPolicy   watchdog.Policy
}

type Controller struct {
	store    *expect.Store
	runner   Runner
	sched    *watchdog.Scheduler
	worker   *watchdog.Worker
	exemptor power.Exemptor
	log      *slog.Logger

	wdName   string
	wdPolicy watchdog.Policy

	mu         sync.Mutex
	wdInterval time.Duration

	wg sync.WaitGroup
}

// Status is the combined view returned to callers.
type Status struct {
	Expectation       expect.Expectation `json:"expectation"`
	Runner            runner.Status      `json:"runner"`
	WatchdogScheduled bool               `json:"watchdog_scheduled"`
	WatchdogInterval  time.Duration      `json:"watchdog_interval"`
	WatchdogNext      *time.Time         `json:"watchdog_next,omitempty"`
}

func New(opts Options) (*Controller, error) {
	if opts.Store == nil {
		return nil, errors.New("control: store is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("control: runner is required")
	}
	if opts.Scheduler == nil || opts.Worker == nil {
		return nil, errors.New("control: scheduler and worker are required")
	}
	c := &Controller{
		store:      opts.Store,
		runner:     opts.Runner,
		sched:      opts.Scheduler,
		worker:     opts.Worker,
		exemptor:   opts.Exemptor,
		log:        opts.Logger,
		wdName:     opts.WatchdogName,
		wdPolicy:   opts.WatchdogPolicy,
		wdInterval: opts.WatchdogInterval,
	}
	if c.exemptor == nil {
		c.exemptor = power.Noop{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.wdName == "" {
		c.wdName = watchdog.DefaultName
	}
	if c.wdPolicy == "" {
		c.wdPolicy = watchdog.PolicyKeep
	}
	if c.wdInterval <= 0 {
		c.wdInterval = watchdog.DefaultInterval
	}
	return c, nil
}

// UpdateProgress records that the task should run, then starts it (progress
// 0) or updates it in place, and makes sure the watchdog is scheduled.
func (c *Controller) UpdateProgress(ctx context.Context, req Request) error {
	title, body, progress := DefaultTitle, DefaultBody, 0
	if req.Title != nil {
		title = *req.Title
	}
	if req.Body != nil {
		body = *req.Body
	}
	if req.Progress != nil {
		progress = *req.Progress
	}

	if err := c.store.Set(ctx, true, &title, &body); err != nil {
		c.log.Warn("expectation write failed", "error", err)
	}

	var err error
	if progress == 0 {
		err = c.runner.Start(ctx, title, body)
	} else {
		err = c.runner.UpdateProgress(ctx, title, body, progress)
	}
	c.ensureWatchdog()
	return err
}

// Stop records that the task should not run, stops it and cancels the watchdog.
func (c *Controller) Stop(ctx context.Context) error {
	if err := c.store.Set(ctx, false, nil, nil); err != nil {
		c.log.Warn("expectation write failed", "error", err)
	}
	err := c.runner.Stop(ctx)
	if c.sched.CancelUnique(c.wdName) {
		c.log.Debug("watchdog cancelled", "name", c.wdName)
	}
	return err
}

// RequestBackgroundExclusion asks the host to exempt the daemon from power
// saving, unless it already is. It returns immediately and never fails.
func (c *Controller) RequestBackgroundExclusion(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), exclusionTimeout)
		defer cancel()
		c.requestExclusion(ectx)
	}()
}

func (c *Controller) requestExclusion(ctx context.Context) {
	exempt, err := c.exemptor.Exempt(ctx)
	if err != nil {
		c.log.Warn("power exemption state unknown", "error", err)
	}
	if exempt {
		c.log.Debug("already exempt from power saving")
		return
	}
	if err := c.exemptor.Request(ctx, ExclusionReason); err != nil {
		c.log.Warn("power exemption request failed", "error", err)
	}
}

// Resume restores the task after the daemon starts: when it is expected to
// run, the watchdog is scheduled and one check runs right away.
func (c *Controller) Resume(ctx context.Context) watchdog.Outcome {
	exp, err := c.store.Get(ctx)
	if err != nil {
		c.log.Warn("expectation read failed on resume", "error", err)
		return watchdog.OutcomeIdle
	}
	if !exp.ShouldBeRunning {
		return watchdog.OutcomeIdle
	}
	c.ensureWatchdog()
	out := c.worker.Check(ctx)
	c.log.Info("resume check finished", "outcome", string(out))
	return out
}

// Check runs one watchdog pass on demand. It waits for a pass already in
// progress instead of overlapping it.
func (c *Controller) Check(ctx context.Context) watchdog.Outcome {
	return c.worker.Check(ctx)
}

func (c *Controller) Status(ctx context.Context) Status {
	exp, err := c.store.Get(ctx)
	if err != nil {
		c.log.Warn("expectation read failed", "error", err)
	}
	st := Status{
		Expectation:       exp,
		Runner:            c.runner.Status(),
		WatchdogScheduled: c.sched.Scheduled(c.wdName),
	}
	if d, ok := c.sched.Period(c.wdName); ok {
		st.WatchdogInterval = d
	}
	if next, ok := c.sched.Next(c.wdName); ok && !next.IsZero() {
		st.WatchdogNext = &next
	}
	return st
}

// SetWatchdogInterval changes the watchdog period, rescheduling it when active.
func (c *Controller) SetWatchdogInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New("watchdog interval must be > 0")
	}
	c.mu.Lock()
	c.wdInterval = d
	c.mu.Unlock()
	_, err := c.sched.SetPeriod(c.wdName, d)
	return err
}

// Wait blocks until background exclusion requests have finished.
func (c *Controller) Wait() { c.wg.Wait() }

func (c *Controller) ensureWatchdog() {
	c.mu.Lock()
	every := c.wdInterval
	c.mu.Unlock()
	added, err := c.sched.EnqueueUniquePeriodic(c.wdName, every, c.wdPolicy, c.worker.Run)
	if err != nil {
		c.log.Warn("watchdog schedule failed", "error", err)
		return
	}
	if added {
		c.log.Info("watchdog scheduled", "name", c.wdName, "every", every)
	}
}
