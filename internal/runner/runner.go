package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"
	"github.com/google/uuid"

	"github.com/loykin/genkeep/internal/expect"
	"github.com/loykin/genkeep/internal/history"
	"github.com/loykin/genkeep/internal/lease"
	"github.com/loykin/genkeep/internal/metrics"
	"github.com/loykin/genkeep/internal/notify"
)

var (
	ErrShuttingDown   = errors.New("runner shutting down")
	ErrAlreadyStarted = errors.New("runner loop already started")
)

const (
	DefaultTitle             = "Processing"
	DefaultBody              = "Initializing..."
	DefaultHeartbeatInterval = 30 * time.Second
)

// Options wires a Runner to its collaborators. Every field is optional.
type Options struct {
	Lease             *lease.Lease
	Notifier          notify.Notifier
	Store             *expect.Store
	History           *history.Fanout
	Logger            *slog.Logger
	NotificationID    int
	Channel           string
	HeartbeatInterval time.Duration
	Now               func() time.Time
}

// Runner owns the running task: its lease, its notification and its heartbeat.
//
// All commands are serialized through a single goroutine (Run), so a start,
// an update and a stop can never interleave.
//
// State Machine:
// Idle --start/update--> Running --update--> Running
// Running --stop--> Idle
// Running --teardown--> Idle (lease released, notification left)
type Runner struct {
	mu        sync.RWMutex
	state     State
	title     string
	body      string
	progress  int
	runID     string
	startedAt time.Time
	updatedAt time.Time

	rate           ewma.MovingAverage
	lastProgress   int
	lastProgressAt time.Time

	lease    *lease.Lease
	notifier notify.Notifier
	store    *expect.Store
	history  *history.Fanout
	log      *slog.Logger
	now      func() time.Time

	notificationID int
	channel        string
	hbInterval     time.Duration
	ticker         *time.Ticker

	started  atomic.Bool
	cmdChan  chan command
	doneChan chan struct{}
}

type command struct {
	action   commandAction
	title    string
	body     string
	progress int
	reply    chan error
}

type commandAction string

const (
	actionStart  commandAction = "start"
	actionUpdate commandAction = "update"
	actionStop   commandAction = "stop"
)

func New(opts Options) *Runner {
	r := &Runner{
		state:          StateIdle,
		rate:           ewma.NewMovingAverage(),
		lease:          opts.Lease,
		notifier:       opts.Notifier,
		store:          opts.Store,
		history:        opts.History,
		log:            opts.Logger,
		now:            opts.Now,
		notificationID: opts.NotificationID,
		channel:        opts.Channel,
		hbInterval:     opts.HeartbeatInterval,
		cmdChan:        make(chan command, 16),
		doneChan:       make(chan struct{}),
	}
	if r.lease == nil {
		r.lease = &lease.Lease{}
	}
	if r.notifier == nil {
		r.notifier = notify.Multi{}
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.notificationID == 0 {
		r.notificationID = notify.DefaultID
	}
	if r.channel == "" {
		r.channel = notify.DefaultChannel
	}
	if r.hbInterval <= 0 {
		r.hbInterval = DefaultHeartbeatInterval
	}
	return r
}

// Done is closed once Run has returned.
func (r *Runner) Done() <-chan struct{} { return r.doneChan }

// Start shows the notification at 0% with the given content and takes the
// lease. Starting while running only refreshes the content.
func (r *Runner) Start(ctx context.Context, title, body string) error {
	return r.send(ctx, command{action: actionStart, title: title, body: body})
}

// UpdateProgress replaces the notification content in place. When idle it
// starts the task directly at the given progress.
func (r *Runner) UpdateProgress(ctx context.Context, title, body string, progress int) error {
	return r.send(ctx, command{action: actionUpdate, title: title, body: body, progress: progress})
}

// Stop releases the lease, removes the notification and goes idle.
// Stopping an idle runner is a no-op.
func (r *Runner) Stop(ctx context.Context) error {
	return r.send(ctx, command{action: actionStop})
}

func (r *Runner) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case r.cmdChan <- cmd:
	case <-r.doneChan:
		return ErrShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-r.doneChan:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrShuttingDown
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the state machine loop. It returns when ctx is cancelled, after
// tearing down: the lease is released, the notification and the last
// heartbeat are left in place so the watchdog can tell the task died.
func (r *Runner) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(r.doneChan)
	defer r.teardown()

	for {
		var hbC <-chan time.Time
		if r.ticker != nil {
			hbC = r.ticker.C
		}
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-r.cmdChan:
			r.handleCommand(ctx, cmd)
		case <-hbC:
			r.beat(ctx)
		}
	}
}

func (r *Runner) handleCommand(ctx context.Context, cmd command) {
	metrics.IncCommand(string(cmd.action))
	var err error
	switch cmd.action {
	case actionStart, actionUpdate:
		err = r.handleShow(ctx, cmd)
	case actionStop:
		err = r.handleStop(ctx)
	default:
		err = fmt.Errorf("unknown runner command %q", cmd.action)
	}
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

func (r *Runner) handleShow(ctx context.Context, cmd command) error {
	title, body := withDefaults(cmd.title, cmd.body)
	progress := 0
	if cmd.action == actionUpdate {
		progress = notify.Clamp(cmd.progress)
	}
	now := r.now()

	r.mu.Lock()
	wasIdle := r.state == StateIdle
	switch {
	case wasIdle:
		r.state = StateRunning
		r.runID = uuid.NewString()
		r.startedAt = now
		r.resetRateLocked(progress, now)
	case cmd.action == actionStart:
		r.resetRateLocked(0, now)
	default:
		r.observeRateLocked(progress, now)
	}
	r.title, r.body, r.progress = title, body, progress
	r.updatedAt = now
	rec := r.recordLocked()
	r.mu.Unlock()

	// Re-taken on every command; a no-op while held.
	r.acquireLease()
	if err := r.notifier.Notify(notify.Ongoing(r.notificationID, r.channel, title, body, progress)); err != nil {
		r.log.Warn("notify failed", "error", err)
	}
	metrics.SetProgress(progress)

	if wasIdle {
		r.beat(ctx)
		r.ticker = time.NewTicker(r.hbInterval)
		metrics.RecordTransition(StateIdle.String(), StateRunning.String(), string(cmd.action))
		metrics.SetRunning(true)
		r.log.Info("runner started", "run_id", rec.RunID, "title", title, "body", body, "progress", progress)
		r.history.Emit(ctx, history.Event{Type: history.EventStart, OccurredAt: now, Record: rec})
		return nil
	}
	r.log.Debug("runner updated", "run_id", rec.RunID, "title", title, "progress", progress)
	r.history.Emit(ctx, history.Event{Type: history.EventUpdate, OccurredAt: now, Record: rec})
	return nil
}

func (r *Runner) handleStop(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateIdle {
		r.mu.Unlock()
		r.log.Debug("stop ignored; runner idle")
		return nil
	}
	r.state = StateIdle
	now := r.now()
	r.updatedAt = now
	rec := r.recordLocked()
	r.mu.Unlock()

	r.stopTicker()
	r.releaseLease()
	if err := r.notifier.Cancel(r.notificationID); err != nil {
		r.log.Warn("cancel notification failed", "error", err)
	}
	if r.store != nil {
		if err := r.store.ClearBeat(ctx); err != nil {
			r.log.Warn("clear heartbeat failed", "error", err)
		}
	}
	metrics.RecordTransition(StateRunning.String(), StateIdle.String(), string(actionStop))
	metrics.SetRunning(false)
	metrics.SetProgress(0)
	r.log.Info("runner stopped", "run_id", rec.RunID)
	r.history.Emit(ctx, history.Event{Type: history.EventStop, OccurredAt: now, Record: rec})
	return nil
}

// teardown runs when the loop exits. Only the lease is cleaned up.
func (r *Runner) teardown() {
	r.stopTicker()
	r.mu.Lock()
	wasRunning := r.state == StateRunning
	r.state = StateIdle
	rec := r.recordLocked()
	r.mu.Unlock()

	r.releaseLease()
	if !wasRunning {
		return
	}
	metrics.RecordTransition(StateRunning.String(), StateIdle.String(), "teardown")
	metrics.SetRunning(false)
	r.log.Warn("runner torn down; lease released", "run_id", rec.RunID)
	ctx, cancel := context.WithTimeout(context.Background(), history.DefaultSendTimeout)
	defer cancel()
	r.history.Emit(ctx, history.Event{Type: history.EventTeardown, OccurredAt: r.now(), Record: rec})
}

func (r *Runner) beat(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.mu.RLock()
	runID := r.runID
	r.mu.RUnlock()
	if err := r.store.Beat(ctx, expect.Heartbeat{RunID: runID, At: r.now()}); err != nil {
		r.log.Warn("heartbeat write failed", "error", err)
	}
}

func (r *Runner) stopTicker() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

func (r *Runner) acquireLease() {
	if err := r.lease.Acquire(); err != nil {
		metrics.IncLeaseError("acquire")
		r.log.Warn("lease acquire failed", "error", err)
	}
	st := r.lease.State()
	metrics.SetLeaseHeld(st.CPUHeld, st.NetworkHeld)
}

func (r *Runner) releaseLease() {
	if err := r.lease.Release(); err != nil {
		metrics.IncLeaseError("release")
		r.log.Warn("lease release failed", "error", err)
	}
	st := r.lease.State()
	metrics.SetLeaseHeld(st.CPUHeld, st.NetworkHeld)
}

func (r *Runner) resetRateLocked(progress int, now time.Time) {
	r.rate = ewma.NewMovingAverage()
	r.lastProgress = progress
	r.lastProgressAt = now
}

// observeRateLocked feeds the progress rate (percent per second) into the
// moving average. Progress going backwards starts a new phase.
func (r *Runner) observeRateLocked(progress int, now time.Time) {
	if progress < r.lastProgress {
		r.resetRateLocked(progress, now)
		return
	}
	if progress == r.lastProgress {
		return
	}
	if dt := now.Sub(r.lastProgressAt).Seconds(); dt > 0 {
		r.rate.Add(float64(progress-r.lastProgress) / dt)
	}
	r.lastProgress = progress
	r.lastProgressAt = now
}

func (r *Runner) recordLocked() history.Record {
	return history.Record{
		RunID:     r.runID,
		Title:     r.title,
		Body:      r.body,
		Progress:  r.progress,
		Running:   r.state == StateRunning,
		StartedAt: r.startedAt,
	}
}

func withDefaults(title, body string) (string, string) {
	if title == "" {
		title = DefaultTitle
	}
	if body == "" {
		body = DefaultBody
	}
	return title, body
}
