package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/genkeep/internal/expect"
	"github.com/loykin/genkeep/internal/history"
	"github.com/loykin/genkeep/internal/metrics"
)

// Outcome is what a single check decided.
type Outcome string

const (
	OutcomeIdle          Outcome = "idle"
	OutcomeHealthy       Outcome = "healthy"
	OutcomeRestarted     Outcome = "restarted"
	OutcomeRestartFailed Outcome = "restart_failed"
)

// Starter restarts the task with the given content.
type Starter interface {
	Start(ctx context.Context, title, body string) error
}

// Worker restarts the task when it is expected to run but is not alive.
// Passes never overlap: scheduled firings, manual checks and the boot-time
// resume all queue on the same lock.
type Worker struct {
	Store   *expect.Store
	Probe   Probe
	Starter Starter
	History *history.Fanout
	Logger  *slog.Logger

	mu sync.Mutex
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Check runs one watchdog pass. An unreadable expectation counts as "not
// expected"; an unreadable probe counts as "not alive".
func (w *Worker) Check(ctx context.Context) Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.check(ctx)
	metrics.IncWatchdogCheck(string(out))
	return out
}

func (w *Worker) check(ctx context.Context) Outcome {
	log := w.logger()
	exp, err := w.Store.Get(ctx)
	if err != nil {
		log.Warn("watchdog: expectation unreadable", "error", err)
		return OutcomeIdle
	}
	if !exp.ShouldBeRunning {
		log.Debug("watchdog: task not expected")
		return OutcomeIdle
	}

	alive := false
	if w.Probe != nil {
		alive, err = w.Probe.Alive(ctx)
		if err != nil {
			log.Warn("watchdog: liveness probe failed", "error", err)
		}
	}
	if alive {
		log.Debug("watchdog: task healthy")
		return OutcomeHealthy
	}

	log.Info("watchdog: task expected but not alive; restarting", "title", exp.LastTitle, "body", exp.LastBody)
	if err := w.Starter.Start(ctx, exp.LastTitle, exp.LastBody); err != nil {
		log.Error("watchdog: restart failed", "error", err)
		return OutcomeRestartFailed
	}
	w.History.Emit(ctx, history.Event{
		Type:       history.EventWatchdogRestart,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{Title: exp.LastTitle, Body: exp.LastBody, Running: true},
	})
	return OutcomeRestarted
}

// Run adapts Check to the scheduler. It always reports success so the
// schedule is never backed off.
func (w *Worker) Run(ctx context.Context) Result {
	w.Check(ctx)
	return ResultSuccess
}
