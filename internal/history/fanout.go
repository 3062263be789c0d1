package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultSendTimeout bounds a single sink delivery.
const DefaultSendTimeout = 5 * time.Second

// Fanout delivers each event to every configured sink. Delivery failures are
// logged and never returned to the emitter.
type Fanout struct {
	mu      sync.RWMutex
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration
}

func NewFanout(log *slog.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{sinks: append([]Sink(nil), sinks...), log: log, timeout: DefaultSendTimeout}
}

// SetSinks replaces the sink list and closes the sinks it replaced.
// Passing no sinks clears it.
func (f *Fanout) SetSinks(sinks ...Sink) error {
	f.mu.Lock()
	old := f.sinks
	f.sinks = append([]Sink(nil), sinks...)
	f.mu.Unlock()
	return closeSinks(old)
}

func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Emit sends e to all sinks. A nil Fanout is a valid no-op.
func (f *Fanout) Emit(ctx context.Context, e Event) {
	if f == nil {
		return
	}
	f.mu.RLock()
	sinks := append([]Sink(nil), f.sinks...)
	f.mu.RUnlock()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, f.timeout)
		if err := s.Send(sctx, e); err != nil {
			f.log.Warn("history sink send failed", "event", string(e.Type), "error", err)
		}
		cancel()
	}
}

// Close closes every sink that implements io.Closer.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	old := f.sinks
	f.sinks = nil
	f.mu.Unlock()
	return closeSinks(old)
}

func closeSinks(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
