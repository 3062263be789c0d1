package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/genkeep/internal/expect"
)

// Probe reports whether the task is actually alive.
type Probe interface {
	Alive(ctx context.Context) (bool, error)
}

// HeartbeatProbe treats the task as alive while its last heartbeat is
// younger than StaleAfter and belongs to a run of this process.
//
// With Owner set, only beats carrying the owner's current run id count, so a
// dead run's beat never vouches for an idle runner. Without an owner, beats
// written before Since are ignored.
type HeartbeatProbe struct {
	Store      *expect.Store
	StaleAfter time.Duration
	Owner      RunOwner
	Since      time.Time
	Now        func() time.Time
}

// RunOwner exposes the id of the run currently owned in-process. It is empty
// while idle.
type RunOwner interface {
	RunID() string
}

// StaleAfterFor is the default staleness window for a heartbeat interval.
func StaleAfterFor(interval time.Duration) time.Duration { return 3 * interval }

func (p HeartbeatProbe) Alive(ctx context.Context) (bool, error) {
	if p.Store == nil {
		return false, errors.New("heartbeat probe has no store")
	}
	hb, err := p.Store.LastBeat(ctx)
	if err != nil {
		return false, err
	}
	if hb.IsZero() {
		return false, nil
	}
	if p.Owner != nil {
		if id := p.Owner.RunID(); id == "" || hb.RunID != id {
			return false, nil
		}
	}
	if !p.Since.IsZero() && hb.At.Before(p.Since) {
		return false, nil
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().Sub(hb.At) < p.StaleAfter, nil
}

// Liveness is anything that knows whether it is running in-process.
type Liveness interface {
	Running() bool
}

// RunnerProbe asks an in-process runner directly.
type RunnerProbe struct {
	Runner Liveness
}

func (p RunnerProbe) Alive(context.Context) (bool, error) {
	if p.Runner == nil {
		return false, nil
	}
	return p.Runner.Running(), nil
}

// AnyProbe is alive when any member is. Errors are only reported when no
// member said alive.
type AnyProbe []Probe

func (a AnyProbe) Alive(ctx context.Context) (bool, error) {
	var errs []error
	for i, p := range a {
		if p == nil {
			continue
		}
		ok, err := p.Alive(ctx)
		if ok {
			return true, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("probe %d: %w", i, err))
		}
	}
	return false, errors.Join(errs...)
}

// ProbeKind names a configured liveness strategy.
type ProbeKind string

const (
	ProbeRunner    ProbeKind = "runner"
	ProbeHeartbeat ProbeKind = "heartbeat"
	ProbeAny       ProbeKind = "any"
)

// NewProbe builds the probe for kind. Heartbeats older than the call are
// never trusted; when runner also implements RunOwner only its own runs count.
func NewProbe(kind ProbeKind, runner Liveness, store *expect.Store, staleAfter time.Duration) (Probe, error) {
	hb := HeartbeatProbe{Store: store, StaleAfter: staleAfter, Since: time.Now()}
	if o, ok := runner.(RunOwner); ok {
		hb.Owner = o
	}
	switch kind {
	case "", ProbeRunner:
		return RunnerProbe{Runner: runner}, nil
	case ProbeHeartbeat:
		return hb, nil
	case ProbeAny:
		return AnyProbe{RunnerProbe{Runner: runner}, hb}, nil
	}
	return nil, fmt.Errorf("unknown probe kind %q", kind)
}
