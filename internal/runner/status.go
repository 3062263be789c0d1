package runner

import (
	"time"

	"github.com/loykin/genkeep/internal/lease"
	"github.com/loykin/genkeep/internal/notify"
)

type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Status is a point-in-time view of the runner.
type Status struct {
	State     string      `json:"state"`
	Running   bool        `json:"running"`
	Lease     lease.State `json:"lease"`
	Title     string      `json:"title,omitempty"`
	Body      string      `json:"body,omitempty"`
	Progress  int         `json:"progress"`
	RunID     string      `json:"run_id,omitempty"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`
	// ETA is zero until at least one forward progress step has been observed.
	ETA time.Duration `json:"eta,omitempty"`
}

func (r *Runner) Status() Status {
	r.mu.RLock()
	st := Status{
		State:   r.state.String(),
		Running: r.state == StateRunning,
	}
	if !r.updatedAt.IsZero() {
		at := r.updatedAt
		st.UpdatedAt = &at
	}
	rate := r.rate.Value()
	if st.Running {
		st.Title, st.Body = r.title, r.body
		st.Progress = r.progress
		st.RunID = r.runID
		at := r.startedAt
		st.StartedAt = &at
	}
	r.mu.RUnlock()

	st.Lease = r.lease.State()
	if st.Running && rate > 0 && st.Progress < notify.ProgressMax {
		secs := float64(notify.ProgressMax-st.Progress) / rate
		st.ETA = time.Duration(secs * float64(time.Second)).Round(time.Second)
	}
	return st
}

// Running reports whether the runner currently owns a task.
func (r *Runner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == StateRunning
}

// RunID is the id of the current run, or empty while idle.
func (r *Runner) RunID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateRunning {
		return ""
	}
	return r.runID
}

// Lease reports which halves of the lease are currently held.
func (r *Runner) Lease() lease.State { return r.lease.State() }
