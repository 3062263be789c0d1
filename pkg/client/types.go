package client

import "time"

// ProgressRequest starts or updates the task. Nil fields take the daemon's defaults.
type ProgressRequest struct {
	Title    *string `json:"title,omitempty"`
	Body     *string `json:"body,omitempty"`
	Progress *int    `json:"progress,omitempty"`
}

// Expectation is the durable record of whether the task should run.
type Expectation struct {
	ShouldBeRunning bool   `json:"should_be_running"`
	LastTitle       string `json:"last_title"`
	LastBody        string `json:"last_body"`
}

type LeaseState struct {
	CPUHeld     bool `json:"cpu_held"`
	NetworkHeld bool `json:"network_held"`
}

// RunnerStatus is the live state of the foreground task.
type RunnerStatus struct {
	State     string        `json:"state"`
	Running   bool          `json:"running"`
	Lease     LeaseState    `json:"lease"`
	Title     string        `json:"title,omitempty"`
	Body      string        `json:"body,omitempty"`
	Progress  int           `json:"progress"`
	RunID     string        `json:"run_id,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	UpdatedAt *time.Time    `json:"updated_at,omitempty"`
	ETA       time.Duration `json:"eta,omitempty"`
}

// Status is the combined daemon view returned by GET /status.
type Status struct {
	Expectation       Expectation   `json:"expectation"`
	Runner            RunnerStatus  `json:"runner"`
	WatchdogScheduled bool          `json:"watchdog_scheduled"`
	WatchdogInterval  time.Duration `json:"watchdog_interval"`
	WatchdogNext      *time.Time    `json:"watchdog_next,omitempty"`
}

// CheckResult reports the outcome of a manual watchdog pass.
type CheckResult struct {
	Outcome string `json:"outcome"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
