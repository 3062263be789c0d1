package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart           EventType = "start"
	EventUpdate          EventType = "update"
	EventStop            EventType = "stop"
	EventTeardown        EventType = "teardown"
	EventWatchdogRestart EventType = "watchdog_restart"
)

// Record is the runner snapshot attached to every event.
type Record struct {
	RunID     string    `json:"run_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Progress  int       `json:"progress"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
