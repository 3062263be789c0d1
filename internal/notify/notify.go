// Package notify renders the persistent progress notification of a running task.
package notify

import (
	"errors"
	"fmt"
	"log/slog"
)

// Identity of the single persistent notification.
const (
	DefaultID      = 1002
	DefaultChannel = "RESOLVER_FG_CHANNEL"
	ProgressMax    = 100
)

type Priority string

const PriorityLow Priority = "low"

// Notification is one displayed notification. ID is its identity: notifying
// again with the same ID replaces the content in place.
type Notification struct {
	ID            int      `json:"id"`
	Channel       string   `json:"channel"`
	Title         string   `json:"title"`
	Body          string   `json:"body"`
	Progress      int      `json:"progress"`
	Max           int      `json:"max"`
	Ongoing       bool     `json:"ongoing"`
	OnlyAlertOnce bool     `json:"only_alert_once"`
	Priority      Priority `json:"priority"`
}

// Ongoing builds the low-priority, non-dismissable progress notification.
func Ongoing(id int, channel, title, body string, progress int) Notification {
	return Notification{
		ID:            id,
		Channel:       channel,
		Title:         title,
		Body:          body,
		Progress:      Clamp(progress),
		Max:           ProgressMax,
		Ongoing:       true,
		OnlyAlertOnce: true,
		Priority:      PriorityLow,
	}
}

// Clamp bounds a progress value to 0..ProgressMax.
func Clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > ProgressMax {
		return ProgressMax
	}
	return p
}

// Summary renders the notification as a single status line.
func (n Notification) Summary() string {
	return fmt.Sprintf("%s: %s (%d%%)", n.Title, n.Body, n.Progress)
}

// Notifier displays and removes notifications.
type Notifier interface {
	Notify(n Notification) error
	Cancel(id int) error
}

// Multi fans out to every target and joins their errors.
type Multi []Notifier

func (m Multi) Notify(n Notification) error {
	var errs []error
	for _, t := range m {
		if t == nil {
			continue
		}
		if err := t.Notify(n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Cancel(id int) error {
	var errs []error
	for _, t := range m {
		if t == nil {
			continue
		}
		if err := t.Cancel(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes one structured line per notification change.
type Log struct {
	Logger *slog.Logger
}

func (l Log) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l Log) Notify(n Notification) error {
	l.logger().Info("notification", "id", n.ID, "title", n.Title, "body", n.Body, "progress", n.Progress)
	return nil
}

func (l Log) Cancel(id int) error {
	l.logger().Info("notification removed", "id", id)
	return nil
}
