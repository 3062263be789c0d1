package lease

import (
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/coreos/go-systemd/login1"
)

// logind inhibitor targets used for the two leases.
const (
	WhatSleep = "sleep"
	WhatIdle  = "idle"
)

// Inhibitor takes a logind inhibition lock. *login1.Conn satisfies it.
type Inhibitor interface {
	Inhibit(what, who, why, mode string) (*os.File, error)
}

// InhibitLock holds a logind "block" inhibitor. The lock lives as long as the
// returned file descriptor stays open; releasing closes it.
type InhibitLock struct {
	mu   sync.Mutex
	conn Inhibitor
	what string
	who  string
	why  string
	fd   *os.File
}

func NewInhibitLock(conn Inhibitor, what, who, why string) *InhibitLock {
	return &InhibitLock{conn: conn, what: what, who: who, why: why}
}

func (l *InhibitLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd != nil {
		return nil
	}
	if l.conn == nil {
		return errors.New("no inhibitor connection")
	}
	fd, err := l.conn.Inhibit(l.what, l.who, l.why, "block")
	if err != nil {
		return err
	}
	l.fd = fd
	return nil
}

func (l *InhibitLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fd == nil {
		return nil
	}
	err := l.fd.Close()
	l.fd = nil
	return err
}

func (l *InhibitLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fd != nil
}

// NewSystemLease connects to systemd-logind and returns a lease whose CPU half
// blocks sleep and whose network half blocks idle actions. When logind is not
// reachable both halves are nil and the lease is a no-op. The returned func
// closes the bus connection.
func NewSystemLease(who string, log *slog.Logger) (*Lease, func()) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := login1.New()
	if err != nil {
		log.Warn("logind unavailable, running without wake locks", "error", err)
		return &Lease{}, func() {}
	}
	l := &Lease{
		CPU:     NewInhibitLock(conn, WhatSleep, who, "background generation in progress"),
		Network: NewInhibitLock(conn, WhatIdle, who, "keeping network active for background generation"),
	}
	return l, conn.Close
}
