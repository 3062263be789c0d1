// Package lease holds the two hardware leases a running task needs: one that
// keeps the processor from suspending and one that keeps the network up.
//
// Locks are not reference counted. Acquiring a held lock and releasing a
// released lock are both no-ops, so a command-driven stop and a teardown
// racing to clean up can never double-release or leak.
package lease

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Lock is a single non-reference-counted hardware lock.
type Lock interface {
	Acquire() error
	Release() error
	Held() bool
}

// State reports which leases are currently held.
type State struct {
	CPUHeld     bool `json:"cpu_held"`
	NetworkHeld bool `json:"network_held"`
}

// Lease bundles the processor and network locks. A nil lock means the host
// service providing it is unavailable; that half of the lease is skipped.
type Lease struct {
	CPU     Lock
	Network Lock
}

// Acquire takes both locks. Failures are collected; a lock that failed stays unheld.
func (l *Lease) Acquire() error {
	var errs []error
	if l.CPU != nil && !l.CPU.Held() {
		if err := l.CPU.Acquire(); err != nil {
			errs = append(errs, fmt.Errorf("cpu lock: %w", err))
		}
	}
	if l.Network != nil && !l.Network.Held() {
		if err := l.Network.Acquire(); err != nil {
			errs = append(errs, fmt.Errorf("network lock: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (l *Lease) Release() error {
	var errs []error
	if l.CPU != nil && l.CPU.Held() {
		if err := l.CPU.Release(); err != nil {
			errs = append(errs, fmt.Errorf("cpu lock: %w", err))
		}
	}
	if l.Network != nil && l.Network.Held() {
		if err := l.Network.Release(); err != nil {
			errs = append(errs, fmt.Errorf("network lock: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (l *Lease) State() State {
	return State{
		CPUHeld:     l.CPU != nil && l.CPU.Held(),
		NetworkHeld: l.Network != nil && l.Network.Held(),
	}
}

// FlagLock is an in-memory lock for hosts without a lock service and for tests.
type FlagLock struct {
	mu       sync.Mutex
	name     string
	held     bool
	acquires int
	releases int
	log      *slog.Logger
}

func NewFlagLock(name string, log *slog.Logger) *FlagLock {
	if log == nil {
		log = slog.Default()
	}
	return &FlagLock{name: name, log: log}
}

func (f *FlagLock) Acquire() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		return nil
	}
	f.held = true
	f.acquires++
	f.log.Debug("lock acquired", "lock", f.name)
	return nil
}

func (f *FlagLock) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.held {
		return nil
	}
	f.held = false
	f.releases++
	f.log.Debug("lock released", "lock", f.name)
	return nil
}

func (f *FlagLock) Held() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held
}

// Counts returns how many real acquire/release transitions happened.
func (f *FlagLock) Counts() (acquires, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.releases
}

// NewMemoryLease returns a lease backed by two FlagLocks.
func NewMemoryLease(log *slog.Logger) *Lease {
	return &Lease{
		CPU:     NewFlagLock("cpu", log),
		Network: NewFlagLock("network", log),
	}
}
