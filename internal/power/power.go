// Package power asks the host to exempt the daemon from power saving.
package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus"
)

// Exemptor reports and requests exemption from background power restrictions.
type Exemptor interface {
	Exempt(ctx context.Context) (bool, error)
	Request(ctx context.Context, reason string) error
}

// Noop is used when no power service is reachable. It never reports exempt
// and ignores requests.
type Noop struct{}

func (Noop) Exempt(context.Context) (bool, error)  { return false, nil }
func (Noop) Request(context.Context, string) error { return nil }

const ProfilePerformance = "performance"

const (
	ppdDest  = "net.hadess.PowerProfiles"
	ppdPath  = dbus.ObjectPath("/net/hadess/PowerProfiles")
	ppdIface = "net.hadess.PowerProfiles"
)

// busObject is the subset of dbus.BusObject used here.
type busObject interface {
	GetProperty(p string) (dbus.Variant, error)
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// ProfileHold talks to power-profiles-daemon. The daemon counts as exempt
// while the active profile is "performance"; a request places a profile
// hold, which lives as long as the bus connection.
type ProfileHold struct {
	mu     sync.Mutex
	obj    busObject
	conn   *dbus.Conn
	appID  string
	cookie uint32
	held   bool
	log    *slog.Logger
}

func newProfileHold(obj busObject, appID string, log *slog.Logger) *ProfileHold {
	if log == nil {
		log = slog.Default()
	}
	return &ProfileHold{obj: obj, appID: appID, log: log}
}

// NewSystemExemptor connects to the system bus. When the bus or the power
// daemon is unavailable it returns Noop.
func NewSystemExemptor(appID string, log *slog.Logger) (Exemptor, func()) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := dbus.SystemBusPrivate()
	if err == nil {
		if err = conn.Auth(nil); err == nil {
			err = conn.Hello()
		}
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		log.Info("power exemption unavailable", "error", err)
		return Noop{}, func() {}
	}
	p := newProfileHold(conn.Object(ppdDest, ppdPath), appID, log)
	if _, err := p.activeProfile(); err != nil {
		_ = conn.Close()
		log.Info("power-profiles-daemon unavailable", "error", err)
		return Noop{}, func() {}
	}
	p.conn = conn
	return p, func() { _ = p.Close() }
}

func (p *ProfileHold) activeProfile() (string, error) {
	v, err := p.obj.GetProperty(ppdIface + ".ActiveProfile")
	if err != nil {
		return "", fmt.Errorf("read active profile: %w", err)
	}
	s, ok := v.Value().(string)
	if !ok {
		return "", errors.New("active profile is not a string")
	}
	return s, nil
}

func (p *ProfileHold) Exempt(context.Context) (bool, error) {
	prof, err := p.activeProfile()
	if err != nil {
		return false, err
	}
	return prof == ProfilePerformance, nil
}

func (p *ProfileHold) Request(_ context.Context, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.held {
		return nil
	}
	var cookie uint32
	call := p.obj.Call(ppdIface+".HoldProfile", 0, ProfilePerformance, reason, p.appID)
	if err := call.Store(&cookie); err != nil {
		return fmt.Errorf("hold profile: %w", err)
	}
	p.cookie, p.held = cookie, true
	p.log.Info("performance profile hold placed", "cookie", cookie)
	return nil
}

// Close releases the hold and the bus connection.
func (p *ProfileHold) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	if p.held {
		if err := p.obj.Call(ppdIface+".ReleaseProfile", 0, p.cookie).Err; err != nil {
			errs = append(errs, fmt.Errorf("release profile: %w", err))
		}
		p.held = false
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
		p.conn = nil
	}
	return errors.Join(errs...)
}
