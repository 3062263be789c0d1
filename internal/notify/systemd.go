package notify

import (
	"github.com/coreos/go-systemd/daemon"
)

// Systemd mirrors the notification into the unit's STATUS= line so it shows
// up in `systemctl status`. Outside systemd every call is a no-op.
type Systemd struct {
	// send is daemon.SdNotify; replaced in tests.
	send func(unsetEnvironment bool, state string) (bool, error)
}

func NewSystemd() *Systemd {
	return &Systemd{send: daemon.SdNotify}
}

func (s *Systemd) Notify(n Notification) error {
	_, err := s.send(false, "STATUS="+n.Summary())
	return err
}

func (s *Systemd) Cancel(int) error {
	_, err := s.send(false, "STATUS=idle")
	return err
}

// Ready reports service startup completion to systemd.
func (s *Systemd) Ready() error {
	_, err := s.send(false, daemon.SdNotifyReady)
	return err
}

// Stopping reports the beginning of service shutdown.
func (s *Systemd) Stopping() error {
	_, err := s.send(false, daemon.SdNotifyStopping)
	return err
}
