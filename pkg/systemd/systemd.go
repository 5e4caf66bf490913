// Package systemd reports service state to systemd over sd_notify.
// Every call is a no-op when the process is not run by systemd.
package systemd

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyFunc sends one sd_notify state string. It reports whether the
// message was delivered.
type NotifyFunc func(state string) (bool, error)

// Notifier sends readiness and shutdown notifications.
type Notifier struct {
	send NotifyFunc
}

// New returns a Notifier that talks to $NOTIFY_SOCKET.
func New() *Notifier {
	return &Notifier{send: func(state string) (bool, error) { return daemon.SdNotify(false, state) }}
}

// NewWith returns a Notifier using send, for tests.
func NewWith(send NotifyFunc) *Notifier { return &Notifier{send: send} }

func (n *Notifier) Ready() (bool, error) { return n.notify(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() (bool, error) { return n.notify(daemon.SdNotifyStopping) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(format string, args ...any) (bool, error) {
	return n.notify("STATUS=" + fmt.Sprintf(format, args...))
}

func (n *Notifier) notify(state string) (bool, error) {
	if n == nil || n.send == nil {
		return false, nil
	}
	return n.send(state)
}
