// Package systemd reports service state to systemd via sd_notify.
//
// Outside systemd (no NOTIFY_SOCKET) every call is a no-op that reports
// sent=false.
package systemd

import (
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier sends sd_notify states.
type Notifier interface {
	Notify(state string) (sent bool, err error)
}

// SdNotifier talks to the socket named by NOTIFY_SOCKET.
type SdNotifier struct{}

func (SdNotifier) Notify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

// Nop never sends anything.
type Nop struct{}

func (Nop) Notify(string) (bool, error) { return false, nil }

func Ready(n Notifier) (bool, error)    { return n.Notify(daemon.SdNotifyReady) }
func Stopping(n Notifier) (bool, error) { return n.Notify(daemon.SdNotifyStopping) }
func Reloading(n Notifier) (bool, error) {
	return n.Notify(daemon.SdNotifyReloading)
}
func Watchdog(n Notifier) (bool, error) { return n.Notify(daemon.SdNotifyWatchdog) }

// Status sets the free-form STATUS= line shown by systemctl status.
func Status(n Notifier, format string, args ...any) (bool, error) {
	return n.Notify("STATUS=" + fmt.Sprintf(format, args...))
}

// WatchdogInterval returns the interval systemd expects WATCHDOG=1 within,
// or 0 when the watchdog is not enabled for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}
