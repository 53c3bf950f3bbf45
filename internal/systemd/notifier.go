package systemd

import (
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/capturewatch/internal/events"
)

// Notifier reports service state to systemd through sd_notify. Outside a
// Type=notify unit every call is a no-op.
type Notifier struct {
	logger   *slog.Logger
	watchdog time.Duration
	notify   func(state string) (bool, error)
}

// NewNotifier creates a notifier and reads the watchdog interval from the
// environment.
func NewNotifier(logger *slog.Logger) *Notifier {
	n := &Notifier{
		logger: logger,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("Invalid watchdog configuration", "error", err)
	}
	n.watchdog = interval
	if interval > 0 {
		logger.Info("systemd watchdog enabled", "interval", interval)
	}
	return n
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
}

// Ready tells systemd startup has finished.
func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

// Stopping tells systemd shutdown has begun.
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Watchdog pets the watchdog when one is configured.
func (n *Notifier) Watchdog() {
	if n.watchdog > 0 {
		n.send(daemon.SdNotifyWatchdog)
	}
}

// WatchdogInterval returns the configured WatchdogSec, or zero.
func (n *Notifier) WatchdogInterval() time.Duration { return n.watchdog }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(status string) { n.send("STATUS=" + status) }

// StatusLine renders a capture state snapshot for Status.
func StatusLine(e events.CaptureStateChangedEvent) string {
	switch {
	case !e.HasInput():
		return "No input"
	case e.Streaming:
		if e.Resolution != "" {
			return "Streaming " + e.Resolution + " @ " + e.FPS + " fps"
		}
		return "Streaming"
	default:
		return "Input present, pipeline down"
	}
}

// Follow publishes a status line for every capture state change and
// returns the unsubscribe function.
func (n *Notifier) Follow(bus *events.Bus) func() {
	return bus.Subscribe(func(e events.CaptureStateChangedEvent) {
		n.Status(StatusLine(e))
	})
}
