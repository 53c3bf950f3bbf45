package systemd

import (
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/capturewatch/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.states)
}

func TestNotifierWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")

	n := NewNotifier(testLogger())
	if n.WatchdogInterval() != 0 {
		t.Errorf("WatchdogInterval() = %v, want 0", n.WatchdogInterval())
	}

	// Must not panic or block outside systemd
	n.Ready()
	n.Status("No input")
	n.Watchdog()
	n.Stopping()
}

func TestNotifierWatchdogInterval(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "10000000")
	t.Setenv("WATCHDOG_PID", "")

	n := NewNotifier(testLogger())
	if n.WatchdogInterval() != 10*time.Second {
		t.Errorf("WatchdogInterval() = %v, want 10s", n.WatchdogInterval())
	}
}

func TestNotifierStates(t *testing.T) {
	rec := &recorder{}
	n := &Notifier{logger: testLogger(), notify: rec.notify}

	n.Ready()
	n.Watchdog() // disabled, not sent
	n.Status("Streaming")
	n.Stopping()

	n.watchdog = time.Second
	n.Watchdog()

	want := []string{"READY=1", "STATUS=Streaming", "STOPPING=1", "WATCHDOG=1"}
	if got := rec.sent(); !slices.Equal(got, want) {
		t.Errorf("sent %v, want %v", got, want)
	}
}

func TestNotifierSendErrorIsNotFatal(t *testing.T) {
	n := &Notifier{logger: testLogger(), notify: func(string) (bool, error) {
		return false, errors.New("socket gone")
	}}
	n.Ready()
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		event events.CaptureStateChangedEvent
		want  string
	}{
		{events.CaptureStateChangedEvent{State: events.StateNoInput}, "No input"},
		{events.CaptureStateChangedEvent{State: events.StateInput, Streaming: true, Resolution: "1920x1080", FPS: "60.00"}, "Streaming 1920x1080 @ 60.00 fps"},
		{events.CaptureStateChangedEvent{State: events.StateInput, Streaming: true}, "Streaming"},
		{events.CaptureStateChangedEvent{State: events.StateInput}, "Input present, pipeline down"},
	}
	for _, tt := range tests {
		if got := StatusLine(tt.event); got != tt.want {
			t.Errorf("StatusLine(%+v) = %q, want %q", tt.event, got, tt.want)
		}
	}
}

func TestNotifierFollow(t *testing.T) {
	rec := &recorder{}
	n := &Notifier{logger: testLogger(), notify: rec.notify}
	bus := events.New()

	unsub := n.Follow(bus)
	defer unsub()

	bus.Publish(events.CaptureStateChangedEvent{State: events.StateNoInput})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if slices.Contains(rec.sent(), "STATUS=No input") {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status not sent, got %v", rec.sent())
}
