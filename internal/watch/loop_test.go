package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/capturewatch/internal/events"
	"github.com/smazurov/capturewatch/internal/probe"
	"github.com/smazurov/capturewatch/internal/process"
	"github.com/smazurov/capturewatch/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testStream = stream.Config{Codec: stream.CodecH265, BitrateBps: 3000000, GOPSize: 60}

// cycle is one scripted probe outcome.
type cycle struct {
	signal   bool
	consumer bool
}

var (
	noSignal = cycle{signal: false, consumer: true}
	ready    = cycle{signal: true, consumer: true}
	noServer = cycle{signal: true, consumer: false}
)

// scriptedProbes replays cycles; the last one repeats.
type scriptedProbes struct {
	mu     sync.Mutex
	cycles []cycle
	i      int
	cur    cycle
}

func (p *scriptedProbes) Query(context.Context) (probe.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cur = p.cycles[min(p.i, len(p.cycles)-1)]
	p.i++
	if !p.cur.signal {
		return probe.Result{}, probe.ErrNoSignal
	}
	return probe.Result{HasSignal: true, Resolution: "1920x1080", FPS: "60.00"}, nil
}

func (p *scriptedProbes) Alive(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur.consumer
}

// fakeStreamer records calls and fails the test if two pipelines overlap.
type fakeStreamer struct {
	t        *testing.T
	mu       sync.Mutex
	calls    []string
	running  bool
	exited   bool
	startErr error
}

func (f *fakeStreamer) Start(cfg stream.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "start")
	if f.running {
		f.t.Error("Start called while a pipeline is running")
	}
	if cfg != testStream {
		f.t.Errorf("Start got config %+v, want %+v", cfg, testStream)
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	f.exited = false
	return nil
}

func (f *fakeStreamer) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "stop")
	f.running = false
	f.exited = false
}

func (f *fakeStreamer) Exited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

func (f *fakeStreamer) Info() process.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := process.Info{PID: 4242, Running: f.running && !f.exited}
	if f.exited {
		info.ExitCode = 1
	}
	return info
}

func (f *fakeStreamer) isRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeStreamer) crash() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exited = true
}

func (f *fakeStreamer) takeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	return calls
}

func newTestLoop(t *testing.T, cycles ...cycle) (*Loop, *fakeStreamer) {
	t.Helper()
	probes := &scriptedProbes{cycles: cycles}
	streamer := &fakeStreamer{t: t}
	loop := NewLoop(Options{
		Device:   probes,
		Consumer: probes,
		Streamer: streamer,
		Stream:   testStream,
		Logger:   testLogger(),
	})
	return loop, streamer
}

// runCycles steps n times and returns the supervisor calls of each cycle.
func runCycles(loop *Loop, streamer *fakeStreamer, n int) [][]string {
	out := make([][]string, n)
	for i := range n {
		loop.Step(context.Background())
		out[i] = streamer.takeCalls()
	}
	return out
}

func equalCycles(a, b [][]string) bool {
	return slices.EqualFunc(a, b, func(x, y []string) bool { return slices.Equal(x, y) })
}

func TestLoopEdgeTriggered(t *testing.T) {
	loop, streamer := newTestLoop(t, noSignal, noSignal, ready, ready, noSignal)

	got := runCycles(loop, streamer, 5)
	want := [][]string{nil, nil, {"start"}, nil, {"stop"}}
	if !equalCycles(got, want) {
		t.Errorf("calls per cycle = %v, want %v", got, want)
	}
	if loop.State() != NoInput {
		t.Errorf("State() = %v, want NO_INPUT", loop.State())
	}
}

func TestLoopRequiresConsumer(t *testing.T) {
	loop, streamer := newTestLoop(t, noServer)

	for i, calls := range runCycles(loop, streamer, 5) {
		if len(calls) != 0 {
			t.Errorf("cycle %d: calls %v, want none while the consumer is down", i, calls)
		}
	}
}

func TestLoopSteadyStateIsQuiet(t *testing.T) {
	loop, streamer := newTestLoop(t, ready)

	got := runCycles(loop, streamer, 20)
	if !slices.Equal(got[0], []string{"start"}) {
		t.Fatalf("first cycle calls = %v, want [start]", got[0])
	}
	for i, calls := range got[1:] {
		if len(calls) != 0 {
			t.Errorf("cycle %d: calls %v, want none in steady state", i+1, calls)
		}
	}
}

func TestLoopConsumerLossStopsPipeline(t *testing.T) {
	loop, streamer := newTestLoop(t, ready, noServer, noServer, ready)

	got := runCycles(loop, streamer, 4)
	want := [][]string{{"start"}, {"stop"}, nil, {"start"}}
	if !equalCycles(got, want) {
		t.Errorf("calls per cycle = %v, want %v", got, want)
	}
}

func TestLoopRetriesFailedStart(t *testing.T) {
	loop, streamer := newTestLoop(t, ready)
	streamer.startErr = errors.New("exec: python3: not found")

	got := runCycles(loop, streamer, 3)
	want := [][]string{{"start"}, {"start"}, {"start"}}
	if !equalCycles(got, want) {
		t.Errorf("calls per cycle = %v, want %v", got, want)
	}
	if loop.State() != NoInput {
		t.Errorf("State() = %v, want NO_INPUT after failed starts", loop.State())
	}

	streamer.startErr = nil
	if got := runCycles(loop, streamer, 2); !equalCycles(got, [][]string{{"start"}, nil}) {
		t.Errorf("after recovery calls = %v", got)
	}
}

func TestLoopFailedStartThenSignalLossDoesNotStop(t *testing.T) {
	loop, streamer := newTestLoop(t, ready, noSignal)
	streamer.startErr = errors.New("spawn failed")

	got := runCycles(loop, streamer, 2)
	want := [][]string{{"start"}, nil}
	if !equalCycles(got, want) {
		t.Errorf("calls per cycle = %v, want %v", got, want)
	}
}

func TestLoopRestartsExitedPipeline(t *testing.T) {
	loop, streamer := newTestLoop(t, ready)

	runCycles(loop, streamer, 2)
	streamer.crash()

	got := runCycles(loop, streamer, 2)
	want := [][]string{{"stop", "start"}, nil}
	if !equalCycles(got, want) {
		t.Errorf("calls per cycle = %v, want %v", got, want)
	}
}

func TestLoopCancelledDuringProbeDoesNothing(t *testing.T) {
	loop, streamer := newTestLoop(t, ready)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop.Step(ctx)

	if calls := streamer.takeCalls(); len(calls) != 0 {
		t.Errorf("calls = %v, want none after cancellation", calls)
	}
}

func TestLoopHeartbeatEveryCycle(t *testing.T) {
	probes := &scriptedProbes{cycles: []cycle{noSignal, ready}}
	beats := 0
	loop := NewLoop(Options{
		Device:    probes,
		Consumer:  probes,
		Streamer:  &fakeStreamer{t: t},
		Stream:    testStream,
		Heartbeat: func() { beats++ },
		Logger:    testLogger(),
	})

	for range 4 {
		loop.Step(context.Background())
	}
	if beats != 4 {
		t.Errorf("heartbeat called %d times, want 4", beats)
	}
}

func TestLoopPublishesChanges(t *testing.T) {
	bus := events.New()
	received := make(chan events.CaptureStateChangedEvent, 16)
	unsub := bus.Subscribe(func(e events.CaptureStateChangedEvent) { received <- e })
	defer unsub()

	probes := &scriptedProbes{cycles: []cycle{noSignal, noSignal, ready, ready, noServer}}
	loop := NewLoop(Options{
		Device:   probes,
		Consumer: probes,
		Streamer: &fakeStreamer{t: t},
		Stream:   testStream,
		Bus:      bus,
		Logger:   testLogger(),
	})
	for range 5 {
		loop.Step(context.Background())
	}

	want := []string{
		"NO_INPUT false no signal",
		"INPUT true 1920x1080",
		"NO_INPUT false consumer down",
	}
	for i, w := range want {
		select {
		case e := <-received:
			got := fmt.Sprintf("%s %t %s", e.State, e.Streaming, e.Resolution+e.Reason)
			if got != w {
				t.Errorf("event %d = %q, want %q", i, got, w)
			}
			if e.Timestamp == "" {
				t.Errorf("event %d has no timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}

	select {
	case e := <-received:
		t.Errorf("unexpected extra event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	probes := &scriptedProbes{cycles: []cycle{ready}}
	streamer := &fakeStreamer{t: t}
	loop := NewLoop(Options{
		Device:   probes,
		Consumer: probes,
		Streamer: streamer,
		Stream:   testStream,
		Interval: 10 * time.Millisecond,
		Logger:   testLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	if calls := streamer.takeCalls(); !slices.Equal(calls, []string{"start"}) {
		t.Errorf("calls = %v, want a single start", calls)
	}
}

func TestCaptureStateString(t *testing.T) {
	if NoInput.String() != "NO_INPUT" || Input.String() != "INPUT" {
		t.Errorf("String() = %q, %q", NoInput, Input)
	}
}
