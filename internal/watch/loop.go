package watch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/smazurov/capturewatch/internal/events"
	"github.com/smazurov/capturewatch/internal/metrics"
	"github.com/smazurov/capturewatch/internal/probe"
	"github.com/smazurov/capturewatch/internal/process"
	"github.com/smazurov/capturewatch/internal/stream"
)

// DeviceProber reports capture signal state.
type DeviceProber interface {
	Query(ctx context.Context) (probe.Result, error)
}

// ConsumerProber reports whether the downstream consumer is running.
type ConsumerProber interface {
	Alive(ctx context.Context) bool
}

// Streamer owns the pipeline process.
type Streamer interface {
	Start(cfg stream.Config) error
	Stop()
	Exited() bool
	Info() process.Info
}

// Options configures a Loop.
type Options struct {
	Device   DeviceProber
	Consumer ConsumerProber
	Streamer Streamer
	Stream   stream.Config

	// Interval between poll cycles. Defaults to 2s.
	Interval time.Duration

	// Bus receives a CaptureStateChangedEvent on every change. Optional.
	Bus *events.Bus

	// Heartbeat is called once per cycle, e.g. to pet the systemd watchdog. Optional.
	Heartbeat func()

	Logger *slog.Logger
}

// Loop is the supervision state machine. It is driven from one goroutine.
type Loop struct {
	device    DeviceProber
	consumer  ConsumerProber
	streamer  Streamer
	cfg       stream.Config
	interval  time.Duration
	bus       *events.Bus
	heartbeat func()
	logger    *slog.Logger

	state     CaptureState
	last      events.CaptureStateChangedEvent
	published bool
}

// NewLoop creates a loop in the NO_INPUT state.
func NewLoop(opts Options) *Loop {
	interval := opts.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		device:    opts.Device,
		consumer:  opts.Consumer,
		streamer:  opts.Streamer,
		cfg:       opts.Stream,
		interval:  interval,
		bus:       opts.Bus,
		heartbeat: opts.Heartbeat,
		logger:    logger,
		state:     NoInput,
	}
}

// State returns the current capture state.
func (l *Loop) State() CaptureState { return l.state }

// Run polls until ctx is cancelled. It never stops the pipeline on its own
// account when returning; teardown belongs to the caller.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Supervision loop started", "interval", l.interval, "stream", l.cfg.String())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Supervision loop stopped", "state", l.state.String())
			return nil
		case <-timer.C:
		}

		l.Step(ctx)
		timer.Reset(l.interval)
	}
}

// Step runs one poll cycle and applies the resulting transition.
func (l *Loop) Step(ctx context.Context) {
	if l.heartbeat != nil {
		defer l.heartbeat()
	}

	timings, hasSignal := l.queryDevice(ctx)
	consumerAlive := l.consumer.Alive(ctx)

	// A shutdown request that arrived during the probes wins over any transition
	if ctx.Err() != nil {
		return
	}

	ready := hasSignal && consumerAlive
	metrics.SetCaptureInput(ready)

	if !ready {
		l.logger.Info("NO INPUT", "signal", hasSignal, "consumer", consumerAlive)
		if l.state != NoInput {
			l.logger.Info("SignalOFF")
			l.streamer.Stop()
		}
		l.state = NoInput
		l.report(events.CaptureStateChangedEvent{
			State:  events.StateNoInput,
			Reason: noInputReason(hasSignal, consumerAlive),
		})
		return
	}

	if l.state == Input && l.streamer.Exited() {
		info := l.streamer.Info()
		l.logger.Warn("Pipeline exited on its own, restarting",
			"pid", info.PID,
			"exit_code", info.ExitCode,
			"uptime", time.Since(info.StartedAt).Round(time.Second))
		l.streamer.Stop()
		l.state = NoInput
	}

	snapshot := events.CaptureStateChangedEvent{
		State:      events.StateInput,
		Resolution: timings.Resolution,
		FPS:        timings.FPS,
	}

	if l.state == NoInput {
		l.logger.Info("SignalON", "resolution", timings.Resolution, "fps", timings.FPS)
		if err := l.streamer.Start(l.cfg); err != nil {
			// Stay in NO_INPUT so the next ready cycle retries
			l.logger.Error("Failed to start pipeline", "error", err)
			snapshot.Reason = "pipeline failed to start"
			l.report(snapshot)
			return
		}
		l.state = Input
	}

	snapshot.Streaming = true
	if l.published && l.last.State == events.StateInput &&
		(l.last.Resolution != snapshot.Resolution || l.last.FPS != snapshot.FPS) {
		l.logger.Info("Input timings changed", "resolution", snapshot.Resolution, "fps", snapshot.FPS)
	}
	l.report(snapshot)
}

// queryDevice runs the device probe and folds every failure into "no signal".
func (l *Loop) queryDevice(ctx context.Context) (probe.Result, bool) {
	res, err := l.device.Query(ctx)
	switch {
	case err == nil:
		return res, res.HasSignal
	case errors.Is(err, probe.ErrNoSignal):
		// Normal while the source is unplugged
	case ctx.Err() != nil:
		// Interrupted by shutdown
	default:
		metrics.IncProbeErrors("device")
		l.logger.Debug("Device probe failed", "error", err)
	}
	return probe.Result{}, false
}

func noInputReason(hasSignal, consumerAlive bool) string {
	switch {
	case !hasSignal && !consumerAlive:
		return "no signal, consumer down"
	case !hasSignal:
		return "no signal"
	default:
		return "consumer down"
	}
}

// report publishes snapshot if it differs from the last one published.
func (l *Loop) report(snapshot events.CaptureStateChangedEvent) {
	prev := l.last
	prev.Timestamp = ""
	if l.published && prev == snapshot {
		return
	}

	l.last = snapshot
	l.published = true
	if l.bus == nil {
		return
	}
	snapshot.Timestamp = time.Now().Format(time.RFC3339)
	l.bus.Publish(snapshot)
}
