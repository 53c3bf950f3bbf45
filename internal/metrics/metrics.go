// Package metrics provides Prometheus metrics for the capture supervisor
// and the Rockchip MPP encoder it drives.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "capturewatch"

// Kill passes reported by the supervisor.
const (
	PassTree  = "tree"
	PassGroup = "group"
	PassSweep = "sweep"
)

var (
	captureInput = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "capture",
		Name:      "input",
		Help:      "1 when the capture device has signal and the consumer is running",
	})

	streamRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "running",
		Help:      "1 while a streaming pipeline process is managed",
	})

	streamStarts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "starts_total",
		Help:      "Pipeline processes launched",
	})

	streamStartFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "start_failures_total",
		Help:      "Pipeline launches that failed to spawn",
	})

	streamStops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "stops_total",
		Help:      "Managed pipeline processes torn down by the supervisor",
	})

	processesKilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "processes_killed_total",
		Help:      "Processes sent SIGKILL, by teardown pass",
	}, []string{"pass"})

	probeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "probe",
		Name:      "errors_total",
		Help:      "Probe failures recovered by the supervision loop",
	}, []string{"probe"})

	buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build metadata of the running watchdog, always 1",
	}, []string{"version", "commit"})

	drainTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "stream",
		Name:      "drain_timeouts_total",
		Help:      "Output drain tasks that did not finish within the join timeout",
	})
)

// SetCaptureInput records the current capture state.
func SetCaptureInput(input bool) {
	captureInput.Set(boolToFloat(input))
}

// SetStreamRunning records whether a pipeline process is live.
func SetStreamRunning(running bool) {
	streamRunning.Set(boolToFloat(running))
}

// IncStreamStarts counts a successful pipeline launch.
func IncStreamStarts() {
	streamStarts.Inc()
}

// IncStreamStartFailures counts a failed pipeline launch.
func IncStreamStartFailures() {
	streamStartFailures.Inc()
}

// IncStreamStops counts a completed stop sequence.
func IncStreamStops() {
	streamStops.Inc()
}

// AddProcessesKilled adds n kills for the given pass.
func AddProcessesKilled(pass string, n int) {
	if n <= 0 {
		return
	}
	processesKilled.WithLabelValues(pass).Add(float64(n))
}

// IncProbeErrors counts a recovered probe failure.
func IncProbeErrors(probe string) {
	probeErrors.WithLabelValues(probe).Inc()
}

// IncDrainTimeouts counts a drain join that timed out.
func IncDrainTimeouts() {
	drainTimeouts.Inc()
}

// SetBuildInfo publishes the running version.
func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
