package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderLoad = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mpp",
		Name:      "load_percent",
		Help:      "Rockchip MPP hardware block load while the pipeline runs",
	}, []string{"block"})

	encoderUtilization = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mpp",
		Name:      "utilization_percent",
		Help:      "Rockchip MPP hardware block utilization while the pipeline runs",
	}, []string{"block"})
)

// SetMPPBlock records load and utilization for one MPP hardware block
// (rkvenc, rkvdec, ...). A trailing colon from the proc file is dropped.
func SetMPPBlock(block string, load, utilization float64) {
	block = strings.TrimSuffix(block, ":")
	encoderLoad.WithLabelValues(block).Set(load)
	encoderUtilization.WithLabelValues(block).Set(utilization)
}

// ResetMPP clears all MPP series, used when the pipeline stops.
func ResetMPP() {
	encoderLoad.Reset()
	encoderUtilization.Reset()
}
