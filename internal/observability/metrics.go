package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedlink",
			Subsystem: "session",
			Name:      "operations_total",
			Help:      "Protocol operations by outcome kind.",
		},
		[]string{"op", "outcome"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedlink",
			Subsystem: "session",
			Name:      "operation_duration_seconds",
			Help:      "Protocol operation duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60, 120, 240},
		},
		[]string{"op", "outcome"},
	)
	transferFloats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedlink",
			Subsystem: "transfer",
			Name:      "floats_total",
			Help:      "Weight values moved across the link.",
		},
		[]string{"direction"},
	)
	transferRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fedlink",
			Subsystem: "transfer",
			Name:      "last_rate_kbps",
			Help:      "Data rate of the most recent successful benchmark trial in kbit/s.",
		},
		[]string{"direction"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(operations, operationDuration, transferFloats, transferRate)
	})
}

func RecordOperation(op, outcome string, duration time.Duration) {
	RegisterMetrics()
	operations.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op, outcome).Observe(duration.Seconds())
}

func RecordTransfer(direction string, floats int) {
	RegisterMetrics()
	transferFloats.WithLabelValues(direction).Add(float64(floats))
}

func RecordTrialRate(direction string, kbps float64) {
	RegisterMetrics()
	transferRate.WithLabelValues(direction).Set(kbps)
}
