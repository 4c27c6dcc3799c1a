package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Render cycle and write-back instrumentation, partitioned by data source.

var (
	RenderCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "render",
		Name:      "cycles_total",
		Help:      "Total render cycles by outcome",
	}, []string{"source", "outcome"})

	RenderCycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dashboard",
		Subsystem: "render",
		Name:      "cycle_duration_seconds",
		Help:      "Load, transform and aggregate duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"source"})

	RecordsLoaded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dashboard",
		Subsystem: "loader",
		Name:      "records",
		Help:      "Rows delivered by the last successful load",
	}, []string{"source"})

	FilteredRecords = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dashboard",
		Subsystem: "render",
		Name:      "filtered_records",
		Help:      "Rows surviving the filter in the last successful render",
	}, []string{"source"})

	WritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dashboard",
		Subsystem: "writer",
		Name:      "persists_total",
		Help:      "Total dataset write-backs by writer and outcome",
	}, []string{"writer", "outcome"})

	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dashboard",
		Subsystem: "refresh",
		Name:      "websocket_clients",
		Help:      "Connected auto-refresh clients",
	})
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Outcome maps an error to its outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
