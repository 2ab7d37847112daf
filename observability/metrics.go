package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records RPC and settlement activity.
type LedgerMetrics struct {
	Requests    *prometheus.CounterVec
	Latency     *prometheus.HistogramVec
	Settlements *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Metrics returns the lazily-initialised metrics registry shared by the RPC
// server and the settlement path.
func Metrics() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shade",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "shade",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "shade",
				Subsystem: "ledger",
				Name:      "settlements_total",
				Help:      "Settlement attempts segmented by result code.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			ledgerRegistry.Requests,
			ledgerRegistry.Latency,
			ledgerRegistry.Settlements,
		)
	})
	return ledgerRegistry
}
