// Package metrics exposes prometheus instrumentation for the booking
// server and the simulated transport.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courtline_requests_total",
			Help: "Handled requests by operation and reply status",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "courtline_request_duration_seconds",
			Help:    "Duration of request handling",
			Buckets: prometheus.DefBuckets,
		},
	)

	DedupHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courtline_dedup_hits_total",
			Help: "Duplicate non-idempotent requests answered from the reply cache",
		},
	)

	PacketsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courtline_packets_dropped_total",
			Help: "Datagrams intentionally dropped by the simulated transport",
		},
	)

	PacketsDuplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courtline_packets_duplicated_total",
			Help: "Datagrams intentionally duplicated by the simulated transport",
		},
	)

	MonitorPushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "courtline_monitor_pushes_total",
			Help: "Change events pushed to monitoring clients",
		},
	)

	ActiveSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "courtline_active_subscriptions",
			Help: "Live monitor subscriptions",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(DedupHits)
	prometheus.MustRegister(PacketsDropped)
	prometheus.MustRegister(PacketsDuplicated)
	prometheus.MustRegister(MonitorPushes)
	prometheus.MustRegister(ActiveSubscriptions)
}

// Register mounts the prometheus handler on the ops mux.
func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
