package broker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics narrowed to what a stateless opaque relay can observe:
// connection counts, frame counts by type, and relay latency. No metric
// here is keyed by plaintext or key material — the broker cannot see
// either.
var (
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duskwire_relay_active_connections",
			Help: "Number of currently registered client connections",
		},
	)

	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duskwire_relay_frames_total",
			Help: "Total number of broker frames processed, by type and direction",
		},
		[]string{"frame_type", "direction"}, // direction: inbound, outbound
	)

	RelayLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duskwire_relay_forward_latency_seconds",
			Help:    "Time from receiving a relay frame to forwarding it to its destination",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		},
	)

	CrossReplicaForwardsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duskwire_relay_cross_replica_forwards_total",
			Help: "Total number of relay frames forwarded to a peer on a different replica via Redis",
		},
	)
)

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
