// Package metrics defines the prometheus metric types the transport
// core updates from the progress loop and the endpoint's application
// contract: promauto constructors registered at package load, no
// explicit Register calls.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TickHistogram tracks how long one progress.Tick call takes.
	TickHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rdmtp_progress_tick_seconds",
			Help:    "progress.Tick latency distribution (seconds)",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20),
		},
	)

	// CQEntriesHistogram tracks how many completions a single ReadCQ
	// call returned, split by side (fabric/shm).
	CQEntriesHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "rdmtp_cq_entries_histogram",
			Help: "completion queue entries read per poll",
			Buckets: []float64{
				0, 1, 2, 4, 8, 16, 32, 64, 128, 256,
			},
		},
		[]string{"side"})

	// PacketsByType counts dispatched packets by wire.Type.String().
	PacketsByType = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdmtp_packets_total",
			Help: "packets dispatched by type",
		},
		[]string{"type"})

	// RNREvents counts EnterBackoff calls, split by peer locality.
	RNREvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdmtp_rnr_events_total",
			Help: "receiver-not-ready backoff events",
		},
		[]string{"locality"})

	// PoolInUse tracks each fixed-capacity pool's current occupancy, a
	// gauge rather than a histogram since occupancy is a point-in-time
	// value exported on scrape, not a per-event sample.
	PoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rdmtp_pool_in_use",
			Help: "entries currently acquired from a fixed-capacity pool",
		},
		[]string{"pool"})

	// AvailableDataBufs mirrors the endpoint's AvailableDataBufs counter
	// directly, since operators page on this hitting zero.
	AvailableDataBufs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rdmtp_available_data_bufs",
			Help: "shared receive-buffer budget remaining",
		},
	)

	// CompletionErrors counts completion-dispatch errors, labelled by
	// the CQ side ("fabric" or "shm") they were read from.
	CompletionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rdmtp_completion_errors_total",
			Help: "terminal errors surfaced on a TX/RX completion",
		},
		[]string{"op"})
)

func init() {
	log.Println("Prometheus metrics in rdmtp/metrics are registered.")
}
