package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seekstream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "seekstream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seekstream",
		Name:      "active_sessions",
		Help:      "Number of currently registered swarm sessions.",
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seekstream",
		Name:      "download_speed_bytes",
		Help:      "Current aggregate download speed in bytes per second.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seekstream",
		Name:      "peers_connected",
		Help:      "Total number of peers connected across all sessions.",
	})

	CachedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seekstream",
		Name:      "piece_cache_bytes",
		Help:      "Total payload bytes held in piece caches across all sessions.",
	})

	PieceEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "seekstream",
		Name:      "piece_evictions_total",
		Help:      "Total pieces evicted from piece caches to honor the byte budget.",
	})

	TierChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "seekstream",
		Name:      "tier_changes_total",
		Help:      "Total piece tier changes issued to the swarm, by tier.",
	}, []string{"tier"})

	PieceWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "seekstream",
		Name:      "piece_wait_duration_seconds",
		Help:      "Time readers spent waiting for a piece to arrive.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})

	PieceTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "seekstream",
		Name:      "piece_timeouts_total",
		Help:      "Total range reads that ended on a piece wait timeout.",
	})

	StreamedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "seekstream",
		Name:      "streamed_bytes_total",
		Help:      "Total bytes written to range responses.",
	})

	ActiveReaders = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "seekstream",
		Name:      "active_readers",
		Help:      "Number of range responses currently being streamed.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		DownloadSpeedBytes,
		PeersConnected,
		CachedBytes,
		PieceEvictionsTotal,
		TierChangesTotal,
		PieceWaitDuration,
		PieceTimeoutsTotal,
		StreamedBytesTotal,
		ActiveReaders,
	)
}
