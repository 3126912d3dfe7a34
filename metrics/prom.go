package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PasteCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbin_paste_created_total",
		Help: "no. of pastes created",
	})
	PasteConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbin_paste_consumed_total",
		Help: "no. of successful paste reads",
	})
	PasteBurned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbin_paste_burned_total",
		Help: "no. of pastes burned after a final view",
	})
	PasteRotated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbin_paste_rotated_total",
		Help: "no. of pastes rotated to a new id",
	})
	PasteRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbin_paste_revoked_total",
		Help: "no. of pastes revoked by deletion token",
	})
	CompensationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealbin_compensation_runs_total",
			Help: "no. of compensating deletes after a partial write",
		},
		[]string{"operation", "outcome"},
	)
	SweepCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbin_sweep_cycles_total",
		Help: "no. of expiry sweep cycles",
	})
	SweepPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sealbin_sweep_purged_total",
		Help: "no. of expired metadata rows purged by the sweep",
	})
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sealbin_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sealbin_rate_limit_hits_total",
			Help: "no. of rate limit violations",
		},
		[]string{"endpoint"},
	)
	RecentErrorRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sealbin_recent_error_rate_percent",
		Help: "5min rolling avg error rate percentage",
	})
)

func Init() {
}
