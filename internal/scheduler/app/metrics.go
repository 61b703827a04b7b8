package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	entriesClaimedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "entries_claimed_total",
			Help:      "Total due entries the scheduler attempted to claim.",
		},
		[]string{"result"}, // "claimed", "lost", "error"
	)

	jobsPublishedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "delivery_jobs_published_total",
			Help:      "Total delivery jobs published to the broker.",
		},
		[]string{"phase", "status"}, // phase: "fanout", "reoffer"; status: "success", "error"
	)

	tickDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	fanoutSizeHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "fanout_recipients",
			Help:      "Recipients per claimed entry.",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
	)
)
