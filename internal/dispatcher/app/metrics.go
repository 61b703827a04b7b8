package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsReceivedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "jobs_received_total",
			Help:      "Total delivery jobs received from the broker.",
		},
		[]string{"subject"},
	)

	deliveriesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatcher",
			Name:      "deliveries_total",
			Help:      "Total delivery attempts by resulting outcome status.",
		},
		[]string{"transport", "status"}, // status: "sent", "failed_retryable", "failed_permanent", "skipped", "error"
	)

	deliveryDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatcher",
			Name:      "delivery_duration_seconds",
			Help:      "Duration of one delivery attempt including store updates.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	transportRequestDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatcher",
			Name:      "transport_request_duration_seconds",
			Help:      "Duration of transport send calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"transport"},
	)
)
