package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsJoinedTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxipool", Name: "rooms_joined_total", Help: "Total rooms joined"})
	RoomsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxipool", Name: "rooms_completed_total", Help: "Total rooms moved to history"})
	TokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxipool", Name: "token_refreshes_total", Help: "Total access token refresh attempts"})

	StageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxipool", Name: "stage_transitions_total", Help: "Ride stage transitions observed"},
		[]string{"stage"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxipool", Name: "api_requests_total", Help: "Total backend API requests issued"},
		[]string{"method", "path", "status"},
	)
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxipool",
			Name:      "api_request_duration_seconds",
			Help:      "Backend API request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxipool_mock", Name: "http_requests_total", Help: "Total HTTP requests handled by the mock backend"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxipool_mock",
			Name:      "http_request_duration_seconds",
			Help:      "Mock backend request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
