package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retouch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retouch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Batch requests accepted or refused over HTTP
	batchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retouch_batch_requests_total",
			Help: "Total number of batch start requests",
		},
		[]string{"kind", "status"}, // status: accepted, busy, invalid
	)

	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retouch_rate_limit_hits_total",
			Help: "Total number of rate limited requests",
		},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retouch_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retouch_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received, dropped
	)
)
