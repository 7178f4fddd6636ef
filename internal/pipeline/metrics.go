package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retouch_pages_processed_total",
			Help: "Pages processed by batch operations",
		},
		[]string{"kind", "status"}, // status: ok, error
	)

	pageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retouch_page_duration_seconds",
			Help:    "Per-page processing duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)

	batchesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retouch_batches_total",
			Help: "Finished batch operations by outcome",
		},
		[]string{"kind", "outcome"},
	)

	activeBatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retouch_active_batches",
			Help: "Batch operations currently running",
		},
	)
)
