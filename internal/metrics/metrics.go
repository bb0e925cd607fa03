package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysisRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagelens_analysis_requests_total",
			Help: "Total number of analyze-image requests by outcome",
		},
		[]string{"outcome"},
	)

	UploadBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "imagelens_upload_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(16<<10, 4, 6),
		},
	)

	EngineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "imagelens_engine_duration_seconds",
			Help:    "Wall time of analysis engine subprocesses",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"outcome"},
	)

	EngineInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imagelens_engine_inflight",
			Help: "Number of analysis engine subprocesses currently running",
		},
	)

	EngineWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imagelens_engine_waiting",
			Help: "Number of requests waiting for a free engine slot",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imagelens_events_published_total",
			Help: "Analysis events handed to the message broker",
		},
		[]string{"result"},
	)
)
