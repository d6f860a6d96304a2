package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enroll",
		Name:      "validations_total",
		Help:      "Photo validations by mode and outcome (accepted or reject kind)",
	}, []string{"mode", "outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "enroll",
		Name:      "stage_duration_seconds",
		Help:      "Duration of validation stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "enroll",
		Name:      "faces_detected_total",
		Help:      "Faces that passed the minimum size filter",
	})

	UploadsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "enroll",
		Name:      "uploads_stored_total",
		Help:      "Files written to storage by category",
	}, []string{"category"})

	EventsPublishFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "enroll",
		Name:      "events_publish_failed_total",
		Help:      "Validation events that could not be published",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "enroll",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "enroll",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
