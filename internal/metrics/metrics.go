// Package metrics holds the Prometheus collectors shared by the binaries.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marcaje_scans_recorded_total",
		Help: "Attendance events persisted, by type and status.",
	}, []string{"type", "status"})

	ScansDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marcaje_scans_deduplicated_total",
		Help: "Scans answered with an existing event inside the dedup window.",
	})

	FaceRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marcaje_face_rejected_total",
		Help: "Face scans rejected as unrecognized or below the confidence threshold.",
	})

	SideEffectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marcaje_side_effect_failures_total",
		Help: "Best-effort side effects that failed after a scan was recorded.",
	}, []string{"effect"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marcaje_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	NotificationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marcaje_notifications_processed_total",
		Help: "Notification jobs handled by the worker, by kind and outcome.",
	}, []string{"kind", "outcome"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marcaje_cache_lookups_total",
		Help: "Response cache lookups by result.",
	}, []string{"result"})

	RealtimeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marcaje_realtime_clients",
		Help: "Connected WebSocket clients.",
	})
)
