// Package metrics defines the Prometheus instrumentation surfaced at
// GET /metrics, following the teacher's package-level collector-vars
// plus init()-registration idiom.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_submissions_total",
			Help: "Total number of finalized submissions by sop_id and outcome",
		},
		[]string{"sop_id", "outcome"},
	)

	SubmissionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claire_submission_duration_seconds",
			Help:    "Time to finalize a submission, end to end",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sop_id"},
	)

	DraftsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "claire_drafts_active",
			Help: "Approximate number of non-expired drafts across all owners",
		},
	)

	FilesUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_files_uploaded_total",
			Help: "Total number of files accepted by upload mode",
		},
		[]string{"mode"},
	)

	FilesSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claire_files_swept_total",
			Help: "Total number of orphaned files deleted by the sweep routine",
		},
	)

	StorageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claire_storage_operation_duration_seconds",
			Help:    "Storage Backend call latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StorageRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claire_storage_retries_total",
			Help: "Total number of storage calls retried after StorageUnavailable",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claire_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claire_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		SubmissionsTotal,
		SubmissionDuration,
		DraftsActive,
		FilesUploadedTotal,
		FilesSweptTotal,
		StorageLatency,
		StorageRetriesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
