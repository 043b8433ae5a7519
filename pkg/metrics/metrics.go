package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	clustra = "clustra"

	// Transcode job metrics
	transcodeJobsTotal      = "transcode_jobs_total"
	transcodeSecondsBucket  = "transcode_duration_seconds"
	artifactBytesUploaded   = "artifact_bytes_uploaded_total"
	artifactObjectsUploaded = "artifact_objects_uploaded_total"
	cdnInvalidationsTotal   = "cdn_invalidations_total"
	quotaRejectionsTotal    = "quota_rejections_total"

	// Labels
	jobStatusLabel       = "status"
	invalidationOutcome  = "outcome"
	quotaRejectionReason = "reason"
)

var jobsTotalLabels = []string{
	jobStatusLabel,
}

/**
* Metrics definition
**/
var transcodeJobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: clustra,
		Name:      transcodeJobsTotal,
		Help:      "number of transcode jobs by terminal status",
	},
	jobsTotalLabels,
)

var transcodeDurationMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Subsystem: clustra,
		Name:      transcodeSecondsBucket,
		Help:      "wall clock duration of the transcode phase",
		Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	},
)

var artifactBytesUploadedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: clustra,
		Name:      artifactBytesUploaded,
		Help:      "total bytes pushed to the object store",
	},
)

var artifactObjectsUploadedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: clustra,
		Name:      artifactObjectsUploaded,
		Help:      "total objects pushed to the object store",
	},
)

var cdnInvalidationsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: clustra,
		Name:      cdnInvalidationsTotal,
		Help:      "number of CDN invalidation requests by outcome",
	},
	[]string{invalidationOutcome},
)

var quotaRejectionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: clustra,
		Name:      quotaRejectionsTotal,
		Help:      "number of submissions rejected by the quota guard",
	},
	[]string{quotaRejectionReason},
)

func IncreaseTranscodeJobsTotalMetric(status string) {
	labels := prometheus.Labels{
		jobStatusLabel: status,
	}
	transcodeJobsTotalMetric.With(labels).Inc()
}

func ObserveTranscodeDuration(seconds float64) {
	transcodeDurationMetric.Observe(seconds)
}

func AddArtifactBytesUploaded(bytes int64) {
	artifactBytesUploadedMetric.Add(float64(bytes))
	artifactObjectsUploadedMetric.Inc()
}

func IncreaseCdnInvalidationsMetric(outcome string) {
	cdnInvalidationsTotalMetric.With(prometheus.Labels{invalidationOutcome: outcome}).Inc()
}

func IncreaseQuotaRejectionsMetric(reason string) {
	quotaRejectionsTotalMetric.With(prometheus.Labels{quotaRejectionReason: reason}).Inc()
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(transcodeJobsTotalMetric)
	prometheus.MustRegister(transcodeDurationMetric)
	prometheus.MustRegister(artifactBytesUploadedMetric)
	prometheus.MustRegister(artifactObjectsUploadedMetric)
	prometheus.MustRegister(cdnInvalidationsTotalMetric)
	prometheus.MustRegister(quotaRejectionsTotalMetric)
}
