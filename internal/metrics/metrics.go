// Package metrics exposes Prometheus instrumentation for the audit pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuditsStarted counts audits that passed the rate limiter and started,
	// labeled by tier.
	AuditsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fortress_audits_started_total",
		Help: "Audits started, by tier.",
	}, []string{"tier"})

	// AuditsCompleted counts terminal audit outcomes, labeled by tier and
	// status (completed or failed).
	AuditsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fortress_audits_finished_total",
		Help: "Audits reaching a terminal state, by tier and status.",
	}, []string{"tier", "status"})

	// AuditRejections counts rate limiter and validation rejections by reason.
	AuditRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fortress_audit_rejections_total",
		Help: "Audit start rejections, by reason.",
	}, []string{"reason"})

	// PagesAudited tracks pages analyzed per audit.
	PagesAudited = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fortress_pages_audited",
		Help:    "Distinct pages analyzed per completed audit.",
		Buckets: []float64{1, 2, 5, 10, 20, 50},
	})

	// IssuesDetected tracks issues found per completed audit.
	IssuesDetected = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fortress_issues_detected",
		Help:    "Issues detected per completed audit.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
	})

	// StreamPolls counts upstream job polls made by status streams.
	StreamPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fortress_stream_polls_total",
		Help: "Upstream job polls performed by audit status streams.",
	})

	// ActiveStreams tracks currently open SSE status streams.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fortress_active_streams",
		Help: "Currently open audit status streams.",
	})
)
