package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "captureq"

var (
	CapturesClaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_claimed_total",
			Help:      "Total number of capture jobs claimed from to_capture.",
		},
	)

	CapturesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_completed_total",
			Help:      "Total number of claimed captures, labeled by terminal outcome.",
		},
		[]string{"outcome"},
	)

	DispatchLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_latency_seconds",
			Help:      "Time spent in the rendering backend per capture (seconds).",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120, 300},
		},
		[]string{"engine", "outcome"},
	)

	PolicyDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_denials_total",
			Help:      "Total number of captures refused by the network policy, labeled by reason.",
		},
		[]string{"reason"},
	)

	ReconcileResubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_resubmissions_total",
			Help:      "Total number of resubmissions attempted by the reconciler, labeled by result.",
		},
		[]string{"result"},
	)

	ReconcileProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_probes_total",
			Help:      "Total number of backend status probes, labeled by reported status.",
		},
		[]string{"status"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of operations deferred by a rate limit.",
		},
		[]string{"scope"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of ops HTTP requests.",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		CapturesClaimedTotal,
		CapturesCompletedTotal,
		DispatchLatencySeconds,
		PolicyDenialsTotal,
		ReconcileResubmissionsTotal,
		ReconcileProbesTotal,
		RateLimitHitsTotal,
		HTTPRequestsTotal,
	)
}
