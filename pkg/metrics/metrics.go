package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_runs_total",
			Help: "Total number of convergence runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roost_run_duration_seconds",
			Help:    "Convergence run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"mode"},
	)

	// Guest metrics
	GuestsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_guests_processed_total",
			Help: "Total number of guests processed by outcome",
		},
		[]string{"outcome"},
	)

	FeatureResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_feature_results_total",
			Help: "Total feature applications by feature and result",
		},
		[]string{"feature", "result"},
	)

	PassthroughTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roost_passthrough_transitions_total",
			Help: "Total passthrough state machine transitions by target state",
		},
		[]string{"state"},
	)

	// Reconciliation metrics
	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roost_reconcile_duration_seconds",
			Help:    "Artifact reconciliation duration in seconds by category",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	CertificatesRenewed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_certificates_renewed_total",
			Help: "Total number of certificate renewals",
		},
	)

	WarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "roost_warnings_total",
			Help: "Total degraded warnings accumulated across runs",
		},
	)
)

func init() {
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(GuestsProcessed)
	prometheus.MustRegister(FeatureResults)
	prometheus.MustRegister(PassthroughTransitions)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(CertificatesRenewed)
	prometheus.MustRegister(WarningsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timed observes the elapsed time since start on the given observer.
// Use with defer: defer metrics.Timed(metrics.ReconcileDuration.WithLabelValues("dns"))()
func Timed(o prometheus.Observer) func() {
	start := time.Now()
	return func() {
		o.Observe(time.Since(start).Seconds())
	}
}
