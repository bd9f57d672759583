// Package observability exposes Prometheus metrics for the rule engine.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RuleCycles counts completed rule evaluation cycles.
	RuleCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_rule_cycles_total",
		Help: "Completed rule evaluation cycles.",
	})

	// EntitiesEvaluated counts entities evaluated across all rules.
	EntitiesEvaluated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_entities_evaluated_total",
		Help: "Entities evaluated against rule conditions.",
	})

	// RulesMatched counts entity evaluations whose conditions matched.
	RulesMatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_rules_matched_total",
		Help: "Entity evaluations where the rule conditions matched.",
	})

	// Actions counts action attempts by type and outcome.
	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_actions_total",
		Help: "Action attempts by type and outcome.",
	}, []string{"action_type", "outcome"})

	// CycleDuration observes wall time per rule cycle.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kestrel_rule_cycle_duration_seconds",
		Help:    "Wall time per rule evaluation cycle.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// MetricFetchErrors counts failed metric reads from the gateway.
	MetricFetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kestrel_metric_fetch_errors_total",
		Help: "Failed metric reads from the platform gateway.",
	})

	// IssuesResolved counts issue resolutions by type.
	IssuesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kestrel_issues_resolved_total",
		Help: "Pre-shipment issues resolved, by resolution type.",
	}, []string{"resolution_type"})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
