package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the workflow service.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	Splits          prometheus.Counter
	HTTPDuration    *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
	NotifyFailures  prometheus.Counter
	RoutingExecutes *prometheus.CounterVec
}

// New registers and returns the service collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pr_workflow_transitions_total",
			Help: "Workflow transitions by action and outcome.",
		}, []string{"action", "outcome"}),
		Splits: factory.NewCounter(prometheus.CounterOpts{
			Name: "pr_workflow_splits_total",
			Help: "Purchase request split operations.",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pr_workflow_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pr_workflow_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		NotifyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "pr_workflow_notification_failures_total",
			Help: "Notification publishes that failed (non-fatal).",
		}),
		RoutingExecutes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pr_workflow_routing_rule_matches_total",
			Help: "Routing rule matches by action type.",
		}, []string{"action_type"}),
	}
}
