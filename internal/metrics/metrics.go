// Package metrics provides Prometheus instrumentation for IntakePipe.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal counts finished pipeline runs by outcome (success, ignored or an error code).
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_messages_total",
			Help: "Inbound messages by pipeline outcome",
		},
		[]string{"outcome"},
	)

	// StepDuration tracks time spent in each pipeline step.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_step_duration_seconds",
			Help:    "Pipeline step duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"step"},
	)

	// JobsTotal counts durable job executions by kind and result.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_jobs_total",
			Help: "Durable job executions by kind and result",
		},
		[]string{"kind", "result"},
	)

	// DecisionRequestsTotal counts decision calls by result.
	DecisionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_decision_requests_total",
			Help: "Decision service calls by result",
		},
		[]string{"result"},
	)

	// ProposalsTotal counts proposal requests by result.
	ProposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_proposals_total",
			Help: "Proposal generation requests by result",
		},
		[]string{"result"},
	)

	// RepliesTotal counts reply dispatches by result (sent, queued, failed, skipped).
	RepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_replies_total",
			Help: "Reply dispatches by result",
		},
		[]string{"result"},
	)

	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path string, status int, duration time.Duration) {
	s := strconv.Itoa(status)
	RequestDuration.WithLabelValues(method, path, s).Observe(duration.Seconds())
	RequestsTotal.WithLabelValues(method, path, s).Inc()
}

// ObserveStep records how long step took.
func ObserveStep(step string, duration time.Duration) {
	StepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordOutcome counts one finished pipeline run.
func RecordOutcome(outcome string) {
	MessagesTotal.WithLabelValues(outcome).Inc()
}

// RecordDecision counts one decision call.
func RecordDecision(result string) {
	DecisionRequestsTotal.WithLabelValues(result).Inc()
}

// RecordProposal counts one proposal request.
func RecordProposal(result string) {
	ProposalsTotal.WithLabelValues(result).Inc()
}

// RecordReply counts one reply dispatch.
func RecordReply(result string) {
	RepliesTotal.WithLabelValues(result).Inc()
}

// RecordJob counts one durable job execution.
func RecordJob(kind, result string) {
	JobsTotal.WithLabelValues(kind, result).Inc()
}
