package samlsp

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder exports the provider's counters as Prometheus metrics
// under the samlsp namespace.
type PrometheusRecorder struct {
	loginStarted     *prometheus.CounterVec
	responseOutcomes *prometheus.CounterVec
	logoutOutcomes   *prometheus.CounterVec
	outstandingOps   *prometheus.CounterVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the provider's counters with the default
// Prometheus registerer.
func NewPrometheusRecorder() *PrometheusRecorder {
	return NewPrometheusRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPrometheusRecorderWithRegistry registers the provider's counters with
// the given registerer. It panics when a counter is already registered,
// following prometheus.MustRegister.
func NewPrometheusRecorderWithRegistry(reg prometheus.Registerer) *PrometheusRecorder {
	pr := &PrometheusRecorder{
		loginStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samlsp",
			Name:      "login_started_total",
			Help:      "Authentication requests handed out, by identity provider.",
		}, []string{"idp"}),
		responseOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samlsp",
			Name:      "response_outcomes_total",
			Help:      "Processed authentication responses, by identity provider and outcome.",
		}, []string{"idp", "outcome"}),
		logoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samlsp",
			Name:      "logout_outcomes_total",
			Help:      "Finished logout exchanges, by initiator and outcome.",
		}, []string{"initiator", "outcome"}),
		outstandingOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "samlsp",
			Name:      "outstanding_requests_total",
			Help:      "Operations against the outstanding request store.",
		}, []string{"op"}),
	}

	reg.MustRegister(pr.loginStarted, pr.responseOutcomes, pr.logoutOutcomes, pr.outstandingOps)

	return pr
}

func (pr *PrometheusRecorder) RecordLoginStarted(idpEntityID string) {
	pr.loginStarted.WithLabelValues(idpEntityID).Inc()
}

func (pr *PrometheusRecorder) RecordResponseOutcome(idpEntityID, outcome string) {
	pr.responseOutcomes.WithLabelValues(idpEntityID, outcome).Inc()
}

func (pr *PrometheusRecorder) RecordLogoutOutcome(initiator, outcome string) {
	pr.logoutOutcomes.WithLabelValues(initiator, outcome).Inc()
}

func (pr *PrometheusRecorder) RecordOutstanding(op string) {
	pr.outstandingOps.WithLabelValues(op).Inc()
}
