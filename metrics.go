package samlsp

// Recorder receives counters for the protocol exchanges a service provider
// drives. Implementations must be safe for concurrent use.
//
// NoopRecorder is the default; PrometheusRecorder exports the counters as
// Prometheus metrics.
type Recorder interface {
	// RecordLoginStarted counts an authentication request handed out for
	// the given identity provider.
	RecordLoginStarted(idpEntityID string)

	// RecordResponseOutcome counts a processed authentication response.
	// Outcomes are "accepted", "malformed", "unknown_idp",
	// "unknown_request", "invalid" and "unavailable". The identity
	// provider is empty when the response never named a known one.
	RecordResponseOutcome(idpEntityID, outcome string)

	// RecordLogoutOutcome counts a finished logout exchange. The
	// initiator is "sp" or "idp".
	RecordLogoutOutcome(initiator, outcome string)

	// RecordOutstanding counts operations against the outstanding
	// request store, op being "put" or "take".
	RecordOutstanding(op string)
}

// NoopRecorder discards every measurement.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) RecordLoginStarted(string)            {}
func (NoopRecorder) RecordResponseOutcome(string, string) {}
func (NoopRecorder) RecordLogoutOutcome(string, string)   {}
func (NoopRecorder) RecordOutstanding(string)             {}
