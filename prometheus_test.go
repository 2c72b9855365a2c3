package samlsp

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func Test_PrometheusRecorder(t *testing.T) {
	r := require.New(t)

	rec := NewPrometheusRecorderWithRegistry(prometheus.NewRegistry())

	rec.RecordLoginStarted("http://idp.test")
	rec.RecordLoginStarted("http://idp.test")
	rec.RecordLoginStarted("http://partner.test")

	rec.RecordResponseOutcome("http://idp.test", "accepted")
	rec.RecordResponseOutcome("http://idp.test", "accepted")
	rec.RecordResponseOutcome("http://idp.test", "invalid")

	rec.RecordLogoutOutcome("sp", "success")
	rec.RecordLogoutOutcome("idp", "rejected")

	rec.RecordOutstanding("put")
	rec.RecordOutstanding("put")
	rec.RecordOutstanding("take")

	r.Equal(float64(2), testutil.ToFloat64(rec.loginStarted.WithLabelValues("http://idp.test")))
	r.Equal(float64(1), testutil.ToFloat64(rec.loginStarted.WithLabelValues("http://partner.test")))

	r.Equal(float64(2), testutil.ToFloat64(rec.responseOutcomes.WithLabelValues("http://idp.test", "accepted")))
	r.Equal(float64(1), testutil.ToFloat64(rec.responseOutcomes.WithLabelValues("http://idp.test", "invalid")))

	r.Equal(float64(1), testutil.ToFloat64(rec.logoutOutcomes.WithLabelValues("sp", "success")))
	r.Equal(float64(1), testutil.ToFloat64(rec.logoutOutcomes.WithLabelValues("idp", "rejected")))

	r.Equal(float64(2), testutil.ToFloat64(rec.outstandingOps.WithLabelValues("put")))
	r.Equal(float64(1), testutil.ToFloat64(rec.outstandingOps.WithLabelValues("take")))
}

func Test_PrometheusRecorder_DuplicateRegistration(t *testing.T) {
	r := require.New(t)

	reg := prometheus.NewRegistry()
	NewPrometheusRecorderWithRegistry(reg)

	r.Panics(func() {
		NewPrometheusRecorderWithRegistry(reg)
	})
}
