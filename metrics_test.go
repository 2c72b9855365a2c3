package samlsp_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peopledoc/samlsp"
	testprovider "github.com/peopledoc/samlsp/test"
)

// countingRecorder tallies recorder invocations by a flat key.
type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{counts: make(map[string]int)}
}

func (c *countingRecorder) bump(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
}

func (c *countingRecorder) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func (c *countingRecorder) RecordLoginStarted(idpEntityID string) {
	c.bump("login " + idpEntityID)
}

func (c *countingRecorder) RecordResponseOutcome(_, outcome string) {
	c.bump("response " + outcome)
}

func (c *countingRecorder) RecordLogoutOutcome(initiator, outcome string) {
	c.bump("logout " + initiator + " " + outcome)
}

func (c *countingRecorder) RecordOutstanding(op string) {
	c.bump("outstanding " + op)
}

func Test_ServiceProvider_Metrics(t *testing.T) {
	r := require.New(t)

	ctx := context.Background()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	rec := newCountingRecorder()

	cfg, err := samlsp.NewConfig(
		"http://test.me/entity",
		"http://test.me/saml/acs",
		[]*samlsp.IdPDescriptor{tp.Descriptor()},
	)
	r.NoError(err)

	provider, err := samlsp.NewServiceProvider(
		cfg,
		samlsp.WithMetricsRecorder(rec),
		samlsp.WithSessionManager(newTestSessions()),
	)
	r.NoError(err)

	_, authN, err := provider.AuthnRequestRedirect(ctx, tp.Descriptor(), "/dashboard")
	r.NoError(err)

	r.Equal(1, rec.count("login "+tp.EntityID()))
	r.Equal(1, rec.count("outstanding put"))

	resp := tp.SignedResponse(t, cfg.EntityID, cfg.AssertionConsumerServiceURL, authN.ID)

	_, err = provider.ParseResponse(ctx, resp)
	r.NoError(err)

	r.Equal(1, rec.count("outstanding take"))
	r.Equal(1, rec.count("response accepted"))

	// Replaying the consumed response counts as unknown.
	_, err = provider.ParseResponse(ctx, resp)
	r.Error(err)
	r.Equal(1, rec.count("response unknown_request"))

	_, err = provider.ParseResponse(ctx, "not a protocol message")
	r.Error(err)
	r.Equal(1, rec.count("response malformed"))

	_, err = provider.HandleLogoutResponse(ctx, "not a protocol message")
	r.Error(err)
	r.Equal(1, rec.count("logout sp malformed"))
}
