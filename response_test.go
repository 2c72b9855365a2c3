package samlsp_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/russellhaering/gosaml2/types"
	"github.com/stretchr/testify/require"

	"github.com/peopledoc/samlsp"
	"github.com/peopledoc/samlsp/models/core"
	testprovider "github.com/peopledoc/samlsp/test"
)

// testDirectory is an in-memory IdentityStore that provisions a user per
// distinct attribute value.
type testDirectory struct {
	mu    sync.Mutex
	users map[string]string
	err   error
}

func newTestDirectory() *testDirectory {
	return &testDirectory{users: make(map[string]string)}
}

func (d *testDirectory) FindOrCreateUser(_ context.Context, attribute, value string) (string, error) {
	if d.err != nil {
		return "", d.err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := attribute + "=" + value
	if id, ok := d.users[key]; ok {
		return id, nil
	}

	id := fmt.Sprintf("user-%d", len(d.users)+1)
	d.users[key] = id

	return id, nil
}

// testSessions is an in-memory SessionManager that remembers which sessions
// are active.
type testSessions struct {
	mu         sync.Mutex
	next       int
	active     map[string]string
	createErr  error
	destroyErr error
}

func newTestSessions() *testSessions {
	return &testSessions{active: make(map[string]string)}
}

func (s *testSessions) CreateSession(_ context.Context, userID string) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	id := fmt.Sprintf("session-%d", s.next)
	s.active[id] = userID

	return id, nil
}

func (s *testSessions) DestroySession(_ context.Context, sessionID string) error {
	if s.destroyErr != nil {
		return s.destroyErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.active, sessionID)

	return nil
}

func (s *testSessions) isActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.active[sessionID]
	return ok
}

// stallingVerifier never answers within any sane verify timeout.
type stallingVerifier struct{}

func (stallingVerifier) VerifyResponse(context.Context, *samlsp.IdPDescriptor, string, ...samlsp.Option) (*types.Response, error) {
	time.Sleep(2 * time.Second)
	return nil, errors.New("too late")
}

func (stallingVerifier) VerifyLogoutRequest(context.Context, *samlsp.IdPDescriptor, string, ...samlsp.Option) error {
	return nil
}

type failingBindingStore struct {
	err error
}

func (f *failingBindingStore) Set(context.Context, *samlsp.SessionBinding) error {
	return f.err
}

func (f *failingBindingStore) Get(_ context.Context, sessionID string) (*samlsp.SessionBinding, error) {
	return nil, fmt.Errorf("session %q: %w", sessionID, samlsp.ErrNoSessionBinding)
}

func (f *failingBindingStore) Delete(context.Context, string) error {
	return nil
}

func Test_ServiceProvider_ParseResponse(t *testing.T) {
	r := require.New(t)

	ctx := context.Background()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	cfg, err := samlsp.NewConfig(
		"http://test.me/entity",
		"http://test.me/saml/acs",
		[]*samlsp.IdPDescriptor{tp.Descriptor()},
	)
	r.NoError(err)

	outstanding := samlsp.NewMemoryOutstandingRequestStore(time.Minute)

	provider, err := samlsp.NewServiceProvider(
		cfg,
		samlsp.WithOutstandingRequestStore(outstanding),
	)
	r.NoError(err)

	t.Run("accepts a valid signed response", func(_ *testing.T) {
		r.NoError(outstanding.Put(ctx, "_req-accept", "/dashboard"))

		resp := tp.SignedResponse(t,
			"http://test.me/entity",
			"http://test.me/saml/acs",
			"_req-accept",
			testprovider.WithResponseNameID("_subject-1"),
			testprovider.WithResponseSessionIndex("_sess-1"),
		)

		got, err := provider.ParseResponse(ctx, resp)
		r.NoError(err)

		r.Equal("_subject-1", got.NameID)
		r.Equal(core.NameIDFormatTransient, got.NameIDFormat)
		r.Equal([]string{"alice"}, got.Attributes["uid"])
		r.Equal([]string{"alice@example.org"}, got.Attributes["mail"])
		r.Equal("_sess-1", got.SessionIndex)
		r.Equal(tp.EntityID(), got.Issuer)
		r.Equal("_req-accept", got.RequestID)
		r.Equal("/dashboard", got.RedirectTo)
	})

	t.Run("a replayed response is rejected", func(_ *testing.T) {
		r.NoError(outstanding.Put(ctx, "_req-replay", ""))

		resp := tp.SignedResponse(t,
			"http://test.me/entity",
			"http://test.me/saml/acs",
			"_req-replay",
		)

		_, err := provider.ParseResponse(ctx, resp)
		r.NoError(err)

		_, err = provider.ParseResponse(ctx, resp)
		r.ErrorIs(err, samlsp.ErrUnknownRequest)
	})

	t.Run("a signed response nobody asked for is rejected", func(_ *testing.T) {
		resp := tp.SignedResponse(t,
			"http://test.me/entity",
			"http://test.me/saml/acs",
			"_req-never-issued",
		)

		_, err := provider.ParseResponse(ctx, resp)
		r.ErrorIs(err, samlsp.ErrUnknownRequest)
	})

	t.Run("a response without InResponseTo is rejected", func(_ *testing.T) {
		resp := tp.SignedResponse(t,
			"http://test.me/entity",
			"http://test.me/saml/acs",
			"",
		)

		_, err := provider.ParseResponse(ctx, resp)
		r.ErrorContains(err, "response carries no InResponseTo")
		r.ErrorIs(err, samlsp.ErrUnknownRequest)
	})

	t.Run("a response from an unknown provider is rejected", func(_ *testing.T) {
		stranger := testprovider.StartTestProvider(t)
		defer stranger.Close()

		r.NoError(outstanding.Put(ctx, "_req-stranger", ""))

		resp := stranger.SignedResponse(t,
			"http://test.me/entity",
			"http://test.me/saml/acs",
			"_req-stranger",
		)

		_, err := provider.ParseResponse(ctx, resp)
		r.ErrorIs(err, samlsp.ErrUnknownIdP)
	})

	t.Run("a tampered response is rejected", func(_ *testing.T) {
		r.NoError(outstanding.Put(ctx, "_req-tampered", ""))

		resp := tp.SignedResponse(t,
			"http://test.me/entity",
			"http://test.me/saml/acs",
			"_req-tampered",
		)

		raw, err := base64.StdEncoding.DecodeString(resp)
		r.NoError(err)

		tampered := strings.ReplaceAll(string(raw), "alice", "mallory")
		r.NotEqual(string(raw), tampered)

		_, err = provider.ParseResponse(ctx, base64.StdEncoding.EncodeToString([]byte(tampered)))
		r.ErrorIs(err, samlsp.ErrInvalidAssertion)
	})

	t.Run("an unsigned response is rejected", func(_ *testing.T) {
		r.NoError(outstanding.Put(ctx, "_req-unsigned", ""))

		resp := tp.SignedResponse(t,
			"http://test.me/entity",
			"http://test.me/saml/acs",
			"_req-unsigned",
			testprovider.WithoutResponseSignature(),
		)

		_, err := provider.ParseResponse(ctx, resp)
		r.ErrorIs(err, samlsp.ErrInvalidAssertion)
	})

	t.Run("an expired response is rejected", func(_ *testing.T) {
		r.NoError(outstanding.Put(ctx, "_req-expired", ""))

		now := time.Now().UTC()
		resp := tp.SignedResponse(t,
			"http://test.me/entity",
			"http://test.me/saml/acs",
			"_req-expired",
			testprovider.WithResponseConditions(now.Add(-10*time.Minute), now.Add(-5*time.Minute)),
		)

		_, err := provider.ParseResponse(ctx, resp)
		r.ErrorIs(err, samlsp.ErrInvalidAssertion)
		r.ErrorContains(err, "Expired NotOnOrAfter value")
	})

	t.Run("an empty message is rejected", func(_ *testing.T) {
		_, err := provider.ParseResponse(ctx, "")
		r.ErrorContains(err, "empty message")
		r.ErrorIs(err, samlsp.ErrMalformedMessage)
	})

	t.Run("a message that is not base64 is rejected", func(_ *testing.T) {
		_, err := provider.ParseResponse(ctx, "!!!definitely-not-base64!!!")
		r.ErrorContains(err, "undecodable base64")
		r.ErrorIs(err, samlsp.ErrMalformedMessage)
	})

	t.Run("a message that is neither XML nor deflated is rejected", func(_ *testing.T) {
		msg := base64.StdEncoding.EncodeToString([]byte("plain text, nothing else"))

		_, err := provider.ParseResponse(ctx, msg)
		r.ErrorContains(err, "message is neither XML nor a deflated document")
		r.ErrorIs(err, samlsp.ErrMalformedMessage)
	})
}

func Test_ServiceProvider_ParseResponse_SkipRequestIDValidation(t *testing.T) {
	r := require.New(t)

	ctx := context.Background()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	cfg, err := samlsp.NewConfig(
		"http://test.me/entity",
		"http://test.me/saml/acs",
		[]*samlsp.IdPDescriptor{tp.Descriptor()},
	)
	r.NoError(err)

	provider, err := samlsp.NewServiceProvider(cfg)
	r.NoError(err)

	resp := tp.SignedResponse(t,
		"http://test.me/entity",
		"http://test.me/saml/acs",
		"_never-registered",
	)

	got, err := provider.ParseResponse(ctx, resp, samlsp.InsecureSkipRequestIDValidation())
	r.NoError(err)

	// Without a consumed entry there is no stored origin to return to.
	r.Equal(samlsp.DefaultRedirectPath, got.RedirectTo)
}

func Test_ServiceProvider_ParseResponse_VerifyTimeout(t *testing.T) {
	r := require.New(t)

	ctx := context.Background()

	tp := testprovider.StartTestProvider(t)
	defer tp.Close()

	cfg, err := samlsp.NewConfig(
		"http://test.me/entity",
		"http://test.me/saml/acs",
		[]*samlsp.IdPDescriptor{tp.Descriptor()},
		samlsp.WithVerifyTimeout(25*time.Millisecond),
	)
	r.NoError(err)

	outstanding := samlsp.NewMemoryOutstandingRequestStore(time.Minute)

	provider, err := samlsp.NewServiceProvider(
		cfg,
		samlsp.WithOutstandingRequestStore(outstanding),
		samlsp.WithVerifier(stallingVerifier{}),
	)
	r.NoError(err)

	r.NoError(outstanding.Put(ctx, "_req-slow", ""))

	resp := tp.SignedResponse(t,
		"http://test.me/entity",
		"http://test.me/saml/acs",
		"_req-slow",
		testprovider.WithoutResponseSignature(),
	)

	_, err = provider.ParseResponse(ctx, resp)
	r.ErrorIs(err, samlsp.ErrValidationUnavailable)
}

func Test_ServiceProvider_EstablishSession(t *testing.T) {
	ctx := context.Background()

	idps := []*samlsp.IdPDescriptor{
		{EntityID: "http://idp.test", SSOURL: "https://idp.test/sso"},
	}

	result := &samlsp.AssertionResult{
		NameID:       "_subject-1",
		NameIDFormat: core.NameIDFormatTransient,
		Attributes:   map[string][]string{"uid": {"alice"}},
		SessionIndex: "_sess-1",
		Issuer:       "http://idp.test",
	}

	t.Run("creates a session and records the binding", func(t *testing.T) {
		r := require.New(t)

		cfg, err := samlsp.NewConfig("http://test.me/entity", "http://test.me/saml/acs", idps)
		r.NoError(err)

		directory := newTestDirectory()
		sessions := newTestSessions()
		bindings := samlsp.NewMemorySessionBindingStore()

		provider, err := samlsp.NewServiceProvider(
			cfg,
			samlsp.WithIdentityStore(directory),
			samlsp.WithSessionManager(sessions),
			samlsp.WithSessionBindingStore(bindings),
		)
		r.NoError(err)

		sessionID, userID, err := provider.EstablishSession(ctx, result)
		r.NoError(err)
		r.Equal("user-1", userID)
		r.True(sessions.isActive(sessionID))

		binding, err := bindings.Get(ctx, sessionID)
		r.NoError(err)
		r.Equal(userID, binding.UserID)
		r.Equal("_subject-1", binding.NameID)
		r.Equal(core.NameIDFormatTransient, binding.NameIDFormat)
		r.Equal("_sess-1", binding.SessionIndex)
		r.Equal("http://idp.test", binding.IdPEntityID)

		// The same subject maps onto the same user again.
		_, again, err := provider.EstablishSession(ctx, result)
		r.NoError(err)
		r.Equal(userID, again)
	})

	t.Run("rejects an assertion without the user ID attribute", func(t *testing.T) {
		r := require.New(t)

		cfg, err := samlsp.NewConfig("http://test.me/entity", "http://test.me/saml/acs", idps)
		r.NoError(err)

		provider, err := samlsp.NewServiceProvider(
			cfg,
			samlsp.WithIdentityStore(newTestDirectory()),
			samlsp.WithSessionManager(newTestSessions()),
		)
		r.NoError(err)

		_, _, err = provider.EstablishSession(ctx, &samlsp.AssertionResult{
			NameID:     "_subject-1",
			Attributes: map[string][]string{"mail": {"alice@example.org"}},
			Issuer:     "http://idp.test",
		})
		r.ErrorContains(err, `assertion carries no "uid" attribute`)
		r.ErrorIs(err, samlsp.ErrInvalidParameter)
	})

	t.Run("fails when the identity store cannot resolve the user", func(t *testing.T) {
		r := require.New(t)

		cfg, err := samlsp.NewConfig("http://test.me/entity", "http://test.me/saml/acs", idps)
		r.NoError(err)

		directory := newTestDirectory()
		directory.err = errors.New("directory offline")

		provider, err := samlsp.NewServiceProvider(
			cfg,
			samlsp.WithIdentityStore(directory),
			samlsp.WithSessionManager(newTestSessions()),
		)
		r.NoError(err)

		_, _, err = provider.EstablishSession(ctx, result)
		r.ErrorContains(err, "failed to resolve user: directory offline")
	})

	t.Run("rolls the session back when the binding cannot be recorded", func(t *testing.T) {
		r := require.New(t)

		cfg, err := samlsp.NewConfig("http://test.me/entity", "http://test.me/saml/acs", idps)
		r.NoError(err)

		sessions := newTestSessions()

		provider, err := samlsp.NewServiceProvider(
			cfg,
			samlsp.WithIdentityStore(newTestDirectory()),
			samlsp.WithSessionManager(sessions),
			samlsp.WithSessionBindingStore(&failingBindingStore{err: errors.New("disk full")}),
		)
		r.NoError(err)

		_, _, err = provider.EstablishSession(ctx, result)
		r.ErrorContains(err, "failed to record session binding: disk full")

		r.False(sessions.isActive("session-1"))
	})

	t.Run("requires the application hooks", func(t *testing.T) {
		r := require.New(t)

		cfg, err := samlsp.NewConfig("http://test.me/entity", "http://test.me/saml/acs", idps)
		r.NoError(err)

		provider, err := samlsp.NewServiceProvider(cfg)
		r.NoError(err)

		_, _, err = provider.EstablishSession(ctx, result)
		r.ErrorContains(err, "no identity store configured")
		r.ErrorIs(err, samlsp.ErrInternal)
	})
}
