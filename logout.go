package samlsp

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"

	"github.com/jonboulle/clockwork"

	"github.com/peopledoc/samlsp/models/core"
)

// logoutKeyPrefix namespaces logout correlation entries so an
// authentication response can never consume one.
const logoutKeyPrefix = "slo:"

func logoutKey(requestID string) string {
	return logoutKeyPrefix + requestID
}

type logoutOptions struct {
	clock  clockwork.Clock
	reason string
}

func logoutOptionsDefault() logoutOptions {
	return logoutOptions{
		clock: clockwork.NewRealClock(),
	}
}

func getLogoutOptions(opt ...Option) logoutOptions {
	opts := logoutOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogoutReason sets the Reason attribute on generated logout requests.
// See core.LogoutReasonUser and core.LogoutReasonAdmin.
func WithLogoutReason(reason string) Option {
	return func(o interface{}) {
		if o, ok := o.(*logoutOptions); ok {
			o.reason = reason
		}
	}
}

// CreateLogoutRequest creates a Logout Request object addressed to the
// given identity provider, naming the subject and session recorded in the
// binding.
//
// Options:
// - WithClock
// - WithLogoutReason
func (sp *ServiceProvider) CreateLogoutRequest(
	id string,
	idp *IdPDescriptor,
	binding *SessionBinding,
	opt ...Option,
) (*core.LogoutRequest, error) {
	const op = "samlsp.ServiceProvider.CreateLogoutRequest"

	if id == "" {
		return nil, fmt.Errorf("%s: no ID provided: %w", op, ErrInvalidParameter)
	}
	if idp == nil {
		return nil, fmt.Errorf("%s: no identity provider provided: %w", op, ErrInvalidParameter)
	}
	if idp.SLOURL == "" {
		return nil, fmt.Errorf("%s: identity provider has no single logout endpoint: %w", op, ErrBindingUnsupported)
	}
	if binding == nil || binding.NameID == "" {
		return nil, fmt.Errorf("%s: no subject to log out: %w", op, ErrInvalidParameter)
	}

	opts := getLogoutOptions(opt...)

	lr := &core.LogoutRequest{}

	lr.ID = id
	lr.Version = core.SAMLVersion2
	lr.IssueInstant = opts.clock.Now().UTC()
	lr.Destination = idp.SLOURL
	lr.Reason = opts.reason

	lr.Issuer = &core.Issuer{}
	lr.Issuer.Value = sp.cfg.EntityID
	lr.Issuer.Format = core.NameIDFormatEntity

	lr.NameID = &core.NameID{
		Value:           binding.NameID,
		Format:          binding.NameIDFormat,
		SPNameQualifier: sp.cfg.EntityID,
	}

	if binding.SessionIndex != "" {
		lr.SessionIndex = []string{binding.SessionIndex}
	}

	return lr, nil
}

// LogoutRequestRedirect starts service provider initiated single logout for
// the given local session with HTTP-Redirect binding. The logout request ID
// is registered as outstanding, carrying the session ID and the relay
// state, before the redirect URL is handed out. The session itself is
// destroyed only when the identity provider confirms, see
// HandleLogoutResponse.
//
// Sessions without a SAML binding have nothing to log out against; the
// call is a no-op then and all three returns are nil.
//
// Options:
// - WithClock
// - WithIndent
// - WithLogoutReason
func (sp *ServiceProvider) LogoutRequestRedirect(
	ctx context.Context,
	sessionID string,
	relayState string,
	opt ...Option,
) (*url.URL, *core.LogoutRequest, error) {
	const op = "samlsp.ServiceProvider.LogoutRequestRedirect"

	if sp == nil {
		return nil, nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}
	if sessionID == "" {
		return nil, nil, fmt.Errorf("%s: no session ID provided: %w", op, ErrInvalidParameter)
	}

	binding, err := sp.bindings.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNoSessionBinding) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("%s: failed to load session binding: %w", op, err)
	}

	idp, ok := sp.idps[binding.IdPEntityID]
	if !ok {
		return nil, nil, fmt.Errorf("%s: issuer %q: %w", op, binding.IdPEntityID, ErrUnknownIdP)
	}

	requestID, err := sp.cfg.GenerateRequestID()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to generate request ID: %w", op, err)
	}

	logoutReq, err := sp.CreateLogoutRequest(requestID, idp, binding, opt...)
	if err != nil {
		return nil, nil, err
	}

	payload, err := Deflate(logoutReq, opt...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to deflate/compress request: %w", op, err)
	}

	redirect, err := url.Parse(logoutReq.Destination)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to parse destination URL: %w", op, err)
	}

	vals := redirect.Query()
	vals.Set("SAMLRequest", base64.StdEncoding.EncodeToString(payload))
	if relayState != "" {
		vals.Set("RelayState", relayState)
	}
	redirect.RawQuery = vals.Encode()

	state := url.Values{}
	state.Set("sid", sessionID)
	if relayState != "" {
		state.Set("relay", relayState)
	}

	if err := sp.outstanding.Put(ctx, logoutKey(requestID), state.Encode()); err != nil {
		return nil, nil, fmt.Errorf("%s: failed to register outstanding request: %w", op, err)
	}
	sp.metrics.RecordOutstanding("put")

	return redirect, logoutReq, nil
}

// HandleLogoutResponse finishes service provider initiated single logout.
// The response has to answer an outstanding logout request and carry a
// success status; only then are the local session and its binding
// destroyed. On failure statuses the session stays untouched and
// ErrLogoutFailed is reported.
//
// It returns the local path the user should be sent to afterwards.
func (sp *ServiceProvider) HandleLogoutResponse(
	ctx context.Context,
	samlResp string,
	opt ...Option,
) (string, error) {
	const op = "samlsp.ServiceProvider.HandleLogoutResponse"

	if sp == nil {
		return "", fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}
	if isNil(sp.sessions) {
		return "", fmt.Errorf("%s: no session manager configured: %w", op, ErrInternal)
	}

	raw, _, err := decodeSAMLMessage(samlResp)
	if err != nil {
		sp.metrics.RecordLogoutOutcome("sp", "malformed")
		return "", fmt.Errorf("%s: %w", op, err)
	}

	var res core.LogoutResponse
	if err := xml.Unmarshal(raw, &res); err != nil {
		sp.metrics.RecordLogoutOutcome("sp", "malformed")
		return "", fmt.Errorf("%s: undecodable logout response: %w: %w", op, ErrMalformedMessage, err)
	}

	if res.Issuer == nil || res.Issuer.Value == "" {
		sp.metrics.RecordLogoutOutcome("sp", "malformed")
		return "", fmt.Errorf("%s: logout response carries no issuer: %w", op, ErrMalformedMessage)
	}
	if _, ok := sp.idps[res.Issuer.Value]; !ok {
		sp.metrics.RecordLogoutOutcome("sp", "unknown_idp")
		return "", fmt.Errorf("%s: issuer %q: %w", op, res.Issuer.Value, ErrUnknownIdP)
	}

	if res.InResponseTo == "" {
		sp.metrics.RecordLogoutOutcome("sp", "unknown_request")
		return "", fmt.Errorf("%s: logout response carries no InResponseTo: %w", op, ErrUnknownRequest)
	}

	stateRaw, err := sp.outstanding.Take(ctx, logoutKey(res.InResponseTo))
	sp.metrics.RecordOutstanding("take")
	if err != nil {
		sp.metrics.RecordLogoutOutcome("sp", "unknown_request")
		return "", fmt.Errorf("%s: %w", op, err)
	}

	state, err := url.ParseQuery(stateRaw)
	if err != nil {
		return "", fmt.Errorf("%s: corrupt outstanding entry: %w", op, ErrInternal)
	}
	sessionID := state.Get("sid")
	relay := state.Get("relay")

	if !res.Success() {
		sp.metrics.RecordLogoutOutcome("sp", "failed")
		return "", fmt.Errorf("%s: identity provider answered with status %q: %w",
			op, res.Status.StatusCode.Value, ErrLogoutFailed)
	}

	if err := sp.sessions.DestroySession(ctx, sessionID); err != nil {
		return "", fmt.Errorf("%s: failed to destroy session: %w", op, err)
	}
	if err := sp.bindings.Delete(ctx, sessionID); err != nil {
		sp.logger.Warn("failed to delete session binding", "session_id", sessionID, "error", err)
	}

	sp.metrics.RecordLogoutOutcome("sp", "success")

	return sp.safeRedirectPath(relay), nil
}

// HandleLogoutRequest answers identity provider initiated single logout.
// The identity provider is always answered: a decodable request from a
// known issuer yields a success response once the named subject's session
// is destroyed, or when there is nothing to destroy; anything else yields
// a requester fault. The returned URL delivers the response document via
// the redirect binding and is nil when no destination is known.
//
// relayState is echoed back to the identity provider untouched.
//
// Options:
// - WithClock
// - WithIndent
func (sp *ServiceProvider) HandleLogoutRequest(
	ctx context.Context,
	samlReq string,
	sessionID string,
	relayState string,
	opt ...Option,
) (*url.URL, *core.LogoutResponse, error) {
	const op = "samlsp.ServiceProvider.HandleLogoutRequest"

	if sp == nil {
		return nil, nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}

	raw, wasDeflated, err := decodeSAMLMessage(samlReq)
	if err != nil {
		sp.metrics.RecordLogoutOutcome("idp", "malformed")
		redirect, lres := sp.answerLogout("", nil, core.StatusCodeRequester, relayState, opt...)
		return redirect, lres, fmt.Errorf("%s: %w", op, err)
	}

	var req core.LogoutRequest
	if err := xml.Unmarshal(raw, &req); err != nil {
		sp.metrics.RecordLogoutOutcome("idp", "malformed")
		redirect, lres := sp.answerLogout("", nil, core.StatusCodeRequester, relayState, opt...)
		return redirect, lres, fmt.Errorf("%s: undecodable logout request: %w: %w", op, ErrMalformedMessage, err)
	}

	issuer := ""
	if req.Issuer != nil {
		issuer = req.Issuer.Value
	}

	idp, ok := sp.idps[issuer]
	if !ok {
		sp.metrics.RecordLogoutOutcome("idp", "unknown_idp")
		redirect, lres := sp.answerLogout(req.ID, nil, core.StatusCodeRequester, relayState, opt...)
		return redirect, lres, fmt.Errorf("%s: issuer %q: %w", op, issuer, ErrUnknownIdP)
	}

	// POST binding requests carry their signature inside the document.
	// Redirect binding requests arrive deflated and are accepted once
	// their schema checks out.
	if !wasDeflated {
		if err := sp.verifier.VerifyLogoutRequest(ctx, idp, samlReq, opt...); err != nil {
			sp.metrics.RecordLogoutOutcome("idp", "rejected")
			redirect, lres := sp.answerLogout(req.ID, idp, core.StatusCodeRequester, relayState, opt...)
			return redirect, lres, fmt.Errorf("%s: %w", op, err)
		}
	}

	// Logout is idempotent from the identity provider's point of view: a
	// request without a matching local session is still answered with
	// success.
	if sessionID != "" {
		binding, err := sp.bindings.Get(ctx, sessionID)
		if err != nil && !errors.Is(err, ErrNoSessionBinding) {
			redirect, lres := sp.answerLogout(req.ID, idp, core.StatusCodeResponder, relayState, opt...)
			return redirect, lres, fmt.Errorf("%s: failed to load session binding: %w", op, err)
		}

		if err == nil && subjectMatches(binding, &req) {
			if !isNil(sp.sessions) {
				if err := sp.sessions.DestroySession(ctx, sessionID); err != nil {
					redirect, lres := sp.answerLogout(req.ID, idp, core.StatusCodeResponder, relayState, opt...)
					return redirect, lres, fmt.Errorf("%s: failed to destroy session: %w", op, err)
				}
			}
			if err := sp.bindings.Delete(ctx, sessionID); err != nil {
				sp.logger.Warn("failed to delete session binding", "session_id", sessionID, "error", err)
			}
		}
	}

	sp.metrics.RecordLogoutOutcome("idp", "success")

	redirect, lres := sp.answerLogout(req.ID, idp, core.StatusCodeSuccess, relayState, opt...)
	if lres == nil {
		return nil, nil, fmt.Errorf("%s: failed to build logout response: %w", op, ErrInternal)
	}
	if redirect == nil {
		if idp.SLOURL == "" {
			return nil, lres, fmt.Errorf("%s: identity provider has no single logout endpoint: %w", op, ErrBindingUnsupported)
		}
		return nil, lres, fmt.Errorf("%s: failed to build logout response redirect: %w", op, ErrInternal)
	}

	return redirect, lres, nil
}

// subjectMatches reports whether the logout request names the subject the
// binding was established for. When the request narrows the scope to
// specific session indexes, the binding's index has to be among them.
func subjectMatches(binding *SessionBinding, req *core.LogoutRequest) bool {
	if binding == nil || binding.NameID == "" {
		return false
	}
	if req.GetNameID() != binding.NameID {
		return false
	}

	if len(req.SessionIndex) > 0 && binding.SessionIndex != "" {
		for _, si := range req.SessionIndex {
			if si == binding.SessionIndex {
				return true
			}
		}
		return false
	}

	return true
}

// answerLogout builds the response document for an inbound logout request
// and, when the provider has a logout endpoint, the redirect URL delivering
// it. Failures while building the answer are logged, not returned; the
// principal error of the exchange stays with the caller.
func (sp *ServiceProvider) answerLogout(
	inResponseTo string,
	idp *IdPDescriptor,
	status core.StatusCodeType,
	relayState string,
	opt ...Option,
) (*url.URL, *core.LogoutResponse) {
	destination := ""
	if idp != nil {
		destination = idp.SLOURL
	}

	lres, err := sp.buildLogoutResponse(inResponseTo, destination, status, opt...)
	if err != nil {
		sp.logger.Error("failed to build logout response", "error", err)
		return nil, nil
	}

	if destination == "" {
		return nil, lres
	}

	redirect, err := sp.logoutResponseRedirect(lres, relayState, opt...)
	if err != nil {
		sp.logger.Error("failed to build logout response redirect", "error", err)
		return nil, lres
	}

	return redirect, lres
}

func (sp *ServiceProvider) buildLogoutResponse(
	inResponseTo string,
	destination string,
	status core.StatusCodeType,
	opt ...Option,
) (*core.LogoutResponse, error) {
	const op = "samlsp.ServiceProvider.buildLogoutResponse"

	id, err := sp.cfg.GenerateRequestID()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to generate response ID: %w", op, err)
	}

	opts := getLogoutOptions(opt...)

	lres := &core.LogoutResponse{}
	lres.ID = id
	lres.Version = core.SAMLVersion2
	lres.IssueInstant = opts.clock.Now().UTC()
	lres.InResponseTo = inResponseTo
	lres.Destination = destination

	lres.Issuer = &core.Issuer{}
	lres.Issuer.Value = sp.cfg.EntityID
	lres.Issuer.Format = core.NameIDFormatEntity

	lres.Status = core.Status{
		StatusCode: core.StatusCode{
			Value: status,
		},
	}

	return lres, nil
}

// logoutResponseRedirect encodes a logout response for delivery via the
// redirect binding.
func (sp *ServiceProvider) logoutResponseRedirect(
	lres *core.LogoutResponse,
	relayState string,
	opt ...Option,
) (*url.URL, error) {
	const op = "samlsp.ServiceProvider.logoutResponseRedirect"

	payload, err := Deflate(lres, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to deflate/compress response: %w", op, err)
	}

	redirect, err := url.Parse(lres.Destination)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse destination URL: %w", op, err)
	}

	vals := redirect.Query()
	vals.Set("SAMLResponse", base64.StdEncoding.EncodeToString(payload))
	if relayState != "" {
		vals.Set("RelayState", relayState)
	}
	redirect.RawQuery = vals.Encode()

	return redirect, nil
}
