package samlsp

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/russellhaering/gosaml2/types"

	"github.com/peopledoc/samlsp/models/core"
)

// maxSAMLMessageSize caps how far a deflated message may inflate.
const maxSAMLMessageSize = 5 << 20

type parseResponseOptions struct {
	skipRequestIDValidation bool
}

func parseResponseOptionsDefault() parseResponseOptions {
	return parseResponseOptions{
		skipRequestIDValidation: false,
	}
}

func getParseResponseOptions(opt ...Option) parseResponseOptions {
	opts := parseResponseOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// InsecureSkipRequestIDValidation disables/skips consuming the outstanding
// request entry matching the InResponseTo value of the SAML response. This
// option should only be used for testing purposes.
func InsecureSkipRequestIDValidation() Option {
	return func(o interface{}) {
		if o, ok := o.(*parseResponseOptions); ok {
			o.skipRequestIDValidation = true
		}
	}
}

// AssertionResult is the distilled outcome of a successfully validated
// authentication response.
type AssertionResult struct {
	// NameID identifies the subject the identity provider authenticated.
	NameID string

	// NameIDFormat is the declared format of NameID.
	NameIDFormat core.NameIDFormat

	// Attributes holds the assertion attribute statement flattened to
	// name and values. Attributes without a Name fall back to their
	// FriendlyName.
	Attributes map[string][]string

	// SessionIndex is the identity provider's session handle, if any.
	SessionIndex string

	// Issuer is the entity ID of the identity provider that produced the
	// assertion.
	Issuer string

	// RequestID is the authentication request this response answered.
	RequestID string

	// RedirectTo is the local path the user should be sent to, restored
	// from the outstanding request entry.
	RedirectTo string
}

// ParseResponse decodes, correlates, and validates a SAML response as
// delivered to the assertion consumer service.
//
// The issuing identity provider must be configured, and the InResponseTo
// value must consume an outstanding request entry. The entry is consumed
// before any cryptographic work, so a replayed response cannot reach the
// verifier twice. The verifier runs under the configured timeout; an
// unanswered verification reports ErrValidationUnavailable.
//
// Options:
// - WithClock
// - WithAssertionConsumerServiceURL
// - InsecureSkipRequestIDValidation
// - InsecureSkipAssertionConditionValidation
// - InsecureSkipSignatureValidation
func (sp *ServiceProvider) ParseResponse(
	ctx context.Context,
	samlResp string,
	opt ...Option,
) (*AssertionResult, error) {
	const op = "samlsp.ServiceProvider.ParseResponse"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}

	opts := getParseResponseOptions(opt...)

	raw, wasDeflated, err := decodeSAMLMessage(samlResp)
	if err != nil {
		sp.metrics.RecordResponseOutcome("", "malformed")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var peek core.Response
	if err := xml.Unmarshal(raw, &peek); err != nil {
		sp.metrics.RecordResponseOutcome("", "malformed")
		return nil, fmt.Errorf("%s: undecodable response document: %w: %w", op, ErrMalformedMessage, err)
	}

	issuer := ""
	if peek.Issuer != nil {
		issuer = peek.Issuer.Value
	}
	if issuer == "" {
		if assert := peek.GetAssertion(); assert != nil {
			issuer = assert.GetIssuer()
		}
	}
	if issuer == "" {
		sp.metrics.RecordResponseOutcome("", "malformed")
		return nil, fmt.Errorf("%s: response carries no issuer: %w", op, ErrMalformedMessage)
	}

	idp, ok := sp.idps[issuer]
	if !ok {
		sp.metrics.RecordResponseOutcome(issuer, "unknown_idp")
		return nil, fmt.Errorf("%s: issuer %q: %w", op, issuer, ErrUnknownIdP)
	}

	cameFrom := ""
	if !opts.skipRequestIDValidation {
		if peek.InResponseTo == "" {
			sp.metrics.RecordResponseOutcome(issuer, "unknown_request")
			return nil, fmt.Errorf("%s: response carries no InResponseTo: %w", op, ErrUnknownRequest)
		}

		cameFrom, err = sp.outstanding.Take(ctx, peek.InResponseTo)
		sp.metrics.RecordOutstanding("take")
		if err != nil {
			sp.metrics.RecordResponseOutcome(issuer, "unknown_request")
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	// The verifier consumes standard encoding; redirect binding messages
	// are re-encoded after inflation.
	encoded := samlResp
	if wasDeflated {
		encoded = base64.StdEncoding.EncodeToString(raw)
	}

	res, err := sp.verifyResponse(ctx, idp, encoded, opt...)
	if err != nil {
		outcome := "invalid"
		if errors.Is(err, ErrValidationUnavailable) {
			outcome = "unavailable"
		}
		sp.metrics.RecordResponseOutcome(issuer, outcome)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result, err := buildAssertionResult(res, issuer, peek.InResponseTo)
	if err != nil {
		sp.metrics.RecordResponseOutcome(issuer, "invalid")
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// The toolkit's subject model does not carry the Format attribute;
	// read it from the decoded document.
	if assert := peek.GetAssertion(); assert != nil {
		result.NameIDFormat = core.NameIDFormat(assert.GetSubjectFormat())
	}

	result.RedirectTo = sp.safeRedirectPath(cameFrom)

	sp.metrics.RecordResponseOutcome(issuer, "accepted")

	return result, nil
}

// verifyResponse runs the verifier under the configured timeout. A verifier
// that cannot answer in time reports ErrValidationUnavailable instead of
// blocking the consumer endpoint.
func (sp *ServiceProvider) verifyResponse(
	ctx context.Context,
	idp *IdPDescriptor,
	encoded string,
	opt ...Option,
) (*types.Response, error) {
	const op = "samlsp.ServiceProvider.verifyResponse"

	timeout := sp.cfg.VerifyTimeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *types.Response
		err error
	}

	resCh := make(chan outcome, 1)
	go func() {
		res, err := sp.verifier.VerifyResponse(ctx, idp, encoded, opt...)
		resCh <- outcome{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %w", op, ErrValidationUnavailable, ctx.Err())
	case out := <-resCh:
		if out.err != nil {
			return nil, fmt.Errorf("%s: %w", op, out.err)
		}
		return out.res, nil
	}
}

func buildAssertionResult(res *types.Response, issuer, requestID string) (*AssertionResult, error) {
	const op = "samlsp.buildAssertionResult"

	if len(res.Assertions) == 0 {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, ErrMissingAssertions)
	}

	assert := res.Assertions[0]

	if assert.Subject == nil || assert.Subject.NameID == nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, ErrMissingSubject)
	}

	result := &AssertionResult{
		NameID:     assert.Subject.NameID.Value,
		Attributes: make(map[string][]string),
		Issuer:     issuer,
		RequestID:  requestID,
	}

	if assert.AttributeStatement != nil {
		for _, attr := range assert.AttributeStatement.Attributes {
			name := attr.Name
			if name == "" {
				name = attr.FriendlyName
			}
			for _, v := range attr.Values {
				result.Attributes[name] = append(result.Attributes[name], v.Value)
			}
		}
	}

	if assert.AuthnStatement != nil {
		result.SessionIndex = assert.AuthnStatement.SessionIndex
	}

	return result, nil
}

// decodeSAMLMessage unwraps a base64 message as delivered by either
// binding: POST carries plain XML, redirect carries a deflated document.
// The second return reports whether inflation was necessary.
func decodeSAMLMessage(encoded string) ([]byte, bool, error) {
	const op = "samlsp.decodeSAMLMessage"

	if encoded == "" {
		return nil, false, fmt.Errorf("%s: empty message: %w", op, ErrMalformedMessage)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("%s: undecodable base64: %w: %w", op, ErrMalformedMessage, err)
	}

	if looksLikeXML(raw) {
		return raw, false, nil
	}

	// Inflated size is capped, oversized messages are rejected rather than
	// decompressed any further.
	fr := flate.NewReader(bytes.NewReader(raw))
	defer fr.Close()

	inflated, err := io.ReadAll(io.LimitReader(fr, maxSAMLMessageSize))
	if err != nil || !looksLikeXML(inflated) {
		return nil, false, fmt.Errorf("%s: message is neither XML nor a deflated document: %w", op, ErrMalformedMessage)
	}

	return inflated, true, nil
}

func looksLikeXML(raw []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n"), []byte("<"))
}
