package samlsp

import "errors"

// Errors returned by this package. Operations wrap these, so callers can
// match them with errors.Is.
var (
	ErrInternal              = errors.New("internal error")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrBindingUnsupported    = errors.New("binding unsupported by the IDP")
	ErrUnknownIdP            = errors.New("unknown identity provider")
	ErrUnknownRequest        = errors.New("unknown or already consumed request")
	ErrMalformedMessage      = errors.New("malformed message")
	ErrInvalidAssertion      = errors.New("invalid assertion")
	ErrValidationUnavailable = errors.New("validation unavailable")
	ErrUntrustedRelayTarget  = errors.New("untrusted relay target")
	ErrLogoutFailed          = errors.New("logout failed")
	ErrNoSessionBinding      = errors.New("no session binding")
)

// Assertion content failures. The default verifier wraps each of these
// together with ErrInvalidAssertion.
var (
	ErrMissingAssertions    = errors.New("missing assertions")
	ErrInvalidTime          = errors.New("invalid time")
	ErrInvalidAudience      = errors.New("invalid audience")
	ErrMissingSubject       = errors.New("subject missing")
	ErrMissingAttributeStmt = errors.New("attribute statement missing")
)
