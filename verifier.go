package samlsp

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/jonboulle/clockwork"
	saml2 "github.com/russellhaering/gosaml2"
	"github.com/russellhaering/gosaml2/types"
	dsig "github.com/russellhaering/goxmldsig"
)

// Verifier validates inbound messages after the orchestration layer has
// resolved the issuing identity provider. Implementations decide how deep
// the cryptographic and schema validation goes; the default one delegates
// to github.com/russellhaering/gosaml2.
type Verifier interface {
	// VerifyResponse validates an encoded authentication response against
	// the given identity provider and returns the validated document.
	// Failures report ErrInvalidAssertion.
	VerifyResponse(ctx context.Context, idp *IdPDescriptor, encoded string, opt ...Option) (*types.Response, error)

	// VerifyLogoutRequest validates an encoded POST binding logout request
	// against the given identity provider. Failures report
	// ErrInvalidAssertion.
	VerifyLogoutRequest(ctx context.Context, idp *IdPDescriptor, encoded string, opt ...Option) error
}

var _ Verifier = (*toolkitVerifier)(nil)

type verifyOptions struct {
	clock                            clockwork.Clock
	skipSignatureValidation          bool
	skipAssertionConditionValidation bool
	assertionConsumerServiceURL      string
}

func verifyOptionsDefault() verifyOptions {
	return verifyOptions{
		skipSignatureValidation:          false,
		skipAssertionConditionValidation: false,
	}
}

func getVerifyOptions(opt ...Option) verifyOptions {
	opts := verifyOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// InsecureSkipSignatureValidation disables/skips validation of the SAML
// response document and its assertion signatures. This option should only
// be used for testing purposes.
func InsecureSkipSignatureValidation() Option {
	return func(o interface{}) {
		if o, ok := o.(*verifyOptions); ok {
			o.skipSignatureValidation = true
		}
	}
}

// InsecureSkipAssertionConditionValidation disables/skips validation of the
// assertion conditions within the SAML response. This option should only be
// used for testing purposes.
func InsecureSkipAssertionConditionValidation() Option {
	return func(o interface{}) {
		if o, ok := o.(*verifyOptions); ok {
			o.skipAssertionConditionValidation = true
		}
	}
}

// toolkitVerifier is the default Verifier. We use
// github.com/russellhaering/gosaml2 for SAMLResponse signature and
// condition validation.
type toolkitVerifier struct {
	cfg *Config
}

func newToolkitVerifier(cfg *Config) *toolkitVerifier {
	return &toolkitVerifier{cfg: cfg}
}

func (v *toolkitVerifier) internalParser(idp *IdPDescriptor, opts verifyOptions) *saml2.SAMLServiceProvider {
	certStore := dsig.MemoryX509CertificateStore{
		Roots: idp.Certificates,
	}

	acsURL := v.cfg.AssertionConsumerServiceURL
	if opts.assertionConsumerServiceURL != "" {
		acsURL = opts.assertionConsumerServiceURL
	}

	ip := &saml2.SAMLServiceProvider{
		IdentityProviderIssuer:      idp.EntityID,
		IdentityProviderSSOURL:      idp.SSOURL,
		ServiceProviderIssuer:       v.cfg.EntityID,
		AssertionConsumerServiceURL: acsURL,
		AudienceURI:                 v.cfg.EntityID,
		IDPCertificateStore:         &certStore,
		SkipSignatureValidation:     opts.skipSignatureValidation,
	}

	if opts.clock != nil {
		ip.Clock = dsig.NewFakeClock(opts.clock)
	}

	return ip
}

// VerifyResponse validates the response document and all assertions.
//
// Options:
// - WithClock
// - WithAssertionConsumerServiceURL
// - InsecureSkipAssertionConditionValidation
// - InsecureSkipSignatureValidation
func (v *toolkitVerifier) VerifyResponse(
	ctx context.Context,
	idp *IdPDescriptor,
	encoded string,
	opt ...Option,
) (*types.Response, error) {
	const op = "samlsp.toolkitVerifier.VerifyResponse"

	if idp == nil {
		return nil, fmt.Errorf("%s: missing identity provider: %w", op, ErrInvalidParameter)
	}

	opts := getVerifyOptions(opt...)
	ip := v.internalParser(idp, opts)

	response, err := ip.ValidateEncodedResponse(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, err)
	}

	if len(response.Assertions) == 0 {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, ErrMissingAssertions)
	}

	// Verify conditions for all assertions.
	if !opts.skipAssertionConditionValidation {
		for i := range response.Assertions {
			assert := &response.Assertions[i]

			warnings, err := ip.VerifyAssertionConditions(assert)
			if err != nil {
				return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, err)
			}

			if warnings.InvalidTime {
				return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, ErrInvalidTime)
			}

			if warnings.NotInAudience {
				return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, ErrInvalidAudience)
			}

			if assert.Subject == nil || assert.Subject.NameID == nil {
				return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, ErrMissingSubject)
			}

			if assert.AttributeStatement == nil {
				return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, ErrMissingAttributeStmt)
			}
		}
	}

	return response, nil
}

// VerifyLogoutRequest validates a POST binding logout request document and
// its signature.
func (v *toolkitVerifier) VerifyLogoutRequest(
	ctx context.Context,
	idp *IdPDescriptor,
	encoded string,
	opt ...Option,
) error {
	const op = "samlsp.toolkitVerifier.VerifyLogoutRequest"

	if idp == nil {
		return fmt.Errorf("%s: missing identity provider: %w", op, ErrInvalidParameter)
	}

	opts := getVerifyOptions(opt...)
	ip := v.internalParser(idp, opts)

	if _, err := ip.ValidateEncodedLogoutRequestPOST(encoded); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidAssertion, err)
	}

	return nil
}

func parseCert(cert string) (*x509.Certificate, error) {
	regex := regexp.MustCompile(`\s+`)
	cert = regex.ReplaceAllString(cert, "")

	certBytes, err := base64.StdEncoding.DecodeString(cert)
	if err != nil {
		return nil, fmt.Errorf("cannot parse certificate: %s", err)
	}

	parsedCert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, err
	}

	return parsedCert, nil
}
