package samlsp

import (
	"bytes"
	"compress/flate"
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/peopledoc/samlsp/models/core"
)

const (
	postBindingScriptSha256 = "sha256-uiWtEUSVEAUpx4kLduu0LqqLiEHKPTmJlieNt47A8fw="
)

//go:embed authn_request.gohtml
var postBindingTempl string

var postBindingTemplate = template.Must(
	template.New("post-binding").Parse(postBindingTempl),
)

type authnRequestOptions struct {
	clock                       clockwork.Clock
	allowCreate                 bool
	nameIDFormat                core.NameIDFormat
	omitNameIDPolicy            bool
	forceAuthn                  bool
	isPassive                   bool
	protocolBinding             core.ServiceBinding
	authnContextClassRefs       []string
	indent                      int
	assertionConsumerServiceURL string
}

func authnRequestOptionsDefault() authnRequestOptions {
	return authnRequestOptions{
		clock:            clockwork.NewRealClock(),
		allowCreate:      true,
		nameIDFormat:     core.NameIDFormatTransient,
		omitNameIDPolicy: false,
		forceAuthn:       false,
		protocolBinding:  core.ServiceBindingHTTPPost,
	}
}

func getAuthnRequestOptions(opt ...Option) authnRequestOptions {
	opts := authnRequestOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithNameIDFormat will set a NameIDPolicy object with the given
// NameIDFormat. It implies AllowCreate=true.
func WithNameIDFormat(f core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.nameIDFormat = f
			o.allowCreate = true
		}
	}
}

// WithoutAllowCreate clears the AllowCreate attribute of the NameIDPolicy,
// telling the identity provider it may not create a new identifier to
// represent the principal.
func WithoutAllowCreate() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.allowCreate = false
		}
	}
}

// WithoutNameIDPolicy omits the NameIDPolicy element from authentication
// requests, leaving the identifier choice entirely to the identity provider.
func WithoutNameIDPolicy() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.omitNameIDPolicy = true
		}
	}
}

// ForceAuthn is a boolean value that tells the identity provider it MUST
// authenticate the presenter directly rather than rely on a previous
// security context.
func ForceAuthn() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.forceAuthn = true
		}
	}
}

// IsPassive is a boolean value that tells the identity provider it MUST NOT
// visibly take control of the user interface while fulfilling the request.
func IsPassive() Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.isPassive = true
		}
	}
}

// WithProtocolBinding defines the ProtocolBinding to be used. It defaults to HTTP-Post.
// The ProtocolBinding is a URI reference that identifies a SAML protocol binding to be used
// when returning the <Response> message.
func WithProtocolBinding(binding core.ServiceBinding) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.protocolBinding = binding
		}
	}
}

// WithAuthContextClassRefs defines AuthnContextClassRefs.
// An AuthContextClassRef Specifies the requirements, if any, that the requester places on the
// authentication context that applies to the responding provider's authentication of the presenter.
func WithAuthContextClassRefs(cfs []string) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.authnContextClassRefs = cfs
		}
	}
}

// WithIndent indent the XML document when marshalling it.
func WithIndent(indent int) Option {
	return func(o interface{}) {
		if o, ok := o.(*authnRequestOptions); ok {
			o.indent = indent
		}
	}
}

// WithClock changes the clock used when generating and validating messages.
func WithClock(clock clockwork.Clock) Option {
	return func(o interface{}) {
		switch opts := o.(type) {
		case *authnRequestOptions:
			opts.clock = clock
		case *logoutOptions:
			opts.clock = clock
		case *verifyOptions:
			opts.clock = clock
		}
	}
}

// WithAssertionConsumerServiceURL changes the Assertion Consumer Service URL
// to use in the Auth Request or during the response validation.
func WithAssertionConsumerServiceURL(url string) Option {
	return func(o interface{}) {
		switch opts := o.(type) {
		case *authnRequestOptions:
			opts.assertionConsumerServiceURL = url
		case *verifyOptions:
			opts.assertionConsumerServiceURL = url
		}
	}
}

// CreateAuthnRequest creates an Authentication Request object addressed to
// the given identity provider.
// The defaults follow the deployment profile for federation interoperability.
// See: 3.1.1 https://kantarainitiative.github.io/SAMLprofiles/saml2int.html#_service_provider_requirements [INT_SAML]
//
// Options:
// - WithClock
// - ForceAuthn
// - IsPassive
// - WithNameIDFormat
// - WithoutAllowCreate
// - WithoutNameIDPolicy
// - WithProtocolBinding
// - WithAuthContextClassRefs
// - WithAssertionConsumerServiceURL
func (sp *ServiceProvider) CreateAuthnRequest(
	id string,
	idp *IdPDescriptor,
	opt ...Option,
) (*core.AuthnRequest, error) {
	const op = "samlsp.ServiceProvider.CreateAuthnRequest"

	if id == "" {
		return nil, fmt.Errorf("%s: no ID provided: %w", op, ErrInvalidParameter)
	}
	if idp == nil {
		return nil, fmt.Errorf("%s: no identity provider provided: %w", op, ErrInvalidParameter)
	}
	if idp.SSOURL == "" {
		return nil, fmt.Errorf("%s: identity provider has no single sign-on endpoint: %w", op, ErrBindingUnsupported)
	}

	opts := getAuthnRequestOptions(opt...)

	ar := &core.AuthnRequest{}

	ar.ID = id
	ar.Version = core.SAMLVersion2
	ar.ProtocolBinding = opts.protocolBinding

	// [INT_SAML][SDP-SP05][SDP-SP06]
	// "The message SHOULD contain an AssertionConsumerServiceURL attribute and MUST NOT contain an
	// AssertionConsumerServiceIndex attribute (i.e., the desired endpoint MUST be the default,
	// or identified via the AssertionConsumerServiceURL attribute)."
	ar.AssertionConsumerServiceURL = sp.cfg.AssertionConsumerServiceURL
	if opts.assertionConsumerServiceURL != "" {
		ar.AssertionConsumerServiceURL = opts.assertionConsumerServiceURL
	}

	ar.IssueInstant = opts.clock.Now().UTC()
	ar.Destination = idp.SSOURL
	ar.ProviderName = sp.cfg.ProviderName

	ar.Issuer = &core.Issuer{}
	ar.Issuer.Value = sp.cfg.EntityID
	ar.Issuer.Format = core.NameIDFormatEntity

	// The policy defaults to transient name identifiers the provider may
	// create on the fly. [INT_SAML][SDP-SP04] requires AllowCreate="true"
	// whenever the element is present.
	if !opts.omitNameIDPolicy {
		ar.NameIDPolicy = &core.NameIDPolicy{
			AllowCreate: opts.allowCreate,
			Format:      opts.nameIDFormat,
		}
	}

	// [INT_SAML][SDP-SP07]
	// "An SP that does not require a specific <saml:AuthnContextClassRef> value MUST NOT include a
	// <samlp:RequestedAuthnContext> element in its requests.
	// An SP that requires specific <saml:AuthnContextClassRef> values MUST specify the allowable values
	// in a <samlp:RequestedAuthnContext> element in its requests, with the Comparison attribute set to exact."
	if len(opts.authnContextClassRefs) > 0 {
		ar.RequestedAuthnContext = &core.RequestedAuthnContext{
			AuthnContextClassRef: opts.authnContextClassRefs,
			Comparison:           core.ComparisonExact,
		}
	}

	ar.ForceAuthn = opts.forceAuthn
	ar.IsPassive = opts.isPassive

	return ar, nil
}

// AuthnRequestRedirect creates an authentication request for the given
// identity provider with HTTP-Redirect binding. The request ID is
// registered as outstanding together with cameFrom before the redirect URL
// is handed out.
//
// Options: see CreateAuthnRequest, plus WithIndent.
func (sp *ServiceProvider) AuthnRequestRedirect(
	ctx context.Context,
	idp *IdPDescriptor,
	cameFrom string,
	opt ...Option,
) (*url.URL, *core.AuthnRequest, error) {
	const op = "samlsp.ServiceProvider.AuthnRequestRedirect"

	if sp == nil {
		return nil, nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}

	requestID, err := sp.cfg.GenerateRequestID()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to generate request ID: %w", op, err)
	}

	authN, err := sp.CreateAuthnRequest(requestID, idp, opt...)
	if err != nil {
		return nil, nil, err
	}

	payload, err := Deflate(authN, opt...)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to deflate/compress request: %w", op, err)
	}

	b64Payload := base64.StdEncoding.EncodeToString(payload)

	redirect, err := url.Parse(authN.Destination)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to parse destination URL: %w", op, err)
	}

	vals := redirect.Query()
	vals.Set("SAMLRequest", b64Payload)

	if cameFrom != "" {
		vals.Set("RelayState", cameFrom)
	}

	redirect.RawQuery = vals.Encode()

	if err := sp.outstanding.Put(ctx, requestID, cameFrom); err != nil {
		return nil, nil, fmt.Errorf("%s: failed to register outstanding request: %w", op, err)
	}
	sp.metrics.RecordOutstanding("put")
	sp.metrics.RecordLoginStarted(idp.EntityID)

	return redirect, authN, nil
}

// AuthnRequestPost creates an authentication request for the given identity
// provider with HTTP-Post binding. The returned document is a
// self-submitting HTML form; the request ID is registered as outstanding
// together with cameFrom before the document is handed out.
//
// When a signing key store is configured the request document carries an
// enveloped signature.
//
// Options: see CreateAuthnRequest, plus WithIndent.
func (sp *ServiceProvider) AuthnRequestPost(
	ctx context.Context,
	idp *IdPDescriptor,
	cameFrom string,
	opt ...Option,
) ([]byte, *core.AuthnRequest, error) {
	const op = "samlsp.ServiceProvider.AuthnRequestPost"

	if sp == nil {
		return nil, nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}

	requestID, err := sp.cfg.GenerateRequestID()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: failed to generate request ID: %w", op, err)
	}

	authN, err := sp.CreateAuthnRequest(requestID, idp, opt...)
	if err != nil {
		return nil, nil, err
	}

	opts := getAuthnRequestOptions(opt...)
	payload, err := authN.CreateXMLDocument(opts.indent)
	if err != nil {
		return nil, nil, err
	}

	if sp.keyStore != nil {
		payload, err = sp.signRequestDoc(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	b64Payload := base64.StdEncoding.EncodeToString(payload)

	buf := bytes.Buffer{}
	if err := postBindingTemplate.Execute(&buf, map[string]string{
		"Destination": authN.Destination,
		"SAMLRequest": b64Payload,
		"RelayState":  cameFrom,
	}); err != nil {
		return nil, nil, err
	}

	if err := sp.outstanding.Put(ctx, requestID, cameFrom); err != nil {
		return nil, nil, fmt.Errorf("%s: failed to register outstanding request: %w", op, err)
	}
	sp.metrics.RecordOutstanding("put")
	sp.metrics.RecordLoginStarted(idp.EntityID)

	return buf.Bytes(), authN, nil
}

// WritePostBindingRequestHeader writes the content type and the content
// security policy that admits exactly the submit script of the post binding
// form document.
func WritePostBindingRequestHeader(w http.ResponseWriter) {
	w.Header().
		Add("Content-Security-Policy", fmt.Sprintf("script-src '%s'", postBindingScriptSha256))
	w.Header().Add("Content-type", "text/html")
}

// signRequestDoc wraps the marshalled request document with an enveloped
// signature from the configured key store.
func (sp *ServiceProvider) signRequestDoc(payload []byte) ([]byte, error) {
	const op = "samlsp.ServiceProvider.signRequestDoc"

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(payload); err != nil {
		return nil, fmt.Errorf("%s: failed to parse request document: %w", op, err)
	}

	signingCtx := dsig.NewDefaultSigningContext(sp.keyStore)

	signed, err := signingCtx.SignEnveloped(doc.Root())
	if err != nil {
		return nil, fmt.Errorf("%s: failed to sign request document: %w", op, err)
	}

	signedDoc := etree.NewDocument()
	signedDoc.SetRoot(signed)

	out, err := signedDoc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to serialize signed document: %w", op, err)
	}

	return out, nil
}

// Deflate returns the given protocol message in the Deflate file format,
// applying default compression.
func Deflate(msg interface{}, opt ...Option) ([]byte, error) {
	buf := bytes.Buffer{}
	opts := getAuthnRequestOptions(opt...)

	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	defer fw.Close()

	encoder := xml.NewEncoder(fw)
	encoder.Indent("", strings.Repeat(" ", opts.indent))
	err = encoder.Encode(msg)
	if err != nil {
		return nil, err
	}

	if err := fw.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
