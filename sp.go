package samlsp

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	dsig "github.com/russellhaering/goxmldsig"
	dsigtypes "github.com/russellhaering/goxmldsig/types"

	"github.com/peopledoc/samlsp/models/core"
	"github.com/peopledoc/samlsp/models/metadata"
)

type metadataOptions struct {
	wantAssertionsSigned bool
	nameIDFormats        []core.NameIDFormat
	acsServiceBinding    core.ServiceBinding
	additionalACSs       []metadata.Endpoint
	organization         *metadata.Organization
	contactPersons       []metadata.ContactPerson
}

func metadataOptionsDefault() metadataOptions {
	return metadataOptions{
		wantAssertionsSigned: true,
		nameIDFormats: []core.NameIDFormat{
			core.NameIDFormatTransient,
		},
		acsServiceBinding: core.ServiceBindingHTTPPost,
	}
}

func getMetadataOptions(opt ...Option) metadataOptions {
	opts := metadataOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

func InsecureWantAssertionsUnsigned() Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.wantAssertionsSigned = false
		}
	}
}

func WithAdditionalNameIDFormat(format core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.nameIDFormats = append(o.nameIDFormats, format)
		}
	}
}

func WithNameIDFormats(formats []core.NameIDFormat) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.nameIDFormats = formats
		}
	}
}

func WithACSServiceBinding(b core.ServiceBinding) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.acsServiceBinding = b
		}
	}
}

func WithAdditionalACSEndpoint(b core.ServiceBinding, location string) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.additionalACSs = append(o.additionalACSs, metadata.Endpoint{
				Binding:  b,
				Location: location,
			})
		}
	}
}

// WithOrganization includes organization details in the service provider
// metadata.
func WithOrganization(org metadata.Organization) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.organization = &org
		}
	}
}

// WithContactPerson includes a contact person in the service provider
// metadata.
func WithContactPerson(cp metadata.ContactPerson) Option {
	return func(o interface{}) {
		if o, ok := o.(*metadataOptions); ok {
			o.contactPersons = append(o.contactPersons, cp)
		}
	}
}

type serviceProviderOptions struct {
	outstanding OutstandingRequestStore
	bindings    SessionBindingStore
	verifier    Verifier
	identity    IdentityStore
	sessions    SessionManager
	keyStore    dsig.X509KeyStore
	metrics     Recorder
}

func serviceProviderOptionsDefault() serviceProviderOptions {
	return serviceProviderOptions{}
}

func getServiceProviderOptions(opt ...Option) serviceProviderOptions {
	opts := serviceProviderOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithOutstandingRequestStore provides the store that tracks issued request
// IDs. Defaults to an in-memory store with the configured TTL.
func WithOutstandingRequestStore(s OutstandingRequestStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.outstanding = s
		}
	}
}

// WithSessionBindingStore provides the store that ties local sessions to
// their SAML subjects. Defaults to an in-memory store.
func WithSessionBindingStore(s SessionBindingStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.bindings = s
		}
	}
}

// WithVerifier replaces the default response verifier.
func WithVerifier(v Verifier) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.verifier = v
		}
	}
}

// WithIdentityStore provides the application hook that maps validated
// subjects to local users. Required for EstablishSession.
func WithIdentityStore(s IdentityStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.identity = s
		}
	}
}

// WithSessionManager provides the application hook that creates and
// destroys local sessions. Required for EstablishSession and logout.
func WithSessionManager(m SessionManager) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.sessions = m
		}
	}
}

// WithSigningKeyStore provides the key pair used to sign POST binding
// request documents. Request signing is off without it.
func WithSigningKeyStore(ks dsig.X509KeyStore) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.keyStore = ks
		}
	}
}

// WithMetricsRecorder provides the recorder protocol outcomes are reported
// to. Defaults to a no-op recorder.
func WithMetricsRecorder(r Recorder) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceProviderOptions); ok {
			o.metrics = r
		}
	}
}

// ServiceProvider orchestrates the SAML protocol flows of a service
// provider: issuing authentication and logout requests, correlating the
// answers, and maintaining the session bindings that result.
type ServiceProvider struct {
	cfg *Config

	idps map[string]*IdPDescriptor

	outstanding OutstandingRequestStore
	bindings    SessionBindingStore
	verifier    Verifier
	identity    IdentityStore
	sessions    SessionManager
	keyStore    dsig.X509KeyStore
	metrics     Recorder
	logger      hclog.Logger
}

// NewServiceProvider creates a new ServiceProvider.
//
// Options:
// - WithOutstandingRequestStore
// - WithSessionBindingStore
// - WithVerifier
// - WithIdentityStore
// - WithSessionManager
// - WithSigningKeyStore
// - WithMetricsRecorder
func NewServiceProvider(cfg *Config, opt ...Option) (*ServiceProvider, error) {
	const op = "samlsp.NewServiceProvider"

	if cfg == nil {
		return nil, fmt.Errorf("%s: no provider config provided: %w", op, ErrInvalidParameter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: insufficient provider config: %w", op, err)
	}

	opts := getServiceProviderOptions(opt...)

	sp := &ServiceProvider{
		cfg:         cfg,
		idps:        make(map[string]*IdPDescriptor, len(cfg.IdentityProviders)),
		outstanding: opts.outstanding,
		bindings:    opts.bindings,
		verifier:    opts.verifier,
		identity:    opts.identity,
		sessions:    opts.sessions,
		keyStore:    opts.keyStore,
		metrics:     opts.metrics,
		logger:      cfg.Logger,
	}

	for _, idp := range cfg.IdentityProviders {
		sp.idps[idp.EntityID] = idp
	}

	if isNil(sp.outstanding) {
		sp.outstanding = NewMemoryOutstandingRequestStore(cfg.OutstandingTTL)
	}
	if isNil(sp.bindings) {
		sp.bindings = NewMemorySessionBindingStore()
	}
	if isNil(sp.verifier) {
		sp.verifier = newToolkitVerifier(cfg)
	}
	if isNil(sp.metrics) {
		sp.metrics = NoopRecorder{}
	}
	if sp.logger == nil {
		sp.logger = hclog.NewNullLogger()
	}

	return sp, nil
}

// Config returns the service provider config.
func (sp *ServiceProvider) Config() *Config {
	return sp.cfg
}

// IdPByEntityID returns the configured descriptor for the given entity ID,
// or ErrUnknownIdP when that provider is not trusted.
func (sp *ServiceProvider) IdPByEntityID(entityID string) (*IdPDescriptor, error) {
	const op = "samlsp.ServiceProvider.IdPByEntityID"

	idp, ok := sp.idps[entityID]
	if !ok {
		return nil, fmt.Errorf("%s: issuer %q: %w", op, entityID, ErrUnknownIdP)
	}

	return idp, nil
}

// CreateMetadata creates the metadata XML for the service provider.
//
// Options:
// - InsecureWantAssertionsUnsigned
// - WithNameIDFormats
// - WithAdditionalNameIDFormat
// - WithACSServiceBinding
// - WithAdditionalACSEndpoint
// - WithOrganization
// - WithContactPerson
func (sp *ServiceProvider) CreateMetadata(opt ...Option) *metadata.EntityDescriptorSPSSO {
	validUntil := sp.cfg.ValidUntil()

	opts := getMetadataOptions(opt...)

	spsso := metadata.EntityDescriptorSPSSO{}
	spsso.EntityID = sp.cfg.EntityID
	spsso.ValidUntil = &validUntil
	spsso.Organization = opts.organization
	spsso.ContactPerson = opts.contactPersons

	spssoDescriptor := &metadata.SPSSODescriptor{}
	spssoDescriptor.ValidUntil = &validUntil
	spssoDescriptor.ProtocolSupportEnumeration = metadata.ProtocolSupportEnumerationProtocol
	spssoDescriptor.NameIDFormat = opts.nameIDFormats
	spssoDescriptor.AuthnRequestsSigned = sp.keyStore != nil
	spssoDescriptor.WantAssertionsSigned = opts.wantAssertionsSigned
	spssoDescriptor.AssertionConsumerService = []metadata.IndexedEndpoint{
		{
			Endpoint: metadata.Endpoint{
				Binding:  opts.acsServiceBinding,
				Location: sp.cfg.AssertionConsumerServiceURL,
			},
			Index: 1,
		},
	}

	for i, a := range opts.additionalACSs {
		spssoDescriptor.AssertionConsumerService = append(
			spssoDescriptor.AssertionConsumerService,
			metadata.IndexedEndpoint{
				Endpoint: a,
				Index:    i + 2, // The first index is already taken.
			},
		)
	}

	if sp.cfg.SingleLogoutServiceURL != "" {
		spssoDescriptor.SingleLogoutService = []metadata.Endpoint{
			{
				Binding:  core.ServiceBindingHTTPRedirect,
				Location: sp.cfg.SingleLogoutServiceURL,
			},
			{
				Binding:  core.ServiceBindingHTTPPost,
				Location: sp.cfg.SingleLogoutServiceURL,
			},
		}
	}

	if sp.keyStore != nil {
		kd, err := sp.signingKeyDescriptor()
		if err != nil {
			sp.logger.Warn("omitting signing key from metadata", "error", err)
		} else {
			spssoDescriptor.KeyDescriptor = []metadata.KeyDescriptor{*kd}
		}
	}

	spsso.SPSSODescriptor = []*metadata.SPSSODescriptor{spssoDescriptor}

	return &spsso
}

func (sp *ServiceProvider) signingKeyDescriptor() (*metadata.KeyDescriptor, error) {
	const op = "samlsp.ServiceProvider.signingKeyDescriptor"

	_, certDER, err := sp.keyStore.GetKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read signing key pair: %w", op, err)
	}

	return &metadata.KeyDescriptor{
		Use: metadata.KeyTypeSigning,
		KeyInfo: metadata.KeyInfo{
			KeyInfo: dsigtypes.KeyInfo{
				X509Data: dsigtypes.X509Data{
					X509Certificates: []dsigtypes.X509Certificate{
						{Data: base64.StdEncoding.EncodeToString(certDER)},
					},
				},
			},
		},
	}, nil
}

// ParseIdPMetadata extracts an identity provider descriptor from a raw
// metadata XML document.
//
// The redirect binding single sign-on endpoint is preferred, falling back
// to the POST binding one. Logout endpoints are resolved the same way.
func ParseIdPMetadata(raw []byte) (*IdPDescriptor, error) {
	const op = "samlsp.ParseIdPMetadata"

	var ed metadata.EntityDescriptorIDPSSO
	if err := xml.Unmarshal(raw, &ed); err != nil {
		return nil, fmt.Errorf("%s: failed to parse metadata XML: %w", op, err)
	}

	if len(ed.IDPSSODescriptor) == 0 {
		return nil, fmt.Errorf("%s: document carries no IDPSSODescriptor: %w", op, ErrInvalidParameter)
	}

	ssoURL, ok := ed.GetLocationForBinding(core.ServiceBindingHTTPRedirect)
	if !ok {
		ssoURL, ok = ed.GetLocationForBinding(core.ServiceBindingHTTPPost)
	}
	if !ok {
		return nil, fmt.Errorf("%s: no usable single sign-on endpoint: %w", op, ErrBindingUnsupported)
	}

	sloURL, ok := ed.GetSLOLocationForBinding(core.ServiceBindingHTTPRedirect)
	if !ok {
		sloURL, _ = ed.GetSLOLocationForBinding(core.ServiceBindingHTTPPost)
	}

	idp := &IdPDescriptor{
		EntityID: ed.EntityID,
		SSOURL:   ssoURL,
		SLOURL:   sloURL,
	}

	for _, d := range ed.IDPSSODescriptor {
		if d.WantAuthnRequestsSigned {
			idp.WantRequestsSigned = true
		}
	}

	for _, c := range ed.GetSigningCerts() {
		cert, err := parseCert(c)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid signing certificate: %w", op, err)
		}
		idp.Certificates = append(idp.Certificates, cert)
	}

	if org := ed.Organization; org != nil && len(org.OrganizationDisplayName) > 0 {
		idp.DisplayName = org.OrganizationDisplayName[0].Value
	}

	if err := idp.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return idp, nil
}

// FetchIdPMetadata fetches the metadata XML document from the identity
// provider and extracts its descriptor.
func FetchIdPMetadata(ctx context.Context, metadataURL string) (*IdPDescriptor, error) {
	const op = "samlsp.FetchIdPMetadata"

	if err := validateURL(op, "metadata URL", metadataURL); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build metadata request: %w", op, err)
	}

	res, err := cleanhttp.DefaultClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to fetch metadata: %w", op, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: metadata endpoint answered %s", op, res.Status)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read http body: %w", op, err)
	}

	// [SDP-MD03] https://kantarainitiative.github.io/SAMLprofiles/saml2int.html#_metadata_and_trust_management
	// Metadata without a validUntil attribute on its root element MUST be rejected. Metadata whose root element's validUntil
	// attribute extends beyond a deployer- or community-imposed threshold MUST be rejected.
	// TODO: VALIDATE

	return ParseIdPMetadata(raw)
}
