// Package testprovider runs a minimal SAML identity provider for tests. It
// serves metadata, records the protocol messages it receives and signs
// canned responses with a throwaway key.
package testprovider

import (
	"bytes"
	"compress/flate"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/hashicorp/go-uuid"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"

	"github.com/peopledoc/samlsp"
	"github.com/peopledoc/samlsp/models/core"
)

const metaTempl = `
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata" entityID="%[1]s">
  <md:IDPSSODescriptor WantAuthnRequestsSigned="false" protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:KeyDescriptor use="signing">
      <ds:KeyInfo xmlns:ds="http://www.w3.org/2000/09/xmldsig#">
        <ds:X509Data>
          <ds:X509Certificate>%[2]s</ds:X509Certificate>
        </ds:X509Data>
      </ds:KeyInfo>
    </md:KeyDescriptor>
    <md:NameIDFormat>urn:oasis:names:tc:SAML:2.0:nameid-format:transient</md:NameIDFormat>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="%[1]s/saml/sso"/>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST" Location="%[1]s/saml/sso"/>
    <md:SingleLogoutService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect" Location="%[1]s/saml/slo"/>
  </md:IDPSSODescriptor>
  <md:Organization>
    <md:OrganizationName xml:lang="en">Test Provider</md:OrganizationName>
    <md:OrganizationDisplayName xml:lang="en">Test Provider</md:OrganizationDisplayName>
    <md:OrganizationURL xml:lang="en">%[1]s</md:OrganizationURL>
  </md:Organization>
</md:EntityDescriptor>
`

// TestProvider is an in-process identity provider. Its entity ID is the
// base URL of the test server; the SSO and SLO endpoints record what they
// receive.
type TestProvider struct {
	t        *testing.T
	server   *httptest.Server
	keyStore dsig.X509KeyStore
	cert     *x509.Certificate
	certB64  string

	mu                sync.Mutex
	lastAuthnRequest  *core.AuthnRequest
	lastLogoutRequest *core.LogoutRequest
	lastRelayState    string
}

// StartTestProvider starts the identity provider on a random port. The
// server is shut down with the test.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	r := require.New(t)

	keyStore := dsig.RandomKeyStoreForTest()
	_, certDER, err := keyStore.GetKeyPair()
	r.NoError(err)

	cert, err := x509.ParseCertificate(certDER)
	r.NoError(err)

	provider := &TestProvider{
		t:        t,
		keyStore: keyStore,
		cert:     cert,
		certB64:  base64.StdEncoding.EncodeToString(certDER),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/saml/metadata", provider.metadataHandler)
	mux.HandleFunc("/saml/sso", provider.ssoHandler)
	mux.HandleFunc("/saml/slo", provider.sloHandler)

	provider.server = httptest.NewServer(mux)
	t.Cleanup(provider.Close)

	return provider
}

func (p *TestProvider) Close() {
	p.server.Close()
}

// ServerURL is the base URL of the provider, which doubles as its entity
// ID.
func (p *TestProvider) ServerURL() string {
	return p.server.URL
}

func (p *TestProvider) EntityID() string {
	return p.server.URL
}

func (p *TestProvider) SSOURL() string {
	return p.server.URL + "/saml/sso"
}

func (p *TestProvider) SLOURL() string {
	return p.server.URL + "/saml/slo"
}

func (p *TestProvider) MetadataURL() string {
	return p.server.URL + "/saml/metadata"
}

// Descriptor returns the provider described the way a service provider
// configures it, signing certificate included.
func (p *TestProvider) Descriptor() *samlsp.IdPDescriptor {
	return &samlsp.IdPDescriptor{
		EntityID:     p.EntityID(),
		SSOURL:       p.SSOURL(),
		SLOURL:       p.SLOURL(),
		DisplayName:  "Test Provider",
		Certificates: []*x509.Certificate{p.cert},
	}
}

// LastAuthnRequest returns the authentication request the SSO endpoint saw
// last, or nil.
func (p *TestProvider) LastAuthnRequest() *core.AuthnRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAuthnRequest
}

// LastLogoutRequest returns the logout request the SLO endpoint saw last,
// or nil.
func (p *TestProvider) LastLogoutRequest() *core.LogoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastLogoutRequest
}

// LastRelayState returns the relay state received with the last recorded
// message.
func (p *TestProvider) LastRelayState() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRelayState
}

func (p *TestProvider) metadataHandler(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, metaTempl, p.EntityID(), p.certB64)
}

func (p *TestProvider) ssoHandler(w http.ResponseWriter, r *http.Request) {
	msg, relayState, ok := p.extract(w, r, "SAMLRequest")
	if !ok {
		return
	}

	var req core.AuthnRequest
	if err := xml.Unmarshal(msg, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.lastAuthnRequest = &req
	p.lastRelayState = relayState
	p.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (p *TestProvider) sloHandler(w http.ResponseWriter, r *http.Request) {
	msg, relayState, ok := p.extract(w, r, "SAMLRequest")
	if ok {
		var req core.LogoutRequest
		if err := xml.Unmarshal(msg, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		p.mu.Lock()
		p.lastLogoutRequest = &req
		p.lastRelayState = relayState
		p.mu.Unlock()
	}

	w.WriteHeader(http.StatusOK)
}

// extract pulls a SAML message out of the request, query parameters for
// GET and form values for POST. Deflated messages are inflated.
func (p *TestProvider) extract(w http.ResponseWriter, r *http.Request, param string) ([]byte, string, bool) {
	values := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil, "", false
		}
		values = r.PostForm
	}

	encoded := values.Get(param)
	if encoded == "" {
		http.Error(w, "missing "+param, http.StatusBadRequest)
		return nil, "", false
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, "", false
	}

	if !bytes.HasPrefix(bytes.TrimLeft(raw, " \t\r\n"), []byte("<")) {
		fr := flate.NewReader(bytes.NewReader(raw))
		defer fr.Close()

		raw, err = io.ReadAll(fr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return nil, "", false
		}
	}

	return raw, values.Get("RelayState"), true
}

type responseOptions struct {
	nameID       string
	nameIDFormat core.NameIDFormat
	attributes   map[string][]string
	sessionIndex string
	notBefore    time.Time
	notOnOrAfter time.Time
	noSignature  bool
}

func responseOptionsDefault() responseOptions {
	now := time.Now().UTC()
	return responseOptions{
		nameIDFormat: core.NameIDFormatTransient,
		attributes: map[string][]string{
			"uid":  {"alice"},
			"mail": {"alice@example.org"},
		},
		notBefore:    now.Add(-5 * time.Minute),
		notOnOrAfter: now.Add(5 * time.Minute),
	}
}

func getResponseOptions(opt ...samlsp.Option) responseOptions {
	opts := responseOptionsDefault()
	samlsp.ApplyOpts(&opts, opt...)
	return opts
}

// WithResponseNameID overrides the generated subject name identifier.
func WithResponseNameID(nameID string) samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*responseOptions); ok {
			o.nameID = nameID
		}
	}
}

// WithResponseNameIDFormat overrides the subject name identifier format.
func WithResponseNameIDFormat(format core.NameIDFormat) samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*responseOptions); ok {
			o.nameIDFormat = format
		}
	}
}

// WithResponseAttributes replaces the attribute statement contents.
func WithResponseAttributes(attributes map[string][]string) samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*responseOptions); ok {
			o.attributes = attributes
		}
	}
}

// WithResponseSessionIndex overrides the generated session index.
func WithResponseSessionIndex(sessionIndex string) samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*responseOptions); ok {
			o.sessionIndex = sessionIndex
		}
	}
}

// WithResponseConditions overrides the assertion validity window.
func WithResponseConditions(notBefore, notOnOrAfter time.Time) samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*responseOptions); ok {
			o.notBefore = notBefore
			o.notOnOrAfter = notOnOrAfter
		}
	}
}

// WithoutResponseSignature leaves the response unsigned.
func WithoutResponseSignature() samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*responseOptions); ok {
			o.noSignature = true
		}
	}
}

// SignedResponse builds a successful authentication response answering
// requestID, addressed to the given service provider, and signs it with
// the provider's key.
//
// Options:
// - WithResponseNameID
// - WithResponseNameIDFormat
// - WithResponseAttributes
// - WithResponseSessionIndex
// - WithResponseConditions
// - WithoutResponseSignature
func (p *TestProvider) SignedResponse(
	t *testing.T,
	spEntityID string,
	acsURL string,
	requestID string,
	opt ...samlsp.Option,
) string {
	t.Helper()
	r := require.New(t)

	opts := getResponseOptions(opt...)

	if opts.nameID == "" {
		opts.nameID = "_" + newUUID(t)
	}
	if opts.sessionIndex == "" {
		opts.sessionIndex = "_sess-" + newUUID(t)
	}

	now := time.Now().UTC()
	doc := fmt.Sprintf(`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion" ID="_resp-%[1]s" Version="2.0" IssueInstant="%[2]s" Destination="%[3]s" InResponseTo="%[4]s">`+
		`<saml:Issuer>%[5]s</saml:Issuer>`+
		`<samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status>`+
		`<saml:Assertion ID="_assert-%[1]s" Version="2.0" IssueInstant="%[2]s">`+
		`<saml:Issuer>%[5]s</saml:Issuer>`+
		`<saml:Subject>`+
		`<saml:NameID Format="%[6]s" SPNameQualifier="%[7]s">%[8]s</saml:NameID>`+
		`<saml:SubjectConfirmation Method="urn:oasis:names:tc:SAML:2.0:cm:bearer">`+
		`<saml:SubjectConfirmationData NotOnOrAfter="%[9]s" Recipient="%[3]s" InResponseTo="%[4]s"/>`+
		`</saml:SubjectConfirmation>`+
		`</saml:Subject>`+
		`<saml:Conditions NotBefore="%[10]s" NotOnOrAfter="%[9]s">`+
		`<saml:AudienceRestriction><saml:Audience>%[7]s</saml:Audience></saml:AudienceRestriction>`+
		`</saml:Conditions>`+
		`<saml:AuthnStatement AuthnInstant="%[2]s" SessionIndex="%[11]s">`+
		`<saml:AuthnContext><saml:AuthnContextClassRef>urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport</saml:AuthnContextClassRef></saml:AuthnContext>`+
		`</saml:AuthnStatement>`+
		`%[12]s`+
		`</saml:Assertion>`+
		`</samlp:Response>`,
		newUUID(t),
		now.Format(time.RFC3339),
		acsURL,
		requestID,
		p.EntityID(),
		string(opts.nameIDFormat),
		spEntityID,
		opts.nameID,
		opts.notOnOrAfter.Format(time.RFC3339),
		opts.notBefore.Format(time.RFC3339),
		opts.sessionIndex,
		attributeStatement(opts.attributes),
	)

	if opts.noSignature {
		return base64.StdEncoding.EncodeToString([]byte(doc))
	}

	signed, err := p.sign(doc)
	r.NoError(err)

	return base64.StdEncoding.EncodeToString(signed)
}

func (p *TestProvider) buildLogoutRequest(t *testing.T, nameID, sessionIndex string) *core.LogoutRequest {
	t.Helper()

	lr := &core.LogoutRequest{}
	lr.ID = "_idp-logout-" + newUUID(t)
	lr.Version = core.SAMLVersion2
	lr.IssueInstant = time.Now().UTC()
	lr.Issuer = &core.Issuer{}
	lr.Issuer.Value = p.EntityID()
	lr.NameID = &core.NameID{
		Value:  nameID,
		Format: core.NameIDFormatTransient,
	}
	if sessionIndex != "" {
		lr.SessionIndex = []string{sessionIndex}
	}

	return lr
}

// LogoutRequest builds a deflated, redirect-binding logout request naming
// the given subject, as an identity provider initiating logout would send
// it.
func (p *TestProvider) LogoutRequest(t *testing.T, nameID, sessionIndex string) string {
	t.Helper()
	r := require.New(t)

	payload, err := samlsp.Deflate(p.buildLogoutRequest(t, nameID, sessionIndex))
	r.NoError(err)

	return base64.StdEncoding.EncodeToString(payload)
}

// SignedLogoutRequest builds a post-binding logout request naming the given
// subject, signed with the provider's key.
func (p *TestProvider) SignedLogoutRequest(t *testing.T, nameID, sessionIndex string) string {
	t.Helper()
	r := require.New(t)

	doc, err := xml.Marshal(p.buildLogoutRequest(t, nameID, sessionIndex))
	r.NoError(err)

	signed, err := p.sign(string(doc))
	r.NoError(err)

	return base64.StdEncoding.EncodeToString(signed)
}

// LogoutResponse builds a deflated, redirect-binding logout response
// answering inResponseTo with a success or requester fault status.
func (p *TestProvider) LogoutResponse(t *testing.T, inResponseTo string, success bool) string {
	t.Helper()
	r := require.New(t)

	status := core.StatusCodeSuccess
	if !success {
		status = core.StatusCodeRequester
	}

	lres := &core.LogoutResponse{}
	lres.ID = "_idp-logout-res-" + newUUID(t)
	lres.Version = core.SAMLVersion2
	lres.IssueInstant = time.Now().UTC()
	lres.InResponseTo = inResponseTo
	lres.Issuer = &core.Issuer{}
	lres.Issuer.Value = p.EntityID()
	lres.Status = core.Status{
		StatusCode: core.StatusCode{
			Value: status,
		},
	}

	payload, err := samlsp.Deflate(lres)
	r.NoError(err)

	return base64.StdEncoding.EncodeToString(payload)
}

func (p *TestProvider) sign(doc string) ([]byte, error) {
	parsed := etree.NewDocument()
	if err := parsed.ReadFromString(doc); err != nil {
		return nil, err
	}

	signingCtx := dsig.NewDefaultSigningContext(p.keyStore)
	signed, err := signingCtx.SignEnveloped(parsed.Root())
	if err != nil {
		return nil, err
	}

	signedDoc := etree.NewDocument()
	signedDoc.SetRoot(signed)

	return signedDoc.WriteToBytes()
}

func attributeStatement(attributes map[string][]string) string {
	if len(attributes) == 0 {
		return ""
	}

	names := make([]string, 0, len(attributes))
	for name := range attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(`<saml:AttributeStatement>`)
	for _, name := range names {
		fmt.Fprintf(&b, `<saml:Attribute Name="%s" NameFormat="urn:oasis:names:tc:SAML:2.0:attrname-format:basic">`, xmlEscape(name))
		for _, value := range attributes[name] {
			fmt.Fprintf(&b, `<saml:AttributeValue>%s</saml:AttributeValue>`, xmlEscape(value))
		}
		b.WriteString(`</saml:Attribute>`)
	}
	b.WriteString(`</saml:AttributeStatement>`)

	return b.String()
}

func xmlEscape(s string) string {
	var b bytes.Buffer
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}

func newUUID(t *testing.T) string {
	t.Helper()

	id, err := uuid.GenerateUUID()
	require.NoError(t, err)

	return id
}
