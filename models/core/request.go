package core

import (
	"encoding/xml"
	"time"
)

// RequestAbstractType holds the fields common to all SAML requests.
// See 3.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type RequestAbstractType struct {
	RequestResponseCommon
}

// AuthnRequest is the message a service provider sends to an identity provider
// to request that it authenticate a principal.
// See 3.4.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnRequest struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`

	RequestAbstractType

	Subject               *Subject
	NameIDPolicy          *NameIDPolicy
	Conditions            *Conditions
	RequestedAuthnContext *RequestedAuthnContext
	Scoping               *Scoping

	ForceAuthn bool `xml:",attr,omitempty"`
	IsPassive  bool `xml:",attr,omitempty"`

	AssertionConsumerServiceIndex string `xml:",attr,omitempty"`
	AssertionConsumerServiceURL   string `xml:",attr,omitempty"`

	// A URI reference that identifies a SAML protocol binding to be used when
	// returning the Response message.
	ProtocolBinding ServiceBinding `xml:",attr,omitempty"`

	AttributeConsumingServiceIndex string `xml:",attr,omitempty"`
	ProviderName                   string `xml:",attr,omitempty"`
}

// CreateXMLDocument marshals the request, indented by the given number of
// spaces when indent is greater than zero.
func (a *AuthnRequest) CreateXMLDocument(indent int) ([]byte, error) {
	return createXMLDocument(a, indent)
}

// Subject specifies the requested subject of the resulting assertion(s).
// If entirely omitted or if no identifier is included, the presenter of
// the message is presumed to be the requested subject.
//
// See 2.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Subject struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Subject"`

	BaseID              *BaseID
	NameID              *NameID
	EncryptedID         *EncryptedID
	SubjectConfirmation []*SubjectConfirmation
}

// See 2.4.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type SubjectConfirmation struct {
	Method ConfirmationMethod `xml:",attr"` // required

	SubjectConfirmationData *SubjectConfirmationData // optional

	BaseID      *BaseID      // optional
	NameID      *NameID      // optional
	EncryptedID *EncryptedID // optional
}

// SubjectConfirmationData carries additional constraints on the use of the
// containing confirmation. The time period specified by NotBefore and
// NotOnOrAfter, if present, SHOULD fall within the validity period of the
// enclosing assertion's Conditions element, and NotBefore MUST be earlier
// than NotOnOrAfter when both are present.
//
// See 2.4.1.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type SubjectConfirmationData struct {
	NotBefore    *time.Time `xml:",attr,omitempty"` // optional
	NotOnOrAfter *time.Time `xml:",attr,omitempty"` // optional
	Recipient    string     `xml:",attr,omitempty"` // optional
	InResponseTo string     `xml:",attr,omitempty"` // optional
	Address      string     `xml:",attr,omitempty"` // optional
}

// NameIDPolicy specifies constraints on the name identifier to be used to
// represent the requested subject.
// See 3.4.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type NameIDPolicy struct {
	Format          NameIDFormat `xml:",attr,omitempty"`
	SPNameQualifier string       `xml:",attr,omitempty"`
	AllowCreate     bool         `xml:",attr"`
}

// Comparison values for RequestedAuthnContext.
// See 3.3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
const (
	ComparisonExact   = "exact"
	ComparisonMinimum = "minimum"
	ComparisonMaximum = "maximum"
	ComparisonBetter  = "better"
)

// RequestedAuthnContext specifies the authentication context requirements of
// authentication statements returned in response to a request.
// See 3.3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type RequestedAuthnContext struct {
	Comparison string `xml:",attr,omitempty"`

	AuthnContextClassRef []string `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContextClassRef"`
}

// Scoping specifies the identity providers a request may be proxied to.
// See 3.4.1.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Scoping struct {
	// ProxyCount specifies the number of proxying indirections permissible between the
	// identity provider that receives this AuthnRequest and the identity provider who
	// ultimately authenticates the principal.
	ProxyCount *int `xml:",attr,omitempty"`

	IDPList *IDPList

	RequesterID []string
}

// IDPList specifies the identity providers trusted by the requester to
// authenticate the presenter.
// See 3.4.1.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type IDPList struct {
	IDPEntry    []*IDPEntry
	GetComplete string `xml:",omitempty"`
}

// IDPEntry specifies a single identity provider trusted by the requester to
// authenticate the presenter.
// See 3.4.1.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type IDPEntry struct {
	// ProviderID is the unique identifier of the identity provider.
	ProviderID string `xml:",attr"`

	// Name is a human-readable name for the identity provider.
	Name string `xml:",attr,omitempty"`

	// Loc is a URI reference representing the location of a profile-specific
	// endpoint supporting the authentication request protocol.
	Loc string `xml:",attr,omitempty"`
}
