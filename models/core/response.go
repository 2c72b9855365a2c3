package core

import (
	"encoding/xml"
	"time"
)

// Response is the message an identity provider sends back to the assertion
// consumer service, carrying the status of the request and zero or more
// assertions about the authenticated principal.
// See 3.3.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Response struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`

	StatusResponseType

	Assertion          []*Assertion
	EncryptedAssertion []*EncryptedAssertion
}

// CreateXMLDocument marshals the response, indented by the given number of
// spaces when indent is greater than zero.
func (r *Response) CreateXMLDocument(indent int) ([]byte, error) {
	return createXMLDocument(r, indent)
}

// StatusResponseType holds the fields common to all SAML responses.
// See 3.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusResponseType struct {
	RequestResponseCommon

	// InResponseTo is the ID of the request this message answers, if the
	// message was solicited.
	InResponseTo string `xml:",attr,omitempty"`

	Status Status // required
}

// Success reports whether the top-level status code signals success.
func (s *StatusResponseType) Success() bool {
	return s.Status.StatusCode.Value == StatusCodeSuccess
}

// See 3.2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Status struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`

	StatusCode    StatusCode    // required
	StatusMessage string        `xml:",omitempty"` // optional
	StatusDetail  *StatusDetail // optional
}

// StatusCode carries a code representing the status of the corresponding
// request. A subordinate StatusCode may qualify the top-level one.
// See 3.2.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusCode struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusCode"`

	Value StatusCodeType `xml:",attr"` // required

	StatusCode *StatusCode // optional
}

// See 3.2.2.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusDetail struct {
	Children string `xml:",innerxml"`
}

// EncryptedAssertion carries an assertion encrypted for the recipient. It is
// modeled so responses carrying one still parse; decryption is up to the
// caller.
// See 2.3.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type EncryptedAssertion struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion EncryptedAssertion"`

	EncryptedID
}

// See 2.3.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Assertion struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`

	Version      string    `xml:",attr"` // required
	ID           string    `xml:",attr"` // required
	IssueInstant time.Time `xml:",attr"` // required

	Issuer *Issuer // required

	Subject    *Subject    // optional
	Conditions *Conditions // optional

	AuthnStatement     []*AuthnStatement
	AttributeStatement []*AttributeStatement
}

// Conditions constrains the circumstances under which an assertion is valid.
// See 2.5.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Conditions struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Conditions"`

	NotBefore    *time.Time `xml:",attr,omitempty"`
	NotOnOrAfter *time.Time `xml:",attr,omitempty"`

	AudienceRestriction []*AudienceRestriction
}

// AudienceRestriction limits the relying parties an assertion is addressed to.
// See 2.5.1.4 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AudienceRestriction struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AudienceRestriction"`

	Audience []string `xml:"urn:oasis:names:tc:SAML:2.0:assertion Audience"`
}

// AuthnStatement describes the act of authentication performed at the
// identity provider.
// See 2.7.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnStatement struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnStatement"`

	AuthnInstant        time.Time  `xml:",attr"`           // required
	SessionIndex        string     `xml:",attr,omitempty"` // optional
	SessionNotOnOrAfter *time.Time `xml:",attr,omitempty"` // optional

	AuthnContext AuthnContext // required
}

// See 2.7.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AuthnContext struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContext"`

	AuthnContextClassRef string `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContextClassRef,omitempty"`
}

// See 2.7.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AttributeStatement struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeStatement"`

	Attribute []*Attribute
}

// See 2.7.3.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Attribute struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Attribute"`

	Name         string     `xml:",attr"`           // required
	NameFormat   NameFormat `xml:",attr,omitempty"` // optional
	FriendlyName string     `xml:",attr,omitempty"` // optional

	AttributeValue []AttributeValue
}

// See 2.7.3.1.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type AttributeValue struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeValue"`

	Type  string `xml:"http://www.w3.org/2001/XMLSchema-instance type,attr,omitempty"`
	Value string `xml:",chardata"`
}

func (r *Response) GetAssertion() *Assertion {
	if len(r.Assertion) == 0 {
		return nil
	}

	return r.Assertion[0]
}

func (r *Response) GetAssertionForIndex(index int) *Assertion {
	if index < 0 || index > len(r.Assertion)-1 {
		return nil
	}

	return r.Assertion[index]
}

// GetIssuer will return the issuer value from the Assertion.Issuer complex type.
func (a *Assertion) GetIssuer() string {
	if a.Issuer == nil {
		return ""
	}

	return a.Issuer.Value
}

// GetSubject will return the subject value from the Assertion.Subject complex type.
func (a *Assertion) GetSubject() string {
	if a.Subject == nil || a.Subject.NameID == nil {
		return ""
	}

	return a.Subject.NameID.Value
}

// GetSubjectFormat will return the subject format value.
func (a *Assertion) GetSubjectFormat() string {
	if a.Subject == nil || a.Subject.NameID == nil {
		return ""
	}

	return string(a.Subject.NameID.Format)
}

// GetSessionIndex returns the session index of the first authentication
// statement carrying one.
func (a *Assertion) GetSessionIndex() string {
	for _, st := range a.AuthnStatement {
		if st.SessionIndex != "" {
			return st.SessionIndex
		}
	}

	return ""
}

// GetAttributes flattens the assertion's attribute statements into a map of
// attribute name to values.
func (a *Assertion) GetAttributes() map[string][]string {
	attrs := map[string][]string{}
	for _, st := range a.AttributeStatement {
		for _, attr := range st.Attribute {
			for _, v := range attr.AttributeValue {
				attrs[attr.Name] = append(attrs[attr.Name], v.Value)
			}
		}
	}

	return attrs
}
