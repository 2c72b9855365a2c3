package core

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/crewjam/go-xmlsec/xmlenc"
)

const (
	SAMLVersion2 = "2.0"
)

type ServiceBinding string

const (
	ServiceBindingHTTPPost     ServiceBinding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
	ServiceBindingHTTPRedirect ServiceBinding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
	ServiceBindingSOAP         ServiceBinding = "urn:oasis:names:tc:SAML:2.0:bindings:SOAP"
)

// See 8.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type NameIDFormat string

const (
	// See 8.3.1 - 8.3.8 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
	NameIDFormatUnspecified                NameIDFormat = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"
	NameIDFormatEmail                      NameIDFormat = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	NameIDFormatX509SubjectName            NameIDFormat = "urn:oasis:names:tc:SAML:1.1:nameid-format:X509SubjectName"
	NameIDFormatWindowsDomainQualifiedName NameIDFormat = "urn:oasis:names:tc:SAML:1.1:nameid-format:WindowsDomainQualifiedName"
	NameIDFormatKerberos                   NameIDFormat = "urn:oasis:names:tc:SAML:2.0:nameid-format:kerberos"
	NameIDFormatEntity                     NameIDFormat = "urn:oasis:names:tc:SAML:2.0:nameid-format:entity"
	NameIDFormatPersistent                 NameIDFormat = "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent"
	NameIDFormatTransient                  NameIDFormat = "urn:oasis:names:tc:SAML:2.0:nameid-format:transient"
)

type NameFormat string

const (
	NameFormatURI   NameFormat = "urn:oasis:names:tc:SAML:2.0:attrname-format:uri"
	NameFormatBasic NameFormat = "urn:oasis:names:tc:SAML:2.0:attrname-format:basic"
)

// StatusCodeType defines the possible status codes in a SAML Response.
// The possible status codes are defined in:
// 3.2.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type StatusCodeType string

const (
	// StatusCodeSuccess indicates that the request succeeded.
	StatusCodeSuccess StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:Success"

	// StatusCodeRequester indicates that the request could not be performed due to
	// an error on the part of the requester.
	StatusCodeRequester StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:Requester"

	// StatusCodeResponder indicates that the request could not be performed due to
	// an error on the part of the SAML responder or SAML authority.
	StatusCodeResponder StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:Responder"

	// StatusCodeVersionMismatch indicates that the SAML responder could not process the
	// request because the version of the request message was incorrect.
	StatusCodeVersionMismatch StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:VersionMismatch"

	// StatusCodeAuthnFailed indicates that the responding provider was unable to
	// successfully authenticate the principal.
	StatusCodeAuthnFailed StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:AuthnFailed"

	// StatusCodeInvalidNameIDPolicy indicates that the responding provider cannot or will
	// not support the requested name identifier policy.
	StatusCodeInvalidNameIDPolicy StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:InvalidNameIDPolicy"

	// StatusCodeNoPassive indicates that the responding provider cannot authenticate the
	// principal passively, as has been requested.
	StatusCodeNoPassive StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:NoPassive"

	// StatusCodePartialLogout is used by a session authority to indicate to a session
	// participant that it was not able to propagate logout to all other session
	// participants.
	StatusCodePartialLogout StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:PartialLogout"

	// StatusCodeRequestDenied indicates that the SAML responder or SAML authority is able
	// to process the request but has chosen not to respond.
	StatusCodeRequestDenied StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:RequestDenied"

	// StatusCodeUnknownPrincipal indicates that the responding provider does not recognize
	// the principal specified or implied by the request.
	StatusCodeUnknownPrincipal StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:UnknownPrincipal"

	// StatusCodeUnsupportedBinding indicates that the SAML responder cannot properly
	// fulfill the request using the protocol binding specified in the request.
	StatusCodeUnsupportedBinding StatusCodeType = "urn:oasis:names:tc:SAML:2.0:status:UnsupportedBinding"
)

// ConfirmationMethod indicates the specific method to be used by the relying party
// to determine that the request or message came from a system entity that is
// associated with the subject of the assertion, within the context of a particular
// profile.
//
// See 3. http://docs.oasis-open.org/security/saml/v2.0/saml-profiles-2.0-os.pdf
type ConfirmationMethod string

const (
	// ConfirmationMethodHolderOfKey indicates that the key holder itself can confirm
	// itself as the subject. If this method is given, the SubjectConfirmationData MUST
	// contain one or more KeyInfo elements, where KeyInfo identifies a cryptographic key.
	//
	// See 3.1 http://docs.oasis-open.org/security/saml/v2.0/saml-profiles-2.0-os.pdf
	ConfirmationMethodHolderOfKey ConfirmationMethod = "urn:oasis:names:tc:SAML:2.0:cm:holder-of-key"

	// ConfirmationMethodSenderVouches indicates that no other information is available
	// about the context of use of the assertion.
	//
	// See 3.2 http://docs.oasis-open.org/security/saml/v2.0/saml-profiles-2.0-os.pdf
	ConfirmationMethodSenderVouches ConfirmationMethod = "urn:oasis:names:tc:SAML:2.0:cm:sender-vouches"

	// ConfirmationMethodBearer indicates that the bearer can confirm itself as the subject.
	//
	// See 3.3 http://docs.oasis-open.org/security/saml/v2.0/saml-profiles-2.0-os.pdf
	ConfirmationMethodBearer ConfirmationMethod = "urn:oasis:names:tc:SAML:2.0:cm:bearer"
)

// RequestResponseCommon holds the attributes and elements every SAML request
// and response message carries.
// See 3.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type RequestResponseCommon struct {
	ID      string `xml:",attr"` // required
	Version string `xml:",attr"` // required

	// The time instant of issue of the message, in UTC.
	IssueInstant time.Time `xml:",attr"`           // required
	Destination  string    `xml:",attr,omitempty"` // optional
	Consent      string    `xml:",attr,omitempty"` // optional

	Issuer *Issuer // recommended
}

// See 2.2.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type BaseID struct {
	NameQualifier   string `xml:",attr,omitempty"`
	SPNameQualifier string `xml:",attr,omitempty"`
}

// See 2.2.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type NameIDType struct {
	NameQualifier   string       `xml:",attr,omitempty"`
	SPNameQualifier string       `xml:",attr,omitempty"`
	Format          NameIDFormat `xml:",attr,omitempty"`
	SPProvidedID    string       `xml:",attr,omitempty"`

	Value string `xml:",chardata"`
}

// See 2.2.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type NameID = NameIDType

// EncryptedID carries an encrypted subject identifier. It is modeled so messages
// carrying one still parse; decryption is up to the caller.
// See 2.2.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type EncryptedID struct {
	EncryptedData xmlenc.EncryptedData
	EncryptedKey  xmlenc.EncryptedKey
}

// Issuer, with type NameIDType, provides information about the issuer of a SAML message.
// See 2.2.5 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type Issuer struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`

	NameIDType
}

func createXMLDocument(v interface{}, indent int) ([]byte, error) {
	if indent > 0 {
		return xml.MarshalIndent(v, "", strings.Repeat(" ", indent))
	}
	return xml.Marshal(v)
}
