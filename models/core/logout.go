package core

import (
	"encoding/xml"
	"time"
)

// LogoutReason values a session participant may give for terminating a session.
// See 3.7.3 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
const (
	LogoutReasonUser  = "urn:oasis:names:tc:SAML:2.0:logout:user"
	LogoutReasonAdmin = "urn:oasis:names:tc:SAML:2.0:logout:admin"
)

// LogoutRequest is the message a session participant or session authority
// sends to terminate a principal's session.
// See 3.7.1 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type LogoutRequest struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`

	RequestAbstractType

	// NotOnOrAfter is the time instant at which the request expires, after
	// which the recipient may discard the message.
	NotOnOrAfter *time.Time `xml:",attr,omitempty"` // optional
	Reason       string     `xml:",attr,omitempty"` // optional

	NameID      *NameID      `xml:"urn:oasis:names:tc:SAML:2.0:assertion NameID"`
	EncryptedID *EncryptedID // mutually exclusive with NameID

	SessionIndex []string
}

// CreateXMLDocument marshals the request, indented by the given number of
// spaces when indent is greater than zero.
func (r *LogoutRequest) CreateXMLDocument(indent int) ([]byte, error) {
	return createXMLDocument(r, indent)
}

// GetNameID returns the plain-text subject identifier named by the request,
// or the empty string when the request carries none or an encrypted one.
func (r *LogoutRequest) GetNameID() string {
	if r.NameID == nil {
		return ""
	}

	return r.NameID.Value
}

// LogoutResponse is the answer to a LogoutRequest.
// See 3.7.2 http://docs.oasis-open.org/security/saml/v2.0/saml-core-2.0-os.pdf
type LogoutResponse struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutResponse"`

	StatusResponseType
}

// CreateXMLDocument marshals the response, indented by the given number of
// spaces when indent is greater than zero.
func (r *LogoutResponse) CreateXMLDocument(indent int) ([]byte, error) {
	return createXMLDocument(r, indent)
}
