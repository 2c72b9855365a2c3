package metadata

import (
	"encoding/xml"

	"github.com/peopledoc/samlsp/models/core"
)

// IDPSSODescriptor contains profiles specific to identity providers supporting SSO.
// It extends the SSODescriptor type.
// See 2.4.3 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type IDPSSODescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata IDPSSODescriptor"`

	SSODescriptor

	WantAuthnRequestsSigned   bool `xml:",attr"`
	SingleSignOnService       []Endpoint
	NameIDMappingService      []Endpoint
	AssertionIDRequestService []Endpoint
	AttributeProfile          []string
	Attribute                 []core.Attribute
}

// EntityDescriptorIDPSSO is an EntityDescriptor that accommodates the IDPSSODescriptor
// as descriptor field only.
type EntityDescriptorIDPSSO struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`

	EntityDescriptor

	IDPSSODescriptor []*IDPSSODescriptor
}

// GetLocationForBinding returns the single sign-on endpoint for the given
// binding, if the identity provider declares one.
func (e *EntityDescriptorIDPSSO) GetLocationForBinding(b core.ServiceBinding) (string, bool) {
	for _, isd := range e.IDPSSODescriptor {
		for _, ssos := range isd.SingleSignOnService {
			if ssos.Binding == b {
				return ssos.Location, true
			}
		}
	}

	return "", false
}

// GetSLOLocationForBinding returns the single logout endpoint for the given
// binding, if the identity provider declares one.
func (e *EntityDescriptorIDPSSO) GetSLOLocationForBinding(b core.ServiceBinding) (string, bool) {
	for _, isd := range e.IDPSSODescriptor {
		for _, slos := range isd.SingleLogoutService {
			if slos.Binding == b {
				return slos.Location, true
			}
		}
	}

	return "", false
}

// GetSigningCerts returns the base64 DER certificates any of the entity's
// IdP role descriptors declare for signing use.
func (e *EntityDescriptorIDPSSO) GetSigningCerts() []string {
	var certs []string
	for _, isd := range e.IDPSSODescriptor {
		certs = append(certs, isd.SigningCerts()...)
	}

	return certs
}
