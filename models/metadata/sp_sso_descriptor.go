package metadata

import (
	"encoding/xml"

	"github.com/peopledoc/samlsp/models/core"
)

// EntityDescriptorSPSSO defines an EntityDescriptor type
// that can accommodate an SPSSODescriptor.
// This type can be used specifically to describe SPSSO profiles.
type EntityDescriptorSPSSO struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`

	EntityDescriptor

	SPSSODescriptor []*SPSSODescriptor
}

// SPSSODescriptor contains profiles specific to service providers.
// It extends the SSODescriptor type.
// See 2.4.4 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type SPSSODescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata SPSSODescriptor"`

	SSODescriptor

	AuthnRequestsSigned       bool `xml:",attr"`
	WantAssertionsSigned      bool `xml:",attr"`
	AssertionConsumerService  []IndexedEndpoint
	AttributeConsumingService []*AttributeConsumingService
}

// AttributeConsumingService describes a service offered by the service
// provider in terms of the attributes it requires.
// See 2.4.4.1 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type AttributeConsumingService struct {
	Index              int  `xml:"index,attr"`
	IsDefault          bool `xml:"isDefault,attr,omitempty"`
	ServiceName        []Localized
	ServiceDescription []Localized
	RequestedAttribute []RequestedAttribute
}

// RequestedAttribute specifies a service provider's interest in a specific
// SAML attribute, including specific values.
// See 2.4.4.2 http://docs.oasis-open.org/security/saml/v2.0/saml-metadata-2.0-os.pdf
type RequestedAttribute struct {
	Name         string `xml:",attr"`
	NameFormat   string `xml:",attr,omitempty"`
	FriendlyName string `xml:",attr,omitempty"`
	IsRequired   bool   `xml:"isRequired,attr,omitempty"`

	AttributeValue []core.AttributeValue
}
