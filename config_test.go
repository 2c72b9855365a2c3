package samlsp_test

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/peopledoc/samlsp"
)

func Test_NewConfig(t *testing.T) {
	r := require.New(t)

	okta := &samlsp.IdPDescriptor{
		EntityID: "http://www.okta.com/exk3hbd9s8kQEey7Q5d7",
		SSOURL:   "https://dev-12345.okta.com/app/sso/saml",
	}

	cases := []struct {
		name        string
		entityID    string
		acs         string
		idps        []*samlsp.IdPDescriptor
		opts        []samlsp.Option
		expectedErr string
	}{
		{
			name:     "When the provider config is complete",
			entityID: "http://test.me/entity",
			acs:      "http://test.me/saml/acs",
			idps:     []*samlsp.IdPDescriptor{okta},
		},
		{
			name:        "When there is no entity ID provided",
			acs:         "http://test.me/saml/acs",
			idps:        []*samlsp.IdPDescriptor{okta},
			expectedErr: "samlsp.Config.Validate: entity ID not set: invalid parameter",
		},
		{
			name:        "When there is no ACS URL provided",
			entityID:    "http://test.me/entity",
			idps:        []*samlsp.IdPDescriptor{okta},
			expectedErr: "samlsp.Config.Validate: ACS URL must be an absolute http(s) URL: invalid parameter",
		},
		{
			name:        "When the ACS URL is not absolute",
			entityID:    "http://test.me/entity",
			acs:         "/saml/acs",
			idps:        []*samlsp.IdPDescriptor{okta},
			expectedErr: "samlsp.Config.Validate: ACS URL must be an absolute http(s) URL: invalid parameter",
		},
		{
			name:        "When there are no identity providers provided",
			entityID:    "http://test.me/entity",
			acs:         "http://test.me/saml/acs",
			expectedErr: "samlsp.Config.Validate: no identity providers configured: invalid parameter",
		},
		{
			name:     "When an identity provider has no SSO URL",
			entityID: "http://test.me/entity",
			acs:      "http://test.me/saml/acs",
			idps: []*samlsp.IdPDescriptor{
				{EntityID: "http://idp.test"},
			},
			expectedErr: "samlsp.Config.Validate: identity provider 0: ",
		},
		{
			name:     "When two identity providers share an entity ID",
			entityID: "http://test.me/entity",
			acs:      "http://test.me/saml/acs",
			idps: []*samlsp.IdPDescriptor{
				okta,
				{EntityID: okta.EntityID, SSOURL: "https://elsewhere.test/sso"},
			},
			expectedErr: `samlsp.Config.Validate: duplicate identity provider entity ID "http://www.okta.com/exk3hbd9s8kQEey7Q5d7": invalid parameter`,
		},
		{
			name:        "When the default redirect path is not absolute",
			entityID:    "http://test.me/entity",
			acs:         "http://test.me/saml/acs",
			idps:        []*samlsp.IdPDescriptor{okta},
			opts:        []samlsp.Option{samlsp.WithDefaultRedirectPath("dashboard")},
			expectedErr: `samlsp.Config.Validate: default redirect path must start with "/": invalid parameter`,
		},
		{
			name:        "When the outstanding request TTL is not positive",
			entityID:    "http://test.me/entity",
			acs:         "http://test.me/saml/acs",
			idps:        []*samlsp.IdPDescriptor{okta},
			opts:        []samlsp.Option{samlsp.WithOutstandingRequestTTL(-time.Minute)},
			expectedErr: "samlsp.Config.Validate: outstanding request TTL must be positive: invalid parameter",
		},
		{
			name:        "When the verify timeout is not positive",
			entityID:    "http://test.me/entity",
			acs:         "http://test.me/saml/acs",
			idps:        []*samlsp.IdPDescriptor{okta},
			opts:        []samlsp.Option{samlsp.WithVerifyTimeout(0)},
			expectedErr: "samlsp.Config.Validate: verify timeout must be positive: invalid parameter",
		},
		{
			name:        "When the single logout URL is not absolute",
			entityID:    "http://test.me/entity",
			acs:         "http://test.me/saml/acs",
			idps:        []*samlsp.IdPDescriptor{okta},
			opts:        []samlsp.Option{samlsp.WithSingleLogoutServiceURL("/saml/slo")},
			expectedErr: "samlsp.Config.Validate: SLO URL must be an absolute http(s) URL: invalid parameter",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(_ *testing.T) {
			got, err := samlsp.NewConfig(
				c.entityID,
				c.acs,
				c.idps,
				c.opts...,
			)

			if c.expectedErr != "" {
				r.ErrorContains(err, "samlsp.NewConfig: invalid provider config: ")
				r.ErrorContains(err, c.expectedErr)
				r.ErrorIs(err, samlsp.ErrInvalidParameter)
				return
			}

			r.NoError(err)

			r.Equal("http://test.me/entity", got.EntityID)
			r.Equal("http://test.me/saml/acs", got.AssertionConsumerServiceURL)
			r.Len(got.IdentityProviders, 1)
			r.Equal(okta.EntityID, got.IdentityProviders[0].EntityID)

			r.Equal(samlsp.DefaultRedirectPath, got.DefaultRedirectPath)
			r.Equal(samlsp.DefaultUserIDAttribute, got.UserIDAttribute)
			r.Equal(samlsp.DefaultOutstandingTTL, got.OutstandingTTL)
			r.Equal(samlsp.DefaultVerifyTimeout, got.VerifyTimeout)
			r.NotNil(got.ValidUntil)
			r.NotNil(got.GenerateRequestID)
			r.NotNil(got.Logger)
		})
	}
}

func Test_NewConfig_Options(t *testing.T) {
	r := require.New(t)

	logger := hclog.NewNullLogger()

	got, err := samlsp.NewConfig(
		"http://test.me/entity",
		"http://test.me/saml/acs",
		[]*samlsp.IdPDescriptor{
			{EntityID: "http://idp.test", SSOURL: "https://idp.test/sso"},
		},
		samlsp.WithLogger(logger),
		samlsp.WithProviderName("test provider"),
		samlsp.WithSingleLogoutServiceURL("http://test.me/saml/slo"),
		samlsp.WithDefaultRedirectPath("/dashboard"),
		samlsp.WithUserIDAttribute("mail"),
		samlsp.WithOutstandingRequestTTL(time.Minute),
		samlsp.WithVerifyTimeout(time.Second),
	)
	r.NoError(err)

	r.Equal(logger, got.Logger)
	r.Equal("test provider", got.ProviderName)
	r.Equal("http://test.me/saml/slo", got.SingleLogoutServiceURL)
	r.Equal("/dashboard", got.DefaultRedirectPath)
	r.Equal("mail", got.UserIDAttribute)
	r.Equal(time.Minute, got.OutstandingTTL)
	r.Equal(time.Second, got.VerifyTimeout)
}

func Test_IdPDescriptor_Validate(t *testing.T) {
	r := require.New(t)

	cases := []struct {
		name        string
		idp         *samlsp.IdPDescriptor
		expectedErr string
	}{
		{
			name: "When the descriptor is complete",
			idp: &samlsp.IdPDescriptor{
				EntityID: "http://idp.test",
				SSOURL:   "https://idp.test/sso",
				SLOURL:   "https://idp.test/slo",
			},
		},
		{
			name:        "When the descriptor is missing",
			idp:         nil,
			expectedErr: "samlsp.IdPDescriptor.Validate: missing descriptor: invalid parameter",
		},
		{
			name:        "When there is no entity ID",
			idp:         &samlsp.IdPDescriptor{SSOURL: "https://idp.test/sso"},
			expectedErr: "samlsp.IdPDescriptor.Validate: entity ID not set: invalid parameter",
		},
		{
			name:        "When the SSO URL is not absolute",
			idp:         &samlsp.IdPDescriptor{EntityID: "http://idp.test", SSOURL: "idp.test/sso"},
			expectedErr: "samlsp.IdPDescriptor.Validate: SSO URL must be an absolute http(s) URL: invalid parameter",
		},
		{
			name: "When the SLO URL is not absolute",
			idp: &samlsp.IdPDescriptor{
				EntityID: "http://idp.test",
				SSOURL:   "https://idp.test/sso",
				SLOURL:   "ftp://idp.test/slo",
			},
			expectedErr: "samlsp.IdPDescriptor.Validate: SLO URL must be an absolute http(s) URL: invalid parameter",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(_ *testing.T) {
			err := c.idp.Validate()

			if c.expectedErr != "" {
				r.ErrorContains(err, c.expectedErr)
				r.ErrorIs(err, samlsp.ErrInvalidParameter)
				return
			}

			r.NoError(err)
		})
	}
}

func Test_IdPDescriptor_Name(t *testing.T) {
	r := require.New(t)

	named := &samlsp.IdPDescriptor{EntityID: "http://idp.test", DisplayName: "Test IdP"}
	r.Equal("Test IdP", named.Name())

	unnamed := &samlsp.IdPDescriptor{EntityID: "http://idp.test"}
	r.Equal("http://idp.test", unnamed.Name())
}
