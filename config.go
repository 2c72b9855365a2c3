package samlsp

import (
	"crypto/x509"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
)

const (
	// DefaultOutstandingTTL bounds how long an issued request waits for its
	// response before the correlation entry expires.
	DefaultOutstandingTTL = 10 * time.Minute

	// DefaultVerifyTimeout bounds a single response verification.
	DefaultVerifyTimeout = 5 * time.Second

	// DefaultRedirectPath is the local path users are sent to when no
	// trusted relay target is available.
	DefaultRedirectPath = "/"

	// DefaultUserIDAttribute is the assertion attribute that identifies the
	// local user.
	DefaultUserIDAttribute = "uid"
)

type ValidUntilFunc func() time.Time

type GenerateRequestIDFunc func() (string, error)

// IdPDescriptor describes a trusted identity provider from the service
// provider's point of view. Descriptors are usually obtained from the
// provider's metadata document via ParseIdPMetadata or FetchIdPMetadata,
// but can be filled in by hand for providers without published metadata.
type IdPDescriptor struct {
	// EntityID is the globally unique identifier of the identity provider.
	// Inbound messages are attributed to a provider by matching their
	// issuer against it. (required)
	EntityID string

	// SSOURL is the single sign-on endpoint authentication requests are
	// delivered to. (required)
	SSOURL string

	// SLOURL is the single logout endpoint. Leave empty when the provider
	// does not support logout.
	SLOURL string

	// DisplayName is a human-readable name for provider selection pages.
	DisplayName string

	// Certificates holds the provider's signing certificates.
	Certificates []*x509.Certificate

	// WantRequestsSigned reports whether the provider requires signed
	// authentication requests.
	WantRequestsSigned bool
}

// Name returns the display name, falling back to the entity ID.
func (d *IdPDescriptor) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.EntityID
}

// Validate validates the identity provider descriptor.
func (d *IdPDescriptor) Validate() error {
	const op = "samlsp.IdPDescriptor.Validate"

	if d == nil {
		return fmt.Errorf("%s: missing descriptor: %w", op, ErrInvalidParameter)
	}

	var result *multierror.Error

	if d.EntityID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: entity ID not set: %w", op, ErrInvalidParameter))
	}
	if err := validateURL(op, "SSO URL", d.SSOURL); err != nil {
		result = multierror.Append(result, err)
	}
	if d.SLOURL != "" {
		if err := validateURL(op, "SLO URL", d.SLOURL); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

type Config struct {
	// EntityID is the globally unique identifier of this service provider.
	// It is used as the issuer on outbound messages and as the expected
	// audience on inbound assertions. (required)
	EntityID string

	// AssertionConsumerServiceURL is the endpoint where the IDP delivers
	// authentication responses. Must be an absolute http(s) URL. (required)
	AssertionConsumerServiceURL string

	// SingleLogoutServiceURL is the endpoint where the IDP delivers logout
	// requests and responses. Logout support is advertised in the service
	// provider metadata only when set.
	SingleLogoutServiceURL string

	// ProviderName is a human-readable name of this service provider,
	// carried in authentication requests.
	ProviderName string

	// DefaultRedirectPath is the local path users are sent to after login
	// or logout when no trusted relay target is available. Defaults to "/".
	DefaultRedirectPath string

	// UserIDAttribute names the assertion attribute that carries the stable
	// subject identifier used to look up or provision the local user.
	// Defaults to "uid".
	UserIDAttribute string

	// OutstandingTTL bounds how long an issued request waits for its
	// response before the correlation entry expires. Defaults to
	// DefaultOutstandingTTL.
	OutstandingTTL time.Duration

	// VerifyTimeout bounds a single response verification. Defaults to
	// DefaultVerifyTimeout.
	VerifyTimeout time.Duration

	// IdentityProviders lists the trusted identity providers. At least one
	// is required; entity IDs must be unique.
	IdentityProviders []*IdPDescriptor

	// ValidUntil is a function that defines until the generated service
	// provider metadata document is valid.
	ValidUntil ValidUntilFunc

	// GenerateRequestID generates xsd:ID conform message IDs.
	GenerateRequestID GenerateRequestIDFunc

	// Logger receives structured log output. Defaults to a no-op logger.
	Logger hclog.Logger
}

// NewConfig creates a new service provider Config. The entity ID and ACS URL
// identify this service provider, idps lists the identity providers it
// trusts.
//
// Supported options: WithLogger, WithProviderName,
// WithSingleLogoutServiceURL, WithDefaultRedirectPath, WithUserIDAttribute,
// WithOutstandingRequestTTL, WithVerifyTimeout.
func NewConfig(entityID, acsURL string, idps []*IdPDescriptor, opt ...Option) (*Config, error) {
	const op = "samlsp.NewConfig"

	opts := getConfigOptions(opt...)

	cfg := &Config{
		EntityID:                    entityID,
		AssertionConsumerServiceURL: acsURL,
		SingleLogoutServiceURL:      opts.singleLogoutServiceURL,
		ProviderName:                opts.providerName,
		DefaultRedirectPath:         opts.defaultRedirectPath,
		UserIDAttribute:             opts.userIDAttribute,
		OutstandingTTL:              opts.outstandingTTL,
		VerifyTimeout:               opts.verifyTimeout,
		IdentityProviders:           idps,
		ValidUntil:                  DefaultValidUntil,
		GenerateRequestID:           GenerateRequestID,
		Logger:                      opts.logger,
	}

	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}

	return cfg, nil
}

// GenerateRequestID generates an xsd:ID conform message ID.
// A UUID prefixed with an underscore.
func GenerateRequestID() (string, error) {
	newID, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}

	// Message IDs have to be xsd:ID, which means they need to start with an
	// underscore or letter, which is not always given for UUIDs.
	return fmt.Sprintf("_%s", newID), nil
}

// Validate validates the provided configuration.
func (c *Config) Validate() error {
	const op = "samlsp.Config.Validate"

	if c == nil {
		return fmt.Errorf("%s: missing config: %w", op, ErrInternal)
	}

	var result *multierror.Error

	if c.EntityID == "" {
		result = multierror.Append(result, fmt.Errorf("%s: entity ID not set: %w", op, ErrInvalidParameter))
	}
	if err := validateURL(op, "ACS URL", c.AssertionConsumerServiceURL); err != nil {
		result = multierror.Append(result, err)
	}
	if c.SingleLogoutServiceURL != "" {
		if err := validateURL(op, "SLO URL", c.SingleLogoutServiceURL); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if !strings.HasPrefix(c.DefaultRedirectPath, "/") {
		result = multierror.Append(result, fmt.Errorf("%s: default redirect path must start with \"/\": %w", op, ErrInvalidParameter))
	}
	if c.OutstandingTTL <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s: outstanding request TTL must be positive: %w", op, ErrInvalidParameter))
	}
	if c.VerifyTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s: verify timeout must be positive: %w", op, ErrInvalidParameter))
	}
	if c.ValidUntil == nil {
		result = multierror.Append(result, fmt.Errorf("%s: ValidUntil func not provided: %w", op, ErrInvalidParameter))
	}
	if c.GenerateRequestID == nil {
		result = multierror.Append(result, fmt.Errorf("%s: GenerateRequestID func not provided: %w", op, ErrInvalidParameter))
	}

	if len(c.IdentityProviders) == 0 {
		result = multierror.Append(result, fmt.Errorf("%s: no identity providers configured: %w", op, ErrInvalidParameter))
	}
	seen := make(map[string]struct{}, len(c.IdentityProviders))
	for i, idp := range c.IdentityProviders {
		if err := idp.Validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: identity provider %d: %w", op, i, err))
			continue
		}
		if _, ok := seen[idp.EntityID]; ok {
			result = multierror.Append(result, fmt.Errorf("%s: duplicate identity provider entity ID %q: %w", op, idp.EntityID, ErrInvalidParameter))
		}
		seen[idp.EntityID] = struct{}{}
	}

	return result.ErrorOrNil()
}

// DefaultValidUntil
func DefaultValidUntil() time.Time {
	return time.Now().Add(time.Hour * 24 * 365)
}

func validateURL(op, name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %s is not a valid URL: %w", op, name, ErrInvalidParameter)
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s: %s must be an absolute http(s) URL: %w", op, name, ErrInvalidParameter)
	}
	return nil
}

type configOptions struct {
	logger                 hclog.Logger
	providerName           string
	singleLogoutServiceURL string
	defaultRedirectPath    string
	userIDAttribute        string
	outstandingTTL         time.Duration
	verifyTimeout          time.Duration
}

func configOptionsDefault() configOptions {
	return configOptions{
		defaultRedirectPath: DefaultRedirectPath,
		userIDAttribute:     DefaultUserIDAttribute,
		outstandingTTL:      DefaultOutstandingTTL,
		verifyTimeout:       DefaultVerifyTimeout,
	}
}

func getConfigOptions(opt ...Option) configOptions {
	opts := configOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides a logger for the service provider. Defaults to a
// no-op logger.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.logger = l
		}
	}
}

// WithProviderName provides a human-readable service provider name that is
// carried in authentication requests.
func WithProviderName(name string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.providerName = name
		}
	}
}

// WithSingleLogoutServiceURL provides the endpoint where the IDP delivers
// logout requests and responses. Logout support is advertised in the
// service provider metadata only when set.
func WithSingleLogoutServiceURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.singleLogoutServiceURL = u
		}
	}
}

// WithDefaultRedirectPath provides the local path users are sent to when no
// trusted relay target is available.
func WithDefaultRedirectPath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.defaultRedirectPath = path
		}
	}
}

// WithUserIDAttribute provides the assertion attribute that identifies the
// local user.
func WithUserIDAttribute(attr string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.userIDAttribute = attr
		}
	}
}

// WithOutstandingRequestTTL bounds how long an issued request waits for its
// response.
func WithOutstandingRequestTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.outstandingTTL = ttl
		}
	}
}

// WithVerifyTimeout bounds a single response verification.
func WithVerifyTimeout(timeout time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.verifyTimeout = timeout
		}
	}
}
