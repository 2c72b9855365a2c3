package samlsp

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateRelayState checks that a relay state received from the outside
// names a safe local redirect target and returns it. Only absolute paths
// within this service provider are trusted; anything that could leave the
// site, such as absolute URLs, protocol-relative targets, or encoded
// variants thereof, reports ErrUntrustedRelayTarget.
func ValidateRelayState(relayState string) (string, error) {
	const op = "samlsp.ValidateRelayState"

	rs := strings.TrimSpace(relayState)
	if rs == "" {
		return "", fmt.Errorf("%s: empty relay state: %w", op, ErrUntrustedRelayTarget)
	}
	if !strings.HasPrefix(rs, "/") {
		return "", fmt.Errorf("%s: %q is not a local path: %w", op, rs, ErrUntrustedRelayTarget)
	}
	// "//host" is protocol-relative and leaves the site.
	if strings.HasPrefix(rs, "//") {
		return "", fmt.Errorf("%s: %q is protocol-relative: %w", op, rs, ErrUntrustedRelayTarget)
	}

	if strings.ContainsAny(rs, "\r\n") {
		return "", fmt.Errorf("%s: relay state contains control characters: %w", op, ErrUntrustedRelayTarget)
	}

	u, err := url.Parse(rs)
	if err != nil {
		return "", fmt.Errorf("%s: %q does not parse: %w", op, rs, ErrUntrustedRelayTarget)
	}
	if u.Scheme != "" || u.Host != "" {
		return "", fmt.Errorf("%s: %q carries a scheme or host: %w", op, rs, ErrUntrustedRelayTarget)
	}

	// A percent-encoded "//" prefix unfolds to a protocol-relative target
	// after one round of decoding.
	if unescaped, err := url.QueryUnescape(rs); err == nil && strings.HasPrefix(unescaped, "//") {
		return "", fmt.Errorf("%s: %q decodes to a protocol-relative target: %w", op, rs, ErrUntrustedRelayTarget)
	}

	return rs, nil
}

// safeRedirectPath resolves a relay target to the path the user will be
// sent to, falling back to the configured default when the target is empty
// or not trusted.
func (sp *ServiceProvider) safeRedirectPath(relayState string) string {
	if relayState == "" {
		return sp.cfg.DefaultRedirectPath
	}

	target, err := ValidateRelayState(relayState)
	if err != nil {
		sp.logger.Warn("discarding untrusted relay target", "target", relayState)
		return sp.cfg.DefaultRedirectPath
	}

	return target
}
