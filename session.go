package samlsp

import (
	"context"
	"fmt"
)

// IdentityStore is the application hook that maps a validated SAML subject
// to a local user, provisioning one on first contact when the deployment
// allows it.
type IdentityStore interface {
	// FindOrCreateUser resolves the local user identified by the given
	// attribute name and value and returns its user ID.
	FindOrCreateUser(ctx context.Context, attribute, value string) (string, error)
}

// SessionManager is the application hook that owns local sessions.
type SessionManager interface {
	// CreateSession opens a session for the given user and returns its ID.
	CreateSession(ctx context.Context, userID string) (string, error)

	// DestroySession closes the given session. Destroying an absent
	// session is not an error.
	DestroySession(ctx context.Context, sessionID string) error
}

// EstablishSession turns a validated assertion result into a local session:
// the subject is resolved through the identity store, a session is created,
// and the binding between the two is recorded for later logout. No session
// survives a failure in any of those steps.
//
// It returns the new session ID and the local user ID.
func (sp *ServiceProvider) EstablishSession(ctx context.Context, result *AssertionResult) (string, string, error) {
	const op = "samlsp.ServiceProvider.EstablishSession"

	if sp == nil {
		return "", "", fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}
	if result == nil {
		return "", "", fmt.Errorf("%s: missing assertion result: %w", op, ErrInvalidParameter)
	}
	if isNil(sp.identity) {
		return "", "", fmt.Errorf("%s: no identity store configured: %w", op, ErrInternal)
	}
	if isNil(sp.sessions) {
		return "", "", fmt.Errorf("%s: no session manager configured: %w", op, ErrInternal)
	}

	attr := sp.cfg.UserIDAttribute
	values := result.Attributes[attr]
	if len(values) == 0 || values[0] == "" {
		return "", "", fmt.Errorf("%s: assertion carries no %q attribute: %w", op, attr, ErrInvalidParameter)
	}

	userID, err := sp.identity.FindOrCreateUser(ctx, attr, values[0])
	if err != nil {
		return "", "", fmt.Errorf("%s: failed to resolve user: %w", op, err)
	}

	sessionID, err := sp.sessions.CreateSession(ctx, userID)
	if err != nil {
		return "", "", fmt.Errorf("%s: failed to create session: %w", op, err)
	}

	binding := &SessionBinding{
		SessionID:    sessionID,
		UserID:       userID,
		NameID:       result.NameID,
		NameIDFormat: result.NameIDFormat,
		SessionIndex: result.SessionIndex,
		IdPEntityID:  result.Issuer,
	}

	if err := sp.bindings.Set(ctx, binding); err != nil {
		// The session must not outlive a missing binding, logout could
		// never reach it.
		if derr := sp.sessions.DestroySession(ctx, sessionID); derr != nil {
			sp.logger.Error("failed to roll back session after binding write failure",
				"session_id", sessionID, "error", derr)
		}
		return "", "", fmt.Errorf("%s: failed to record session binding: %w", op, err)
	}

	return sessionID, userID, nil
}
