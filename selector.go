package samlsp

import "fmt"

// Selection is the outcome of resolving which identity provider should
// handle a login.
type Selection struct {
	// IdP is the resolved provider. Nil when the caller has to present a
	// provider choice first.
	IdP *IdPDescriptor

	// Candidates lists the configured providers in configuration order.
	// Populated only when IdP is nil.
	Candidates []*IdPDescriptor
}

// SelectIdP resolves which identity provider should handle a login.
//
// With an explicit entity ID the matching provider is returned, or
// ErrUnknownIdP when it is not configured. Without one, a single configured
// provider is chosen directly; multiple providers yield a nil IdP together
// with the candidate list so the caller can ask the user to pick one.
func (sp *ServiceProvider) SelectIdP(explicit string) (*Selection, error) {
	const op = "samlsp.ServiceProvider.SelectIdP"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, ErrInternal)
	}

	if explicit != "" {
		idp, ok := sp.idps[explicit]
		if !ok {
			return nil, fmt.Errorf("%s: identity provider %q is not configured: %w", op, explicit, ErrUnknownIdP)
		}
		return &Selection{IdP: idp}, nil
	}

	if len(sp.cfg.IdentityProviders) == 1 {
		return &Selection{IdP: sp.cfg.IdentityProviders[0]}, nil
	}

	candidates := make([]*IdPDescriptor, len(sp.cfg.IdentityProviders))
	copy(candidates, sp.cfg.IdentityProviders)

	return &Selection{Candidates: candidates}, nil
}
