package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/peopledoc/samlsp"
)

// SLOHandlerFunc serves the single logout endpoint in both directions:
//
//   - with a SAMLRequest parameter it answers identity provider initiated
//     logout for the caller's session;
//   - with a SAMLResponse parameter it finishes a logout this provider
//     started;
//   - with neither it starts logout for the caller's session, honoring an
//     optional next query parameter.
//
// Options:
// - WithSessionCookieName
// - WithSessionReader
func SLOHandlerFunc(sp *samlsp.ServiceProvider, opt ...samlsp.Option) (http.HandlerFunc, error) {
	const op = "handler.SLOHandlerFunc"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, samlsp.ErrInvalidParameter)
	}

	opts := getSessionOptions(opt...)
	logger := loggerOf(sp)

	return func(w http.ResponseWriter, r *http.Request) {
		values := r.URL.Query()
		if r.Method == http.MethodPost {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "malformed form body", http.StatusBadRequest)
				return
			}
			values = r.PostForm
		}

		sessionID := opts.read(r)

		switch {
		case values.Get("SAMLRequest") != "":
			redirect, _, err := sp.HandleLogoutRequest(
				r.Context(), values.Get("SAMLRequest"), sessionID, values.Get("RelayState"), opt...,
			)
			if err != nil {
				logger.Error("failed to handle logout request", "error", err)
			} else {
				opts.clear(w, r)
			}

			if redirect != nil {
				http.Redirect(w, r, redirect.String(), http.StatusFound)
				return
			}
			if err != nil {
				http.Error(w, "failed to handle logout request", http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)

		case values.Get("SAMLResponse") != "":
			next, err := sp.HandleLogoutResponse(r.Context(), values.Get("SAMLResponse"), opt...)
			if err != nil {
				logger.Error("failed to handle logout response", "error", err)
				switch {
				case errors.Is(err, samlsp.ErrLogoutFailed):
					http.Error(w, "identity provider reported logout failure", http.StatusBadGateway)
				case errors.Is(err, samlsp.ErrMalformedMessage),
					errors.Is(err, samlsp.ErrUnknownRequest),
					errors.Is(err, samlsp.ErrUnknownIdP):
					http.Error(w, "failed to handle logout response", http.StatusBadRequest)
				default:
					http.Error(w, "failed to handle logout response", http.StatusInternalServerError)
				}
				return
			}

			opts.clear(w, r)
			http.Redirect(w, r, next, http.StatusFound)

		default:
			if sessionID == "" {
				http.Redirect(w, r, sp.Config().DefaultRedirectPath, http.StatusFound)
				return
			}

			redirect, _, err := sp.LogoutRequestRedirect(r.Context(), sessionID, r.URL.Query().Get("next"), opt...)
			if err != nil {
				logger.Error("failed to start logout", "error", err)
				http.Error(w, "failed to start logout", http.StatusInternalServerError)
				return
			}
			if redirect == nil {
				// The session has no SAML binding to log out against;
				// drop the local session cookie and stop there.
				opts.clear(w, r)
				http.Redirect(w, r, sp.Config().DefaultRedirectPath, http.StatusFound)
				return
			}

			http.Redirect(w, r, redirect.String(), http.StatusFound)
		}
	}, nil
}
