package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/peopledoc/samlsp"
)

// ACSHandlerFunc serves the assertion consumer service. It accepts the
// identity provider's POSTed response, establishes the local session and
// sends the user on to the target recorded at login time.
//
// Options:
// - WithSessionCookieName
// - WithSessionWriter
func ACSHandlerFunc(sp *samlsp.ServiceProvider, opt ...samlsp.Option) (http.HandlerFunc, error) {
	const op = "handler.ACSHandlerFunc"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, samlsp.ErrInvalidParameter)
	}

	opts := getSessionOptions(opt...)
	logger := loggerOf(sp)

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed form body", http.StatusBadRequest)
			return
		}

		samlResp := r.PostForm.Get("SAMLResponse")
		if samlResp == "" {
			http.Error(w, "missing SAMLResponse", http.StatusBadRequest)
			return
		}

		result, err := sp.ParseResponse(r.Context(), samlResp, opt...)
		if err != nil {
			logger.Error("failed to handle SAML response", "error", err)
			switch {
			case errors.Is(err, samlsp.ErrValidationUnavailable):
				http.Error(w, "validation unavailable, retry later", http.StatusServiceUnavailable)
			case errors.Is(err, samlsp.ErrMalformedMessage):
				http.Error(w, "malformed SAML response", http.StatusBadRequest)
			default:
				http.Error(w, "authentication failed", http.StatusUnauthorized)
			}
			return
		}

		sessionID, _, err := sp.EstablishSession(r.Context(), result)
		if err != nil {
			logger.Error("failed to establish session", "error", err)
			http.Error(w, "failed to establish session", http.StatusInternalServerError)
			return
		}

		if err := opts.write(w, r, sessionID); err != nil {
			logger.Error("failed to attach session", "error", err)
			http.Error(w, "failed to establish session", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, result.RedirectTo, http.StatusFound)
	}, nil
}
