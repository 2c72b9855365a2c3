package handler

import (
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-hclog"

	"github.com/peopledoc/samlsp"
	"github.com/peopledoc/samlsp/models/core"
)

//go:embed wayf.gohtml
var wayfTempl string

var wayfTemplate = template.Must(template.New("wayf").Parse(wayfTempl))

type loginOptions struct {
	binding core.ServiceBinding
}

func loginOptionsDefault() loginOptions {
	return loginOptions{
		binding: core.ServiceBindingHTTPRedirect,
	}
}

func getLoginOptions(opt ...samlsp.Option) loginOptions {
	opts := loginOptionsDefault()
	samlsp.ApplyOpts(&opts, opt...)
	return opts
}

// WithLoginBinding selects the binding used to deliver authentication
// requests to the identity provider. It defaults to HTTP-Redirect.
func WithLoginBinding(binding core.ServiceBinding) samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*loginOptions); ok {
			o.binding = binding
		}
	}
}

// LoginHandlerFunc starts the login flow. The idp query parameter names the
// identity provider to use; without it a single configured provider is used
// directly, while several configured providers render a chooser page. The
// next query parameter records where the user should land after the round
// trip and is validated like a relay state.
//
// Options:
// - WithLoginBinding
// - samlsp request options such as samlsp.ForceAuthn
func LoginHandlerFunc(sp *samlsp.ServiceProvider, opt ...samlsp.Option) (http.HandlerFunc, error) {
	const op = "handler.LoginHandlerFunc"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, samlsp.ErrInvalidParameter)
	}

	opts := getLoginOptions(opt...)
	logger := loggerOf(sp)

	return func(w http.ResponseWriter, r *http.Request) {
		next := r.URL.Query().Get("next")
		if next != "" {
			validated, err := samlsp.ValidateRelayState(next)
			if err != nil {
				logger.Warn("discarding untrusted relay target", "target", next)
				next = ""
			} else {
				next = validated
			}
		}

		sel, err := sp.SelectIdP(r.URL.Query().Get("idp"))
		if err != nil {
			if errors.Is(err, samlsp.ErrUnknownIdP) {
				http.Error(w, "unknown identity provider", http.StatusBadRequest)
				return
			}
			logger.Error("failed to select identity provider", "error", err)
			http.Error(w, "failed to start login", http.StatusInternalServerError)
			return
		}

		if sel.IdP == nil {
			renderWAYF(w, r, logger, sel.Candidates, next)
			return
		}

		switch opts.binding {
		case core.ServiceBindingHTTPPost:
			templ, _, err := sp.AuthnRequestPost(r.Context(), sel.IdP, next, opt...)
			if err != nil {
				logger.Error("failed to create authentication request", "error", err)
				http.Error(w, "failed to start login", http.StatusInternalServerError)
				return
			}

			samlsp.WritePostBindingRequestHeader(w)
			if _, err := w.Write(templ); err != nil {
				logger.Error("failed to serve post binding request", "error", err)
			}
		default:
			redirectURL, _, err := sp.AuthnRequestRedirect(r.Context(), sel.IdP, next, opt...)
			if err != nil {
				logger.Error("failed to create authentication request", "error", err)
				http.Error(w, "failed to start login", http.StatusInternalServerError)
				return
			}

			http.Redirect(w, r, redirectURL.String(), http.StatusFound)
		}
	}, nil
}

type wayfProvider struct {
	Name string
	URL  string
}

func renderWAYF(
	w http.ResponseWriter,
	r *http.Request,
	logger hclog.Logger,
	candidates []*samlsp.IdPDescriptor,
	next string,
) {
	providers := make([]wayfProvider, 0, len(candidates))
	for _, c := range candidates {
		q := url.Values{}
		q.Set("idp", c.EntityID)
		if next != "" {
			q.Set("next", next)
		}

		providers = append(providers, wayfProvider{
			Name: c.Name(),
			URL:  r.URL.Path + "?" + q.Encode(),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := wayfTemplate.Execute(w, struct{ Providers []wayfProvider }{providers}); err != nil {
		logger.Error("failed to render identity provider chooser", "error", err)
	}
}
