// Package handler provides net/http handlers for the endpoints a SAML
// service provider exposes: login, the assertion consumer service, single
// logout and metadata.
package handler

import (
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/peopledoc/samlsp"
)

// DefaultSessionCookie is the cookie carrying the local session ID.
const DefaultSessionCookie = "samlsp_session"

type sessionOptions struct {
	cookieName string
	writer     func(w http.ResponseWriter, r *http.Request, sessionID string) error
	reader     func(r *http.Request) string
}

func sessionOptionsDefault() sessionOptions {
	return sessionOptions{
		cookieName: DefaultSessionCookie,
	}
}

func getSessionOptions(opt ...samlsp.Option) sessionOptions {
	opts := sessionOptionsDefault()
	samlsp.ApplyOpts(&opts, opt...)
	return opts
}

// WithSessionCookieName changes the name of the cookie the default session
// reader and writer use.
func WithSessionCookieName(name string) samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.cookieName = name
		}
	}
}

// WithSessionWriter replaces how the assertion consumer handler attaches an
// established session to the response. The default sets an HttpOnly cookie.
func WithSessionWriter(fn func(w http.ResponseWriter, r *http.Request, sessionID string) error) samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.writer = fn
		}
	}
}

// WithSessionReader replaces how the logout handler finds the caller's
// session ID. The default reads the session cookie.
func WithSessionReader(fn func(r *http.Request) string) samlsp.Option {
	return func(o interface{}) {
		if o, ok := o.(*sessionOptions); ok {
			o.reader = fn
		}
	}
}

func (o sessionOptions) write(w http.ResponseWriter, r *http.Request, sessionID string) error {
	if o.writer != nil {
		return o.writer(w, r, sessionID)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     o.cookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	return nil
}

func (o sessionOptions) read(r *http.Request) string {
	if o.reader != nil {
		return o.reader(r)
	}

	c, err := r.Cookie(o.cookieName)
	if err != nil {
		return ""
	}

	return c.Value
}

func (o sessionOptions) clear(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     o.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   -1,
	})
}

func loggerOf(sp *samlsp.ServiceProvider) hclog.Logger {
	if logger := sp.Config().Logger; logger != nil {
		return logger
	}
	return hclog.NewNullLogger()
}
