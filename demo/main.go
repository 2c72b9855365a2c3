// Demo service provider wired against a real identity provider.
//
// Configure it through the environment:
//
//	SAMLSP_BASE_URL      externally visible base URL, default http://localhost:8000
//	SAMLSP_ENTITY_ID     entity ID of this provider, default <base URL>/saml/metadata
//	SAMLSP_METADATA_URL  one or more IdP metadata URLs, comma separated
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/peopledoc/samlsp"
	"github.com/peopledoc/samlsp/handler"
)

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "samlsp-demo",
		Level: hclog.Debug,
	})

	baseURL := envOr("SAMLSP_BASE_URL", "http://localhost:8000")
	entityID := envOr("SAMLSP_ENTITY_ID", baseURL+"/saml/metadata")

	var idps []*samlsp.IdPDescriptor
	for _, u := range strings.Split(os.Getenv("SAMLSP_METADATA_URL"), ",") {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}

		idp, err := samlsp.FetchIdPMetadata(context.Background(), u)
		exitOnError(err)

		logger.Info("registered identity provider", "entity_id", idp.EntityID, "sso_url", idp.SSOURL)
		idps = append(idps, idp)
	}
	if len(idps) == 0 {
		exitOnError(fmt.Errorf("SAMLSP_METADATA_URL must name at least one identity provider metadata URL"))
	}

	cfg, err := samlsp.NewConfig(
		entityID,
		baseURL+"/saml/acs",
		idps,
		samlsp.WithSingleLogoutServiceURL(baseURL+"/saml/slo"),
		samlsp.WithProviderName("samlsp demo"),
		samlsp.WithLogger(logger),
	)
	exitOnError(err)

	users := newDemoDirectory()

	sp, err := samlsp.NewServiceProvider(
		cfg,
		samlsp.WithIdentityStore(users),
		samlsp.WithSessionManager(users),
		samlsp.WithMetricsRecorder(samlsp.NewPrometheusRecorder()),
	)
	exitOnError(err)

	login, err := handler.LoginHandlerFunc(sp)
	exitOnError(err)
	acs, err := handler.ACSHandlerFunc(sp)
	exitOnError(err)
	slo, err := handler.SLOHandlerFunc(sp)
	exitOnError(err)
	metadata, err := handler.MetadataHandlerFunc(sp)
	exitOnError(err)

	mux := http.NewServeMux()
	mux.HandleFunc("/saml/login", login)
	mux.HandleFunc("/saml/acs", acs)
	mux.HandleFunc("/saml/slo", slo)
	mux.HandleFunc("/saml/metadata", metadata)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", users.whoami)

	logger.Info("listening", "addr", ":8000", "login", baseURL+"/saml/login")

	exitOnError(http.ListenAndServe(":8000", mux))
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("failed to run demo: %s\n", err.Error())
		os.Exit(1)
	}
}

// demoDirectory is an in-memory user directory and session manager.
type demoDirectory struct {
	mu       sync.Mutex
	users    map[string]string // attribute value -> user ID
	sessions map[string]string // session ID -> user ID
}

func newDemoDirectory() *demoDirectory {
	return &demoDirectory{
		users:    map[string]string{},
		sessions: map[string]string{},
	}
}

func (d *demoDirectory) FindOrCreateUser(_ context.Context, attribute, value string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := attribute + "=" + value
	if id, ok := d.users[key]; ok {
		return id, nil
	}

	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}
	d.users[key] = id

	return id, nil
}

func (d *demoDirectory) CreateSession(_ context.Context, userID string) (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.sessions[id] = userID
	d.mu.Unlock()

	return id, nil
}

func (d *demoDirectory) DestroySession(_ context.Context, sessionID string) error {
	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()

	return nil
}

func (d *demoDirectory) whoami(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(handler.DefaultSessionCookie)
	if err != nil {
		fmt.Fprint(w, `<html><body><p>Not logged in.</p><p><a href="/saml/login">Log in</a></p></body></html>`)
		return
	}

	d.mu.Lock()
	userID, ok := d.sessions[c.Value]
	d.mu.Unlock()

	if !ok {
		fmt.Fprint(w, `<html><body><p>Session expired.</p><p><a href="/saml/login">Log in</a></p></body></html>`)
		return
	}

	fmt.Fprintf(w, `<html><body><p>Logged in as %s.</p><p><a href="/saml/slo">Log out</a></p></body></html>`, userID)
}
