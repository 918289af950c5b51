// Package httpapi is the HTTP boundary of the service. It stays thin:
// requests are decoded, handed to the session manager and the
// directories, and the results mapped onto status codes. All policy
// lives below this package.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"studyhub.org/internal/audit"
	"studyhub.org/internal/directory"
	"studyhub.org/internal/obs"
	"studyhub.org/internal/session"
)

// ReadyProbe reports whether the backing store is reachable. A nil DB
// (file-backed mode) is always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	manager    *session.Manager
	users      *directory.Users
	tenants    *directory.Tenants
	recorder   *audit.Recorder
	readyProbe ReadyProbe
	version    string
}

func New(manager *session.Manager, users *directory.Users, tenants *directory.Tenants, recorder *audit.Recorder, rp ReadyProbe, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		manager:    manager,
		users:      users,
		tenants:    tenants,
		recorder:   recorder,
		readyProbe: rp,
		version:    version,
	}

	// health/ready
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	// auth
	a.mux.Handle("/v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), 10, 5))
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/session", a.handleSession)
	a.mux.Handle("/v1/auth/register", RateLimit(http.HandlerFunc(a.handleRegister), 10, 5))
	a.mux.HandleFunc("/v1/auth/password", a.handlePasswordChange)

	// admin
	a.mux.HandleFunc("/v1/admin/audit", a.handleAuditQuery)
	a.mux.HandleFunc("/v1/admin/users", a.handleUsers)
	a.mux.HandleFunc("/v1/admin/users/", a.handleUserByID)
	a.mux.HandleFunc("/v1/admin/sessions", a.handleSessionMetrics)
	a.mux.HandleFunc("/v1/admin/stats", a.handleStats)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withSession(h)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = RequestID(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "studyhub-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
