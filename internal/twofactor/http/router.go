// Package http exposes the two-factor engine to its host application
// over a JSON API. Every endpoint except the health probes and the JWKS
// document requires the shared API key: the caller is the host's login
// layer, never a browser.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/authkit-dev/twostep/internal/twofactor/service"
	"github.com/authkit-dev/twostep/internal/twofactor/store"
	"github.com/authkit-dev/twostep/pkg/httpx"
	"github.com/authkit-dev/twostep/pkg/jwtx"
	"github.com/authkit-dev/twostep/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	apiKey       string
	signer       *jwtx.Signer
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store      store.Store
	Login      *service.LoginService
	Enrollment *service.EnrollmentService
	Directory  *service.StoredDirectory
}

func NewRouter(
	apiKey string,
	signer *jwtx.Signer,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		apiKey:       apiKey,
		signer:       signer,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerLogin()
	r.registerSettings()
	r.registerTOTP()
	r.registerBackupCodes()
	r.registerSecurityKeys()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// secured wraps a handler with the shared API key check.
func (r *Router) secured(h http.Handler) http.Handler {
	return httpx.Chain(h, httpx.APIKeyMiddleware(r.apiKey))
}

func (r *Router) registerLogin() {
	h := &LoginHandler{Login: r.Login}

	r.Mux.Handle("POST /v1/login/start", r.secured(http.HandlerFunc(h.HandleStart)))
	r.Mux.Handle("POST /v1/login/switch", r.secured(http.HandlerFunc(h.HandleSwitch)))
	r.Mux.Handle("POST /v1/login/verify", r.secured(http.HandlerFunc(h.HandleVerify)))
}

func (r *Router) registerSettings() {
	h := &SettingsHandler{Enrollment: r.Enrollment}

	r.Mux.Handle("GET /v1/users/{user_id}/providers",
		r.secured(http.HandlerFunc(h.HandleOverview)))
	r.Mux.Handle("PUT /v1/users/{user_id}/providers",
		r.secured(http.HandlerFunc(h.HandleSetEnabled)))
	r.Mux.Handle("PUT /v1/users/{user_id}/providers/primary",
		r.secured(http.HandlerFunc(h.HandleSetPrimary)))

	dir := &DirectoryHandler{Directory: r.Directory}
	r.Mux.Handle("PUT /v1/users/{user_id}/email",
		r.secured(http.HandlerFunc(dir.HandleSetEmail)))
}

func (r *Router) registerTOTP() {
	h := &TOTPHandler{Enrollment: r.Enrollment}

	r.Mux.Handle("POST /v1/users/{user_id}/totp",
		r.secured(http.HandlerFunc(h.HandleStart)))
	r.Mux.Handle("POST /v1/users/{user_id}/totp/confirm",
		r.secured(http.HandlerFunc(h.HandleConfirm)))
	r.Mux.Handle("DELETE /v1/users/{user_id}/totp",
		r.secured(http.HandlerFunc(h.HandleRemove)))
}

func (r *Router) registerBackupCodes() {
	h := &BackupCodesHandler{Enrollment: r.Enrollment}

	r.Mux.Handle("POST /v1/users/{user_id}/backup-codes",
		r.secured(http.HandlerFunc(h.HandleGenerate)))
}

func (r *Router) registerSecurityKeys() {
	h := &SecurityKeysHandler{Enrollment: r.Enrollment}

	r.Mux.Handle("POST /v1/users/{user_id}/keys/registrations",
		r.secured(http.HandlerFunc(h.HandleStartRegistration)))
	r.Mux.Handle("POST /v1/users/{user_id}/keys",
		r.secured(http.HandlerFunc(h.HandleCompleteRegistration)))
	r.Mux.Handle("GET /v1/users/{user_id}/keys",
		r.secured(http.HandlerFunc(h.HandleList)))
	r.Mux.Handle("PATCH /v1/users/{user_id}/keys/{key_id}",
		r.secured(http.HandlerFunc(h.HandleRename)))
	r.Mux.Handle("DELETE /v1/users/{user_id}/keys/{key_id}",
		r.secured(http.HandlerFunc(h.HandleRemove)))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.signer))
	r.Mux.Handle("GET /.well-known/jwks.json", JWKSHandler(r.signer))
}
