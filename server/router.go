package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with all relying-party endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Get("/healthz", a.handleHealthz)

	r.Get("/sso/login", a.handleLogin)
	r.Get("/sso/callback", a.handleCallback)

	r.Get("/api/user", a.handleUser)
	r.Post("/api/logout", a.handleLogout)

	if a.Config.Server.StaticDir != "" {
		fs := http.FileServer(http.Dir(a.Config.Server.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}
