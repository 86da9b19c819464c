package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Keys     KeySource
	Verifier *Verifier
	Sessions *SessionManager
	OAuth    *oauth2.Config
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger) (*App, error) {
	keys := NewKeySource(cfg.SSO, logger)
	verifier := NewVerifier(keys, cfg.SSO.ClientID, logger)
	sessions := NewSessionManager(cfg, verifier, logger)

	oauthCfg := &oauth2.Config{
		ClientID:    cfg.SSO.ClientID,
		RedirectURL: cfg.CallbackURL(),
		Endpoint: oauth2.Endpoint{
			AuthURL: cfg.SSO.LoginURL,
		},
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Keys:     keys,
		Verifier: verifier,
		Sessions: sessions,
		OAuth:    oauthCfg,
	}, nil
}

// handleLogin starts a login attempt: bind a fresh state value to the
// browser, then send it to the identity provider.
func (a *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := a.Sessions.IssueState(w)
	if err != nil {
		a.Logger.Error("login state issue failed", "error", err)
		http.Error(w, "login unavailable", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, a.OAuth.AuthCodeURL(state), http.StatusFound)
}

// handleCallback consumes the identity provider's token, verifies it,
// and establishes the session cookie.
func (a *App) handleCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	state := r.URL.Query().Get("state")

	if token == "" {
		http.Error(w, "missing token parameter", http.StatusBadRequest)
		return
	}

	if a.Config.SSO.EnforceState {
		if err := a.Sessions.CheckState(r, state); err != nil {
			a.Logger.Warn("callback state rejected", "error", err)
			http.Error(w, "state verification failed", http.StatusBadRequest)
			return
		}
	}
	a.Sessions.ClearState(w)

	claims, err := a.Sessions.Verify(r.Context(), token)
	if err != nil {
		a.rejectToken(w, "callback", err)
		return
	}

	a.Sessions.Issue(w, token)
	a.Logger.Info("session established", "sub", claims.Subject, "client_id", claims.ClientID)
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleUser returns the identity claims behind the current session.
func (a *App) handleUser(w http.ResponseWriter, r *http.Request) {
	claims, err := a.Sessions.Read(r)
	if err != nil {
		a.rejectToken(w, "session read", err)
		return
	}
	if claims == nil {
		writeJSONStatus(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	writeJSON(w, map[string]UserInfo{"user": NewUserInfo(claims)})
}

// handleLogout clears the session. It always succeeds, even when no
// session exists.
func (a *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.Sessions.Clear(w)
	writeJSON(w, map[string]bool{"success": true})
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// rejectToken maps a verification failure onto the externally visible
// response: configuration errors surface as 500, every token
// rejection collapses into one indistinguishable 401. The classified
// reason goes to the log only.
func (a *App) rejectToken(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrKeyUnavailable) {
		a.Logger.Error("verification key unavailable", "op", op, "error", err)
		writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": "configuration error"})
		return
	}

	a.Logger.Warn("token rejected", "op", op, "reason", classifyReason(err))
	writeJSONStatus(w, http.StatusUnauthorized, map[string]string{"error": "token rejected"})
}

func classifyReason(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrClientMismatch):
		return "client_mismatch"
	case errors.Is(err, ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	default:
		return "invalid"
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
