package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const stateCookieName = "sso_state"

// ErrStateMismatch reports a callback whose state parameter does not
// match the value issued before the login redirect.
var ErrStateMismatch = errors.New("login state mismatch")

// SessionManager owns the bearer-token session cookie. Sessions are
// stateless: the cookie value is the verified token itself, so every
// read re-runs the verifier and no server-side store exists.
type SessionManager struct {
	verifier     *Verifier
	logger       *slog.Logger
	cookieName   string
	ttl          time.Duration
	secure       bool
	cookieDomain string
}

// NewSessionManager constructs a session manager honouring config.
func NewSessionManager(cfg Config, verifier *Verifier, logger *slog.Logger) *SessionManager {
	return &SessionManager{
		verifier:     verifier,
		logger:       logger,
		cookieName:   cfg.Session.CookieName,
		ttl:          cfg.Session.TTL,
		secure:       !cfg.Server.DevMode,
		cookieDomain: cfg.Server.CookieDomain,
	}
}

// Issue sets the session cookie carrying an already-verified token.
// The signed artifact is reused as-is; no re-signing happens here.
func (sm *SessionManager) Issue(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    token,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.ttl.Seconds()),
	})
}

// Read extracts the session token from the request cookie and
// re-verifies it. An absent cookie is the normal unauthenticated
// state and returns (nil, nil); a present but invalid cookie returns
// the classified verification error.
func (sm *SessionManager) Read(r *http.Request) (*IdentityClaims, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		return nil, nil
	}
	claims, err := sm.verifier.Verify(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Clear removes the session cookie. It never fails: clearing an
// absent cookie is a no-op success.
func (sm *SessionManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sm.cookieName,
		Value:    "",
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// IssueState generates a random login state, binds it to the browser
// via a short-lived cookie, and returns it for the redirect URL.
func (sm *SessionManager) IssueState(w http.ResponseWriter) (string, error) {
	state, err := randomToken(16)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(DefaultStateTTL.Seconds()),
	})
	return state, nil
}

// CheckState compares the callback state parameter against the value
// stored before the redirect.
func (sm *SessionManager) CheckState(r *http.Request, state string) error {
	if state == "" {
		return fmt.Errorf("%w: missing state parameter", ErrStateMismatch)
	}
	cookie, err := r.Cookie(stateCookieName)
	if err != nil {
		return fmt.Errorf("%w: no pending login", ErrStateMismatch)
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		return ErrStateMismatch
	}
	return nil
}

// ClearState drops the state cookie once the callback has consumed it.
func (sm *SessionManager) ClearState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		Domain:   sm.cookieDomain,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// Verify exposes the shared verifier for the callback path. Callback
// and session reads must use the same instance.
func (sm *SessionManager) Verify(ctx context.Context, token string) (*IdentityClaims, error) {
	return sm.verifier.Verify(ctx, token)
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
