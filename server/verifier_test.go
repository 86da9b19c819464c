package server

import (
	"context"
	"crypto/rsa"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testClientID = "app1"

func mintHS256(t *testing.T, secret []byte, claims IdentityClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func mintRS256(t *testing.T, key *rsa.PrivateKey, claims IdentityClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func identityClaims(clientID string, exp time.Time) IdentityClaims {
	return IdentityClaims{
		Email:    "alice@example.com",
		Username: "alice",
		Role:     "admin",
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func newTestVerifier(secret []byte) *Verifier {
	return NewVerifier(NewStaticKeySource(secret), testClientID, testLogger())
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	secret := []byte("test-secret")
	want := identityClaims(testClientID, time.Now().Add(time.Hour))
	raw := mintHS256(t, secret, want)

	claims, err := newTestVerifier(secret).Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Errorf("subject = %q, want user-42", claims.Subject)
	}
	if claims.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", claims.Email)
	}
	if claims.Username != "alice" {
		t.Errorf("username = %q, want alice", claims.Username)
	}
	if claims.Role != "admin" {
		t.Errorf("role = %q, want admin", claims.Role)
	}
	if claims.ClientID != testClientID {
		t.Errorf("client_id = %q, want %q", claims.ClientID, testClientID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	raw := mintHS256(t, []byte("other-secret"), identityClaims(testClientID, time.Now().Add(time.Hour)))

	_, err := newTestVerifier([]byte("test-secret")).Verify(context.Background(), raw)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
	if !TokenRejected(err) {
		t.Fatalf("signature failure must count as a token rejection")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	raw := mintHS256(t, secret, identityClaims(testClientID, time.Now().Add(-time.Minute)))

	_, err := newTestVerifier(secret).Verify(context.Background(), raw)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsClientMismatch(t *testing.T) {
	secret := []byte("test-secret")
	raw := mintHS256(t, secret, identityClaims("other_app", time.Now().Add(time.Hour)))

	_, err := newTestVerifier(secret).Verify(context.Background(), raw)
	if !errors.Is(err, ErrClientMismatch) {
		t.Fatalf("expected ErrClientMismatch, got %v", err)
	}
	if !TokenRejected(err) {
		t.Fatalf("client mismatch must count as a token rejection")
	}
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	for _, raw := range []string{"", "not-a-jwt", "a.b"} {
		_, err := newTestVerifier([]byte("test-secret")).Verify(context.Background(), raw)
		if !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("token %q: expected ErrTokenMalformed, got %v", raw, err)
		}
	}
}

func TestVerifyRejectsCrossAlgorithmToken(t *testing.T) {
	// An RS256 token presented to an HS256 verifier must fail on the
	// algorithm check, not be verified with the secret as an RSA key.
	key := generateTestKey(t)
	raw := mintRS256(t, key, identityClaims(testClientID, time.Now().Add(time.Hour)))

	_, err := newTestVerifier([]byte("test-secret")).Verify(context.Background(), raw)
	if err == nil {
		t.Fatalf("expected rejection of RS256 token under hs256 mode")
	}
	if !TokenRejected(err) {
		t.Fatalf("algorithm mismatch must be a token rejection, got %v", err)
	}
}

func TestVerifyRS256RoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := generateTestKey(t)
	path := filepath.Join(dir, "sso_public.pem")
	writePublicKeyPEM(t, path, &key.PublicKey)

	v := NewVerifier(NewFileKeySource(path, "", testLogger()), testClientID, testLogger())

	raw := mintRS256(t, key, identityClaims(testClientID, time.Now().Add(time.Hour)))
	claims, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Errorf("subject = %q, want user-42", claims.Subject)
	}

	// An HS256 token signed with the PEM bytes as secret must not pass.
	forged := mintHS256(t, []byte("anything"), identityClaims(testClientID, time.Now().Add(time.Hour)))
	if _, err := v.Verify(context.Background(), forged); err == nil {
		t.Fatalf("expected rejection of HS256 token under rs256 mode")
	}
}

func TestVerifyKeyUnavailable(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "missing.pem")
	v := NewVerifier(NewFileKeySource(missing, filepath.Join(dir, "default.pem"), testLogger()), testClientID, testLogger())

	raw := mintHS256(t, []byte("irrelevant"), identityClaims(testClientID, time.Now().Add(time.Hour)))
	_, err := v.Verify(context.Background(), raw)
	if !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
	if TokenRejected(err) {
		t.Fatalf("a missing key is a configuration error, not a token rejection")
	}
}
