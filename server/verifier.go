package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
)

// Classified verification failures. ErrKeyUnavailable is a
// configuration problem (operator-fixable, 5xx class); the rest mean
// the presented token is bad and the user must re-authenticate.
var (
	ErrKeyUnavailable   = errors.New("verification key unavailable")
	ErrTokenMalformed   = errors.New("token malformed")
	ErrSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired     = errors.New("token expired")
	ErrClientMismatch   = errors.New("token client_id mismatch")
)

// TokenRejected reports whether err is any token-rejection failure,
// as opposed to a configuration error.
func TokenRejected(err error) bool {
	return errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrClientMismatch)
}

// IdentityClaims is the verified claim set embedded in SSO tokens.
// It is only ever produced by Verifier.Verify.
type IdentityClaims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"`
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// Verifier validates identity-provider tokens against resolved key
// material. The same instance backs both the callback handler and the
// per-request session check so the verification discipline cannot
// diverge between the two paths.
type Verifier struct {
	keys     KeySource
	clientID string
	logger   *slog.Logger
}

// NewVerifier constructs a verifier bound to one expected client id.
func NewVerifier(keys KeySource, clientID string, logger *slog.Logger) *Verifier {
	return &Verifier{keys: keys, clientID: clientID, logger: logger}
}

// Verify checks signature, permitted algorithm, expiry, and client
// identity, in that order, short-circuiting on the first failure. On
// success the decoded claim set is returned unchanged.
func (v *Verifier) Verify(ctx context.Context, raw string) (*IdentityClaims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenMalformed)
	}

	key, err := v.keys.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	// The parser accepts exactly the algorithm bound to the key mode;
	// a token declaring any other algorithm fails before signature
	// checking, closing off algorithm-substitution attacks.
	parser := jwt.NewParser(jwt.WithValidMethods([]string{key.Alg()}))

	claims := &IdentityClaims{}
	tok, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key.VerificationKey(), nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}
	if !tok.Valid {
		return nil, ErrSignatureInvalid
	}

	if claims.ClientID != v.clientID {
		return nil, fmt.Errorf("%w: got %q", ErrClientMismatch, claims.ClientID)
	}

	return claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		// Unverifiable tokens, bad claims types, and the like all
		// collapse into the signature class externally.
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
}
