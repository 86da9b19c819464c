package server

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/go-jose/go-jose/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrKeyNotFound reports that no usable verification key material
// could be loaded from the selected location. It is a configuration
// error, never a token rejection.
var ErrKeyNotFound = errors.New("verification key not found")

// KeyMaterial is resolved verification key material with its pinned
// algorithm. It is either a shared HMAC secret or an RSA public key,
// never both, and is immutable once constructed.
type KeyMaterial struct {
	alg    string
	secret []byte
	public *rsa.PublicKey
}

// SymmetricKey builds HS256 key material from a shared secret.
func SymmetricKey(secret []byte) KeyMaterial {
	return KeyMaterial{alg: jwt.SigningMethodHS256.Alg(), secret: secret}
}

// AsymmetricKey builds RS256 key material from an RSA public key.
func AsymmetricKey(pub *rsa.PublicKey) KeyMaterial {
	return KeyMaterial{alg: jwt.SigningMethodRS256.Alg(), public: pub}
}

// Alg returns the only signing algorithm this material may verify.
func (k KeyMaterial) Alg() string {
	return k.alg
}

// VerificationKey returns the value handed to the JWT keyfunc.
func (k KeyMaterial) VerificationKey() any {
	if k.public != nil {
		return k.public
	}
	return k.secret
}

// KeySource locates and loads verification key material. Resolve is
// side-effect-free and safe for concurrent use; callers may invoke it
// on every verification. Sources that perform I/O honour ctx.
type KeySource interface {
	Resolve(ctx context.Context) (KeyMaterial, error)
}

// StaticKeySource serves a fixed shared secret (HS256 deployments).
type StaticKeySource struct {
	key KeyMaterial
}

// NewStaticKeySource wraps a shared secret configured out-of-band.
func NewStaticKeySource(secret []byte) *StaticKeySource {
	return &StaticKeySource{key: SymmetricKey(secret)}
}

func (s *StaticKeySource) Resolve(ctx context.Context) (KeyMaterial, error) {
	if len(s.key.secret) == 0 {
		return KeyMaterial{}, fmt.Errorf("%w: empty shared secret", ErrKeyNotFound)
	}
	return s.key, nil
}

// FileKeySource loads an RSA public key from disk (RS256 deployments).
// Path selection precedence, first match wins:
//  1. the explicitly configured path, if the file exists
//  2. the built-in default path, if it exists
//  3. the explicitly configured path even though absent, so the load
//     failure is attributed to that path instead of silently falling
//     back
//  4. the default path even though absent
type FileKeySource struct {
	explicitPath string
	defaultPath  string
	logger       *slog.Logger
}

// NewFileKeySource builds a file-backed key source. explicitPath may
// be empty; defaultPath falls back to DefaultPublicKeyPath.
func NewFileKeySource(explicitPath, defaultPath string, logger *slog.Logger) *FileKeySource {
	if defaultPath == "" {
		defaultPath = DefaultPublicKeyPath
	}
	return &FileKeySource{explicitPath: explicitPath, defaultPath: defaultPath, logger: logger}
}

func (s *FileKeySource) Resolve(ctx context.Context) (KeyMaterial, error) {
	if err := ctx.Err(); err != nil {
		return KeyMaterial{}, err
	}

	path, source := s.selectPath()
	s.logger.Debug("key source selected", "source", source, "path", path)

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Error("key load failed", "source", source, "path", path, "error", err)
		return KeyMaterial{}, fmt.Errorf("%w: %s (%s)", ErrKeyNotFound, path, source)
	}

	pub, err := parsePublicKey(path, data)
	if err != nil {
		s.logger.Error("key parse failed", "source", source, "path", path, "error", err)
		return KeyMaterial{}, fmt.Errorf("%w: %s: %v", ErrKeyNotFound, path, err)
	}
	return AsymmetricKey(pub), nil
}

func (s *FileKeySource) selectPath() (path, source string) {
	switch {
	case s.explicitPath != "" && fileExists(s.explicitPath):
		return s.explicitPath, "config"
	case fileExists(s.defaultPath):
		return s.defaultPath, "default"
	case s.explicitPath != "":
		return s.explicitPath, "config"
	default:
		return s.defaultPath, "default"
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// parsePublicKey accepts PEM-encoded keys and JWKS documents
// (".json" files, first RSA key wins).
func parsePublicKey(path string, data []byte) (*rsa.PublicKey, error) {
	if strings.HasSuffix(path, ".json") {
		return parseJWKS(data)
	}
	return jwt.ParseRSAPublicKeyFromPEM(data)
}

func parseJWKS(data []byte) (*rsa.PublicKey, error) {
	var set jose.JSONWebKeySet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	for _, key := range set.Keys {
		if pub, ok := key.Key.(*rsa.PublicKey); ok {
			return pub, nil
		}
		if priv, ok := key.Key.(*rsa.PrivateKey); ok {
			return &priv.PublicKey, nil
		}
	}
	return nil, errors.New("no rsa key in jwks")
}

// CachingKeySource memoizes another source so key material is read
// once instead of on every verification. Invalidate forces the next
// Resolve to hit the underlying source again (key rotation signal).
type CachingKeySource struct {
	source KeySource

	mu     sync.RWMutex
	cached bool
	key    KeyMaterial
}

// NewCachingKeySource wraps src with a memoizing layer.
func NewCachingKeySource(src KeySource) *CachingKeySource {
	return &CachingKeySource{source: src}
}

func (c *CachingKeySource) Resolve(ctx context.Context) (KeyMaterial, error) {
	c.mu.RLock()
	if c.cached {
		key := c.key
		c.mu.RUnlock()
		return key, nil
	}
	c.mu.RUnlock()

	key, err := c.source.Resolve(ctx)
	if err != nil {
		// Failures are not cached so a fixed config is picked up
		// without a restart.
		return KeyMaterial{}, err
	}

	c.mu.Lock()
	c.key = key
	c.cached = true
	c.mu.Unlock()
	return key, nil
}

// Invalidate drops the cached material.
func (c *CachingKeySource) Invalidate() {
	c.mu.Lock()
	c.cached = false
	c.key = KeyMaterial{}
	c.mu.Unlock()
}

// NewKeySource wires the key source matching the configured
// verification mode.
func NewKeySource(cfg SSOConfig, logger *slog.Logger) KeySource {
	var src KeySource
	switch cfg.Mode {
	case ModeRS256:
		src = NewFileKeySource(cfg.PublicKeyPath, DefaultPublicKeyPath, logger)
	default:
		src = NewStaticKeySource([]byte(cfg.SharedSecret))
	}
	if cfg.CacheKeys {
		return NewCachingKeySource(src)
	}
	return src
}
