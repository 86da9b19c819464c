package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Verification modes. Exactly one is active per deployment.
const (
	ModeHS256 = "hs256"
	ModeRS256 = "rs256"
)

// Hardcoded session and state defaults
const (
	DefaultSessionTTL        = 24 * time.Hour
	DefaultSessionCookieName = "sso_token"
	DefaultStateTTL          = 10 * time.Minute
)

// DefaultPublicKeyPath is the built-in key location used when no
// explicit path is configured.
const DefaultPublicKeyPath = "keys/sso_public.pem"

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	SSO     SSOConfig     `yaml:"sso"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	CookieDomain    string    `yaml:"cookie_domain"`
	StaticDir       string    `yaml:"static_dir"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour for production listeners.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// SSOConfig describes the upstream identity provider and how its
// tokens are verified.
type SSOConfig struct {
	LoginURL      string `yaml:"login_url"`
	ClientID      string `yaml:"client_id"`
	Mode          string `yaml:"mode"`
	SharedSecret  string `yaml:"shared_secret"`
	PublicKeyPath string `yaml:"public_key_path"`
	EnforceState  bool   `yaml:"enforce_state"`
	CacheKeys     bool   `yaml:"cache_keys"`
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"-"`
}

// MarshalYAML emits the TTL as a Go duration string.
func (s SessionConfig) MarshalYAML() (any, error) {
	return struct {
		CookieName string `yaml:"cookie_name"`
		TTL        string `yaml:"ttl,omitempty"`
	}{CookieName: s.CookieName, TTL: s.TTL.String()}, nil
}

// UnmarshalYAML accepts the TTL as a Go duration string ("24h").
// Unknown fields are rejected, matching the strict top-level decode.
func (s *SessionConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		CookieName string `yaml:"cookie_name"`
		TTL        string `yaml:"ttl"`
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	if raw.CookieName != "" {
		s.CookieName = raw.CookieName
	}
	if raw.TTL != "" {
		d, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return fmt.Errorf("session.ttl: %w", err)
		}
		s.TTL = d
	}
	return nil
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:3006",
			DevListenAddr:   "127.0.0.1:3006",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			StaticDir:       "public",
			TLS: TLSConfig{
				HSTSMaxAge: 31536000,
			},
		},
		SSO: SSOConfig{
			LoginURL:     "http://127.0.0.1:3005/sso/login",
			ClientID:     "example_client_id",
			Mode:         ModeHS256,
			EnforceState: true,
		},
		Session: SessionConfig{
			CookieName: DefaultSessionCookieName,
			TTL:        DefaultSessionTTL,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"SSOAPP_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"SSOAPP_SERVER_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"SSOAPP_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"SSOAPP_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"SSOAPP_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"SSOAPP_SERVER_COOKIE_DOMAIN":     func(v string) { cfg.Server.CookieDomain = v },
		"SSOAPP_SERVER_STATIC_DIR":        func(v string) { cfg.Server.StaticDir = v },
		"SSOAPP_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"SSOAPP_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"SSOAPP_SSO_LOGIN_URL":            func(v string) { cfg.SSO.LoginURL = v },
		"SSOAPP_SSO_CLIENT_ID":            func(v string) { cfg.SSO.ClientID = v },
		"SSOAPP_SSO_MODE":                 func(v string) { cfg.SSO.Mode = strings.ToLower(strings.TrimSpace(v)) },
		"SSOAPP_SSO_SHARED_SECRET":        func(v string) { cfg.SSO.SharedSecret = v },
		"SSOAPP_SSO_PUBLIC_KEY_PATH":      func(v string) { cfg.SSO.PublicKeyPath = v },
		"SSOAPP_SSO_ENFORCE_STATE":        func(v string) { cfg.SSO.EnforceState = parseBool(v, cfg.SSO.EnforceState) },
		"SSOAPP_SSO_CACHE_KEYS":           func(v string) { cfg.SSO.CacheKeys = parseBool(v, cfg.SSO.CacheKeys) },
		"SSOAPP_SESSION_COOKIE_NAME":      func(v string) { cfg.Session.CookieName = v },
		"SSOAPP_SESSION_TTL":              func(v string) { cfg.Session.TTL = parseDuration(v, cfg.Session.TTL) },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseDuration(val string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.SSO.LoginURL == "" {
		slog.Error("Missing required configuration", "field", "sso.login_url")
		return errors.New("sso.login_url is required")
	}
	if !strings.HasPrefix(c.SSO.LoginURL, "http://") && !strings.HasPrefix(c.SSO.LoginURL, "https://") {
		slog.Error("Invalid configuration value", "field", "sso.login_url", "value", c.SSO.LoginURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("sso.login_url must start with http:// or https://, got: %s", c.SSO.LoginURL)
	}

	if c.SSO.ClientID == "" {
		slog.Error("Missing required configuration", "field", "sso.client_id")
		return errors.New("sso.client_id is required")
	}

	// The verifier must never be able to accept both a shared secret
	// and a public key at once.
	switch c.SSO.Mode {
	case ModeHS256:
		if c.SSO.SharedSecret == "" {
			slog.Error("Missing required configuration", "field", "sso.shared_secret", "reason", "required when sso.mode is hs256")
			return errors.New("sso.shared_secret is required when sso.mode is hs256")
		}
		if c.SSO.PublicKeyPath != "" {
			slog.Error("Conflicting configuration", "field", "sso.public_key_path", "reason", "must not be set when sso.mode is hs256")
			return errors.New("sso.public_key_path must not be set when sso.mode is hs256")
		}
	case ModeRS256:
		if c.SSO.SharedSecret != "" {
			slog.Error("Conflicting configuration", "field", "sso.shared_secret", "reason", "must not be set when sso.mode is rs256")
			return errors.New("sso.shared_secret must not be set when sso.mode is rs256")
		}
		// A missing key file is deliberately not rejected here: the
		// key resolver surfaces it at load time, attributed to the
		// selected path.
	default:
		slog.Error("Invalid configuration value", "field", "sso.mode", "value", c.SSO.Mode)
		return fmt.Errorf("sso.mode must be %q or %q, got: %s", ModeHS256, ModeRS256, c.SSO.Mode)
	}

	if c.Session.CookieName == "" {
		slog.Error("Missing required configuration", "field", "session.cookie_name")
		return errors.New("session.cookie_name is required")
	}
	if c.Session.TTL <= 0 {
		slog.Error("Invalid configuration value", "field", "session.ttl", "value", c.Session.TTL.String())
		return errors.New("session.ttl must be positive")
	}

	return nil
}

// CallbackURL is the redirect URI registered with the identity provider.
func (c Config) CallbackURL() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/sso/callback"
}
