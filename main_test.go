package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"ssoapp/server"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if err != nil {
			t.Fatalf("parseLogLevel(%q) returned error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := parseLogLevel("verbose"); err == nil {
		t.Errorf("expected error for unknown level")
	}
}

func TestRunConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	if err := runConfigInit(path); err != nil {
		t.Fatalf("runConfigInit returned error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	// The generated template must load once a secret is supplied.
	t.Setenv("SSOAPP_SSO_SHARED_SECRET", "secret")
	if _, err := server.LoadConfig(path); err != nil {
		t.Fatalf("generated config failed to load: %v", err)
	}

	if err := runConfigInit(path); err == nil {
		t.Fatalf("expected error when config already exists")
	}
}
