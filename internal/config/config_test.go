package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr, got %q", cfg.Server.Addr)
	}
	if cfg.AI.Model != "gemini-2.5-flash" {
		t.Errorf("expected default model, got %q", cfg.AI.Model)
	}
	if cfg.Google.Configured() {
		t.Errorf("google should be unconfigured by default")
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("server:\n  addr: \":9090\"\ngoogle:\n  client_id: cid\n  client_secret: sec\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MAILSYNC_SERVER_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("expected env override, got %q", cfg.Server.Addr)
	}
	if !cfg.Google.Configured() {
		t.Errorf("google should be configured from file")
	}
	if cfg.Microsoft.Configured() {
		t.Errorf("microsoft should stay unconfigured")
	}
	if cfg.Microsoft.TenantID != "common" {
		t.Errorf("expected default tenant, got %q", cfg.Microsoft.TenantID)
	}
}

func TestWriteDefaultThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	written, err := WriteDefault(path)
	if err != nil {
		t.Fatalf("write default: %v", err)
	}
	if written != path {
		t.Fatalf("expected %q, got %q", path, written)
	}

	// Second call must not overwrite
	if _, err := WriteDefault(path); err != nil {
		t.Fatalf("second write default: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "data/mailsync.db" {
		t.Errorf("unexpected database path %q", cfg.Database.Path)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.Secrets.Backend = "vault"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for unknown secrets backend")
	}
}

func TestRedactMasksCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIKey = "topsecret"
	cfg.Google.ClientSecret = "gsec"

	masked := Redact(cfg)
	if masked.Server.APIKey != "****" || masked.Google.ClientSecret != "****" {
		t.Errorf("expected masked credentials, got %+v", masked)
	}
	if cfg.Server.APIKey != "topsecret" {
		t.Errorf("redact must not mutate the original")
	}
}
