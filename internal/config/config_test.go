package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Session.DefaultMaxConcurrency != 5 {
		t.Fatalf("expected default concurrency 5, got %d", cfg.Session.DefaultMaxConcurrency)
	}
	if cfg.Effort.SkipThreshold != 0.20 {
		t.Fatalf("expected default skip threshold 0.20, got %v", cfg.Effort.SkipThreshold)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero port")
	}

	cfg = Config{}
	cfg.Server.Port = 8080
	cfg.Session.DefaultMaxConcurrency = 1
	cfg.Auth.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for enabled auth without api key")
	}
}
