// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Run from an empty directory so no config.yaml is picked up.
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.DatabasePath != "data/processed/movielens.duckdb" {
		t.Errorf("database path = %q", cfg.Data.DatabasePath)
	}
	if cfg.Tracking.Experiment != "abtest_movielens" {
		t.Errorf("experiment = %q, want abtest_movielens", cfg.Tracking.Experiment)
	}
	if cfg.Model.RouterURI != "models:/movielens_ctr_router@router" {
		t.Errorf("router uri = %q", cfg.Model.RouterURI)
	}
	if cfg.Model.RouterRule != "hash" {
		t.Errorf("router rule = %q, want hash", cfg.Model.RouterRule)
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", cfg.Server.Timeout)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_PATH", "/tmp/other.duckdb")
	t.Setenv("ROUTER_RULE", "parity")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.DatabasePath != "/tmp/other.duckdb" {
		t.Errorf("database path = %q", cfg.Data.DatabasePath)
	}
	if cfg.Model.RouterRule != "parity" {
		t.Errorf("router rule = %q, want parity", cfg.Model.RouterRule)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	yaml := []byte("server:\n  port: 8123\ntracking:\n  experiment: custom_experiment\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("port = %d, want 8123 from file", cfg.Server.Port)
	}
	if cfg.Tracking.Experiment != "custom_experiment" {
		t.Errorf("experiment = %q, want custom_experiment", cfg.Tracking.Experiment)
	}
	// Values absent from the file keep defaults.
	if cfg.Model.RouterRule != "hash" {
		t.Errorf("router rule = %q, want default hash", cfg.Model.RouterRule)
	}
}

func TestLoadInvalidEnvValue(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ROUTER_RULE", "coinflip")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown routing rule")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"missing database path", func(c *Config) { c.Data.DatabasePath = "" }, true},
		{"missing tracking dir", func(c *Config) { c.Tracking.Dir = "" }, true},
		{"missing artifacts dir", func(c *Config) { c.Model.ArtifactsDir = "" }, true},
		{"missing router uri", func(c *Config) { c.Model.RouterURI = "" }, true},
		{"bad router rule", func(c *Config) { c.Model.RouterRule = "random" }, true},
		{"port too low", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"parity rule valid", func(c *Config) { c.Model.RouterRule = "parity" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEffectiveRegistryPath(t *testing.T) {
	tc := TrackingConfig{Dir: "data/tracking"}
	if got := tc.EffectiveRegistryPath(); got != "data/tracking/registry" {
		t.Errorf("derived path = %q", got)
	}
	tc.RegistryPath = "/var/lib/registry"
	if got := tc.EffectiveRegistryPath(); got != "/var/lib/registry" {
		t.Errorf("explicit path = %q", got)
	}
}
