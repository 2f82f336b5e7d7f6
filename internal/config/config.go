// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package config loads and validates application configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//  1. Built-in defaults
//  2. Optional YAML config file (config.yaml, or CONFIG_PATH)
//  3. Environment variables (TRACKING_DIR, ROUTER_MODEL_URI, ...)
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration shared by all binaries.
type Config struct {
	Data     DataConfig     `koanf:"data"`
	Tracking TrackingConfig `koanf:"tracking"`
	Model    ModelConfig    `koanf:"model"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DataConfig configures the prepared-dataset store.
type DataConfig struct {
	// DatabasePath is the DuckDB file holding the train/valid/test splits
	// and the user/movie vocabularies.
	DatabasePath string `koanf:"database_path"`
}

// TrackingConfig configures the experiment-tracking store and model registry.
type TrackingConfig struct {
	// Dir is the root directory of the file-based tracking store.
	// Required; overridable via TRACKING_DIR.
	Dir string `koanf:"dir"`

	// Experiment is the experiment name all runs are grouped under.
	Experiment string `koanf:"experiment"`

	// RegistryPath is the BadgerDB directory for the model registry.
	// Defaults to <Dir>/registry when empty.
	RegistryPath string `koanf:"registry_path"`
}

// ModelConfig configures trained-model artifacts and the serving router.
type ModelConfig struct {
	// ArtifactsDir is where trained models and the fitted encoder are stored.
	ArtifactsDir string `koanf:"artifacts_dir"`

	// RouterURI selects the router model to serve, either a registry URI
	// (models:/<name>@<alias>) or a direct artifacts directory path.
	// Required for cmd/serve; overridable via ROUTER_MODEL_URI.
	RouterURI string `koanf:"router_uri"`

	// RouterRule selects the assignment rule: "hash" (canonical md5-parity)
	// or "parity" (demo-only raw userId%2 rule). Default: hash.
	RouterRule string `koanf:"router_rule"`
}

// ServerConfig configures the prediction service HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitReqs requests per RateLimitWindow per client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			DatabasePath: "data/processed/movielens.duckdb",
		},
		Tracking: TrackingConfig{
			Dir:          "data/tracking",
			Experiment:   "abtest_movielens",
			RegistryPath: "", // derived from Dir when empty
		},
		Model: ModelConfig{
			ArtifactsDir: "data/artifacts",
			RouterURI:    "models:/movielens_ctr_router@router",
			RouterRule:   "hash",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for fatal inconsistencies.
// Both the tracking store location and the model source URI are required
// settings; serving or training without them fails fast here rather than
// partway through a run.
func (c *Config) Validate() error {
	if c.Data.DatabasePath == "" {
		return fmt.Errorf("data.database_path is required (DATABASE_PATH)")
	}
	if c.Tracking.Dir == "" {
		return fmt.Errorf("tracking.dir is required (TRACKING_DIR)")
	}
	if c.Model.ArtifactsDir == "" {
		return fmt.Errorf("model.artifacts_dir is required (ARTIFACTS_DIR)")
	}
	if c.Model.RouterURI == "" {
		return fmt.Errorf("model.router_uri is required (ROUTER_MODEL_URI)")
	}
	switch c.Model.RouterRule {
	case "hash", "parity":
	default:
		return fmt.Errorf("model.router_rule must be \"hash\" or \"parity\", got %q", c.Model.RouterRule)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port)
	}
	return nil
}

// EffectiveRegistryPath returns the configured registry path, deriving it
// from the tracking dir when unset.
func (c *TrackingConfig) EffectiveRegistryPath() string {
	if c.RegistryPath != "" {
		return c.RegistryPath
	}
	return c.Dir + "/registry"
}
