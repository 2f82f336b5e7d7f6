// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package main is the training entry point.
//
// train fits the policy models on the prepared train split: logistic
// regression (policy A), gradient-boosted trees (policy B) and
// optionally a factorization machine (challenger B'). Each model is
// scored on the valid split, saved as a versioned artifact, and logged
// as a tracking run. Unless -register=false, the artifact bundle is
// published as a new registry version and the serving alias is moved
// to it.
//
// Usage:
//
//	train              # full experiment: A, B, B', register
//	train -fm=false    # skip the factorization machine
package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"

	"github.com/sun129129/abtest-mlflow/internal/config"
	"github.com/sun129129/abtest-mlflow/internal/database"
	"github.com/sun129129/abtest-mlflow/internal/logging"
	"github.com/sun129129/abtest-mlflow/internal/pipeline"
	"github.com/sun129129/abtest-mlflow/internal/policy/storage"
	"github.com/sun129129/abtest-mlflow/internal/tracking"
)

func main() {
	withFM := flag.Bool("fm", true, "also train the factorization-machine challenger")
	register := flag.Bool("register", true, "publish the trained bundle to the model registry")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup := openDeps(cfg)
	defer cleanup()

	trainCfg := pipeline.DefaultTrainConfig()
	trainCfg.WithFM = *withFM
	trainCfg.Register = *register

	result, err := pipeline.Train(ctx, deps, trainCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Training failed")
	}

	for _, p := range result.Policies {
		logging.Info().
			Str("policy", p.Name).
			Float64("valid_auc", p.Valid.AUC).
			Float64("valid_pr_auc", p.Valid.PRAUC).
			Float64("valid_logloss", p.Valid.LogLoss).
			Int("artifact_version", p.Artifact.Version).
			Dur("duration", p.Duration).
			Msg("Policy trained")
	}
	ev := logging.Info().Str("run_id", result.RunID)
	if result.RegisteredVersion > 0 {
		ev = ev.Int("registered_version", result.RegisteredVersion)
	}
	ev.Msg("Training complete")
}

// openDeps wires the DuckDB store, artifact store, tracking client and
// model registry from configuration. Any failure is fatal.
func openDeps(cfg *config.Config) (pipeline.Deps, func()) {
	db, err := database.Open(cfg.Data.DatabasePath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Data.DatabasePath).Msg("Failed to open database")
	}

	artifacts, err := storage.NewStore(cfg.Model.ArtifactsDir)
	if err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.Model.ArtifactsDir).Msg("Failed to open artifact store")
	}

	client, err := tracking.NewClient(cfg.Tracking.Dir, cfg.Tracking.Experiment)
	if err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.Tracking.Dir).Msg("Failed to open tracking store")
	}

	registry, err := tracking.OpenRegistry(cfg.Tracking.EffectiveRegistryPath())
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Tracking.EffectiveRegistryPath()).Msg("Failed to open model registry")
	}

	cleanup := func() {
		if err := registry.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing registry")
		}
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}
	return pipeline.Deps{
		DB:        db,
		Artifacts: artifacts,
		Tracking:  client,
		Registry:  registry,
	}, cleanup
}
