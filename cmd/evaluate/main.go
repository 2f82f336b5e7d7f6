// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package main is the offline evaluation entry point.
//
// evaluate loads the latest trained artifacts, scores the requested
// split (test by default) with every policy, and produces AUC/PR-AUC/
// log-loss, ROC/PR/calibration/lift curves, cold-start and genre
// segment breakdowns, and stratified cross-validation. The report is
// logged as a tracking run and optionally written as JSON.
//
// Usage:
//
//	evaluate                      # evaluate the test split
//	evaluate -split valid         # evaluate the valid split
//	evaluate -out report.json     # also write the full report
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/sun129129/abtest-mlflow/internal/config"
	"github.com/sun129129/abtest-mlflow/internal/database"
	"github.com/sun129129/abtest-mlflow/internal/logging"
	"github.com/sun129129/abtest-mlflow/internal/pipeline"
	"github.com/sun129129/abtest-mlflow/internal/policy/storage"
	"github.com/sun129129/abtest-mlflow/internal/tracking"
)

func main() {
	split := flag.String("split", "test", "split to evaluate: valid or test")
	withFM := flag.Bool("fm", true, "also evaluate the factorization-machine challenger")
	cvFolds := flag.Int("cv-folds", 5, "stratified cross-validation folds (0 disables CV)")
	out := flag.String("out", "", "write the full evaluation report to this JSON file")
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

	db, err := database.Open(cfg.Data.DatabasePath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Data.DatabasePath).Msg("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	artifacts, err := storage.NewStore(cfg.Model.ArtifactsDir)
	if err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.Model.ArtifactsDir).Msg("Failed to open artifact store")
	}

	client, err := tracking.NewClient(cfg.Tracking.Dir, cfg.Tracking.Experiment)
	if err != nil {
		logging.Fatal().Err(err).Str("dir", cfg.Tracking.Dir).Msg("Failed to open tracking store")
	}

	evalCfg := pipeline.DefaultEvalConfig()
	evalCfg.Split = *split
	evalCfg.WithFM = *withFM
	evalCfg.CVFolds = *cvFolds

	deps := pipeline.Deps{DB: db, Artifacts: artifacts, Tracking: client}
	result, err := pipeline.Evaluate(ctx, deps, evalCfg)
	if err != nil {
		logging.Fatal().Err(err).Str("split", *split).Msg("Evaluation failed")
	}

	for _, p := range result.Policies {
		logging.Info().
			Str("policy", p.Name).
			Str("split", result.Split).
			Float64("auc", p.Metrics.AUC).
			Float64("pr_auc", p.Metrics.PRAUC).
			Float64("logloss", p.Metrics.LogLoss).
			Float64("brier", p.Brier).
			Msg("Policy evaluated")
	}
	for _, seg := range result.Segments {
		logging.Debug().
			Str("segment", seg.Name).
			Int("rows", seg.Rows).
			Msg("Segment evaluated")
	}
	logging.Info().
		Str("run_id", result.RunID).
		Int("segments", len(result.Segments)).
		Int("cv_models", len(result.CV)).
		Msg("Evaluation complete")

	if *out != "" {
		if err := writeReport(*out, result); err != nil {
			logging.Fatal().Err(err).Str("path", *out).Msg("Failed to write report")
		}
		logging.Info().Str("path", *out).Msg("Report written")
	}
}

func writeReport(path string, result *pipeline.EvalResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
