// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package main is the dataset preparation entry point.
//
// prepare reads a raw MovieLens zip archive (ml-100k or ml-1m), derives
// binary click labels from the star ratings, joins the per-movie genre
// flags, slices the interactions into time-ordered train/valid/test
// splits and persists everything into the DuckDB store the training and
// evaluation stages read from.
//
// Usage:
//
//	prepare -archive data/raw/ml-100k.zip
//
// The output database path comes from configuration (DATABASE_PATH or
// data.database_path in config.yaml).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sun129129/abtest-mlflow/internal/config"
	"github.com/sun129129/abtest-mlflow/internal/database"
	"github.com/sun129129/abtest-mlflow/internal/dataset"
	"github.com/sun129129/abtest-mlflow/internal/logging"
)

func main() {
	archive := flag.String("archive", "data/raw/ml-100k.zip", "path to the MovieLens zip archive (ml-100k or ml-1m)")
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

	if _, err := os.Stat(*archive); err != nil {
		logging.Fatal().Err(err).Str("archive", *archive).Msg("Archive not found")
	}

	db, err := database.Open(cfg.Data.DatabasePath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Data.DatabasePath).Msg("Failed to open database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	logging.Info().
		Str("archive", *archive).
		Str("database", cfg.Data.DatabasePath).
		Msg("Preparing dataset")

	splits, err := dataset.Prepare(ctx, *archive, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("Dataset preparation failed")
	}

	logging.Info().
		Int("train", len(splits.Train)).
		Int("valid", len(splits.Valid)).
		Int("test", len(splits.Test)).
		Int("users", len(splits.Users)).
		Int("movies", len(splits.Movies)).
		Msg("Dataset prepared")
}
