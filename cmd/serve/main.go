// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package main is the prediction service entry point.
//
// serve resolves the router model URI against the registry, loads the
// aliased policy artifacts and the fitted encoder, and exposes the
// experiment over HTTP:
//
//	GET  /health        - liveness plus the served model URI
//	POST /predict       - route one user/movie pair and score it
//	POST /bulk_predict  - batch routing with per-policy summary
//	GET  /metrics       - Prometheus metrics
//
// Every request is deterministically assigned to policy A or B by the
// configured routing rule (md5 digest parity by default), so repeated
// calls for the same user always hit the same policy.
//
// The server runs under a supervisor tree and shuts down gracefully on
// SIGINT/SIGTERM, waiting for in-flight requests up to the configured
// shutdown timeout.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/sun129129/abtest-mlflow/internal/api"
	"github.com/sun129129/abtest-mlflow/internal/config"
	"github.com/sun129129/abtest-mlflow/internal/database"
	"github.com/sun129129/abtest-mlflow/internal/logging"
	"github.com/sun129129/abtest-mlflow/internal/pipeline"
	"github.com/sun129129/abtest-mlflow/internal/policy/storage"
	"github.com/sun129129/abtest-mlflow/internal/supervisor"
	"github.com/sun129129/abtest-mlflow/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("model_uri", cfg.Model.RouterURI).
		Str("rule", cfg.Model.RouterRule).
		Str("db_path", cfg.Data.DatabasePath).
		Msg("Starting prediction service")

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

	registry, err := tracking.OpenRegistry(cfg.Tracking.EffectiveRegistryPath())
	if err != nil {
		logging.Fatal().Err(err).Str("path", cfg.Tracking.EffectiveRegistryPath()).Msg("Failed to open model registry")
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing registry")
		}
	}()

	deps := pipeline.Deps{DB: db, Artifacts: artifacts, Registry: registry}
	rt, err := pipeline.LoadRouter(ctx, deps, cfg.Model.RouterURI, cfg.Model.RouterRule)
	if err != nil {
		logging.Fatal().Err(err).Str("model_uri", cfg.Model.RouterURI).Msg("Failed to load router model")
	}

	handler := api.NewHandler(rt, cfg.Model.RouterURI, cfg.Tracking.Dir)
	routerCfg := api.DefaultRouterConfig()
	routerCfg.RateLimitRequests = cfg.Server.RateLimitReqs
	routerCfg.RateLimitWindow = cfg.Server.RateLimitWindow
	routerCfg.RequestTimeout = cfg.Server.Timeout

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Setup(handler, routerCfg),
		ReadHeaderTimeout: cfg.Server.Timeout,
	}

	treeCfg := supervisor.DefaultTreeConfig()
	treeCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	tree := supervisor.NewTree(logging.NewSlogLogger(), treeCfg)
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, cfg.Server.ShutdownTimeout))

	logging.Info().Str("addr", addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Prediction service stopped")
}
