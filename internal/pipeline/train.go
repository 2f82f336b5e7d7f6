// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package pipeline orchestrates the batch stages over the stores: train
// the competing policies, evaluate them offline, and load a registered
// model for serving. Each stage is a run-to-completion job recorded in
// the tracking store.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/sun129129/abtest-mlflow/internal/database"
	"github.com/sun129129/abtest-mlflow/internal/evaluation"
	"github.com/sun129129/abtest-mlflow/internal/features"
	"github.com/sun129129/abtest-mlflow/internal/logging"
	"github.com/sun129129/abtest-mlflow/internal/metrics"
	"github.com/sun129129/abtest-mlflow/internal/policy"
	"github.com/sun129129/abtest-mlflow/internal/policy/storage"
	"github.com/sun129129/abtest-mlflow/internal/tracking"
)

// Registered model identity served by the router.
const (
	RegisteredModelName = "movielens_ctr_router"
	RouterAlias         = "router"
)

// Deps are the stores a pipeline stage works against.
type Deps struct {
	DB        *database.Store
	Artifacts *storage.Store
	Tracking  *tracking.Client
	Registry  *tracking.Registry
}

// TrainConfig configures the training stage.
type TrainConfig struct {
	LogReg policy.LogRegConfig
	GBDT   policy.GBDTConfig
	FM     policy.FMConfig

	// WithFM also trains the factorization-machine challenger.
	WithFM bool

	// Register publishes the trained artifacts as a new registry version
	// and points the router alias at it.
	Register bool
}

// DefaultTrainConfig returns the standard experiment configuration.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LogReg:   policy.DefaultLogRegConfig(),
		GBDT:     policy.DefaultGBDTConfig(),
		FM:       policy.DefaultFMConfig(),
		WithFM:   true,
		Register: true,
	}
}

// PolicyOutcome summarizes one trained policy.
type PolicyOutcome struct {
	Name     string               `json:"name"`
	Valid    evaluation.Metrics   `json:"valid"`
	Artifact tracking.ArtifactRef `json:"artifact"`
	Duration time.Duration        `json:"duration"`
}

// TrainResult is the training stage output.
type TrainResult struct {
	RunID             string               `json:"run_id"`
	Policies          []PolicyOutcome      `json:"policies"`
	Encoder           tracking.ArtifactRef `json:"encoder"`
	RegisteredVersion int                  `json:"registered_version,omitempty"`
}

// Train fits the policies on the train split, scores them on the valid
// split, persists the artifacts and optionally registers the bundle.
//
//nolint:gocyclo // sequential stage with per-policy branches
func Train(ctx context.Context, deps Deps, cfg TrainConfig) (*TrainResult, error) {
	trainRows, err := deps.DB.LoadSplit(ctx, "train")
	if err != nil {
		return nil, err
	}
	validRows, err := deps.DB.LoadSplit(ctx, "valid")
	if err != nil {
		return nil, err
	}

	trainM, trainY, enc, err := features.Build(features.FromInteractions(trainRows), nil, true)
	if err != nil {
		return nil, fmt.Errorf("build train features: %w", err)
	}
	validM, validY, _, err := features.Build(features.FromInteractions(validRows), enc, false)
	if err != nil {
		return nil, fmt.Errorf("build valid features: %w", err)
	}

	run, err := deps.Tracking.StartRun(ctx, "train")
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = run.End(tracking.StatusFailed) //nolint:errcheck // already failing
		}
	}()

	run.LogParams(map[string]interface{}{
		"train_rows": len(trainRows),
		"valid_rows": len(validRows),
		"features":   enc.NumFeatures(),
		"with_fm":    cfg.WithFM,
	})

	result := &TrainResult{RunID: run.ID()}
	type trainable struct {
		scorer policy.Scorer
		fit    func(context.Context) error
		art    string
	}
	logreg := policy.NewLogisticRegression(cfg.LogReg)
	gbdt := policy.NewGradientBoosting(cfg.GBDT)
	jobs := []trainable{
		{
			scorer: logreg,
			fit:    func(ctx context.Context) error { return logreg.Train(ctx, trainM, trainY) },
			art:    storage.ArtifactLogReg,
		},
		{
			scorer: gbdt,
			fit:    func(ctx context.Context) error { return gbdt.Train(ctx, trainM, trainY, validM, validY) },
			art:    storage.ArtifactGBDT,
		},
	}
	if cfg.WithFM {
		fm := policy.NewFactorizationMachine(cfg.FM)
		jobs = append(jobs, trainable{
			scorer: fm,
			fit:    func(ctx context.Context) error { return fm.Train(ctx, trainM, trainY) },
			art:    storage.ArtifactFM,
		})
	}

	for _, job := range jobs {
		name := job.scorer.Name()
		start := time.Now()
		if err := job.fit(ctx); err != nil {
			return nil, fmt.Errorf("train %s: %w", name, err)
		}
		elapsed := time.Since(start)
		metrics.RecordTraining(name, elapsed)

		m, err := evaluation.BinaryMetrics(validY, job.scorer.ScoreRows(validM))
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", name, err)
		}
		meta, err := deps.Artifacts.Save(ctx, job.art, job.scorer, storage.ArtifactMetadata{
			TrainedAt:          time.Now().UTC(),
			RowCount:           len(trainRows),
			FeatureCount:       enc.NumFeatures(),
			TrainingDurationMS: elapsed.Milliseconds(),
		})
		if err != nil {
			return nil, fmt.Errorf("save %s artifact: %w", name, err)
		}

		ref := tracking.ArtifactRef{Name: meta.Name, Version: meta.Version}
		run.LogArtifact(ref)
		run.LogMetrics(map[string]float64{
			name + "_valid_auc":     m.AUC,
			name + "_valid_pr_auc":  m.PRAUC,
			name + "_valid_logloss": m.LogLoss,
		})
		logging.Info().
			Str("policy", name).
			Float64("valid_auc", m.AUC).
			Float64("valid_logloss", m.LogLoss).
			Dur("duration", elapsed).
			Msg("Policy trained")

		result.Policies = append(result.Policies, PolicyOutcome{
			Name: name, Valid: m, Artifact: ref, Duration: elapsed,
		})
	}

	encMeta, err := deps.Artifacts.Save(ctx, storage.ArtifactEncoder, enc, storage.ArtifactMetadata{
		TrainedAt:    time.Now().UTC(),
		RowCount:     len(trainRows),
		FeatureCount: enc.NumFeatures(),
	})
	if err != nil {
		return nil, fmt.Errorf("save encoder artifact: %w", err)
	}
	result.Encoder = tracking.ArtifactRef{Name: encMeta.Name, Version: encMeta.Version}
	run.LogArtifact(result.Encoder)

	if cfg.Register {
		refs := make([]tracking.ArtifactRef, 0, len(result.Policies)+1)
		for _, p := range result.Policies {
			refs = append(refs, p.Artifact)
		}
		refs = append(refs, result.Encoder)
		version, err := deps.Registry.Register(ctx, tracking.RegisteredVersion{
			Name:      RegisteredModelName,
			Artifacts: refs,
			RunID:     run.ID(),
		})
		if err != nil {
			return nil, fmt.Errorf("register model: %w", err)
		}
		if err := deps.Registry.SetAlias(ctx, RegisteredModelName, RouterAlias, version); err != nil {
			return nil, fmt.Errorf("set router alias: %w", err)
		}
		result.RegisteredVersion = version
		logging.Info().
			Str("model", RegisteredModelName).
			Int("version", version).
			Str("alias", RouterAlias).
			Msg("Model registered")
	}

	if err := run.End(tracking.StatusFinished); err != nil {
		return nil, err
	}
	ok = true
	return result, nil
}
