// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sun129129/abtest-mlflow/internal/features"
	"github.com/sun129129/abtest-mlflow/internal/logging"
	"github.com/sun129129/abtest-mlflow/internal/metrics"
	"github.com/sun129129/abtest-mlflow/internal/policy"
	"github.com/sun129129/abtest-mlflow/internal/policy/storage"
	"github.com/sun129129/abtest-mlflow/internal/router"
)

// LoadRouter builds a serving router from a model URI.
//
// A "models:/<name>@<alias>" URI resolves through the registry to pinned
// artifact versions; any other URI is treated as unsupported. Policy A is
// the logistic regression, policy B the gradient-boosted trees, matching
// the experiment arms the assignment rule refers to.
func LoadRouter(ctx context.Context, deps Deps, modelURI, ruleName string) (*router.Router, error) {
	rule, err := router.NewRule(ruleName)
	if err != nil {
		return nil, err
	}

	versions, registered, err := resolveArtifactVersions(ctx, deps, modelURI)
	if err != nil {
		return nil, err
	}

	var enc features.Encoder
	if _, err := deps.Artifacts.Load(ctx, storage.ArtifactEncoder, versions[storage.ArtifactEncoder], &enc); err != nil {
		return nil, err
	}
	var logreg policy.LogisticRegression
	if _, err := deps.Artifacts.Load(ctx, storage.ArtifactLogReg, versions[storage.ArtifactLogReg], &logreg); err != nil {
		return nil, err
	}
	var gbdt policy.GradientBoosting
	if _, err := deps.Artifacts.Load(ctx, storage.ArtifactGBDT, versions[storage.ArtifactGBDT], &gbdt); err != nil {
		return nil, err
	}

	genres, err := deps.DB.LoadMovieGenres(ctx)
	if err != nil {
		return nil, err
	}

	rt, err := router.New(rule, &enc, map[router.PolicyLabel]policy.Scorer{
		router.PolicyA: &logreg,
		router.PolicyB: &gbdt,
	}, genres)
	if err != nil {
		return nil, err
	}

	if registered > 0 {
		metrics.ModelLoadedInfo.WithLabelValues(RegisteredModelName, strconv.Itoa(registered)).Set(1)
	}
	logging.Info().
		Str("model_uri", modelURI).
		Str("rule", ruleName).
		Int("registered_version", registered).
		Int("features", enc.NumFeatures()).
		Int("movies", len(genres)).
		Msg("Router loaded")
	return rt, nil
}

// resolveArtifactVersions maps a model URI to per-artifact versions.
// Returns version 0 (latest) for artifacts the registry record does not
// pin, and the registered version number when the URI was a registry URI.
func resolveArtifactVersions(ctx context.Context, deps Deps, modelURI string) (map[string]int, int, error) {
	versions := map[string]int{}
	if !strings.HasPrefix(modelURI, "models:/") {
		return nil, 0, fmt.Errorf("unsupported model URI %q: expected models:/<name>@<alias>", modelURI)
	}

	rv, err := deps.Registry.Resolve(ctx, modelURI)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve %s: %w", modelURI, err)
	}
	for _, ref := range rv.Artifacts {
		versions[ref.Name] = ref.Version
	}
	return versions, rv.Version, nil
}
