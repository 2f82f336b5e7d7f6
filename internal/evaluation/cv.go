// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package evaluation

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/sun129129/abtest-mlflow/internal/features"
)

// DefaultCVFolds and DefaultCVSeed match the offline evaluation protocol:
// stratified 5-fold with a fixed shuffle seed.
const (
	DefaultCVFolds = 5
	DefaultCVSeed  = 42
)

// FoldScorer fits a fresh policy (including a fold-local encoder) on rows
// and returns its predicted probabilities for those same rows. Fitting is
// fold-local so no global encoder state leaks across folds.
type FoldScorer func(ctx context.Context, rows []features.Example) ([]float64, error)

// CVResult aggregates per-fold AUC for one policy.
type CVResult struct {
	FoldAUC []float64 `json:"fold_auc"`
	Mean    float64   `json:"mean"`
	Std     float64   `json:"std"`
}

// CrossValidate runs stratified k-fold cross-validation over rows for each
// named policy. Rows are shuffled within each label class with the given
// seed, then dealt round-robin into k folds so every fold preserves the
// class balance.
func CrossValidate(ctx context.Context, rows []features.Example, k int, seed int64, scorers map[string]FoldScorer) (map[string]CVResult, error) {
	if k <= 1 {
		k = DefaultCVFolds
	}
	folds := stratifiedFolds(rows, k, seed)

	results := make(map[string]CVResult, len(scorers))
	for name, scorer := range scorers {
		res := CVResult{FoldAUC: make([]float64, 0, k)}
		for f, fold := range folds {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			foldRows := make([]features.Example, len(fold))
			yTrue := make([]int, len(fold))
			for i, idx := range fold {
				foldRows[i] = rows[idx]
				yTrue[i] = *rows[idx].Label
			}
			probs, err := scorer(ctx, foldRows)
			if err != nil {
				return nil, fmt.Errorf("policy %s fold %d: %w", name, f, err)
			}
			m, err := BinaryMetrics(yTrue, probs)
			if err != nil {
				return nil, fmt.Errorf("policy %s fold %d: %w", name, f, err)
			}
			res.FoldAUC = append(res.FoldAUC, m.AUC)
		}
		res.Mean, res.Std = meanStd(res.FoldAUC)
		results[name] = res
	}
	return results, nil
}

// stratifiedFolds deals row indices into k folds, shuffled per label class
// with the given seed.
func stratifiedFolds(rows []features.Example, k int, seed int64) [][]int {
	var pos, neg []int
	for i, r := range rows {
		if r.Label != nil && *r.Label == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}

	//nolint:gosec // G404: seeded math/rand is required for reproducible folds
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(pos), func(i, j int) { pos[i], pos[j] = pos[j], pos[i] })
	rng.Shuffle(len(neg), func(i, j int) { neg[i], neg[j] = neg[j], neg[i] })

	folds := make([][]int, k)
	for i, idx := range pos {
		folds[i%k] = append(folds[i%k], idx)
	}
	for i, idx := range neg {
		folds[i%k] = append(folds[i%k], idx)
	}
	return folds
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		std += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}
