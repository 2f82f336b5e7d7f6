// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package policy implements the competing CTR scoring policies.
//
// # Policies
//
//   - Policy A: logistic regression with elastic-net regularization
//   - Policy B: gradient-boosted tree ensemble
//   - Policy B': factorization machine with categorical embeddings
//     (optional; its own feature pipeline, not directly comparable to
//     A/B by AUC alone)
//
// A and B deliberately share one feature representation (the fitted
// one-hot encoder plus genre block) so their offline comparison is
// apples-to-apples. All policies are immutable after training and safe
// for concurrent scoring.
package policy

import (
	"math"

	"github.com/sun129129/abtest-mlflow/internal/features"
)

// Canonical policy names used in routing decisions and tracking runs.
const (
	NameLogReg = "logreg"
	NameGBDT   = "gbdt"
	NameFM     = "fm"
)

// Scorer is a trained policy considered as an opaque scoring function.
// Implementations return a probability in [0, 1].
type Scorer interface {
	// Name returns the policy identifier.
	Name() string

	// ScoreRow scores one encoded feature row.
	ScoreRow(row features.Row) float64

	// ScoreRows scores every row of a feature matrix.
	ScoreRows(m *features.Matrix) []float64
}

// sigmoid maps a raw margin to a probability, saturating the exponent to
// keep the result finite for extreme margins.
func sigmoid(z float64) float64 {
	if z > 35 {
		return 1
	}
	if z < -35 {
		return 0
	}
	return 1.0 / (1.0 + math.Exp(-z))
}

// scoreRowsWith applies a per-row scorer across a matrix.
func scoreRowsWith(m *features.Matrix, score func(features.Row) float64) []float64 {
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = score(row)
	}
	return out
}
