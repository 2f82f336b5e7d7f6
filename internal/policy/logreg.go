// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package policy

import (
	"context"
	"math"
	"math/rand"

	"github.com/sun129129/abtest-mlflow/internal/features"
)

// LogRegConfig contains configuration for the logistic regression policy.
type LogRegConfig struct {
	// C is the inverse regularization strength (sklearn convention).
	// The per-sample penalty is 1/(C*n). Default: 1.0.
	C float64

	// L1Ratio is the elastic-net mixing parameter: 0 is pure L2, 1 is
	// pure L1. Default: 0.1.
	L1Ratio float64

	// MaxEpochs is the maximum number of SGD passes over the data.
	// Default: 200.
	MaxEpochs int

	// LearningRate is the initial SGD step size, decayed per epoch.
	// Default: 0.5.
	LearningRate float64

	// Tolerance stops training when the epoch's mean absolute weight
	// update falls below it. Default: 1e-4.
	Tolerance float64

	// Seed for reproducible shuffling.
	// If 0, uses a default seed.
	Seed int64
}

// DefaultLogRegConfig returns the Policy A configuration: elastic net with
// l1_ratio 0.1 and C 1.0 at up to 200 epochs.
func DefaultLogRegConfig() LogRegConfig {
	return LogRegConfig{
		C:            1.0,
		L1Ratio:      0.1,
		MaxEpochs:    200,
		LearningRate: 0.5,
		Tolerance:    1e-4,
		Seed:         42,
	}
}

// LogisticRegression is Policy A: a linear classifier with elastic-net
// regularization over the shared sparse one-hot + genre representation,
// trained by SGD with per-step proximal L1 shrinkage.
//
// Fields are exported for gob persistence; the model is read-only once
// trained.
type LogisticRegression struct {
	Config  LogRegConfig
	Weights []float64
	Bias    float64
	Trained bool
}

// NewLogisticRegression creates a Policy A model with the given
// configuration, applying defaults for zero values.
func NewLogisticRegression(cfg LogRegConfig) *LogisticRegression {
	if cfg.C <= 0 {
		cfg.C = 1.0
	}
	if cfg.L1Ratio < 0 || cfg.L1Ratio > 1 {
		cfg.L1Ratio = 0.1
	}
	if cfg.MaxEpochs <= 0 {
		cfg.MaxEpochs = 200
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.5
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-4
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &LogisticRegression{Config: cfg}
}

// Name returns the policy identifier.
func (l *LogisticRegression) Name() string { return NameLogReg }

// Train fits the model on an encoded feature matrix.
//
// Each epoch shuffles the rows and applies one SGD step per row: the
// logistic gradient on the touched features, L2 decay, then proximal L1
// shrinkage toward zero. Regularization only touches features present in
// the row, which is the standard sparse-SGD treatment.
func (l *LogisticRegression) Train(ctx context.Context, m *features.Matrix, labels []int) error {
	cfg := l.Config
	n := len(m.Rows)
	l.Weights = make([]float64, m.Cols)
	l.Bias = 0

	if n == 0 {
		l.Trained = true
		return nil
	}

	// Elastic-net penalty split between L2 and L1 terms.
	lambda := 1.0 / (cfg.C * float64(n))
	l2 := lambda * (1 - cfg.L1Ratio)
	l1 := lambda * cfg.L1Ratio

	//nolint:gosec // G404: seeded math/rand is fine for training reproducibility
	rng := rand.New(rand.NewSource(cfg.Seed))
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	lr := cfg.LearningRate
	for epoch := 0; epoch < cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		var totalUpdate float64
		var steps int
		for _, ri := range order {
			row := m.Rows[ri]
			p := sigmoid(l.margin(row))
			g := p - float64(labels[ri])

			l.Bias -= lr * g
			for k, idx := range row.Indices {
				w := l.Weights[idx]
				w -= lr * (g*row.Values[k] + l2*w)
				// Proximal L1: shrink toward zero, clamping at zero.
				shrink := lr * l1
				switch {
				case w > shrink:
					w -= shrink
				case w < -shrink:
					w += shrink
				default:
					w = 0
				}
				totalUpdate += math.Abs(w - l.Weights[idx])
				l.Weights[idx] = w
				steps++
			}
		}

		lr = cfg.LearningRate / (1 + 0.05*float64(epoch+1))
		if steps > 0 && totalUpdate/float64(steps) < cfg.Tolerance {
			break
		}
	}

	l.Trained = true
	return nil
}

// margin computes the raw linear score for a sparse row.
func (l *LogisticRegression) margin(row features.Row) float64 {
	z := l.Bias
	for k, idx := range row.Indices {
		z += l.Weights[idx] * row.Values[k]
	}
	return z
}

// ScoreRow returns the predicted CTR probability for one encoded row.
// Rows with entirely unseen ids score through the bias alone.
func (l *LogisticRegression) ScoreRow(row features.Row) float64 {
	return sigmoid(l.margin(row))
}

// ScoreRows scores every row of a feature matrix.
func (l *LogisticRegression) ScoreRows(m *features.Matrix) []float64 {
	return scoreRowsWith(m, l.ScoreRow)
}

var _ Scorer = (*LogisticRegression)(nil)
