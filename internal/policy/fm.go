// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package policy

import (
	"context"
	"errors"
	"math/rand"

	"github.com/sun129129/abtest-mlflow/internal/features"
)

// FMConfig contains configuration for the factorization machine policy.
type FMConfig struct {
	// NumFactors is the latent dimension of pairwise interactions.
	// Default: 16.
	NumFactors int

	// Epochs is the number of SGD passes. Default: 3.
	Epochs int

	// LearningRate for SGD. Default: 0.05.
	LearningRate float64

	// Reg is the L2 regularization on weights and factors. Default: 1e-5.
	Reg float64

	// InitStdDev scales the random factor initialization. Default: 0.01.
	InitStdDev float64

	// Seed for reproducible initialization and shuffling.
	// If 0, uses a default seed.
	Seed int64
}

// DefaultFMConfig returns the challenger (B') configuration.
func DefaultFMConfig() FMConfig {
	return FMConfig{
		NumFactors:   16,
		Epochs:       3,
		LearningRate: 0.05,
		Reg:          1e-5,
		InitStdDev:   0.01,
		Seed:         42,
	}
}

// FactorizationMachine is the B' challenger: a second-order factorization
// machine over the shared sparse representation. Linear terms capture the
// per-user, per-item and per-genre propensities; the factorized pairwise
// term captures user/item affinity the way an embedding model would.
//
// Fields are exported for gob persistence.
type FactorizationMachine struct {
	Config  FMConfig
	Bias    float64
	Weights []float64
	// Factors holds NumFeatures rows of NumFactors latent values,
	// flattened row-major.
	Factors []float64
	NumF    int
	Trained bool
}

// NewFactorizationMachine creates a B' model with the given configuration,
// applying defaults for zero values.
func NewFactorizationMachine(cfg FMConfig) *FactorizationMachine {
	if cfg.NumFactors <= 0 {
		cfg.NumFactors = 16
	}
	if cfg.Epochs <= 0 {
		cfg.Epochs = 3
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.Reg < 0 {
		cfg.Reg = 1e-5
	}
	if cfg.InitStdDev <= 0 {
		cfg.InitStdDev = 0.01
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &FactorizationMachine{Config: cfg}
}

// Name returns the policy identifier.
func (f *FactorizationMachine) Name() string { return NameFM }

// Train fits the model with plain SGD on logistic loss.
func (f *FactorizationMachine) Train(ctx context.Context, m *features.Matrix, labels []int) error {
	n := len(m.Rows)
	if n == 0 {
		return errors.New("fm: empty training matrix")
	}
	if n != len(labels) {
		return errors.New("fm: labels do not match matrix rows")
	}

	cfg := f.Config
	//nolint:gosec // G404: seeded math/rand is fine for training reproducibility
	rng := rand.New(rand.NewSource(cfg.Seed))

	f.NumF = cfg.NumFactors
	f.Weights = make([]float64, m.Cols)
	f.Factors = make([]float64, m.Cols*cfg.NumFactors)
	for i := range f.Factors {
		f.Factors[i] = rng.NormFloat64() * cfg.InitStdDev
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sumF := make([]float64, cfg.NumFactors)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

		for _, idx := range order {
			row := m.Rows[idx]
			z := f.marginWithSums(row, sumF)
			g := sigmoid(z) - float64(labels[idx])

			f.Bias -= cfg.LearningRate * g
			for k, feat := range row.Indices {
				x := row.Values[k]
				f.Weights[feat] -= cfg.LearningRate * (g*x + cfg.Reg*f.Weights[feat])
				base := feat * cfg.NumFactors
				for d := 0; d < cfg.NumFactors; d++ {
					v := f.Factors[base+d]
					grad := g*(x*sumF[d]-v*x*x) + cfg.Reg*v
					f.Factors[base+d] = v - cfg.LearningRate*grad
				}
			}
		}
	}

	f.Trained = true
	return nil
}

// marginWithSums computes the FM margin, leaving the per-factor sums in
// sumF for gradient reuse. sumF must have NumFactors entries.
func (f *FactorizationMachine) marginWithSums(row features.Row, sumF []float64) float64 {
	z := f.Bias
	for d := range sumF {
		sumF[d] = 0
	}
	sumSq := 0.0
	for k, feat := range row.Indices {
		x := row.Values[k]
		z += f.Weights[feat] * x
		base := feat * f.NumF
		for d := 0; d < f.NumF; d++ {
			vx := f.Factors[base+d] * x
			sumF[d] += vx
			sumSq += vx * vx
		}
	}
	for d := 0; d < f.NumF; d++ {
		z += 0.5 * sumF[d] * sumF[d]
	}
	z -= 0.5 * sumSq
	return z
}

// ScoreRow returns the predicted CTR probability for one encoded row.
func (f *FactorizationMachine) ScoreRow(row features.Row) float64 {
	sumF := make([]float64, f.NumF)
	return sigmoid(f.marginWithSums(row, sumF))
}

// ScoreRows scores every row of a feature matrix.
func (f *FactorizationMachine) ScoreRows(m *features.Matrix) []float64 {
	sumF := make([]float64, f.NumF)
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = sigmoid(f.marginWithSums(row, sumF))
	}
	return out
}

var _ Scorer = (*FactorizationMachine)(nil)
