// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package policy

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"

	"github.com/sun129129/abtest-mlflow/internal/evaluation"
	"github.com/sun129129/abtest-mlflow/internal/features"
	"github.com/sun129129/abtest-mlflow/internal/logging"
)

// GBDTConfig contains configuration for the gradient-boosted tree policy.
type GBDTConfig struct {
	// NumTrees is the maximum ensemble size. Default: 500.
	NumTrees int

	// LearningRate shrinks each tree's contribution. Default: 0.05.
	LearningRate float64

	// MaxDepth bounds tree depth. Default: 6 (comparable capacity to a
	// 64-leaf tree).
	MaxDepth int

	// MinSamplesLeaf is the minimum row count per leaf. Default: 50.
	MinSamplesLeaf int

	// FeatureFraction is the per-tree feature subsample rate. Default: 0.8.
	FeatureFraction float64

	// BaggingFraction is the per-tree row subsample rate. Default: 0.8.
	BaggingFraction float64

	// Lambda is the L2 regularization on leaf values. Default: 1.0.
	Lambda float64

	// EarlyStoppingRounds stops training when the validation log-loss has
	// not improved for this many trees. 0 disables early stopping.
	// Default: 50.
	EarlyStoppingRounds int

	// Seed for reproducible subsampling.
	// If 0, uses a default seed.
	Seed int64
}

// DefaultGBDTConfig returns the Policy B configuration.
func DefaultGBDTConfig() GBDTConfig {
	return GBDTConfig{
		NumTrees:            500,
		LearningRate:        0.05,
		MaxDepth:            6,
		MinSamplesLeaf:      50,
		FeatureFraction:     0.8,
		BaggingFraction:     0.8,
		Lambda:              1.0,
		EarlyStoppingRounds: 50,
		Seed:                42,
	}
}

// TreeNode is one node of a boosted tree. Over the one-hot + genre
// representation every feature is effectively binary, so a split tests
// feature presence: rows carrying the feature go right, the rest left.
type TreeNode struct {
	// Feature is the split feature index, or -1 for a leaf.
	Feature int

	// Left and Right are child node indices within the tree.
	Left, Right int32

	// Value is the leaf value (already scaled by the learning rate).
	Value float64
}

// Tree is a single regression tree over the residual gradients.
type Tree struct {
	Nodes []TreeNode
}

// margin evaluates the tree for one sparse row.
func (t *Tree) margin(row features.Row) float64 {
	i := int32(0)
	for {
		node := t.Nodes[i]
		if node.Feature < 0 {
			return node.Value
		}
		if rowHasFeature(row, node.Feature) {
			i = node.Right
		} else {
			i = node.Left
		}
	}
}

// rowHasFeature reports whether the sparse row carries a nonzero value for
// the feature. Indices are sorted ascending.
func rowHasFeature(row features.Row, feature int) bool {
	k := sort.SearchInts(row.Indices, feature)
	return k < len(row.Indices) && row.Indices[k] == feature
}

// GradientBoosting is Policy B: a gradient-boosted tree ensemble on
// logistic loss, trained over the same encoded feature representation as
// Policy A so the two are directly comparable.
//
// Fields are exported for gob persistence; the model is read-only once
// trained.
type GradientBoosting struct {
	Config    GBDTConfig
	BaseScore float64
	Trees     []Tree
	Trained   bool
}

// NewGradientBoosting creates a Policy B model with the given
// configuration, applying defaults for zero values.
func NewGradientBoosting(cfg GBDTConfig) *GradientBoosting {
	if cfg.NumTrees <= 0 {
		cfg.NumTrees = 500
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 6
	}
	if cfg.MinSamplesLeaf <= 0 {
		cfg.MinSamplesLeaf = 50
	}
	if cfg.FeatureFraction <= 0 || cfg.FeatureFraction > 1 {
		cfg.FeatureFraction = 0.8
	}
	if cfg.BaggingFraction <= 0 || cfg.BaggingFraction > 1 {
		cfg.BaggingFraction = 0.8
	}
	if cfg.Lambda <= 0 {
		cfg.Lambda = 1.0
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	return &GradientBoosting{Config: cfg}
}

// Name returns the policy identifier.
func (g *GradientBoosting) Name() string { return NameGBDT }

// Train fits the ensemble with second-order gradient boosting.
//
// Each iteration computes per-row gradients and hessians of the logistic
// loss at the current margin, subsamples rows and features, and grows one
// depth-limited tree greedily by split gain
//
//	gain = G_r^2/(H_r+lambda) + G_l^2/(H_l+lambda) - G^2/(H+lambda)
//
// When validation data is supplied, training stops once validation
// log-loss has not improved for EarlyStoppingRounds trees and the
// ensemble is truncated to the best iteration.
//
//nolint:gocyclo // boosted-tree training is inherently branchy
func (g *GradientBoosting) Train(ctx context.Context, m *features.Matrix, labels []int, validM *features.Matrix, validLabels []int) error {
	cfg := g.Config
	n := len(m.Rows)
	if n == 0 {
		return errors.New("gbdt: empty training matrix")
	}

	pos := 0
	for _, y := range labels {
		pos += y
	}
	if pos == 0 || pos == n {
		// Degenerate single-class data: the prior is the whole model.
		g.BaseScore = math.Log((float64(pos) + 1.0) / (float64(n-pos) + 1.0))
		g.Trained = true
		return nil
	}
	g.BaseScore = math.Log(float64(pos) / float64(n-pos))

	//nolint:gosec // G404: seeded math/rand is fine for training reproducibility
	rng := rand.New(rand.NewSource(cfg.Seed))

	// Margins of the current ensemble for train and valid rows.
	margins := make([]float64, n)
	for i := range margins {
		margins[i] = g.BaseScore
	}
	var validMargins []float64
	if validM != nil {
		validMargins = make([]float64, len(validM.Rows))
		for i := range validMargins {
			validMargins[i] = g.BaseScore
		}
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	bestLoss := math.Inf(1)
	bestRound := 0

	for round := 0; round < cfg.NumTrees; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		for i := range grad {
			p := sigmoid(margins[i])
			grad[i] = p - float64(labels[i])
			hess[i] = p * (1 - p)
		}

		rows := sampleRows(rng, n, cfg.BaggingFraction)
		tree := g.growTree(rng, m, grad, hess, rows)
		g.Trees = append(g.Trees, tree)

		for i, row := range m.Rows {
			margins[i] += tree.margin(row)
		}

		if validM == nil || cfg.EarlyStoppingRounds <= 0 {
			continue
		}
		for i, row := range validM.Rows {
			validMargins[i] += tree.margin(row)
		}
		probs := make([]float64, len(validMargins))
		for i, z := range validMargins {
			probs[i] = sigmoid(z)
		}
		loss := evaluation.LogLoss(validLabels, probs)
		if loss < bestLoss {
			bestLoss = loss
			bestRound = round + 1
		} else if round+1-bestRound >= cfg.EarlyStoppingRounds {
			g.Trees = g.Trees[:bestRound]
			logging.Debug().
				Int("best_round", bestRound).
				Float64("valid_logloss", bestLoss).
				Msg("gbdt early stop")
			break
		}
	}

	g.Trained = true
	return nil
}

// sampleRows draws a row subsample without replacement.
func sampleRows(rng *rand.Rand, n int, fraction float64) []int {
	k := int(float64(n) * fraction)
	if k < 1 {
		k = 1
	}
	perm := rng.Perm(n)[:k]
	sort.Ints(perm)
	return perm
}

// growTree greedily grows one tree on the sampled rows.
func (g *GradientBoosting) growTree(rng *rand.Rand, m *features.Matrix, grad, hess []float64, rows []int) Tree {
	tree := Tree{}
	// Per-tree feature subsample, decided lazily per encountered feature.
	featureKeep := make(map[int]bool)
	keep := func(f int) bool {
		if v, ok := featureKeep[f]; ok {
			return v
		}
		v := rng.Float64() < g.Config.FeatureFraction
		featureKeep[f] = v
		return v
	}

	var build func(rows []int, depth int) int32
	build = func(rows []int, depth int) int32 {
		var gSum, hSum float64
		for _, i := range rows {
			gSum += grad[i]
			hSum += hess[i]
		}

		leaf := func() int32 {
			tree.Nodes = append(tree.Nodes, TreeNode{
				Feature: -1,
				Value:   -gSum / (hSum + g.Config.Lambda) * g.Config.LearningRate,
			})
			return int32(len(tree.Nodes) - 1)
		}

		if depth >= g.Config.MaxDepth || len(rows) < 2*g.Config.MinSamplesLeaf {
			return leaf()
		}

		// Accumulate gradient/hessian mass per present feature. Only
		// features appearing in some row can produce a non-trivial split.
		gFeat := make(map[int]float64)
		hFeat := make(map[int]float64)
		cFeat := make(map[int]int)
		for _, i := range rows {
			for _, f := range m.Rows[i].Indices {
				gFeat[f] += grad[i]
				hFeat[f] += hess[i]
				cFeat[f]++
			}
		}

		parentScore := gSum * gSum / (hSum + g.Config.Lambda)
		bestGain := 0.0
		bestFeature := -1
		for f, gf := range gFeat {
			if !keep(f) {
				continue
			}
			cRight := cFeat[f]
			cLeft := len(rows) - cRight
			if cRight < g.Config.MinSamplesLeaf || cLeft < g.Config.MinSamplesLeaf {
				continue
			}
			hf := hFeat[f]
			gain := gf*gf/(hf+g.Config.Lambda) +
				(gSum-gf)*(gSum-gf)/(hSum-hf+g.Config.Lambda) -
				parentScore
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
			}
		}
		if bestFeature < 0 {
			return leaf()
		}

		var left, right []int
		for _, i := range rows {
			if rowHasFeature(m.Rows[i], bestFeature) {
				right = append(right, i)
			} else {
				left = append(left, i)
			}
		}

		// Reserve this node, then build children.
		tree.Nodes = append(tree.Nodes, TreeNode{Feature: bestFeature})
		nodeIdx := int32(len(tree.Nodes) - 1)
		l := build(left, depth+1)
		r := build(right, depth+1)
		tree.Nodes[nodeIdx].Left = l
		tree.Nodes[nodeIdx].Right = r
		return nodeIdx
	}

	build(rows, 0)
	return tree
}

// ScoreRow returns the predicted CTR probability for one encoded row.
func (g *GradientBoosting) ScoreRow(row features.Row) float64 {
	z := g.BaseScore
	for i := range g.Trees {
		z += g.Trees[i].margin(row)
	}
	return sigmoid(z)
}

// ScoreRows scores every row of a feature matrix.
func (g *GradientBoosting) ScoreRows(m *features.Matrix) []float64 {
	return scoreRowsWith(m, g.ScoreRow)
}

var _ Scorer = (*GradientBoosting)(nil)
