// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package evaluation

import (
	"context"
	"testing"

	"github.com/sun129129/abtest-mlflow/internal/features"
)

func cvRows(n int) []features.Example {
	rows := make([]features.Example, n)
	for i := range rows {
		label := i % 2
		rows[i] = features.Example{UserID: i, MovieID: 1000 + i, Label: &label}
	}
	return rows
}

// oracleScorer reads the fold labels back as probabilities, giving an
// exact AUC of 1 on every fold regardless of how rows were dealt.
func oracleScorer(_ context.Context, fold []features.Example) ([]float64, error) {
	probs := make([]float64, len(fold))
	for i, r := range fold {
		if *r.Label == 1 {
			probs[i] = 0.9
		} else {
			probs[i] = 0.1
		}
	}
	return probs, nil
}

func TestCrossValidateOracle(t *testing.T) {
	rows := cvRows(50)
	scorers := map[string]FoldScorer{"oracle": oracleScorer}

	results, err := CrossValidate(context.Background(), rows, 5, 42, scorers)
	if err != nil {
		t.Fatalf("CrossValidate: %v", err)
	}
	res, ok := results["oracle"]
	if !ok {
		t.Fatal("no result for oracle policy")
	}
	if len(res.FoldAUC) != 5 {
		t.Fatalf("got %d folds, want 5", len(res.FoldAUC))
	}
	assertFloatNear(t, res.Mean, 1.0, floatTol, "mean AUC")
	assertFloatNear(t, res.Std, 0.0, floatTol, "std AUC")
}

func TestStratifiedFoldsPreserveBalance(t *testing.T) {
	rows := cvRows(100) // 50/50 classes

	folds := stratifiedFolds(rows, 5, 42)
	seen := make(map[int]bool)
	for f, fold := range folds {
		if len(fold) != 20 {
			t.Errorf("fold %d size = %d, want 20", f, len(fold))
		}
		pos := 0
		for _, idx := range fold {
			if seen[idx] {
				t.Fatalf("row %d appears in two folds", idx)
			}
			seen[idx] = true
			pos += *rows[idx].Label
		}
		if pos != 10 {
			t.Errorf("fold %d positives = %d, want 10", f, pos)
		}
	}
	if len(seen) != len(rows) {
		t.Errorf("folds cover %d rows, want %d", len(seen), len(rows))
	}
}

func TestStratifiedFoldsDeterministic(t *testing.T) {
	rows := cvRows(40)

	a := stratifiedFolds(rows, 4, 7)
	b := stratifiedFolds(rows, 4, 7)
	for f := range a {
		if len(a[f]) != len(b[f]) {
			t.Fatalf("fold %d sizes differ: %d vs %d", f, len(a[f]), len(b[f]))
		}
		for i := range a[f] {
			if a[f][i] != b[f][i] {
				t.Fatalf("fold %d differs at %d with the same seed", f, i)
			}
		}
	}
}

func TestCrossValidateCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CrossValidate(ctx, cvRows(20), 4, 1, map[string]FoldScorer{"oracle": oracleScorer})
	if err == nil {
		t.Fatal("expected context error, got nil")
	}
}
