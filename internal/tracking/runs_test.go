// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package tracking

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewClientRequiresExperiment(t *testing.T) {
	if _, err := NewClient(t.TempDir(), ""); err == nil {
		t.Fatal("expected error for empty experiment name")
	}
}

func TestRunLifecycle(t *testing.T) {
	dir := t.TempDir()
	client, err := NewClient(dir, "abtest_movielens")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	run, err := client.StartRun(ctx, "train")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if run.ID() == "" {
		t.Fatal("empty run id")
	}

	run.LogParam("policy", "logreg")
	run.LogParams(map[string]interface{}{"epochs": 200, "seed": 42})
	run.LogMetric("valid_auc", 0.71)
	run.LogMetrics(map[string]float64{"valid_logloss": 0.52})
	run.LogArtifact(ArtifactRef{Name: "logreg_model", Version: 1})

	if err := run.End(StatusFinished); err != nil {
		t.Fatalf("End: %v", err)
	}

	runDir := filepath.Join(dir, "abtest_movielens", run.ID())
	for _, name := range []string{"meta.json", "params.json", "metrics.json", "artifacts.json"} {
		if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
			t.Errorf("%s missing after End: %v", name, err)
		}
	}

	metrics, err := client.LoadMetrics(ctx, run.ID())
	if err != nil {
		t.Fatalf("LoadMetrics: %v", err)
	}
	if metrics["valid_auc"] != 0.71 {
		t.Errorf("valid_auc = %v, want 0.71", metrics["valid_auc"])
	}
	if metrics["valid_logloss"] != 0.52 {
		t.Errorf("valid_logloss = %v, want 0.52", metrics["valid_logloss"])
	}
}

func TestListRuns(t *testing.T) {
	client, err := NewClient(t.TempDir(), "abtest_movielens")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	first, err := client.StartRun(ctx, "train")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := first.End(StatusFinished); err != nil {
		t.Fatalf("End: %v", err)
	}
	second, err := client.StartRun(ctx, "evaluate_test")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := second.End(StatusFailed); err != nil {
		t.Fatalf("End: %v", err)
	}

	runs, err := client.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	byID := make(map[string]RunInfo, len(runs))
	for _, info := range runs {
		byID[info.RunID] = info
	}
	if got := byID[first.ID()]; got.Status != StatusFinished || got.Name != "train" {
		t.Errorf("first run = %+v, want finished train run", got)
	}
	if got := byID[second.ID()]; got.Status != StatusFailed {
		t.Errorf("second run status = %s, want %s", got.Status, StatusFailed)
	}
}

func TestListRunsEmptyExperiment(t *testing.T) {
	client, err := NewClient(t.TempDir(), "abtest_movielens")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	runs, err := client.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("got %d runs, want 0", len(runs))
	}
}
