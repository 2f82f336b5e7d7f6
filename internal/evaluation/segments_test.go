// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package evaluation

import (
	"testing"

	"github.com/sun129129/abtest-mlflow/internal/dataset"
)

func segmentByName(t *testing.T, outcomes []SegmentOutcome, name string) SegmentOutcome {
	t.Helper()
	for _, o := range outcomes {
		if o.Name == name {
			return o
		}
	}
	t.Fatalf("segment %q not in report", name)
	return SegmentOutcome{}
}

func testRows() ([]dataset.Interaction, []int, map[string][]float64) {
	rows := []dataset.Interaction{
		{UserID: 1, MovieID: 10},
		{UserID: 1, MovieID: 10},
		{UserID: 2, MovieID: 20},
		{UserID: 3, MovieID: 30},
		{UserID: 99, MovieID: 10}, // cold user
		{UserID: 2, MovieID: 999}, // cold item
	}
	rows[0].Genres[0] = 1
	rows[1].Genres[0] = 1
	rows[2].Genres[1] = 1
	yTrue := []int{1, 0, 1, 0, 1, 0}
	probs := map[string][]float64{
		"logreg": {0.9, 0.2, 0.8, 0.3, 0.7, 0.4},
	}
	return rows, yTrue, probs
}

func TestSegmentReportColdSegmentsWithoutVocab(t *testing.T) {
	rows, yTrue, probs := testRows()

	outcomes := SegmentReport(rows, yTrue, probs, nil)

	for _, name := range []string{"cold_user", "cold_item"} {
		seg := segmentByName(t, outcomes, name)
		if !seg.Skipped() {
			t.Errorf("%s: expected skip without vocab", name)
		}
		if seg.SkipReason != SkipNoTrainVocab {
			t.Errorf("%s: skip reason = %q, want %q", name, seg.SkipReason, SkipNoTrainVocab)
		}
	}
}

func TestSegmentReportColdMasks(t *testing.T) {
	rows, yTrue, probs := testRows()
	vocab := NewTrainVocab([]int{1, 2, 3}, []int{10, 20, 30})

	outcomes := SegmentReport(rows, yTrue, probs, vocab)

	coldUser := segmentByName(t, outcomes, "cold_user")
	if coldUser.Rows != 1 {
		t.Errorf("cold_user rows = %d, want 1", coldUser.Rows)
	}
	// A single row is single-class at best; the slice must be skipped,
	// not silently reported with an undefined AUC.
	if !coldUser.Skipped() {
		t.Error("cold_user: expected single-class skip")
	}

	coldItem := segmentByName(t, outcomes, "cold_item")
	if coldItem.Rows != 1 {
		t.Errorf("cold_item rows = %d, want 1", coldItem.Rows)
	}
}

func TestSegmentReportGenreSlices(t *testing.T) {
	rows, yTrue, probs := testRows()

	outcomes := SegmentReport(rows, yTrue, probs, nil)

	g0 := segmentByName(t, outcomes, "genre_g0")
	if g0.Rows != 2 {
		t.Errorf("genre_g0 rows = %d, want 2", g0.Rows)
	}
	if g0.Skipped() {
		t.Fatalf("genre_g0 skipped: %s", g0.SkipReason)
	}
	m, ok := g0.Computed["logreg"]
	if !ok {
		t.Fatal("genre_g0: no logreg metrics")
	}
	// Rows 0 (y=1, p=0.9) and 1 (y=0, p=0.2) are perfectly ranked.
	assertFloatNear(t, m.AUC, 1.0, floatTol, "genre_g0 AUC")

	// Genre flags never set in the fixture must be explicit skips.
	g5 := segmentByName(t, outcomes, "genre_g5")
	if g5.SkipReason != SkipNoRows {
		t.Errorf("genre_g5 skip reason = %q, want %q", g5.SkipReason, SkipNoRows)
	}
}

func TestSegmentReportPopularSegment(t *testing.T) {
	rows, yTrue, probs := testRows()

	outcomes := SegmentReport(rows, yTrue, probs, nil)

	// Movie 10 appears 3 times of 6 rows and is the single top-10% id.
	popular := segmentByName(t, outcomes, "popular_top10pct")
	if popular.Rows != 3 {
		t.Errorf("popular rows = %d, want 3", popular.Rows)
	}
	longTail := segmentByName(t, outcomes, "long_tail")
	if longTail.Rows != 3 {
		t.Errorf("long_tail rows = %d, want 3", longTail.Rows)
	}
}
