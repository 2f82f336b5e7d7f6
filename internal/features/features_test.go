// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package features

import (
	"errors"
	"testing"

	"github.com/sun129129/abtest-mlflow/internal/dataset"
)

func intPtr(v int) *int { return &v }

func fixtureRows() []Example {
	return []Example{
		{UserID: 1, MovieID: 10, Label: intPtr(1), Genres: []float64{1, 0, 0}},
		{UserID: 2, MovieID: 20, Label: intPtr(0), Genres: []float64{0, 1, 0}},
		{UserID: 1, MovieID: 20, Label: intPtr(1), Genres: []float64{0, 1, 0}},
	}
}

func TestBuildFitsEncoder(t *testing.T) {
	rows := fixtureRows()

	m, labels, enc, err := Build(rows, nil, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// 2 users + 2 movies + 3 genre slots.
	if enc.NumFeatures() != 7 {
		t.Errorf("NumFeatures = %d, want 7", enc.NumFeatures())
	}
	if m.Cols != 7 {
		t.Errorf("Cols = %d, want 7", m.Cols)
	}
	if len(m.Rows) != 3 || len(labels) != 3 {
		t.Fatalf("got %d rows / %d labels, want 3 / 3", len(m.Rows), len(labels))
	}
	for i, want := range []int{1, 0, 1} {
		if labels[i] != want {
			t.Errorf("label %d = %d, want %d", i, labels[i], want)
		}
	}
}

func TestEncodeRowIndicesAscending(t *testing.T) {
	rows := fixtureRows()
	_, _, enc, err := Build(rows, nil, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	row := enc.EncodeRow(1, 10, []float64{1, 0, 1})
	if len(row.Indices) != len(row.Values) {
		t.Fatalf("indices/values length mismatch: %d vs %d", len(row.Indices), len(row.Values))
	}
	// user one-hot, movie one-hot, two genre slots
	if len(row.Indices) != 4 {
		t.Fatalf("got %d entries, want 4", len(row.Indices))
	}
	for i := 1; i < len(row.Indices); i++ {
		if row.Indices[i] <= row.Indices[i-1] {
			t.Errorf("indices not strictly ascending: %v", row.Indices)
		}
	}
}

func TestEncodeRowUnseenIDs(t *testing.T) {
	rows := fixtureRows()
	_, _, enc, err := Build(rows, nil, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// Unknown user and movie must zero-encode, leaving only genres.
	row := enc.EncodeRow(999, 888, []float64{0, 0, 1})
	if len(row.Indices) != 1 {
		t.Fatalf("got %d entries, want 1 (genre only): %v", len(row.Indices), row.Indices)
	}
	if row.Indices[0] != 2+2+2 {
		t.Errorf("genre index = %d, want 6", row.Indices[0])
	}
}

func TestEncodeRowExcessGenresDropped(t *testing.T) {
	rows := fixtureRows()
	_, _, enc, err := Build(rows, nil, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	row := enc.EncodeRow(1, 10, []float64{0, 0, 0, 1, 1}) // width fitted at 3
	for _, idx := range row.Indices {
		if idx >= enc.NumFeatures() {
			t.Errorf("index %d beyond feature space %d", idx, enc.NumFeatures())
		}
	}
}

func TestBuildRequiresEncoder(t *testing.T) {
	_, _, _, err := Build(fixtureRows(), nil, false)
	if !errors.Is(err, ErrNoEncoder) {
		t.Fatalf("error = %v, want ErrNoEncoder", err)
	}
}

func TestBuildRequiresLabels(t *testing.T) {
	rows := fixtureRows()
	rows[1].Label = nil

	_, _, _, err := Build(rows, nil, true)
	if !errors.Is(err, ErrMissingLabel) {
		t.Fatalf("error = %v, want ErrMissingLabel", err)
	}
}

func TestBuildAppliesExistingEncoderReadOnly(t *testing.T) {
	train := fixtureRows()
	_, _, enc, err := Build(train, nil, true)
	if err != nil {
		t.Fatalf("Build train: %v", err)
	}
	usersBefore := len(enc.UserIndex)

	eval := []Example{
		{UserID: 999, MovieID: 10, Label: intPtr(0), Genres: []float64{0, 0, 0}},
	}
	m, _, encOut, err := Build(eval, enc, false)
	if err != nil {
		t.Fatalf("Build eval: %v", err)
	}
	if encOut != enc {
		t.Error("fit=false must return the supplied encoder")
	}
	if len(enc.UserIndex) != usersBefore {
		t.Error("fit=false mutated the encoder")
	}
	if m.Cols != enc.NumFeatures() {
		t.Errorf("eval Cols = %d, want %d", m.Cols, enc.NumFeatures())
	}
}

func TestFromInteractions(t *testing.T) {
	var genres [dataset.NumGenres]uint8
	genres[3] = 1
	rows := []dataset.Interaction{
		{UserID: 7, MovieID: 70, Rating: 5, Label: 1, Genres: genres},
	}

	examples := FromInteractions(rows)
	if len(examples) != 1 {
		t.Fatalf("got %d examples, want 1", len(examples))
	}
	ex := examples[0]
	if ex.UserID != 7 || ex.MovieID != 70 {
		t.Errorf("ids = (%d, %d), want (7, 70)", ex.UserID, ex.MovieID)
	}
	if ex.Label == nil || *ex.Label != 1 {
		t.Errorf("label = %v, want 1", ex.Label)
	}
	if len(ex.Genres) != dataset.NumGenres {
		t.Fatalf("genre width = %d, want %d", len(ex.Genres), dataset.NumGenres)
	}
	if ex.Genres[3] != 1 {
		t.Errorf("genre 3 = %v, want 1", ex.Genres[3])
	}
}
