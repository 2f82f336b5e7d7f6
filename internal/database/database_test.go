// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sun129129/abtest-mlflow/internal/dataset"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func testInteractions(n int) []dataset.Interaction {
	rows := make([]dataset.Interaction, n)
	for i := range rows {
		rows[i] = dataset.Interaction{
			UserID:    i + 1,
			MovieID:   100 + i,
			Rating:    (i % 5) + 1,
			Timestamp: int64(1000 + i),
			Label:     i % 2,
			Title:     "Movie",
		}
		rows[i].Genres[i%dataset.NumGenres] = 1
	}
	return rows
}

func TestSaveLoadSplitRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := testInteractions(25)
	if err := store.SaveSplit(ctx, "train", in); err != nil {
		t.Fatalf("SaveSplit: %v", err)
	}

	out, err := store.LoadSplit(ctx, "train")
	if err != nil {
		t.Fatalf("LoadSplit: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d rows, want %d", len(out), len(in))
	}
	// Row order must be preserved exactly.
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("row %d mismatch:\n got %+v\nwant %+v", i, out[i], in[i])
		}
	}
}

func TestSaveSplitReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveSplit(ctx, "valid", testInteractions(10)); err != nil {
		t.Fatalf("SaveSplit: %v", err)
	}
	if err := store.SaveSplit(ctx, "valid", testInteractions(4)); err != nil {
		t.Fatalf("SaveSplit replace: %v", err)
	}

	out, err := store.LoadSplit(ctx, "valid")
	if err != nil {
		t.Fatalf("LoadSplit: %v", err)
	}
	if len(out) != 4 {
		t.Errorf("got %d rows after replace, want 4", len(out))
	}
}

func TestSaveSplitRejectsUnknownName(t *testing.T) {
	store := newTestStore(t)

	if err := store.SaveSplit(context.Background(), "holdout", testInteractions(1)); err == nil {
		t.Fatal("expected error for unknown split name")
	}
}

func TestLoadSplitNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadSplit(context.Background(), "test")
	var notFound *ErrSplitNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *ErrSplitNotFound", err)
	}
	if notFound.Split != "test" {
		t.Errorf("error split = %q, want test", notFound.Split)
	}
}

func TestVocabRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	users := []int{1, 5, 9, 200}
	if err := store.SaveVocab(ctx, "users", users); err != nil {
		t.Fatalf("SaveVocab: %v", err)
	}

	out, err := store.LoadVocab(ctx, "users")
	if err != nil {
		t.Fatalf("LoadVocab: %v", err)
	}
	if len(out) != len(users) {
		t.Fatalf("got %d ids, want %d", len(out), len(users))
	}
	for i := range users {
		if out[i] != users[i] {
			t.Errorf("id %d = %d, want %d", i, out[i], users[i])
		}
	}
}

func TestLoadMovieGenres(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rows := []dataset.Interaction{
		{UserID: 1, MovieID: 10, Rating: 5, Label: 1},
		{UserID: 2, MovieID: 10, Rating: 3, Label: 0},
		{UserID: 1, MovieID: 20, Rating: 4, Label: 1},
	}
	rows[0].Genres[2] = 1
	rows[1].Genres[2] = 1
	rows[2].Genres[7] = 1
	if err := store.SaveSplit(ctx, "train", rows); err != nil {
		t.Fatalf("SaveSplit: %v", err)
	}

	genres, err := store.LoadMovieGenres(ctx)
	if err != nil {
		t.Fatalf("LoadMovieGenres: %v", err)
	}
	if len(genres) != 2 {
		t.Fatalf("got %d movies, want 2", len(genres))
	}
	g10 := genres[10]
	if len(g10) != dataset.NumGenres || g10[2] != 1 {
		t.Errorf("movie 10 genres = %v, want slot 2 set", g10)
	}
	g20 := genres[20]
	if g20[7] != 1 || g20[2] != 0 {
		t.Errorf("movie 20 genres = %v, want slot 7 set only", g20)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db", "movielens.duckdb")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
