// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package dataset

import (
	"archive/zip"
	"context"
	"fmt"
	"sort"

	"github.com/sun129129/abtest-mlflow/internal/logging"
)

// BuildSplits derives labels, joins genre metadata, orders by timestamp,
// and slices into train/valid/test.
//
// The split is a global temporal one: rows are stable-sorted by timestamp
// ascending and sliced at the 80% and 90% row-count boundaries, not by
// calendar date and not per-user. Ties at a boundary keep their original
// relative order.
func BuildSplits(ratings []Interaction, movies []Movie) *Splits {
	byMovie := make(map[int]*Movie, len(movies))
	for i := range movies {
		byMovie[movies[i].MovieID] = &movies[i]
	}

	rows := make([]Interaction, len(ratings))
	copy(rows, ratings)
	for i := range rows {
		if rows[i].Rating >= PositiveRatingThreshold {
			rows[i].Label = 1
		} else {
			rows[i].Label = 0
		}
		// Left join: movies without metadata keep the zero genre vector.
		if m, ok := byMovie[rows[i].MovieID]; ok {
			rows[i].Title = m.Title
			rows[i].Genres = m.Genres
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp < rows[j].Timestamp
	})

	n := len(rows)
	trainEnd := n * 8 / 10
	validEnd := n * 9 / 10

	return &Splits{
		Train:  rows[:trainEnd],
		Valid:  rows[trainEnd:validEnd],
		Test:   rows[validEnd:],
		Users:  distinctSorted(rows, func(r Interaction) int { return r.UserID }),
		Movies: distinctSorted(rows, func(r Interaction) int { return r.MovieID }),
	}
}

// distinctSorted collects the distinct values of key over rows, ascending.
func distinctSorted(rows []Interaction, key func(Interaction) int) []int {
	seen := make(map[int]struct{})
	var ids []int
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			ids = append(ids, k)
		}
	}
	sort.Ints(ids)
	return ids
}

// Prepare parses the archive at archivePath, builds the splits, and writes
// train/valid/test plus the user and movie vocabularies to the store.
// An unsupported archive fails before anything is written.
func Prepare(ctx context.Context, archivePath string, store Store) (*Splits, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	ratings, movies, variant, err := ParseArchive(&zr.Reader)
	if err != nil {
		return nil, err
	}

	splits := BuildSplits(ratings, movies)
	logging.Info().
		Str("variant", string(variant)).
		Int("rows", len(ratings)).
		Int("train", len(splits.Train)).
		Int("valid", len(splits.Valid)).
		Int("test", len(splits.Test)).
		Msg("dataset parsed")

	for _, split := range []struct {
		name string
		rows []Interaction
	}{
		{"train", splits.Train},
		{"valid", splits.Valid},
		{"test", splits.Test},
	} {
		if err := store.SaveSplit(ctx, split.name, split.rows); err != nil {
			return nil, fmt.Errorf("save split %s: %w", split.name, err)
		}
	}
	if err := store.SaveVocab(ctx, "users", splits.Users); err != nil {
		return nil, fmt.Errorf("save users vocabulary: %w", err)
	}
	if err := store.SaveVocab(ctx, "movies", splits.Movies); err != nil {
		return nil, fmt.Errorf("save movies vocabulary: %w", err)
	}
	return splits, nil
}
