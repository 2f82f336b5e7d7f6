// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package dataset prepares MovieLens archives into time-ordered
// train/valid/test splits with a binarized implicit label.
//
// Two archive layouts are supported and auto-detected by entry prefix:
//
//   - ml-100k: tab-separated u.data ratings, pipe-delimited u.item movie
//     metadata with 19 trailing genre flags
//   - ml-1m: "::"-delimited ratings.dat and movies.dat with genre names
//
// Both layouts normalize to the same record schema so every downstream
// component (features, trainers, evaluators) is layout-agnostic.
package dataset

import (
	"context"
	"errors"
)

// NumGenres is the fixed width of the MovieLens genre vector.
const NumGenres = 19

// PositiveRatingThreshold binarizes explicit ratings into the implicit
// label: label = 1 iff rating >= 4.
const PositiveRatingThreshold = 4

// GenreNames lists the 19 MovieLens genre categories in canonical flag
// order (g0..g18). The ml-100k u.item flag columns follow this order; the
// ml-1m genre names are mapped onto the same slots.
var GenreNames = [NumGenres]string{
	"unknown", "Action", "Adventure", "Animation", "Children's", "Comedy",
	"Crime", "Documentary", "Drama", "Fantasy", "Film-Noir", "Horror",
	"Musical", "Mystery", "Romance", "Sci-Fi", "Thriller", "War", "Western",
}

// ErrUnsupportedDataset is returned when an archive matches neither the
// ml-100k nor the ml-1m layout. Preparation fails fast with no output.
var ErrUnsupportedDataset = errors.New("unsupported dataset: expected an ml-100k or ml-1m archive")

// Interaction is one rating event joined with movie genre metadata.
// Records are immutable once derived.
type Interaction struct {
	UserID    int
	MovieID   int
	Rating    int
	Timestamp int64

	// Label is the implicit-feedback label: 1 iff Rating >= 4.
	Label int

	// Title is the movie title, empty when the movie had no metadata row.
	Title string

	// Genres is the fixed 19-slot binary genre vector. Movies absent from
	// the metadata keep an all-zero vector rather than failing the join.
	Genres [NumGenres]uint8
}

// Movie is a metadata row parsed from the archive.
type Movie struct {
	MovieID int
	Title   string
	Genres  [NumGenres]uint8
}

// Splits holds the three time-ordered partitions plus the id vocabularies
// derived from the full dataset.
type Splits struct {
	Train []Interaction
	Valid []Interaction
	Test  []Interaction

	// Users and Movies are the distinct sorted id vocabularies over all
	// rows, persisted for cold-start segment analysis.
	Users  []int
	Movies []int
}

// Store persists prepared splits and vocabularies. Implemented by the
// DuckDB-backed database.Store.
type Store interface {
	SaveSplit(ctx context.Context, name string, rows []Interaction) error
	SaveVocab(ctx context.Context, name string, ids []int) error
}
