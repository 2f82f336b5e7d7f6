// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package features turns raw (user, movie, genres) rows into the sparse
// feature representation shared by the linear and tree policies.
//
// The feature row is the concatenation of one-hot(userId), one-hot(movieId),
// and the dense genre block. The fitted encoding is produced once on
// training data and must be reused unmodified for validation and test
// scoring; ids unseen at fit time zero-encode rather than failing, so a
// model can score cold users and items.
package features

import (
	"errors"
	"fmt"

	"github.com/sun129129/abtest-mlflow/internal/dataset"
)

// Sentinel errors for the builder's contract.
var (
	// ErrMissingLabel is returned when a row has no label. The builder
	// never fabricates one.
	ErrMissingLabel = errors.New("features: row has no label")

	// ErrNoEncoder is returned when fit=false and no encoder is supplied.
	ErrNoEncoder = errors.New("features: fit=false requires a fitted encoder")
)

// Example is one input row for the builder. Label is optional so that
// serving-time rows (which have no ground truth) reuse the same type;
// Build, which produces training matrices, requires it.
type Example struct {
	UserID  int
	MovieID int
	Label   *int
	Genres  []float64
}

// FromInteractions converts prepared dataset rows into builder examples.
func FromInteractions(rows []dataset.Interaction) []Example {
	out := make([]Example, len(rows))
	for i, r := range rows {
		label := r.Label
		genres := make([]float64, dataset.NumGenres)
		for g := 0; g < dataset.NumGenres; g++ {
			genres[g] = float64(r.Genres[g])
		}
		out[i] = Example{UserID: r.UserID, MovieID: r.MovieID, Label: &label, Genres: genres}
	}
	return out
}

// Encoder is a fitted mapping from categorical ids to one-hot positions.
// It is read-only after fitting and safe for concurrent use.
type Encoder struct {
	UserIndex  map[int]int
	MovieIndex map[int]int

	// GenreWidth is the width of the dense genre block (19 for MovieLens).
	GenreWidth int
}

// NumFeatures returns the total feature-space width.
func (e *Encoder) NumFeatures() int {
	return len(e.UserIndex) + len(e.MovieIndex) + e.GenreWidth
}

// movieOffset is the column offset of the movie one-hot block.
func (e *Encoder) movieOffset() int { return len(e.UserIndex) }

// genreOffset is the column offset of the dense genre block.
func (e *Encoder) genreOffset() int { return len(e.UserIndex) + len(e.MovieIndex) }

// Row is one sparse feature row: parallel index/value pairs with indices
// strictly ascending.
type Row struct {
	Indices []int
	Values  []float64
}

// Matrix is a sparse feature matrix over a fixed column width.
type Matrix struct {
	Rows []Row
	Cols int
}

// fit creates a new encoding from the ids present in rows, in order of
// first appearance.
func fit(rows []Example) *Encoder {
	enc := &Encoder{
		UserIndex:  make(map[int]int),
		MovieIndex: make(map[int]int),
		GenreWidth: dataset.NumGenres,
	}
	if len(rows) > 0 && rows[0].Genres != nil {
		enc.GenreWidth = len(rows[0].Genres)
	}
	for _, r := range rows {
		if _, ok := enc.UserIndex[r.UserID]; !ok {
			enc.UserIndex[r.UserID] = len(enc.UserIndex)
		}
		if _, ok := enc.MovieIndex[r.MovieID]; !ok {
			enc.MovieIndex[r.MovieID] = len(enc.MovieIndex)
		}
	}
	return enc
}

// EncodeRow transforms a single example into a sparse feature row using
// the fitted encoding. Ids unseen during fit contribute an all-zero
// one-hot block; genre values beyond the fitted width are dropped and
// missing genre values are treated as 0.
func (e *Encoder) EncodeRow(userID, movieID int, genres []float64) Row {
	row := Row{}
	if ui, ok := e.UserIndex[userID]; ok {
		row.Indices = append(row.Indices, ui)
		row.Values = append(row.Values, 1)
	}
	if mi, ok := e.MovieIndex[movieID]; ok {
		row.Indices = append(row.Indices, e.movieOffset()+mi)
		row.Values = append(row.Values, 1)
	}
	base := e.genreOffset()
	for g, v := range genres {
		if g >= e.GenreWidth {
			break
		}
		if v != 0 {
			row.Indices = append(row.Indices, base+g)
			row.Values = append(row.Values, v)
		}
	}
	return row
}

// Build turns rows into a feature matrix and label vector.
//
// With fit=true a new encoding is created from the ids in rows (enc is
// ignored). With fit=false the supplied encoder is applied read-only;
// refitting on evaluation data leaks future ids into the feature space and
// is exactly the bug this split of responsibilities prevents.
func Build(rows []Example, enc *Encoder, fitEncoder bool) (*Matrix, []int, *Encoder, error) {
	if fitEncoder {
		enc = fit(rows)
	} else if enc == nil {
		return nil, nil, nil, ErrNoEncoder
	}

	m := &Matrix{Rows: make([]Row, len(rows)), Cols: enc.NumFeatures()}
	labels := make([]int, len(rows))
	for i, r := range rows {
		if r.Label == nil {
			return nil, nil, nil, fmt.Errorf("row %d: %w", i, ErrMissingLabel)
		}
		labels[i] = *r.Label
		m.Rows[i] = enc.EncodeRow(r.UserID, r.MovieID, r.Genres)
	}
	return m, labels, enc, nil
}
