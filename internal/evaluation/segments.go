// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package evaluation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sun129129/abtest-mlflow/internal/dataset"
)

// maxGenreSegments caps how many genre slices are evaluated.
const maxGenreSegments = 8

// popularFraction is the share of distinct movie ids (by evaluation-split
// frequency) forming the "popular" segment.
const popularFraction = 0.1

// Skip reasons reported by SegmentReport. A skipped segment is an explicit
// outcome, distinguishable from "segment computed with no signal".
const (
	SkipNoRows       = "no matching rows"
	SkipSingleClass  = "single-class slice"
	SkipNoTrainVocab = "training vocabulary unavailable"
)

// SegmentOutcome is the result for one segment: either computed per-policy
// metrics or an explicit skip reason, never both.
type SegmentOutcome struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`

	// Computed holds metrics keyed by policy name when the segment was
	// evaluated.
	Computed map[string]Metrics `json:"computed,omitempty"`

	// SkipReason is set when the segment was never evaluated.
	SkipReason string `json:"skip_reason,omitempty"`
}

// Skipped reports whether the segment was skipped.
func (o *SegmentOutcome) Skipped() bool { return o.SkipReason != "" }

// TrainVocab holds the training split's id vocabularies used for
// cold-start masks. A nil value means the artifact was unavailable and the
// cold segments are skipped entirely.
type TrainVocab struct {
	Users  map[int]struct{}
	Movies map[int]struct{}
}

// NewTrainVocab builds membership sets from the persisted vocabularies.
func NewTrainVocab(users, movies []int) *TrainVocab {
	tv := &TrainVocab{
		Users:  make(map[int]struct{}, len(users)),
		Movies: make(map[int]struct{}, len(movies)),
	}
	for _, u := range users {
		tv.Users[u] = struct{}{}
	}
	for _, m := range movies {
		tv.Movies[m] = struct{}{}
	}
	return tv
}

// SegmentReport slices the evaluation rows into the standard segments and
// computes per-policy metrics on each:
//
//   - cold_user / cold_item: id absent from the training vocabulary;
//     skipped entirely when vocab is nil
//   - popular_top10pct / long_tail: movie frequency within the evaluation
//     split, top 10% of distinct ids (minimum 1)
//   - genre_g0..: one slice per genre flag, capped at the first 8
//
// probs maps policy name to a probability vector aligned with rows.
func SegmentReport(rows []dataset.Interaction, yTrue []int, probs map[string][]float64, vocab *TrainVocab) []SegmentOutcome {
	var outcomes []SegmentOutcome

	if vocab == nil {
		outcomes = append(outcomes,
			SegmentOutcome{Name: "cold_user", SkipReason: SkipNoTrainVocab},
			SegmentOutcome{Name: "cold_item", SkipReason: SkipNoTrainVocab},
		)
	} else {
		coldUser := make([]bool, len(rows))
		coldItem := make([]bool, len(rows))
		for i, r := range rows {
			_, seenU := vocab.Users[r.UserID]
			_, seenM := vocab.Movies[r.MovieID]
			coldUser[i] = !seenU
			coldItem[i] = !seenM
		}
		outcomes = append(outcomes,
			evalSegment("cold_user", coldUser, yTrue, probs),
			evalSegment("cold_item", coldItem, yTrue, probs),
		)
	}

	popular := popularMask(rows)
	longTail := make([]bool, len(rows))
	for i := range popular {
		longTail[i] = !popular[i]
	}
	outcomes = append(outcomes,
		evalSegment("popular_top10pct", popular, yTrue, probs),
		evalSegment("long_tail", longTail, yTrue, probs),
	)

	for g := 0; g < maxGenreSegments && g < dataset.NumGenres; g++ {
		mask := make([]bool, len(rows))
		for i, r := range rows {
			mask[i] = r.Genres[g] == 1
		}
		outcomes = append(outcomes, evalSegment(fmt.Sprintf("genre_g%d", g), mask, yTrue, probs))
	}
	return outcomes
}

// popularMask marks rows whose movie id is within the top 10% (minimum 1)
// of distinct ids ranked by evaluation-split frequency.
func popularMask(rows []dataset.Interaction) []bool {
	counts := make(map[int]int)
	for _, r := range rows {
		counts[r.MovieID]++
	}
	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	// Rank by frequency descending; ties break by id for determinism.
	sort.Slice(ids, func(a, b int) bool {
		if counts[ids[a]] != counts[ids[b]] {
			return counts[ids[a]] > counts[ids[b]]
		}
		return ids[a] < ids[b]
	})

	topK := int(popularFraction * float64(len(ids)))
	if topK < 1 && len(ids) > 0 {
		topK = 1
	}
	popularIDs := make(map[int]struct{}, topK)
	for _, id := range ids[:topK] {
		popularIDs[id] = struct{}{}
	}

	mask := make([]bool, len(rows))
	for i, r := range rows {
		_, mask[i] = popularIDs[r.MovieID]
	}
	return mask
}

// evalSegment computes metrics for every policy on the masked rows,
// producing an explicit skip outcome for empty or single-class slices.
func evalSegment(name string, mask []bool, yTrue []int, probs map[string][]float64) SegmentOutcome {
	var segY []int
	for i, in := range mask {
		if in {
			segY = append(segY, yTrue[i])
		}
	}
	if len(segY) == 0 {
		return SegmentOutcome{Name: name, SkipReason: SkipNoRows}
	}

	out := SegmentOutcome{Name: name, Rows: len(segY), Computed: make(map[string]Metrics, len(probs))}
	for policy, p := range probs {
		var segP []float64
		for i, in := range mask {
			if in {
				segP = append(segP, p[i])
			}
		}
		m, err := BinaryMetrics(segY, segP)
		if err != nil {
			if errors.Is(err, ErrSingleClass) {
				return SegmentOutcome{Name: name, Rows: len(segY), SkipReason: SkipSingleClass}
			}
			return SegmentOutcome{Name: name, Rows: len(segY), SkipReason: err.Error()}
		}
		out.Computed[policy] = m
	}
	return out
}
