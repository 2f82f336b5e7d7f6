// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package evaluation computes offline classification and ranking metrics
// for trained policies: point metrics (AUC, PR-AUC, log-loss, Brier),
// ROC/PR/calibration/lift curves, segment-sliced metrics, and stratified
// k-fold cross-validation.
package evaluation

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// probClip bounds predicted probabilities before log-loss computation so
// an exact 0 or 1 cannot produce an infinite loss.
const probClip = 1e-7

// ErrSingleClass is returned when the label vector contains only one
// class; AUC and PR-AUC are mathematically undefined there. Callers doing
// segment-level computation are expected to guard and skip.
var ErrSingleClass = errors.New("evaluation: labels contain a single class, AUC undefined")

// Metrics is the standard point-metric set for one policy on one split.
type Metrics struct {
	AUC     float64 `json:"auc"`
	PRAUC   float64 `json:"pr_auc"`
	LogLoss float64 `json:"logloss"`
}

// clip bounds p to [probClip, 1-probClip].
func clip(p float64) float64 {
	if p < probClip {
		return probClip
	}
	if p > 1-probClip {
		return 1 - probClip
	}
	return p
}

// validate checks the input vectors and reports whether both classes are
// present.
func validate(yTrue []int, yProb []float64) error {
	if len(yTrue) != len(yProb) {
		return fmt.Errorf("evaluation: %d labels vs %d probabilities", len(yTrue), len(yProb))
	}
	if len(yTrue) == 0 {
		return errors.New("evaluation: empty input")
	}
	pos := 0
	for _, y := range yTrue {
		if y == 1 {
			pos++
		}
	}
	if pos == 0 || pos == len(yTrue) {
		return ErrSingleClass
	}
	return nil
}

// BinaryMetrics computes AUC, PR-AUC (average precision), and log-loss.
// Probabilities are clipped to [1e-7, 1-1e-7] for the log-loss term only.
func BinaryMetrics(yTrue []int, yProb []float64) (Metrics, error) {
	if err := validate(yTrue, yProb); err != nil {
		return Metrics{}, err
	}
	return Metrics{
		AUC:     aucROC(yTrue, yProb),
		PRAUC:   averagePrecision(yTrue, yProb),
		LogLoss: LogLoss(yTrue, yProb),
	}, nil
}

// LogLoss is the mean negative log-likelihood under clipped probabilities.
func LogLoss(yTrue []int, yProb []float64) float64 {
	var sum float64
	for i, y := range yTrue {
		p := clip(yProb[i])
		if y == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(yTrue))
}

// BrierScore is the mean squared difference between predicted probability
// and outcome.
func BrierScore(yTrue []int, yProb []float64) float64 {
	var sum float64
	for i, y := range yTrue {
		d := yProb[i] - float64(y)
		sum += d * d
	}
	return sum / float64(len(yTrue))
}

// aucROC computes the area under the ROC curve via the rank statistic
// (Mann-Whitney U), with average ranks over tied scores.
func aucROC(yTrue []int, yProb []float64) float64 {
	n := len(yTrue)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yProb[idx[a]] < yProb[idx[b]] })

	// Sum of positive-class ranks, averaging ranks within tie groups.
	var rankSum float64
	var nPos, nNeg int
	for _, y := range yTrue {
		if y == 1 {
			nPos++
		} else {
			nNeg++
		}
	}
	i := 0
	for i < n {
		j := i
		for j < n && yProb[idx[j]] == yProb[idx[i]] {
			j++
		}
		// Ranks are 1-based; ties share the mean rank of the group.
		avgRank := float64(i+j+1) / 2.0
		for k := i; k < j; k++ {
			if yTrue[idx[k]] == 1 {
				rankSum += avgRank
			}
		}
		i = j
	}
	return (rankSum - float64(nPos)*float64(nPos+1)/2.0) / (float64(nPos) * float64(nNeg))
}

// averagePrecision computes PR-AUC as average precision: the sum of
// precision at each recall step, weighted by the recall increment.
func averagePrecision(yTrue []int, yProb []float64) float64 {
	n := len(yTrue)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yProb[idx[a]] > yProb[idx[b]] })

	var totalPos int
	for _, y := range yTrue {
		totalPos += y
	}

	var ap float64
	tp, fp := 0, 0
	i := 0
	for i < n {
		// Advance over a tie group as one threshold step.
		j := i
		for j < n && yProb[idx[j]] == yProb[idx[i]] {
			if yTrue[idx[j]] == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}
		precision := float64(tp) / float64(tp+fp)
		recallStep := float64(tp) / float64(totalPos)
		prevRecall := 0.0
		if i > 0 {
			prevTP := tp
			for k := i; k < j; k++ {
				prevTP -= yTrue[idx[k]]
			}
			prevRecall = float64(prevTP) / float64(totalPos)
		}
		ap += (recallStep - prevRecall) * precision
		i = j
	}
	return ap
}
