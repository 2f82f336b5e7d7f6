// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package evaluation

import (
	"sort"
)

// CurvePoint is one (X, Y) point on a diagnostic curve.
type CurvePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ROCCurve returns (FPR, TPR) points at every distinct score threshold,
// descending, starting at (0,0) and ending at (1,1).
func ROCCurve(yTrue []int, yProb []float64) []CurvePoint {
	n := len(yTrue)
	idx := sortedIndicesDesc(yProb)

	var totalPos, totalNeg int
	for _, y := range yTrue {
		if y == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}

	points := []CurvePoint{{0, 0}}
	tp, fp := 0, 0
	i := 0
	for i < n {
		j := i
		for j < n && yProb[idx[j]] == yProb[idx[i]] {
			if yTrue[idx[j]] == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}
		points = append(points, CurvePoint{
			X: ratio(fp, totalNeg),
			Y: ratio(tp, totalPos),
		})
		i = j
	}
	return points
}

// PRCurve returns (recall, precision) points at every distinct score
// threshold, descending.
func PRCurve(yTrue []int, yProb []float64) []CurvePoint {
	n := len(yTrue)
	idx := sortedIndicesDesc(yProb)

	var totalPos int
	for _, y := range yTrue {
		totalPos += y
	}

	var points []CurvePoint
	tp, fp := 0, 0
	i := 0
	for i < n {
		j := i
		for j < n && yProb[idx[j]] == yProb[idx[i]] {
			if yTrue[idx[j]] == 1 {
				tp++
			} else {
				fp++
			}
			j++
		}
		points = append(points, CurvePoint{
			X: ratio(tp, totalPos),
			Y: ratio(tp, tp+fp),
		})
		i = j
	}
	return points
}

// CalibrationPoint is one quantile bin of predicted vs observed rate.
type CalibrationPoint struct {
	MeanPredicted float64 `json:"mean_predicted"`
	ObservedRate  float64 `json:"observed_rate"`
	Count         int     `json:"count"`
}

// CalibrationCurve bins predictions into bins quantile bins (by sorted
// score order) and reports mean predicted probability vs observed positive
// rate per bin. Bins beyond the sample count are dropped.
func CalibrationCurve(yTrue []int, yProb []float64, bins int) []CalibrationPoint {
	n := len(yTrue)
	if bins <= 0 {
		bins = 10
	}
	if bins > n {
		bins = n
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yProb[idx[a]] < yProb[idx[b]] })

	var points []CalibrationPoint
	for b := 0; b < bins; b++ {
		lo := b * n / bins
		hi := (b + 1) * n / bins
		if hi <= lo {
			continue
		}
		var sumP float64
		var pos int
		for _, k := range idx[lo:hi] {
			sumP += yProb[k]
			pos += yTrue[k]
		}
		count := hi - lo
		points = append(points, CalibrationPoint{
			MeanPredicted: sumP / float64(count),
			ObservedRate:  float64(pos) / float64(count),
			Count:         count,
		})
	}
	return points
}

// LiftPoint is one population decile of the lift / cumulative-gain curve.
type LiftPoint struct {
	// Fraction of the population covered, descending by predicted score.
	PopulationFraction float64 `json:"population_fraction"`

	// Gain is the fraction of all positives captured in the top slice.
	Gain float64 `json:"gain"`

	// Lift is Gain divided by PopulationFraction (1.0 = random order).
	Lift float64 `json:"lift"`
}

// LiftCurve sorts rows by descending predicted score and reports
// cumulative gain and lift at population fractions 1/bins .. 1.
func LiftCurve(yTrue []int, yProb []float64, bins int) []LiftPoint {
	if bins <= 0 {
		bins = 10
	}
	idx := sortedIndicesDesc(yProb)

	var totalPos int
	for _, y := range yTrue {
		totalPos += y
	}

	points := make([]LiftPoint, 0, bins)
	for b := 1; b <= bins; b++ {
		frac := float64(b) / float64(bins)
		k := int(float64(len(yTrue)) * frac)
		pos := 0
		for _, i := range idx[:k] {
			pos += yTrue[i]
		}
		gain := 0.0
		if totalPos > 0 {
			gain = float64(pos) / float64(totalPos)
		}
		points = append(points, LiftPoint{
			PopulationFraction: frac,
			Gain:               gain,
			Lift:               gain / frac,
		})
	}
	return points
}

// sortedIndicesDesc returns row indices ordered by descending score,
// stable over ties.
func sortedIndicesDesc(yProb []float64) []int {
	idx := make([]int, len(yProb))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yProb[idx[a]] > yProb[idx[b]] })
	return idx
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
