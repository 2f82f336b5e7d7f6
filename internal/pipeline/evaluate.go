// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/sun129129/abtest-mlflow/internal/database"
	"github.com/sun129129/abtest-mlflow/internal/dataset"
	"github.com/sun129129/abtest-mlflow/internal/evaluation"
	"github.com/sun129129/abtest-mlflow/internal/features"
	"github.com/sun129129/abtest-mlflow/internal/logging"
	"github.com/sun129129/abtest-mlflow/internal/policy"
	"github.com/sun129129/abtest-mlflow/internal/policy/storage"
	"github.com/sun129129/abtest-mlflow/internal/tracking"
)

// EvalConfig configures the offline evaluation stage.
type EvalConfig struct {
	// Split is the evaluation split, "valid" or "test".
	Split string

	// CalibrationBins and LiftBins control the curve resolution.
	CalibrationBins int
	LiftBins        int

	// CV runs stratified k-fold cross-validation on the train split.
	CVFolds int
	CVSeed  int64

	// WithFM also evaluates the factorization-machine challenger.
	WithFM bool
}

// DefaultEvalConfig returns the standard evaluation protocol.
func DefaultEvalConfig() EvalConfig {
	return EvalConfig{
		Split:           "test",
		CalibrationBins: 10,
		LiftBins:        10,
		CVFolds:         evaluation.DefaultCVFolds,
		CVSeed:          evaluation.DefaultCVSeed,
		WithFM:          true,
	}
}

// PolicyEval is one policy's full offline report on the split.
type PolicyEval struct {
	Name        string                        `json:"name"`
	Metrics     evaluation.Metrics            `json:"metrics"`
	Brier       float64                       `json:"brier"`
	ROC         []evaluation.CurvePoint       `json:"roc"`
	PR          []evaluation.CurvePoint       `json:"pr"`
	Calibration []evaluation.CalibrationPoint `json:"calibration"`
	Lift        []evaluation.LiftPoint        `json:"lift"`
}

// EvalResult is the evaluation stage output.
type EvalResult struct {
	RunID    string                         `json:"run_id"`
	Split    string                         `json:"split"`
	Policies []PolicyEval                   `json:"policies"`
	Segments []evaluation.SegmentOutcome    `json:"segments"`
	CV       map[string]evaluation.CVResult `json:"cv,omitempty"`
}

// Evaluate loads the latest trained artifacts, scores the configured
// split, and produces metrics, curves, segment breakdowns and
// cross-validation for every policy. Cross-validation refits each policy
// on folds of the train split, matching the protocol the trainers use.
//
//nolint:gocyclo // sequential stage over several report kinds
func Evaluate(ctx context.Context, deps Deps, cfg EvalConfig) (*EvalResult, error) {
	if cfg.Split == "" {
		cfg.Split = "test"
	}
	if cfg.CalibrationBins <= 0 {
		cfg.CalibrationBins = 10
	}
	if cfg.LiftBins <= 0 {
		cfg.LiftBins = 10
	}

	rows, err := deps.DB.LoadSplit(ctx, cfg.Split)
	if err != nil {
		return nil, err
	}
	// A missing train split degrades gracefully: cold-start segments
	// report as skipped and cross-validation is omitted, while the split
	// under evaluation is still fully scored.
	trainRows, err := deps.DB.LoadSplit(ctx, "train")
	if err != nil {
		var notFound *database.ErrSplitNotFound
		if !errors.As(err, &notFound) {
			return nil, err
		}
		trainRows = nil
		logging.Warn().Msg("Training split unavailable; skipping cold-start segments and cross-validation")
	}

	var enc features.Encoder
	if _, err := deps.Artifacts.Load(ctx, storage.ArtifactEncoder, 0, &enc); err != nil {
		return nil, err
	}
	scorers, err := loadScorers(ctx, deps.Artifacts, cfg.WithFM)
	if err != nil {
		return nil, err
	}

	m, yTrue, _, err := features.Build(features.FromInteractions(rows), &enc, false)
	if err != nil {
		return nil, fmt.Errorf("build %s features: %w", cfg.Split, err)
	}

	run, err := deps.Tracking.StartRun(ctx, "evaluate_"+cfg.Split)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			_ = run.End(tracking.StatusFailed) //nolint:errcheck // already failing
		}
	}()
	run.LogParams(map[string]interface{}{
		"split":    cfg.Split,
		"rows":     len(rows),
		"cv_folds": cfg.CVFolds,
		"cv_seed":  cfg.CVSeed,
	})

	result := &EvalResult{RunID: run.ID(), Split: cfg.Split}
	probs := make(map[string][]float64, len(scorers))
	for _, s := range scorers {
		name := s.Name()
		p := s.ScoreRows(m)
		probs[name] = p

		mm, err := evaluation.BinaryMetrics(yTrue, p)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s on %s: %w", name, cfg.Split, err)
		}
		pe := PolicyEval{
			Name:        name,
			Metrics:     mm,
			Brier:       evaluation.BrierScore(yTrue, p),
			ROC:         evaluation.ROCCurve(yTrue, p),
			PR:          evaluation.PRCurve(yTrue, p),
			Calibration: evaluation.CalibrationCurve(yTrue, p, cfg.CalibrationBins),
			Lift:        evaluation.LiftCurve(yTrue, p, cfg.LiftBins),
		}
		result.Policies = append(result.Policies, pe)

		run.LogMetrics(map[string]float64{
			name + "_auc":     mm.AUC,
			name + "_pr_auc":  mm.PRAUC,
			name + "_logloss": mm.LogLoss,
			name + "_brier":   pe.Brier,
		})
		logging.Info().
			Str("policy", name).
			Str("split", cfg.Split).
			Float64("auc", mm.AUC).
			Float64("pr_auc", mm.PRAUC).
			Float64("logloss", mm.LogLoss).
			Msg("Policy evaluated")
	}

	// Cold-start membership comes from the training split actually used
	// to fit, not the dataset-wide vocabulary.
	var vocab *evaluation.TrainVocab
	if trainRows != nil {
		vocab = trainVocabFrom(trainRows)
	}
	result.Segments = evaluation.SegmentReport(rows, yTrue, probs, vocab)
	for _, seg := range result.Segments {
		if seg.Skipped() {
			logging.Debug().Str("segment", seg.Name).Str("reason", seg.SkipReason).Msg("Segment skipped")
		}
	}

	if cfg.CVFolds > 1 && trainRows != nil {
		cv, err := evaluation.CrossValidate(ctx, features.FromInteractions(trainRows), cfg.CVFolds, cfg.CVSeed, foldScorers(cfg.WithFM))
		if err != nil {
			return nil, fmt.Errorf("cross-validate: %w", err)
		}
		result.CV = cv
		for name, r := range cv {
			run.LogMetrics(map[string]float64{
				name + "_cv_auc_mean": r.Mean,
				name + "_cv_auc_std":  r.Std,
			})
		}
	}

	if err := run.End(tracking.StatusFinished); err != nil {
		return nil, err
	}
	ok = true
	return result, nil
}

// loadScorers loads the latest persisted policies.
func loadScorers(ctx context.Context, store *storage.Store, withFM bool) ([]policy.Scorer, error) {
	var logreg policy.LogisticRegression
	if _, err := store.Load(ctx, storage.ArtifactLogReg, 0, &logreg); err != nil {
		return nil, err
	}
	var gbdt policy.GradientBoosting
	if _, err := store.Load(ctx, storage.ArtifactGBDT, 0, &gbdt); err != nil {
		return nil, err
	}
	scorers := []policy.Scorer{&logreg, &gbdt}

	if withFM {
		var fm policy.FactorizationMachine
		if _, err := store.Load(ctx, storage.ArtifactFM, 0, &fm); err != nil {
			return nil, err
		}
		scorers = append(scorers, &fm)
	}
	return scorers, nil
}

// trainVocabFrom builds the cold-start membership sets from train rows.
func trainVocabFrom(rows []dataset.Interaction) *evaluation.TrainVocab {
	users := make(map[int]struct{})
	movies := make(map[int]struct{})
	for _, r := range rows {
		users[r.UserID] = struct{}{}
		movies[r.MovieID] = struct{}{}
	}
	return &evaluation.TrainVocab{Users: users, Movies: movies}
}

// foldScorers builds fold-local trainers for cross-validation. Each fold
// fits a fresh encoder and model on the fold's rows and scores those same
// rows, mirroring the k-fold protocol of the training scripts.
func foldScorers(withFM bool) map[string]evaluation.FoldScorer {
	scorers := map[string]evaluation.FoldScorer{
		policy.NameLogReg: func(ctx context.Context, rows []features.Example) ([]float64, error) {
			m, y, _, err := features.Build(rows, nil, true)
			if err != nil {
				return nil, err
			}
			lr := policy.NewLogisticRegression(policy.DefaultLogRegConfig())
			if err := lr.Train(ctx, m, y); err != nil {
				return nil, err
			}
			return lr.ScoreRows(m), nil
		},
		policy.NameGBDT: func(ctx context.Context, rows []features.Example) ([]float64, error) {
			m, y, _, err := features.Build(rows, nil, true)
			if err != nil {
				return nil, err
			}
			cfg := policy.DefaultGBDTConfig()
			// Folds are small; a shallow ensemble keeps CV tractable.
			cfg.NumTrees = 100
			cfg.EarlyStoppingRounds = 0
			gb := policy.NewGradientBoosting(cfg)
			if err := gb.Train(ctx, m, y, nil, nil); err != nil {
				return nil, err
			}
			return gb.ScoreRows(m), nil
		},
	}
	if withFM {
		scorers[policy.NameFM] = func(ctx context.Context, rows []features.Example) ([]float64, error) {
			m, y, _, err := features.Build(rows, nil, true)
			if err != nil {
				return nil, err
			}
			fm := policy.NewFactorizationMachine(policy.DefaultFMConfig())
			if err := fm.Train(ctx, m, y); err != nil {
				return nil, err
			}
			return fm.ScoreRows(m), nil
		}
	}
	return scorers
}
