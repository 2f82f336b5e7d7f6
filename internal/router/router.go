// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package router deterministically assigns users to one of two competing
// scoring policies and produces a score from the assigned policy.
//
// The canonical rule hashes the decimal string form of the user id with
// MD5 and takes the parity of the digest read as a big-endian integer:
// even routes to policy A, odd to policy B. Assignment is sticky (a user
// always lands on the same policy) and independent of the movie.
//
// A raw-parity rule (userId % 2) also exists. It is a different split,
// disagreeing with the hash rule for roughly half of all users, and is
// offered only as an explicitly configured demonstration alternative,
// never as a silent substitute for the hash rule.
package router

import (
	"crypto/md5" //nolint:gosec // G501: digest parity is the assignment contract, not a security boundary
	"fmt"
	"strconv"

	"github.com/sun129129/abtest-mlflow/internal/features"
	"github.com/sun129129/abtest-mlflow/internal/policy"
)

// PolicyLabel identifies one arm of the experiment.
type PolicyLabel string

const (
	PolicyA PolicyLabel = "A"
	PolicyB PolicyLabel = "B"
)

// Rule names accepted by NewRule.
const (
	RuleHash   = "hash"
	RuleParity = "parity"
)

// Rule assigns a user to an experiment arm. Implementations must be
// deterministic and stateless.
type Rule interface {
	Name() string
	Assign(userID int) PolicyLabel
}

// HashRule is the canonical assignment rule: MD5 of the decimal user id,
// digest parity decides the arm.
type HashRule struct{}

// Name returns the rule identifier.
func (HashRule) Name() string { return RuleHash }

// Assign routes even digests to A and odd digests to B. The parity of
// the digest as a big-endian integer is the low bit of its last byte.
func (HashRule) Assign(userID int) PolicyLabel {
	sum := md5.Sum([]byte(strconv.Itoa(userID))) //nolint:gosec // G401: see package comment
	if sum[len(sum)-1]&1 == 0 {
		return PolicyA
	}
	return PolicyB
}

// ParityRule assigns by the parity of the raw user id. Demonstration
// only; not equivalent to HashRule.
type ParityRule struct{}

// Name returns the rule identifier.
func (ParityRule) Name() string { return RuleParity }

// Assign routes even ids to A and odd ids to B.
func (ParityRule) Assign(userID int) PolicyLabel {
	if userID%2 == 0 {
		return PolicyA
	}
	return PolicyB
}

// NewRule returns the rule for a configured name.
func NewRule(name string) (Rule, error) {
	switch name {
	case RuleHash:
		return HashRule{}, nil
	case RuleParity:
		return ParityRule{}, nil
	default:
		return nil, fmt.Errorf("unknown routing rule %q (want %q or %q)", name, RuleHash, RuleParity)
	}
}

// PredictionKind tags the shape a scoring backend produced.
type PredictionKind int

const (
	// ScoreOnly carries just a probability; the caller supplies the arm.
	ScoreOnly PredictionKind = iota

	// Structured carries both the arm and the probability.
	Structured
)

// Prediction is the tagged result of scoring one request.
type Prediction struct {
	Kind   PredictionKind
	Score  float64
	Policy PolicyLabel // set when Kind == Structured
}

// Normalize maps either variant to the canonical assignment shape. For
// ScoreOnly predictions the supplied assignment fills the arm.
func (p Prediction) Normalize(assigned PolicyLabel) Assignment {
	if p.Kind == Structured {
		return Assignment{Policy: p.Policy, Score: p.Score}
	}
	return Assignment{Policy: assigned, Score: p.Score}
}

// Assignment is the canonical routing result.
type Assignment struct {
	Policy PolicyLabel
	Score  float64
}

// Router routes requests to the competing policies. All state is
// read-only after construction, so a Router is safe for concurrent use
// by request handlers without locking.
type Router struct {
	rule     Rule
	encoder  *features.Encoder
	policies map[PolicyLabel]policy.Scorer
	genres   map[int][]float64
}

// New builds a Router. Both arms must have a scorer. genres maps movie
// ids to their dense genre block; movies absent from the map encode with
// an all-zero block, matching how the encoder treats unseen ids.
func New(rule Rule, encoder *features.Encoder, policies map[PolicyLabel]policy.Scorer, genres map[int][]float64) (*Router, error) {
	if rule == nil {
		return nil, fmt.Errorf("router: rule is required")
	}
	if encoder == nil {
		return nil, fmt.Errorf("router: encoder is required")
	}
	for _, label := range []PolicyLabel{PolicyA, PolicyB} {
		if policies[label] == nil {
			return nil, fmt.Errorf("router: no scorer for policy %s", label)
		}
	}
	return &Router{rule: rule, encoder: encoder, policies: policies, genres: genres}, nil
}

// RuleName returns the name of the active assignment rule.
func (r *Router) RuleName() string { return r.rule.Name() }

// Route assigns the user to an arm and scores the (user, movie) pair
// with that arm's policy.
func (r *Router) Route(userID, movieID int) Assignment {
	assigned := r.rule.Assign(userID)
	row := r.encoder.EncodeRow(userID, movieID, r.genres[movieID])
	pred := Prediction{Kind: ScoreOnly, Score: r.policies[assigned].ScoreRow(row)}
	return pred.Normalize(assigned)
}
