// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package router

import (
	"testing"

	"github.com/sun129129/abtest-mlflow/internal/features"
	"github.com/sun129129/abtest-mlflow/internal/policy"
)

// constScorer returns a fixed probability, letting tests observe which
// arm actually scored a request.
type constScorer struct {
	name  string
	score float64
}

func (c constScorer) Name() string                  { return c.name }
func (c constScorer) ScoreRow(features.Row) float64 { return c.score }

func (c constScorer) ScoreRows(m *features.Matrix) []float64 {
	out := make([]float64, len(m.Rows))
	for i := range out {
		out[i] = c.score
	}
	return out
}

func testEncoder() *features.Encoder {
	return &features.Encoder{
		UserIndex:  map[int]int{1: 0, 2: 1},
		MovieIndex: map[int]int{10: 0, 20: 1},
		GenreWidth: 3,
	}
}

func testPolicies() map[PolicyLabel]policy.Scorer {
	return map[PolicyLabel]policy.Scorer{
		PolicyA: constScorer{name: "logreg", score: 0.25},
		PolicyB: constScorer{name: "gbdt", score: 0.75},
	}
}

func TestHashRuleDeterministic(t *testing.T) {
	rule := HashRule{}
	for userID := 0; userID < 100; userID++ {
		first := rule.Assign(userID)
		for i := 0; i < 5; i++ {
			if got := rule.Assign(userID); got != first {
				t.Fatalf("user %d: assignment flipped from %s to %s", userID, first, got)
			}
		}
	}
}

func TestHashRuleRoughBalance(t *testing.T) {
	rule := HashRule{}
	countA := 0
	const n = 10000
	for userID := 1; userID <= n; userID++ {
		if rule.Assign(userID) == PolicyA {
			countA++
		}
	}
	// Digest parity over sequential ids behaves like a fair coin.
	if countA < 4500 || countA > 5500 {
		t.Errorf("policy A share = %d/%d, want roughly half", countA, n)
	}
}

func TestParityRule(t *testing.T) {
	rule := ParityRule{}
	tests := []struct {
		userID int
		want   PolicyLabel
	}{
		{0, PolicyA},
		{1, PolicyB},
		{2, PolicyA},
		{1001, PolicyB},
	}
	for _, tt := range tests {
		if got := rule.Assign(tt.userID); got != tt.want {
			t.Errorf("Assign(%d) = %s, want %s", tt.userID, got, tt.want)
		}
	}
}

func TestHashAndParityRulesDisagree(t *testing.T) {
	// The two rules are different splits; they must disagree for a
	// substantial share of users.
	hash, parity := HashRule{}, ParityRule{}
	disagree := 0
	const n = 1000
	for userID := 1; userID <= n; userID++ {
		if hash.Assign(userID) != parity.Assign(userID) {
			disagree++
		}
	}
	if disagree < n/4 {
		t.Errorf("rules disagree on %d/%d users, expected far more", disagree, n)
	}
}

func TestNewRule(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{RuleHash, RuleHash, false},
		{RuleParity, RuleParity, false},
		{"coinflip", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		rule, err := NewRule(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewRule(%q): expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewRule(%q): %v", tt.name, err)
			continue
		}
		if rule.Name() != tt.want {
			t.Errorf("NewRule(%q).Name() = %q, want %q", tt.name, rule.Name(), tt.want)
		}
	}
}

func TestNewRequiresBothArms(t *testing.T) {
	enc := testEncoder()

	missingB := map[PolicyLabel]policy.Scorer{
		PolicyA: constScorer{name: "logreg", score: 0.5},
	}
	if _, err := New(HashRule{}, enc, missingB, nil); err == nil {
		t.Error("expected error with no policy B scorer")
	}
	if _, err := New(nil, enc, testPolicies(), nil); err == nil {
		t.Error("expected error with nil rule")
	}
	if _, err := New(HashRule{}, nil, testPolicies(), nil); err == nil {
		t.Error("expected error with nil encoder")
	}
}

func TestRouteUsesAssignedArm(t *testing.T) {
	rt, err := New(HashRule{}, testEncoder(), testPolicies(), map[int][]float64{10: {1, 0, 0}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rule := HashRule{}
	for userID := 1; userID <= 50; userID++ {
		got := rt.Route(userID, 10)
		want := rule.Assign(userID)
		if got.Policy != want {
			t.Fatalf("user %d: routed to %s, rule says %s", userID, got.Policy, want)
		}
		wantScore := 0.25
		if want == PolicyB {
			wantScore = 0.75
		}
		if got.Score != wantScore {
			t.Errorf("user %d: score %v from arm %s, want %v", userID, got.Score, got.Policy, wantScore)
		}
	}
}

func TestRouteUnknownMovie(t *testing.T) {
	rt, err := New(ParityRule{}, testEncoder(), testPolicies(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// No genre metadata and an unseen movie id must still produce a
	// well-formed assignment.
	got := rt.Route(2, 999)
	if got.Policy != PolicyA {
		t.Errorf("policy = %s, want A for even user id", got.Policy)
	}
	if got.Score != 0.25 {
		t.Errorf("score = %v, want the A-arm constant", got.Score)
	}
}

func TestPredictionNormalize(t *testing.T) {
	structured := Prediction{Kind: Structured, Score: 0.9, Policy: PolicyB}
	if got := structured.Normalize(PolicyA); got.Policy != PolicyB || got.Score != 0.9 {
		t.Errorf("structured normalize = %+v, want policy B score 0.9", got)
	}

	scoreOnly := Prediction{Kind: ScoreOnly, Score: 0.4}
	if got := scoreOnly.Normalize(PolicyA); got.Policy != PolicyA || got.Score != 0.4 {
		t.Errorf("score-only normalize = %+v, want assigned policy A", got)
	}
}
