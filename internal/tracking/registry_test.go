// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package tracking

import (
	"context"
	"errors"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	t.Cleanup(func() {
		if err := reg.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return reg
}

func TestRegisterAssignsSequentialVersions(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := reg.Register(ctx, RegisteredVersion{
			Name:  "movielens_ctr_router",
			RunID: "run-1",
			Artifacts: []ArtifactRef{
				{Name: "logreg_model", Version: want},
				{Name: "gbdt_model", Version: want},
			},
		})
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		if got != want {
			t.Errorf("version = %d, want %d", got, want)
		}
	}

	latest, err := reg.Latest(ctx, "movielens_ctr_router")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != 3 {
		t.Errorf("latest = %d, want 3", latest)
	}
}

func TestGetVersion(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, RegisteredVersion{
		Name:      "movielens_ctr_router",
		RunID:     "run-abc",
		Artifacts: []ArtifactRef{{Name: "encoder", Version: 1}},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	rv, err := reg.GetVersion(ctx, "movielens_ctr_router", 1)
	if err != nil {
		t.Fatalf("GetVersion: %v", err)
	}
	if rv.RunID != "run-abc" || len(rv.Artifacts) != 1 {
		t.Errorf("record = %+v, want run-abc with one artifact", rv)
	}

	if _, err := reg.GetVersion(ctx, "movielens_ctr_router", 99); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("error = %v, want ErrVersionNotFound", err)
	}
}

func TestSetAliasAndResolve(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := reg.Register(ctx, RegisteredVersion{
			Name:      "movielens_ctr_router",
			Artifacts: []ArtifactRef{{Name: "logreg_model", Version: i + 1}},
		}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	if err := reg.SetAlias(ctx, "movielens_ctr_router", "router", 1); err != nil {
		t.Fatalf("SetAlias: %v", err)
	}

	// The alias pins version 1 even though version 2 is newer.
	rv, err := reg.Resolve(ctx, "models:/movielens_ctr_router@router")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rv.Version != 1 {
		t.Errorf("resolved version = %d, want 1", rv.Version)
	}

	// Moving an alias is how a new bundle goes live.
	if err := reg.SetAlias(ctx, "movielens_ctr_router", "router", 2); err != nil {
		t.Fatalf("SetAlias move: %v", err)
	}
	rv, err = reg.Resolve(ctx, "models:/movielens_ctr_router@router")
	if err != nil {
		t.Fatalf("Resolve after move: %v", err)
	}
	if rv.Version != 2 {
		t.Errorf("resolved version = %d, want 2", rv.Version)
	}
}

func TestSetAliasRejectsUnknownVersion(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.SetAlias(context.Background(), "movielens_ctr_router", "router", 5)
	if !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("error = %v, want ErrVersionNotFound", err)
	}
}

func TestResolveUnknownAlias(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	if _, err := reg.Register(ctx, RegisteredVersion{Name: "movielens_ctr_router"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := reg.Resolve(ctx, "models:/movielens_ctr_router@champion")
	if !errors.Is(err, ErrAliasNotFound) {
		t.Errorf("error = %v, want ErrAliasNotFound", err)
	}
}

func TestParseModelURI(t *testing.T) {
	tests := []struct {
		uri       string
		wantName  string
		wantAlias string
		wantErr   bool
	}{
		{"models:/movielens_ctr_router@router", "movielens_ctr_router", "router", false},
		{"models:/my_model@champion", "my_model", "champion", false},
		{"models:/no_alias", "", "", true},
		{"runs:/abc123", "", "", true},
		{"models:/@router", "", "", true},
		{"models:/name@", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		name, alias, err := ParseModelURI(tt.uri)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseModelURI(%q): expected error", tt.uri)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseModelURI(%q): %v", tt.uri, err)
			continue
		}
		if name != tt.wantName || alias != tt.wantAlias {
			t.Errorf("ParseModelURI(%q) = (%q, %q), want (%q, %q)",
				tt.uri, name, alias, tt.wantName, tt.wantAlias)
		}
	}
}
