// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package tracking records training and evaluation runs, and keeps a
// registry of promotable models.
//
// Runs are plain directories under <dir>/<experiment>/<run-id>/ holding
// params.json, metrics.json and artifacts.json, so results stay greppable
// and diffable without a tracking server. The registry lives in BadgerDB
// and resolves URIs of the form "models:/<name>@<alias>".
package tracking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/sun129129/abtest-mlflow/internal/logging"
)

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	StatusRunning  RunStatus = "RUNNING"
	StatusFinished RunStatus = "FINISHED"
	StatusFailed   RunStatus = "FAILED"
)

// RunInfo identifies a run within an experiment.
type RunInfo struct {
	RunID      string    `json:"run_id"`
	Experiment string    `json:"experiment"`
	Name       string    `json:"name"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
}

// ArtifactRef points at a stored artifact produced by a run.
type ArtifactRef struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
	Path    string `json:"path,omitempty"`
}

// Client writes runs under a tracking directory.
type Client struct {
	dir        string
	experiment string
}

// NewClient creates a tracking client for one experiment, creating the
// experiment directory if needed.
func NewClient(dir, experiment string) (*Client, error) {
	if experiment == "" {
		return nil, fmt.Errorf("tracking: experiment name is required")
	}
	expDir := filepath.Join(dir, experiment)
	if err := os.MkdirAll(expDir, 0o750); err != nil { //nolint:gosec // 0750 is acceptable for tracking data
		return nil, fmt.Errorf("create experiment directory: %w", err)
	}
	return &Client{dir: dir, experiment: experiment}, nil
}

// Experiment returns the experiment name.
func (c *Client) Experiment() string { return c.experiment }

// Dir returns the tracking root directory.
func (c *Client) Dir() string { return c.dir }

// StartRun opens a new run directory and returns a handle for logging.
func (c *Client) StartRun(ctx context.Context, name string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info := RunInfo{
		RunID:      uuid.NewString(),
		Experiment: c.experiment,
		Name:       name,
		Status:     StatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	runDir := filepath.Join(c.dir, c.experiment, info.RunID)
	if err := os.MkdirAll(runDir, 0o750); err != nil { //nolint:gosec // 0750 is acceptable for tracking data
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	r := &Run{
		info:    info,
		dir:     runDir,
		params:  make(map[string]interface{}),
		metrics: make(map[string]float64),
	}
	if err := r.writeMeta(); err != nil {
		return nil, err
	}

	logging.Info().
		Str("run_id", info.RunID).
		Str("experiment", c.experiment).
		Str("name", name).
		Msg("Run started")
	return r, nil
}

// ListRuns returns all runs of the experiment, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]RunInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	expDir := filepath.Join(c.dir, c.experiment)
	entries, err := os.ReadDir(expDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read experiment directory: %w", err)
	}

	var runs []RunInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(expDir, entry.Name(), "meta.json")) //nolint:gosec // path is under the tracking root
		if err != nil {
			continue
		}
		var info RunInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		runs = append(runs, info)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	return runs, nil
}

// LoadMetrics reads the recorded metrics of a finished run.
func (c *Client) LoadMetrics(ctx context.Context, runID string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(c.dir, c.experiment, runID, "metrics.json")
	data, err := os.ReadFile(path) //nolint:gosec // path is under the tracking root
	if err != nil {
		return nil, fmt.Errorf("read run metrics: %w", err)
	}
	metrics := make(map[string]float64)
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("parse run metrics: %w", err)
	}
	return metrics, nil
}

// Run is an open run accepting parameters, metrics and artifact refs.
// Methods are safe for concurrent use.
type Run struct {
	info      RunInfo
	dir       string
	mu        sync.Mutex
	params    map[string]interface{}
	metrics   map[string]float64
	artifacts []ArtifactRef
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.info.RunID }

// Dir returns the run directory.
func (r *Run) Dir() string { return r.dir }

// LogParam records one parameter.
func (r *Run) LogParam(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params[key] = value
}

// LogParams records a batch of parameters.
func (r *Run) LogParams(params map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range params {
		r.params[k] = v
	}
}

// LogMetric records one metric value.
func (r *Run) LogMetric(key string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[key] = value
}

// LogMetrics records a batch of metrics.
func (r *Run) LogMetrics(metrics map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range metrics {
		r.metrics[k] = v
	}
}

// LogArtifact records a reference to a stored artifact.
func (r *Run) LogArtifact(ref ArtifactRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts = append(r.artifacts, ref)
}

// End flushes params.json, metrics.json and artifacts.json and marks the
// run with the given terminal status.
func (r *Run) End(status RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.info.Status = status
	r.info.EndedAt = time.Now().UTC()

	if err := r.writeJSON("params.json", r.params); err != nil {
		return err
	}
	if err := r.writeJSON("metrics.json", r.metrics); err != nil {
		return err
	}
	if err := r.writeJSON("artifacts.json", r.artifacts); err != nil {
		return err
	}
	if err := r.writeMeta(); err != nil {
		return err
	}

	logging.Info().
		Str("run_id", r.info.RunID).
		Str("status", string(status)).
		Int("metrics", len(r.metrics)).
		Msg("Run ended")
	return nil
}

func (r *Run) writeMeta() error {
	return r.writeJSON("meta.json", r.info)
}

func (r *Run) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
