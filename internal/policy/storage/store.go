// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package storage provides persistence for trained policy artifacts.
//
// Artifacts (policy models and the shared feature encoder) are serialized
// with gob, gzip-compressed and written with a SHA-256 checksum so a load
// can detect corruption. Each artifact is versioned independently, with
// the filename carrying the version.
//
// # Thread Safety
//
// All operations are safe for concurrent use from a single process.
package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Well-known artifact names produced by the training pipeline.
const (
	ArtifactLogReg  = "logreg_model"
	ArtifactGBDT    = "gbdt_model"
	ArtifactFM      = "fm_model"
	ArtifactEncoder = "encoder"
)

// ErrModelNotFound indicates a requested artifact does not exist.
type ErrModelNotFound struct {
	Name string
	Path string
}

func (e *ErrModelNotFound) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("artifact %q not found at %s", e.Name, e.Path)
	}
	return fmt.Sprintf("artifact %q not found", e.Name)
}

// ArtifactMetadata describes a stored artifact.
type ArtifactMetadata struct {
	// Name is the artifact name (e.g. "logreg_model").
	Name string `json:"name"`

	// Version is monotonically increasing per artifact.
	Version int `json:"version"`

	// TrainedAt is when the underlying model finished training.
	TrainedAt time.Time `json:"trained_at"`

	// SavedAt is when the artifact was written.
	SavedAt time.Time `json:"saved_at"`

	// RowCount is the number of training rows.
	RowCount int `json:"row_count"`

	// FeatureCount is the encoded feature dimensionality.
	FeatureCount int `json:"feature_count"`

	// Checksum is the SHA-256 of the uncompressed gob payload.
	Checksum string `json:"checksum"`

	// SizeBytes is the compressed payload size.
	SizeBytes int64 `json:"size_bytes"`

	// TrainingDurationMS is how long training took.
	TrainingDurationMS int64 `json:"training_duration_ms"`
}

// artifactFile is the on-disk format.
type artifactFile struct {
	Metadata       ArtifactMetadata
	CompressedData []byte
}

// Store manages artifact persistence under a base directory.
type Store struct {
	baseDir string
	mu      sync.RWMutex

	// latest version per artifact name
	versions map[string]int
}

// NewStore creates an artifact store at the given directory, scanning it
// for existing artifacts.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o750); err != nil { //nolint:gosec // 0750 is acceptable for artifact storage
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	s := &Store{
		baseDir:  baseDir,
		versions: make(map[string]int),
	}
	if err := s.scan(); err != nil {
		return nil, fmt.Errorf("scan existing artifacts: %w", err)
	}
	return s, nil
}

// scan indexes the latest version of every artifact on disk.
func (s *Store) scan() error {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, version, ok := parseArtifactFilename(entry.Name())
		if !ok {
			continue
		}
		if current := s.versions[name]; version > current {
			s.versions[name] = version
		}
	}
	return nil
}

// parseArtifactFilename splits a filename like "logreg_model_v3.gob.gz"
// into name and version.
func parseArtifactFilename(filename string) (name string, version int, ok bool) {
	base, found := strings.CutSuffix(filename, ".gob.gz")
	if !found {
		return "", 0, false
	}
	idx := strings.LastIndex(base, "_v")
	if idx < 1 {
		return "", 0, false
	}
	if _, err := fmt.Sscanf(base[idx+2:], "%d", &version); err != nil || version < 1 {
		return "", 0, false
	}
	return base[:idx], version, true
}

// Save stores an artifact under the next version and returns the metadata
// as written, including checksum and size.
//
//nolint:gocritic // meta passed by value is acceptable for this write operation
func (s *Store) Save(ctx context.Context, name string, data interface{}, meta ArtifactMetadata) (*ArtifactMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	raw := buf.Bytes()

	hash := sha256.Sum256(raw)
	meta.Checksum = hex.EncodeToString(hash[:])

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress artifact: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("finalize compression: %w", err)
	}

	version := s.versions[name] + 1
	meta.Name = name
	meta.Version = version
	meta.SavedAt = time.Now()
	meta.SizeBytes = int64(compressed.Len())

	path := s.artifactPath(name, version)
	f, err := os.Create(path) //nolint:gosec // path is constructed from trusted name parameter
	if err != nil {
		return nil, fmt.Errorf("create artifact file: %w", err)
	}
	defer func() { _ = f.Close() }() //nolint:errcheck // error on close after write surfaces via Encode

	af := artifactFile{Metadata: meta, CompressedData: compressed.Bytes()}
	if err := gob.NewEncoder(f).Encode(af); err != nil {
		return nil, fmt.Errorf("write artifact file: %w", err)
	}

	s.versions[name] = version
	return &meta, nil
}

// Load reads an artifact into target. Version 0 loads the latest.
// Returns *ErrModelNotFound when the artifact does not exist.
func (s *Store) Load(ctx context.Context, name string, version int, target interface{}) (*ArtifactMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if version == 0 {
		var ok bool
		version, ok = s.versions[name]
		if !ok {
			return nil, &ErrModelNotFound{Name: name, Path: s.baseDir}
		}
	}

	path := s.artifactPath(name, version)
	f, err := os.Open(path) //nolint:gosec // path is constructed from trusted name parameter
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ErrModelNotFound{Name: name, Path: path}
		}
		return nil, fmt.Errorf("open artifact file: %w", err)
	}
	defer func() { _ = f.Close() }() //nolint:errcheck // error on close after read is not actionable

	var af artifactFile
	if err := gob.NewDecoder(f).Decode(&af); err != nil {
		return nil, fmt.Errorf("read artifact file: %w", err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(af.CompressedData))
	if err != nil {
		return nil, fmt.Errorf("decompress artifact: %w", err)
	}
	defer func() { _ = gzr.Close() }() //nolint:errcheck // error on gzip close after read is not actionable

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("read decompressed data: %w", err)
	}

	hash := sha256.Sum256(raw)
	if checksum := hex.EncodeToString(hash[:]); checksum != af.Metadata.Checksum {
		return nil, fmt.Errorf("checksum mismatch for %s v%d: expected %s, got %s",
			name, version, af.Metadata.Checksum, checksum)
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(target); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	return &af.Metadata, nil
}

// LatestVersion returns the latest stored version for an artifact.
func (s *Store) LatestVersion(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version, ok := s.versions[name]
	return version, ok
}

// List returns metadata for the latest version of every artifact.
func (s *Store) List(ctx context.Context) ([]ArtifactMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ArtifactMetadata
	for name, version := range s.versions {
		f, err := os.Open(s.artifactPath(name, version)) //nolint:gosec // path is constructed from indexed names
		if err != nil {
			continue
		}
		var af artifactFile
		err = gob.NewDecoder(f).Decode(&af)
		_ = f.Close() //nolint:errcheck // error on close after read is not actionable
		if err != nil {
			continue
		}
		out = append(out, af.Metadata)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Prune removes old versions of an artifact, keeping the latest N.
func (s *Store) Prune(ctx context.Context, name string, keep int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 1 {
		keep = 1
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return fmt.Errorf("read artifact directory: %w", err)
	}

	var versions []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		entryName, v, ok := parseArtifactFilename(entry.Name())
		if !ok || entryName != name {
			continue
		}
		versions = append(versions, v)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(versions)))

	for i := keep; i < len(versions); i++ {
		_ = os.Remove(s.artifactPath(name, versions[i])) //nolint:errcheck // best-effort cleanup of old versions
	}
	return nil
}

// artifactPath returns the file path for one artifact version.
func (s *Store) artifactPath(name string, version int) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s_v%d.gob.gz", name, version))
}
