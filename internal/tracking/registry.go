// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key layout for the registry in BadgerDB.
const (
	registryKeyPrefix = "model:"
	versionInfix      = ":v:"
	aliasInfix        = ":alias:"
	latestSuffix      = ":latest"
)

// ErrVersionNotFound indicates the requested registered version does not exist.
var ErrVersionNotFound = errors.New("registered model version not found")

// ErrAliasNotFound indicates the alias is not assigned for the model.
var ErrAliasNotFound = errors.New("model alias not found")

// RegisteredVersion is one registered model version. It points at the
// policy artifacts a serving process should load.
type RegisteredVersion struct {
	// Name is the registered model name (e.g. "movielens_ctr_router").
	Name string `json:"name"`

	// Version is assigned by the registry, starting at 1.
	Version int `json:"version"`

	// Artifacts are the stored artifacts making up this version.
	Artifacts []ArtifactRef `json:"artifacts"`

	// RunID is the tracking run that produced the version.
	RunID string `json:"run_id,omitempty"`

	// CreatedAt is when the version was registered.
	CreatedAt time.Time `json:"created_at"`
}

// Registry is a BadgerDB-backed model registry with alias support.
type Registry struct {
	db *badger.DB
}

// OpenRegistry opens (or creates) a registry at the given directory.
func OpenRegistry(path string) (*Registry, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Suppress BadgerDB internal logs
	// Registry records are tiny; keep value log files small
	opts.ValueLogFileSize = 16 << 20
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open model registry: %w", err)
	}
	return &Registry{db: db}, nil
}

// NewRegistryFromDB wraps an existing BadgerDB connection.
func NewRegistryFromDB(db *badger.DB) *Registry {
	return &Registry{db: db}
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Register stores a new version of a model and returns the assigned
// version number.
func (r *Registry) Register(ctx context.Context, rv RegisteredVersion) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if rv.Name == "" {
		return 0, fmt.Errorf("register model: name is required")
	}

	var version int
	err := r.db.Update(func(txn *badger.Txn) error {
		latest, err := readInt(txn, registryKeyPrefix+rv.Name+latestSuffix)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("read latest version: %w", err)
		}
		version = latest + 1

		rv.Version = version
		if rv.CreatedAt.IsZero() {
			rv.CreatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(rv)
		if err != nil {
			return fmt.Errorf("marshal registered version: %w", err)
		}

		key := []byte(registryKeyPrefix + rv.Name + versionInfix + strconv.Itoa(version))
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set version record: %w", err)
		}
		latestKey := []byte(registryKeyPrefix + rv.Name + latestSuffix)
		return txn.Set(latestKey, []byte(strconv.Itoa(version)))
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

// SetAlias points an alias (e.g. "router") at an existing version.
func (r *Registry) SetAlias(ctx context.Context, name, alias string, version int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		versionKey := []byte(registryKeyPrefix + name + versionInfix + strconv.Itoa(version))
		if _, err := txn.Get(versionKey); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s v%d", ErrVersionNotFound, name, version)
		} else if err != nil {
			return fmt.Errorf("get version record: %w", err)
		}

		aliasKey := []byte(registryKeyPrefix + name + aliasInfix + alias)
		return txn.Set(aliasKey, []byte(strconv.Itoa(version)))
	})
}

// GetVersion loads one registered version.
func (r *Registry) GetVersion(ctx context.Context, name string, version int) (*RegisteredVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rv RegisteredVersion
	err := r.db.View(func(txn *badger.Txn) error {
		key := []byte(registryKeyPrefix + name + versionInfix + strconv.Itoa(version))
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s v%d", ErrVersionNotFound, name, version)
		}
		if err != nil {
			return fmt.Errorf("get version record: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rv)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

// Latest returns the latest registered version number, or 0 when the
// model has never been registered.
func (r *Registry) Latest(ctx context.Context, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var latest int
	err := r.db.View(func(txn *badger.Txn) error {
		v, err := readInt(txn, registryKeyPrefix+name+latestSuffix)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		latest = v
		return nil
	})
	return latest, err
}

// Resolve parses a "models:/<name>@<alias>" URI and returns the version
// the alias points at.
func (r *Registry) Resolve(ctx context.Context, uri string) (*RegisteredVersion, error) {
	name, alias, err := ParseModelURI(uri)
	if err != nil {
		return nil, err
	}

	var version int
	err = r.db.View(func(txn *badger.Txn) error {
		v, err := readInt(txn, registryKeyPrefix+name+aliasInfix+alias)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s@%s", ErrAliasNotFound, name, alias)
		}
		if err != nil {
			return fmt.Errorf("get alias record: %w", err)
		}
		version = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.GetVersion(ctx, name, version)
}

// ParseModelURI splits a model URI of the form "models:/<name>@<alias>".
func ParseModelURI(uri string) (name, alias string, err error) {
	rest, ok := strings.CutPrefix(uri, "models:/")
	if !ok {
		return "", "", fmt.Errorf("invalid model URI %q: expected models:/<name>@<alias>", uri)
	}
	name, alias, ok = strings.Cut(rest, "@")
	if !ok || name == "" || alias == "" {
		return "", "", fmt.Errorf("invalid model URI %q: expected models:/<name>@<alias>", uri)
	}
	return name, alias, nil
}

// readInt reads a decimal integer value at key within a transaction.
func readInt(txn *badger.Txn, key string) (int, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return 0, err
	}
	var out int
	err = item.Value(func(val []byte) error {
		v, convErr := strconv.Atoi(string(val))
		if convErr != nil {
			return fmt.Errorf("corrupt integer value at %s: %w", key, convErr)
		}
		out = v
		return nil
	})
	return out, err
}
