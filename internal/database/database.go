// ABTest-MLflow - Offline A/B Testing Harness for MovieLens CTR
// Copyright 2026 sun129129
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sun129129/abtest-mlflow

// Package database stores prepared dataset splits in DuckDB.
//
// The store is the durable form of the Dataset Preparer's output: one
// columnar interactions table partitioned by split name plus the user and
// movie id vocabularies. Loading preserves the temporal row order the
// preparer wrote.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/sun129129/abtest-mlflow/internal/dataset"
	"github.com/sun129129/abtest-mlflow/internal/logging"
	"github.com/sun129129/abtest-mlflow/internal/metrics"
)

// ErrSplitNotFound is returned when a requested split has no rows, which
// means preparation never ran (or ran against a different database).
type ErrSplitNotFound struct {
	Split string
	Path  string
}

func (e *ErrSplitNotFound) Error() string {
	return fmt.Sprintf("split %q not found in %s: run prepare first", e.Split, e.Path)
}

// splitNames are the only valid split identifiers.
var splitNames = map[string]struct{}{"train": {}, "valid": {}, "test": {}}

// insertBatchSize bounds the number of rows per multi-row INSERT.
const insertBatchSize = 1000

// Store wraps the DuckDB connection holding prepared splits.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the DuckDB database at path.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb %s: %w", path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping duckdb %s: %w", path, err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.createSchema(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// createSchema creates the interactions and vocabulary tables.
func (s *Store) createSchema() error {
	var genreCols strings.Builder
	for i := 0; i < dataset.NumGenres; i++ {
		fmt.Fprintf(&genreCols, "g%d TINYINT NOT NULL DEFAULT 0,\n", i)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS interactions (
			split VARCHAR NOT NULL,
			seq INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			movie_id INTEGER NOT NULL,
			rating TINYINT NOT NULL,
			ts BIGINT NOT NULL,
			label TINYINT NOT NULL,
			%s
			title VARCHAR
		)`, genreCols.String()),
		`CREATE TABLE IF NOT EXISTS vocabularies (
			name VARCHAR NOT NULL,
			id INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// interactionColumns returns the insert column list for interactions.
func interactionColumns() []string {
	cols := []string{"split", "seq", "user_id", "movie_id", "rating", "ts", "label"}
	for i := 0; i < dataset.NumGenres; i++ {
		cols = append(cols, fmt.Sprintf("g%d", i))
	}
	return append(cols, "title")
}

// SaveSplit replaces the named split with rows, preserving row order via
// the seq column.
func (s *Store) SaveSplit(ctx context.Context, name string, rows []dataset.Interaction) (err error) {
	if _, ok := splitNames[name]; !ok {
		return fmt.Errorf("invalid split name %q", name)
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("insert", "interactions", time.Since(start), err) }()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, `DELETE FROM interactions WHERE split = ?`, name); err != nil {
		return fmt.Errorf("clear split %s: %w", name, err)
	}

	cols := interactionColumns()
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"

	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var sb strings.Builder
		fmt.Fprintf(&sb, "INSERT INTO interactions (%s) VALUES ", strings.Join(cols, ", "))
		args := make([]any, 0, len(batch)*len(cols))
		for i, r := range batch {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(placeholder)
			args = append(args, name, start+i, r.UserID, r.MovieID, r.Rating, r.Timestamp, r.Label)
			for g := 0; g < dataset.NumGenres; g++ {
				args = append(args, r.Genres[g])
			}
			args = append(args, r.Title)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert split %s rows [%d:%d]: %w", name, start, end, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit split %s: %w", name, err)
	}
	logging.Debug().Str("split", name).Int("rows", len(rows)).Msg("split saved")
	return nil
}

// LoadSplit loads the named split in the order it was written.
func (s *Store) LoadSplit(ctx context.Context, name string) (_ []dataset.Interaction, err error) {
	if _, ok := splitNames[name]; !ok {
		return nil, fmt.Errorf("invalid split name %q", name)
	}
	start := time.Now()
	defer func() { metrics.RecordDBQuery("select", "interactions", time.Since(start), err) }()

	cols := []string{"user_id", "movie_id", "rating", "ts", "label"}
	for i := 0; i < dataset.NumGenres; i++ {
		cols = append(cols, fmt.Sprintf("g%d", i))
	}
	cols = append(cols, "coalesce(title, '')")

	query := fmt.Sprintf(
		`SELECT %s FROM interactions WHERE split = ? ORDER BY seq`,
		strings.Join(cols, ", "),
	)
	rows, err := s.conn.QueryContext(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("query split %s: %w", name, err)
	}
	defer rows.Close()

	var out []dataset.Interaction
	for rows.Next() {
		var r dataset.Interaction
		dest := []any{&r.UserID, &r.MovieID, &r.Rating, &r.Timestamp, &r.Label}
		for g := 0; g < dataset.NumGenres; g++ {
			dest = append(dest, &r.Genres[g])
		}
		dest = append(dest, &r.Title)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan split %s: %w", name, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate split %s: %w", name, err)
	}
	if len(out) == 0 {
		return nil, &ErrSplitNotFound{Split: name, Path: s.path}
	}
	return out, nil
}

// SaveVocab replaces the named id vocabulary.
func (s *Store) SaveVocab(ctx context.Context, name string, ids []int) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, `DELETE FROM vocabularies WHERE name = ?`, name); err != nil {
		return fmt.Errorf("clear vocabulary %s: %w", name, err)
	}
	for start := 0; start < len(ids); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		var sb strings.Builder
		sb.WriteString(`INSERT INTO vocabularies (name, id) VALUES `)
		args := make([]any, 0, (end-start)*2)
		for i, id := range ids[start:end] {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(?, ?)")
			args = append(args, name, id)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("insert vocabulary %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit vocabulary %s: %w", name, err)
	}
	return nil
}

// LoadVocab loads the named id vocabulary, ascending.
func (s *Store) LoadVocab(ctx context.Context, name string) ([]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id FROM vocabularies WHERE name = ? ORDER BY id`, name)
	if err != nil {
		return nil, fmt.Errorf("query vocabulary %s: %w", name, err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan vocabulary %s: %w", name, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate vocabulary %s: %w", name, err)
	}
	return ids, nil
}

// LoadMovieGenres returns the dense genre block for every movie present
// in the prepared splits, keyed by movie id. Serving uses this to encode
// requests for movies the encoder has seen.
func (s *Store) LoadMovieGenres(ctx context.Context) (map[int][]float64, error) {
	var genreCols []string
	for i := 0; i < dataset.NumGenres; i++ {
		genreCols = append(genreCols, fmt.Sprintf("g%d", i))
	}
	query := fmt.Sprintf(
		`SELECT DISTINCT movie_id, %s FROM interactions`,
		strings.Join(genreCols, ", "),
	)
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query movie genres: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]float64)
	for rows.Next() {
		var movieID int
		flags := make([]uint8, dataset.NumGenres)
		dest := make([]any, 0, dataset.NumGenres+1)
		dest = append(dest, &movieID)
		for g := range flags {
			dest = append(dest, &flags[g])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan movie genres: %w", err)
		}
		genres := make([]float64, dataset.NumGenres)
		for g, f := range flags {
			genres[g] = float64(f)
		}
		out[movieID] = genres
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate movie genres: %w", err)
	}
	return out, nil
}

// Ensure Store satisfies the preparer's persistence contract.
var _ dataset.Store = (*Store)(nil)
