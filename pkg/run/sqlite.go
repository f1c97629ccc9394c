// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tombee/promptflow/pkg/errors"
	_ "modernc.org/sqlite"
)

// Compile-time interface assertion.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a SQLite-backed Store for single-node, durable-between-
// invocations run history. Grounded on
// internal/controller/backend/sqlite/sqlite.go's pragma/migration/CRUD
// shape, adapted from the teacher's generic workflow Run record to
// PromptFlow's flow-path/batch-size/inputs_mapping fields.
type SQLiteStore struct {
	db *sql.DB
}

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	Path string
	WAL  bool
}

// NewSQLiteStore opens (creating if necessary) the database at cfg.Path,
// configures pragmas, and runs migrations.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			flow_path TEXT NOT NULL,
			variant_id TEXT,
			status TEXT NOT NULL,
			inputs TEXT,
			inputs_mapping TEXT,
			output_path TEXT,
			batch_size INTEGER DEFAULT 0,
			completed INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0,
			error TEXT,
			parent_run_id TEXT,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_flow_path ON runs(flow_path)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_parent_run_id ON runs(parent_run_id)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Create inserts a new run row.
func (s *SQLiteStore) Create(ctx context.Context, r *Run) error {
	inputsJSON, err := json.Marshal(r.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	mappingJSON, err := json.Marshal(r.InputsMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs_mapping: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, flow_path, variant_id, status, inputs, inputs_mapping,
			output_path, batch_size, completed, failed, error, parent_run_id,
			started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.FlowPath, nullString(r.VariantID), string(r.Status),
		string(inputsJSON), string(mappingJSON), nullString(r.OutputPath),
		r.BatchSize, r.Completed, r.Failed, nullString(r.Error), nullString(r.ParentRunID),
		formatTime(r.StartedAt), formatTime(r.CompletedAt),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &errors.RunExistsError{Name: r.ID}
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

// Get retrieves a run by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, flow_path, variant_id, status, inputs, inputs_mapping,
			output_path, batch_size, completed, failed, error, parent_run_id,
			started_at, completed_at, created_at, updated_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// Update overwrites an existing run row matching r.ID.
func (s *SQLiteStore) Update(ctx context.Context, r *Run) error {
	inputsJSON, err := json.Marshal(r.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}
	mappingJSON, err := json.Marshal(r.InputsMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs_mapping: %w", err)
	}

	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET name=?, flow_path=?, variant_id=?, status=?, inputs=?, inputs_mapping=?,
			output_path=?, batch_size=?, completed=?, failed=?, error=?, parent_run_id=?,
			started_at=?, completed_at=?, updated_at=?
		WHERE id=?`,
		r.Name, r.FlowPath, nullString(r.VariantID), string(r.Status),
		string(inputsJSON), string(mappingJSON), nullString(r.OutputPath),
		r.BatchSize, r.Completed, r.Failed, nullString(r.Error), nullString(r.ParentRunID),
		formatTime(r.StartedAt), formatTime(r.CompletedAt), now.Format(time.RFC3339),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm update: %w", err)
	}
	if affected == 0 {
		return &errors.RunNotFoundError{Name: r.ID}
	}
	r.UpdatedAt = now
	return nil
}

// Delete removes a run row by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm delete: %w", err)
	}
	if affected == 0 {
		return &errors.RunNotFoundError{Name: id}
	}
	return nil
}

// List returns runs matching filter, most recently created first.
func (s *SQLiteStore) List(ctx context.Context, filter Filter) ([]*Run, error) {
	query := `
		SELECT id, name, flow_path, variant_id, status, inputs, inputs_mapping,
			output_path, batch_size, completed, failed, error, parent_run_id,
			started_at, completed_at, created_at, updated_at
		FROM runs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.FlowPath != "" {
		query += " AND flow_path = ?"
		args = append(args, filter.FlowPath)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which satisfy
// Scan but share no common interface in database/sql.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var variantID, inputsJSON, mappingJSON, outputPath, errStr, parentRunID sql.NullString
	var startedAt, completedAt sql.NullString
	var status string
	var createdAt, updatedAt string

	err := row.Scan(
		&r.ID, &r.Name, &r.FlowPath, &variantID, &status, &inputsJSON, &mappingJSON,
		&outputPath, &r.BatchSize, &r.Completed, &r.Failed, &errStr, &parentRunID,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, &errors.RunNotFoundError{Name: r.ID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	r.Status = Status(status)
	r.VariantID = variantID.String
	r.OutputPath = outputPath.String
	r.Error = errStr.String
	r.ParentRunID = parentRunID.String

	if inputsJSON.Valid && inputsJSON.String != "" {
		if err := json.Unmarshal([]byte(inputsJSON.String), &r.Inputs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
		}
	}
	if mappingJSON.Valid && mappingJSON.String != "" {
		if err := json.Unmarshal([]byte(mappingJSON.String), &r.InputsMapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal inputs_mapping: %w", err)
		}
	}
	r.StartedAt = parseTime(startedAt)
	r.CompletedAt = parseTime(completedAt)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		r.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		r.UpdatedAt = t
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToUpper(err.Error()), "UNIQUE CONSTRAINT")
}
