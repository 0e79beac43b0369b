package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"curator/internal/status"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
// Users will need to clear their queue database after schema changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	err = s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database and re-init)",
			ErrSchemaMismatch, version, schemaVersion)
	}

	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	rows, err := status.Seed()
	if err != nil {
		return fmt.Errorf("load status seed: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO status_lookup (code, name, category) VALUES (?, ?, ?)",
			row.Code, row.Name, string(row.Category),
		); err != nil {
			return fmt.Errorf("seed status %q: %w", row.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// StatusRows returns the persisted status lookup table ordered by code.
// It satisfies status.Source so the registry loads from the same table
// foreign keys are enforced against.
func (s *Store) StatusRows(ctx context.Context) ([]status.Row, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT code, name, category FROM status_lookup ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("query status lookup: %w", err)
	}
	defer rows.Close()

	var out []status.Row
	for rows.Next() {
		var row status.Row
		var category string
		if err := rows.Scan(&row.Code, &row.Name, &category); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		row.Category = status.Category(category)
		out = append(out, row)
	}
	return out, rows.Err()
}
