package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// EnsurePromptVersion records a prompt template under (step, version) if it
// is not already known and marks it as the active version for the step.
func (s *Store) EnsurePromptVersion(ctx context.Context, step, version, template string) (*PromptVersion, error) {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin prompt tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`UPDATE prompt_version SET active = 0 WHERE step = ?`, step); err != nil {
			return fmt.Errorf("deactivate prompts: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO prompt_version (step, version, template, active, created_at)
             VALUES (?, ?, ?, 1, ?)
             ON CONFLICT(step, version) DO UPDATE SET active = 1`,
			step, version, template, time.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("upsert prompt version: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return s.ActivePromptVersion(ctx, step)
}

// ActivePromptVersion returns the active prompt for a step, or nil.
func (s *Store) ActivePromptVersion(ctx context.Context, step string) (*PromptVersion, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, step, version, template, active, created_at
         FROM prompt_version WHERE step = ? AND active = 1 LIMIT 1`,
		step,
	)
	pv, err := scanPromptVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active prompt version: %w", err)
	}
	return pv, nil
}

// GetPromptVersion fetches a prompt version by identifier.
func (s *Store) GetPromptVersion(ctx context.Context, id int64) (*PromptVersion, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, step, version, template, active, created_at FROM prompt_version WHERE id = ?`,
		id,
	)
	pv, err := scanPromptVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt version: %w", err)
	}
	return pv, nil
}

func scanPromptVersion(scanner interface{ Scan(dest ...any) error }) (*PromptVersion, error) {
	var (
		pv         PromptVersion
		active     int
		createdRaw string
	)
	if err := scanner.Scan(&pv.ID, &pv.Step, &pv.Version, &pv.Template, &active, &createdRaw); err != nil {
		return nil, err
	}
	pv.Active = active != 0
	if created, err := parseTimeString(createdRaw); err == nil {
		pv.CreatedAt = created
	}
	return &pv, nil
}
