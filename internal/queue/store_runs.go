package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateRun inserts a new running pipeline run and returns it.
func (s *Store) CreateRun(ctx context.Context, itemID int64, trigger, createdBy string) (*Run, error) {
	ctx = ensureContext(ctx)
	run := &Run{
		ID:        uuid.NewString(),
		ItemID:    itemID,
		Trigger:   trigger,
		Status:    RunStatusRunning,
		CreatedBy: createdBy,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO pipeline_run (id, item_id, trigger, status, created_by, started_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.ItemID, run.Trigger, run.Status,
		nullableString(run.CreatedBy),
		run.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// CompleteRun finalizes a run with its terminal status.
func (s *Store) CompleteRun(ctx context.Context, runID, runStatus, errorMessage string) error {
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE pipeline_run SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		runStatus,
		nullableString(errorMessage),
		now.Format(time.RFC3339Nano),
		runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// CancelActiveRuns marks every still-running run for an item as cancelled
// and returns how many were cancelled. Used by re-enrichment before it
// creates a replacement run.
func (s *Store) CancelActiveRuns(ctx context.Context, itemID int64, reason string) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE pipeline_run SET status = ?, error_message = ?, completed_at = ?
         WHERE item_id = ? AND status = ?`,
		RunStatusCancelled,
		nullableString(reason),
		now,
		itemID,
		RunStatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel active runs: %w", err)
	}
	return res.RowsAffected()
}

// GetRun fetches a run by identifier.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, item_id, trigger, status, error_message, created_by, started_at, completed_at
         FROM pipeline_run WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// RunsForItem returns all runs for an item, oldest first.
func (s *Store) RunsForItem(ctx context.Context, itemID int64) ([]*Run, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, item_id, trigger, status, error_message, created_by, started_at, completed_at
         FROM pipeline_run WHERE item_id = ? ORDER BY started_at, id`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// SampleRuns returns a random sample of settled runs, up to limit. The
// replay capability check samples across all of history, not just the
// newest runs, so old regressions keep showing up.
func (s *Store) SampleRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, item_id, trigger, status, error_message, created_by, started_at, completed_at
         FROM pipeline_run WHERE status != ? ORDER BY RANDOM() LIMIT ?`,
		RunStatusRunning, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sample runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateStepRun records the start of one agent invocation. The input
// snapshot and prompt version must be captured before the agent call.
func (s *Store) CreateStepRun(ctx context.Context, sr *StepRun) (*StepRun, error) {
	if sr == nil {
		return nil, errors.New("step run is nil")
	}
	if sr.Attempt <= 0 {
		sr.Attempt = 1
	}
	if sr.Status == "" {
		sr.Status = RunStatusRunning
	}
	sr.StartedAt = time.Now().UTC()

	var promptVersionID any
	if sr.PromptVersionID != 0 {
		promptVersionID = sr.PromptVersionID
	}
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`INSERT INTO pipeline_step_run (run_id, step, status, attempt, prompt_version_id, input_snapshot, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sr.RunID, sr.Step, sr.Status, sr.Attempt,
		promptVersionID,
		nullableString(sr.InputSnapshot),
		sr.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert step run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	sr.ID = id
	return sr, nil
}

// CompleteStepRun finalizes a step run with its output or error.
func (s *Store) CompleteStepRun(ctx context.Context, stepRunID int64, runStatus, outputJSON, errorMessage string) error {
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE pipeline_step_run SET status = ?, output_json = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		runStatus,
		nullableString(outputJSON),
		nullableString(errorMessage),
		now.Format(time.RFC3339Nano),
		stepRunID,
	)
	if err != nil {
		return fmt.Errorf("complete step run: %w", err)
	}
	return nil
}

// GetStepRun fetches a single step run by identifier.
func (s *Store) GetStepRun(ctx context.Context, stepRunID int64) (*StepRun, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT id, run_id, step, status, attempt, prompt_version_id, input_snapshot, output_json, error_message, started_at, completed_at
         FROM pipeline_step_run WHERE id = ?`,
		stepRunID,
	)
	sr, err := scanStepRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get step run: %w", err)
	}
	return sr, nil
}

// StepRunsForRun returns the step runs of a run in execution order.
func (s *Store) StepRunsForRun(ctx context.Context, runID string) ([]*StepRun, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, run_id, step, status, attempt, prompt_version_id, input_snapshot, output_json, error_message, started_at, completed_at
         FROM pipeline_step_run WHERE run_id = ? ORDER BY started_at, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query step runs: %w", err)
	}
	defer rows.Close()

	var stepRuns []*StepRun
	for rows.Next() {
		sr, err := scanStepRun(rows)
		if err != nil {
			return nil, err
		}
		stepRuns = append(stepRuns, sr)
	}
	return stepRuns, rows.Err()
}

// AddMetric records one measurement for a run.
func (s *Store) AddMetric(ctx context.Context, m Metric) error {
	var stepRunID any
	if m.StepRunID != 0 {
		stepRunID = m.StepRunID
	}
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`INSERT INTO run_metric (run_id, step_run_id, name, value, unit, agent, model, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID,
		stepRunID,
		m.Name,
		m.Value,
		nullableString(m.Unit),
		nullableString(m.Agent),
		nullableString(m.Model),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert metric: %w", err)
	}
	return nil
}

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		errorMessage sql.NullString
		createdBy    sql.NullString
		startedRaw   string
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&run.ID, &run.ItemID, &run.Trigger, &run.Status,
		&errorMessage, &createdBy, &startedRaw, &completedRaw,
	); err != nil {
		return nil, err
	}
	run.ErrorMessage = errorMessage.String
	run.CreatedBy = createdBy.String
	if started, err := parseTimeString(startedRaw); err == nil {
		run.StartedAt = started
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			run.CompletedAt = &completed
		}
	}
	return &run, nil
}

func scanStepRun(scanner interface{ Scan(dest ...any) error }) (*StepRun, error) {
	var (
		sr            StepRun
		promptVersion sql.NullInt64
		inputSnapshot sql.NullString
		outputJSON    sql.NullString
		errorMessage  sql.NullString
		startedRaw    string
		completedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&sr.ID, &sr.RunID, &sr.Step, &sr.Status, &sr.Attempt,
		&promptVersion, &inputSnapshot, &outputJSON, &errorMessage,
		&startedRaw, &completedRaw,
	); err != nil {
		return nil, err
	}
	sr.PromptVersionID = promptVersion.Int64
	sr.InputSnapshot = inputSnapshot.String
	sr.OutputJSON = outputJSON.String
	sr.ErrorMessage = errorMessage.String
	if started, err := parseTimeString(startedRaw); err == nil {
		sr.StartedAt = started
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			sr.CompletedAt = &completed
		}
	}
	return &sr, nil
}
