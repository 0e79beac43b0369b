package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const itemColumns = "id, url, title, status_code, payload_json, failure_count, last_failed_step, error_message, current_run_id, raw_ref, storage_deleted_at, deletion_reason, reviewed_by, reviewed_at, created_at, updated_at"

// Add inserts a newly discovered item.
func (s *Store) Add(ctx context.Context, url, title string, statusCode int, payloadJSON string) (*Item, error) {
	ctx = ensureContext(ctx)
	if payloadJSON == "" {
		payloadJSON = "{}"
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO queue_items (url, title, status_code, payload_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		url,
		nullableString(title),
		statusCode,
		payloadJSON,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a queue item by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetByURL returns the item with the given URL, or nil.
func (s *Store) GetByURL(ctx context.Context, url string) (*Item, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM queue_items WHERE url = ?`, url)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item by url: %w", err)
	}
	return item, nil
}

// Update persists the mutable non-status columns of an item. status_code is
// deliberately excluded: transitions go through ApplyTransition.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE queue_items
         SET url = ?, title = ?, payload_json = ?, failure_count = ?, last_failed_step = ?,
             error_message = ?, raw_ref = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
         WHERE id = ?`,
		item.URL,
		nullableString(item.Title),
		item.PayloadJSON,
		item.FailureCount,
		nullableString(item.LastFailedStep),
		nullableString(item.ErrorMessage),
		nullableString(item.RawRef),
		nullableString(item.ReviewedBy),
		nullableTime(item.ReviewedAt),
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// EligibleForStatus returns the oldest items in the given status, up to limit.
func (s *Store) EligibleForStatus(ctx context.Context, statusCode, limit int) ([]*Item, error) {
	return s.EligibleForStatuses(ctx, []int{statusCode}, limit)
}

// EligibleForStatuses returns the oldest items across several statuses.
func (s *Store) EligibleForStatuses(ctx context.Context, statusCodes []int, limit int) ([]*Item, error) {
	if limit <= 0 || len(statusCodes) == 0 {
		return nil, nil
	}
	placeholders := makePlaceholders(len(statusCodes))
	args := make([]any, 0, len(statusCodes)+1)
	for _, code := range statusCodes {
		args = append(args, code)
	}
	args = append(args, limit)
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM queue_items WHERE status_code IN (`+placeholders+`) ORDER BY created_at, id LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query eligible items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// List returns items filtered by status codes, or all items when none are given.
func (s *Store) List(ctx context.Context, statusCodes ...int) ([]*Item, error) {
	ctx = ensureContext(ctx)
	baseQuery := `SELECT ` + itemColumns + ` FROM queue_items`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statusCodes) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statusCodes))
		args := make([]any, len(statusCodes))
		for i, code := range statusCodes {
			args[i] = code
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status_code IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ClaimRun assigns a run to an item only if the item's current run matches
// the expected value. It returns false when another run claimed the item
// first. Pass expected "" for an idle item.
func (s *Store) ClaimRun(ctx context.Context, itemID int64, runID, expected string) (bool, error) {
	res, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE queue_items SET current_run_id = ?, updated_at = ?
         WHERE id = ? AND COALESCE(current_run_id, '') = ?`,
		nullableString(runID),
		time.Now().UTC().Format(time.RFC3339Nano),
		itemID,
		expected,
	)
	if err != nil {
		return false, fmt.Errorf("claim run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReleaseRun clears current_run_id only while it still names the given run.
func (s *Store) ReleaseRun(ctx context.Context, itemID int64, runID string) (bool, error) {
	return s.ClaimRun(ctx, itemID, "", runID)
}

// ClearRun unconditionally drops the current run claim. Used by the
// re-enrichment controller after it cancels the active runs.
func (s *Store) ClearRun(ctx context.Context, itemID int64) error {
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE queue_items SET current_run_id = NULL, updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		itemID,
	)
	if err != nil {
		return fmt.Errorf("clear run claim: %w", err)
	}
	return nil
}

// RecordFailure bumps the failure counter and remembers the failing step.
func (s *Store) RecordFailure(ctx context.Context, itemID int64, step, message string) error {
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE queue_items
         SET failure_count = failure_count + 1, last_failed_step = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		step,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		itemID,
	)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

// ResetFailures zeroes the retry bookkeeping, used when re-enrichment gives
// an item a fresh start.
func (s *Store) ResetFailures(ctx context.Context, itemID int64) error {
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE queue_items
         SET failure_count = 0, last_failed_step = NULL, error_message = NULL, updated_at = ?
         WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		itemID,
	)
	if err != nil {
		return fmt.Errorf("reset failures: %w", err)
	}
	return nil
}

// SetRawRef records where the fetched raw content was stored.
func (s *Store) SetRawRef(ctx context.Context, itemID int64, ref string) error {
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE queue_items SET raw_ref = ?, storage_deleted_at = NULL, deletion_reason = NULL, updated_at = ? WHERE id = ?`,
		nullableString(ref),
		time.Now().UTC().Format(time.RFC3339Nano),
		itemID,
	)
	if err != nil {
		return fmt.Errorf("set raw ref: %w", err)
	}
	return nil
}

// Stats returns a count of items grouped by status code.
func (s *Store) Stats(ctx context.Context) (map[int]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status_code, COUNT(1) FROM queue_items GROUP BY status_code`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[int]int)
	for rows.Next() {
		var code, count int
		if err := rows.Scan(&code, &count); err != nil {
			return nil, err
		}
		stats[code] = count
	}
	return stats, rows.Err()
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ensureContext(ctx), `DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id             int64
		url            string
		title          sql.NullString
		statusCode     int
		payloadJSON    string
		failureCount   int
		lastFailedStep sql.NullString
		errorMessage   sql.NullString
		currentRunID   sql.NullString
		rawRef         sql.NullString
		storageDeleted sql.NullString
		deletionReason sql.NullString
		reviewedBy     sql.NullString
		reviewedRaw    sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&url,
		&title,
		&statusCode,
		&payloadJSON,
		&failureCount,
		&lastFailedStep,
		&errorMessage,
		&currentRunID,
		&rawRef,
		&storageDeleted,
		&deletionReason,
		&reviewedBy,
		&reviewedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:             id,
		URL:            url,
		Title:          title.String,
		StatusCode:     statusCode,
		PayloadJSON:    payloadJSON,
		FailureCount:   failureCount,
		LastFailedStep: lastFailedStep.String,
		ErrorMessage:   errorMessage.String,
		CurrentRunID:   currentRunID.String,
		RawRef:         rawRef.String,
		DeletionReason: deletionReason.String,
		ReviewedBy:     reviewedBy.String,
	}
	if storageDeleted.Valid {
		if t, err := parseTimeString(storageDeleted.String); err == nil {
			item.StorageDeletedAt = &t
		}
	}
	if reviewedRaw.Valid {
		if t, err := parseTimeString(reviewedRaw.String); err == nil {
			item.ReviewedAt = &t
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}
