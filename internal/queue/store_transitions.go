package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"curator/internal/services"
)

// TransitionInput describes one atomic status change.
type TransitionInput struct {
	ItemID   int64
	FromCode int
	ToCode   int
	Actor    string
	Reason   string
	Manual   bool

	// PayloadJSON, when non-empty, replaces the item payload in the same
	// write as the status change.
	PayloadJSON string
}

// ApplyTransition moves an item to a new status and appends the audit row in
// one transaction. The update is guarded on the expected current status: a
// concurrent writer that moved the item first makes this fail with ErrStale.
func (s *Store) ApplyTransition(ctx context.Context, in TransitionInput) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now().UTC().Format(time.RFC3339Nano)

		query := `UPDATE queue_items SET status_code = ?, updated_at = ?`
		args := []any{in.ToCode, now}
		if in.PayloadJSON != "" {
			query += `, payload_json = ?`
			args = append(args, in.PayloadJSON)
		}
		query += ` WHERE id = ? AND status_code = ?`
		args = append(args, in.ItemID, in.FromCode)

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return services.Wrap(services.ErrStale, "", "transition",
				fmt.Sprintf("item %d no longer in status %d", in.ItemID, in.FromCode), nil)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transition_log (item_id, from_code, to_code, actor, reason, manual, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			in.ItemID, in.FromCode, in.ToCode, in.Actor, nullableString(in.Reason), boolToInt(in.Manual), now,
		); err != nil {
			return fmt.Errorf("insert transition log: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transition: %w", err)
		}
		return nil
	})
}

// TransitionsForItem returns the audit trail for an item, oldest first.
func (s *Store) TransitionsForItem(ctx context.Context, itemID int64) ([]Transition, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT id, item_id, from_code, to_code, actor, reason, manual, created_at
         FROM transition_log WHERE item_id = ? ORDER BY created_at, id`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t          Transition
			reason     sql.NullString
			manual     int
			createdRaw string
		)
		if err := rows.Scan(&t.ID, &t.ItemID, &t.FromCode, &t.ToCode, &t.Actor, &reason, &manual, &createdRaw); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Reason = reason.String
		t.Manual = manual != 0
		if created, err := parseTimeString(createdRaw); err == nil {
			t.CreatedAt = created
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
