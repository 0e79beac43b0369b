package queue

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// GCCandidate is one raw storage reference the store considers safe to
// delete, paired with the queue row holding it.
type GCCandidate struct {
	ItemID int64
	RawRef string
}

// SafeToDeleteRawRefs evaluates the deletion safety predicate inside the
// store: a raw ref is safe when its row has settled past enrichment, has
// aged out of the retention window, and no other live row still needs the
// same ref. The CLI layer never re-derives this.
func (s *Store) SafeToDeleteRawRefs(ctx context.Context, retention time.Duration, limit int) ([]GCCandidate, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)

	unsafe := sq.Select("raw_ref").
		From("queue_items").
		Where("raw_ref IS NOT NULL").
		Where("storage_deleted_at IS NULL").
		Where(sq.Or{
			sq.Lt{"status_code": 400},
			sq.GtOrEq{"updated_at": cutoff},
		})
	unsafeSQL, unsafeArgs, err := unsafe.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unsafe subquery: %w", err)
	}

	builder := sq.Select("id", "raw_ref").
		From("queue_items").
		Where("raw_ref IS NOT NULL").
		Where("storage_deleted_at IS NULL").
		Where(sq.GtOrEq{"status_code": 400}).
		Where(sq.Lt{"updated_at": cutoff}).
		Where("raw_ref NOT IN ("+unsafeSQL+")", unsafeArgs...).
		OrderBy("updated_at", "id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build gc query: %w", err)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gc candidates: %w", err)
	}
	defer rows.Close()

	var out []GCCandidate
	for rows.Next() {
		var c GCCandidate
		if err := rows.Scan(&c.ItemID, &c.RawRef); err != nil {
			return nil, fmt.Errorf("scan gc candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkStorageDeleted records that an item's raw content was removed from
// blob storage. The row itself is kept for history.
func (s *Store) MarkStorageDeleted(ctx context.Context, itemID int64, reason string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.execWithRetry(
		ensureContext(ctx),
		`UPDATE queue_items SET storage_deleted_at = ?, deletion_reason = ?, updated_at = ? WHERE id = ?`,
		now, reason, now, itemID,
	)
	if err != nil {
		return fmt.Errorf("mark storage deleted: %w", err)
	}
	return nil
}
