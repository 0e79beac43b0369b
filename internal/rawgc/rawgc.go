// Package rawgc removes raw fetched content from blob storage once the
// owning queue rows have settled and aged out. Which refs are safe to
// delete is decided entirely by the store's safety predicate; this package
// only executes the deletions and records the outcome.
package rawgc

import (
	"context"
	"log/slog"
	"time"

	"curator/internal/blob"
	"curator/internal/logging"
	"curator/internal/queue"
)

// Options control one collection pass.
type Options struct {
	// Retention is how long raw content is kept after its row last changed.
	Retention time.Duration
	// Limit caps how many refs one pass may delete. Zero means no cap.
	Limit int
	// DryRun reports candidates without deleting anything.
	DryRun bool
}

// Result summarizes one collection pass. On a dry run Deleted counts the
// refs that would have been deleted.
type Result struct {
	Candidates []queue.GCCandidate
	Deleted    int
	Failed     int
	FailedRefs []string
	DryRun     bool
}

// Collector runs garbage collection passes over raw blob storage.
type Collector struct {
	store  *queue.Store
	blobs  blob.Store
	logger *slog.Logger
}

// New builds a Collector. A nil logger is replaced with a no-op logger.
func New(store *queue.Store, blobs blob.Store, logger *slog.Logger) *Collector {
	return &Collector{
		store:  store,
		blobs:  blobs,
		logger: logging.NewComponentLogger(logger, "rawgc"),
	}
}

// Collect deletes every raw ref the store considers safe. A failed delete
// is logged and counted but does not stop the pass; the row is only marked
// deleted after its blob is actually gone. Thumbnail siblings are removed
// with the raw ref by the blob store.
func (c *Collector) Collect(ctx context.Context, opts Options) (Result, error) {
	candidates, err := c.store.SafeToDeleteRawRefs(ctx, opts.Retention, opts.Limit)
	if err != nil {
		return Result{}, err
	}
	result := Result{Candidates: candidates, DryRun: opts.DryRun}

	if opts.DryRun {
		result.Deleted = len(candidates)
		c.logger.Info("dry run", logging.Int("candidates", len(candidates)))
		return result, nil
	}

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := c.blobs.Delete(ctx, candidate.RawRef); err != nil {
			result.Failed++
			result.FailedRefs = append(result.FailedRefs, candidate.RawRef)
			c.logger.Warn("blob delete failed",
				logging.Int64(logging.FieldItemID, candidate.ItemID),
				logging.String("raw_ref", candidate.RawRef),
				logging.Error(err),
			)
			continue
		}
		if err := c.store.MarkStorageDeleted(ctx, candidate.ItemID, "gc"); err != nil {
			// The blob is gone but the row still claims it. Delete treats
			// missing blobs as success, so the next pass retries cleanly.
			result.Failed++
			result.FailedRefs = append(result.FailedRefs, candidate.RawRef)
			c.logger.Warn("mark deleted failed",
				logging.Int64(logging.FieldItemID, candidate.ItemID),
				logging.Error(err),
			)
			continue
		}
		result.Deleted++
		c.logger.Info("raw content deleted",
			logging.Int64(logging.FieldItemID, candidate.ItemID),
			logging.String("raw_ref", candidate.RawRef),
		)
	}
	return result, nil
}
