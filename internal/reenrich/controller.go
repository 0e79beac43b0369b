// Package reenrich re-runs enrichment on items that already settled, either
// the full pipeline or a single scoped step. It follows a strict
// cancel-then-create order: active runs are cancelled and the claim is
// cleared before the item is routed back to an entry state, so a late
// result from the old run can never land on the new state.
package reenrich

import (
	"context"
	"fmt"
	"log/slog"

	"curator/internal/logging"
	"curator/internal/payload"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/status"
	"curator/internal/step"
	"curator/internal/transition"
)

// Controller routes settled items back into the pipeline.
type Controller struct {
	store  *queue.Store
	engine *transition.Engine
	logger *slog.Logger
}

// New builds a Controller. A nil logger is replaced with a no-op logger.
func New(store *queue.Store, engine *transition.Engine, logger *slog.Logger) *Controller {
	return &Controller{
		store:  store,
		engine: engine,
		logger: logging.NewComponentLogger(logger, "reenrich"),
	}
}

// Reenrich sends an item through the full enrichment pipeline again. The
// retry bookkeeping is reset so the item gets a clean slate.
func (c *Controller) Reenrich(ctx context.Context, itemID int64, actor string) (*queue.Item, error) {
	return c.requeue(ctx, itemID, actor, "", "re-enrich", "re-enrichment requested")
}

// Retry is the operator path for terminal items. It behaves like Reenrich
// but records the distinguishing retry trigger on the next run.
func (c *Controller) Retry(ctx context.Context, itemID int64, actor string) (*queue.Item, error) {
	return c.requeue(ctx, itemID, actor, "", "retry", "retry requested")
}

// ReenrichStep re-runs exactly one step. The item's pre-rerun phase decides
// where it returns afterwards: published and in-review items go back to
// pending review, everything else lands on enriched.
func (c *Controller) ReenrichStep(ctx context.Context, itemID int64, kind step.Kind, actor string) (*queue.Item, error) {
	return c.requeue(ctx, itemID, actor, kind, "re-"+kind.String(), fmt.Sprintf("re-run of step %s requested", kind))
}

func (c *Controller) requeue(ctx context.Context, itemID int64, actor string, kind step.Kind, trigger, reason string) (*queue.Item, error) {
	reg := c.engine.Registry()

	item, err := c.store.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "reenrich", fmt.Sprintf("item %d not found", itemID), nil)
	}

	// Cancel first. Anything the old runs still produce is discarded by the
	// run-claim compare-and-set.
	cancelled, err := c.store.CancelActiveRuns(ctx, item.ID, reason)
	if err != nil {
		return nil, err
	}
	if err := c.store.ClearRun(ctx, item.ID); err != nil {
		return nil, err
	}
	item.CurrentRunID = ""

	if err := c.store.ResetFailures(ctx, item.ID); err != nil {
		return nil, err
	}
	item.FailureCount = 0
	item.LastFailedStep = ""
	item.ErrorMessage = ""

	// The next pipeline run reads the stashed trigger off the payload so
	// the run record says re-enrich, retry, or re-<step> instead of enrich.
	patch := payload.NewPatch().
		Set(payload.KeyManualOverride, true).
		Set(payload.KeyTrigger, trigger)
	targetName := "pending_enrichment"
	if kind != "" {
		cat, err := reg.Category(item.StatusCode)
		if err != nil {
			return nil, err
		}
		patch.Set(payload.KeySingleStep, true)
		patch.Set(payload.KeyReturnStatus, status.ReturnStatusName(cat))
		targetName = kind.EntryStatusName()
	} else {
		patch.Clear(payload.KeySingleStep)
		patch.Clear(payload.KeyReturnStatus)
	}

	targetCode, err := reg.Code(targetName)
	if err != nil {
		return nil, err
	}
	if err := c.engine.Apply(ctx, transition.Request{
		Item:   item,
		ToCode: targetCode,
		Actor:  actor,
		Reason: reason,
		Manual: true,
		Patch:  patch,
	}); err != nil {
		return nil, err
	}

	c.logger.Info("item requeued",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String("target", targetName),
		logging.Int64("cancelled_runs", cancelled),
		logging.String(logging.FieldActor, actor),
	)
	return item, nil
}
