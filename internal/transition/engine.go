// Package transition owns every status change in the pipeline. All writers
// go through Engine.Apply, which validates the move against the registry,
// folds any payload patch into the same atomic write, and leaves one audit
// row behind.
package transition

import (
	"context"
	"fmt"
	"log/slog"

	"curator/internal/logging"
	"curator/internal/payload"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/status"
)

// Engine is the sole writer of item status codes.
type Engine struct {
	store  *queue.Store
	reg    *status.Registry
	logger *slog.Logger
}

// New builds an Engine. A nil logger is replaced with a no-op logger.
func New(store *queue.Store, reg *status.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{store: store, reg: reg, logger: logger}
}

// Request describes one status change.
type Request struct {
	Item   *queue.Item
	ToCode int
	Actor  string
	Reason string
	Manual bool
	Patch  *payload.Patch
}

// Apply validates and performs a transition. On success the in-memory item
// reflects the new status and payload. A same-state request with a patch
// still persists the patch; without one it is a no-op.
func (e *Engine) Apply(ctx context.Context, req Request) error {
	if req.Item == nil {
		return services.Wrap(services.ErrValidation, "", "transition", "item is nil", nil)
	}
	if req.Actor == "" {
		return services.Wrap(services.ErrValidation, "", "transition", "actor is required", nil)
	}
	if err := e.reg.ValidateTransition(req.Item.StatusCode, req.ToCode, req.Manual); err != nil {
		return err
	}
	if req.Item.StatusCode == req.ToCode && req.Patch.IsEmpty() {
		return nil
	}

	payloadJSON := ""
	var doc payload.Doc
	if !req.Patch.IsEmpty() {
		var err error
		doc, err = req.Item.Payload()
		if err != nil {
			return services.Wrap(services.ErrValidation, "", "transition",
				fmt.Sprintf("decode payload for item %d", req.Item.ID), err)
		}
		doc = req.Patch.Apply(doc)
		payloadJSON, err = doc.Marshal()
		if err != nil {
			return services.Wrap(services.ErrValidation, "", "transition",
				fmt.Sprintf("encode payload for item %d", req.Item.ID), err)
		}
	}

	err := e.store.ApplyTransition(ctx, queue.TransitionInput{
		ItemID:      req.Item.ID,
		FromCode:    req.Item.StatusCode,
		ToCode:      req.ToCode,
		Actor:       req.Actor,
		Reason:      req.Reason,
		Manual:      req.Manual,
		PayloadJSON: payloadJSON,
	})
	if err != nil {
		return err
	}

	e.logger.Info("status transition",
		logging.String(logging.FieldEventType, "transition"),
		logging.Int64(logging.FieldItemID, req.Item.ID),
		logging.String("from", e.reg.DisplayName(req.Item.StatusCode)),
		logging.String("to", e.reg.DisplayName(req.ToCode)),
		logging.String(logging.FieldActor, req.Actor),
		logging.Bool("manual", req.Manual),
	)

	req.Item.StatusCode = req.ToCode
	if payloadJSON != "" {
		req.Item.PayloadJSON = payloadJSON
	}
	return nil
}

// ApplyByName resolves the target status by name before applying.
func (e *Engine) ApplyByName(ctx context.Context, req Request, toName string) error {
	code, err := e.reg.Code(toName)
	if err != nil {
		return err
	}
	req.ToCode = code
	return e.Apply(ctx, req)
}

// Registry exposes the engine's status registry for callers that need
// lookups alongside transitions.
func (e *Engine) Registry() *status.Registry {
	return e.reg
}
