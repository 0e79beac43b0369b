// Package orchestrator drives items through the enrichment pipeline. It
// picks up eligible items per step, records run and step-run rows around
// every agent call, and routes outcomes through the transition engine. One
// bad item never aborts a batch.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"curator/internal/agents"
	"curator/internal/logging"
	"curator/internal/payload"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/step"
	"curator/internal/transition"
)

// Options tune a batch.
type Options struct {
	// SkipRejection keeps manually submitted items in the pipeline even
	// when the relevance filter votes against them.
	SkipRejection bool
}

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
	Discarded int
}

// Orchestrator coordinates the store, the transition engine, and the agents.
type Orchestrator struct {
	store  *queue.Store
	engine *transition.Engine
	steps  *step.Registry
	logger *slog.Logger
}

// New builds an Orchestrator. A nil logger is replaced with a no-op logger.
func New(store *queue.Store, engine *transition.Engine, steps *step.Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		engine: engine,
		steps:  steps,
		logger: logging.NewComponentLogger(logger, "orchestrator"),
	}
}

// ProcessBatch runs one step over up to limit eligible items, oldest first.
// Per-item failures are recorded and the batch moves on; only fatal
// misconfiguration aborts.
func (o *Orchestrator) ProcessBatch(ctx context.Context, kind step.Kind, limit int, opts Options) (BatchResult, error) {
	var result BatchResult

	agent, err := o.steps.Resolve(kind)
	if err != nil {
		return result, err
	}
	entryNames := []string{kind.EntryStatusName()}
	if kind == step.Fetch {
		// Full re-enrichment parks items at pending_enrichment; fetch drains
		// it so the whole sequence re-runs and stale verdicts get revisited.
		entryNames = append(entryNames, "pending_enrichment")
	}
	entryCodes := make([]int, 0, len(entryNames))
	for _, name := range entryNames {
		code, err := o.engine.Registry().Code(name)
		if err != nil {
			return result, err
		}
		entryCodes = append(entryCodes, code)
	}

	items, err := o.store.EligibleForStatuses(ctx, entryCodes, limit)
	if err != nil {
		return result, fmt.Errorf("select eligible items: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++
		outcome, err := o.processItem(ctx, kind, agent, item, opts)
		if err != nil {
			if services.IsFatal(err) {
				return result, err
			}
			result.Failed++
			o.logger.Error("item failed",
				logging.String(logging.FieldStep, kind.String()),
				logging.Int64(logging.FieldItemID, item.ID),
				logging.Error(err),
			)
			continue
		}
		switch outcome {
		case outcomeSucceeded:
			result.Succeeded++
		case outcomeDiscarded:
			result.Discarded++
		}
	}
	return result, nil
}

// EnrichAll drives every step in pipeline order, so items inserted at the
// front can flow all the way to enriched in one invocation.
func (o *Orchestrator) EnrichAll(ctx context.Context, limit int, opts Options) (map[step.Kind]BatchResult, error) {
	results := make(map[step.Kind]BatchResult, len(step.Kinds()))
	for _, kind := range step.Kinds() {
		res, err := o.ProcessBatch(ctx, kind, limit, opts)
		results[kind] = res
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

type outcome int

const (
	outcomeSucceeded outcome = iota
	outcomeFailed
	outcomeDiscarded
)

func (o *Orchestrator) processItem(ctx context.Context, kind step.Kind, agent agents.Agent, item *queue.Item, opts Options) (outcome, error) {
	reg := o.engine.Registry()
	actor := "pipeline:" + kind.String()

	doc, err := item.Payload()
	if err != nil {
		return outcomeFailed, services.Wrap(services.ErrValidation, kind.String(), "payload", fmt.Sprintf("decode payload for item %d", item.ID), err)
	}
	singleStep := doc.Bool(payload.KeySingleStep)

	// A requeued item carries its trigger in the payload; the first run
	// after the requeue consumes it, later runs are plain enrich.
	trigger := doc.String(payload.KeyTrigger)
	if trigger == "" {
		trigger = "enrich"
		if singleStep {
			trigger = "re-" + kind.String()
		}
	}
	run, err := o.store.CreateRun(ctx, item.ID, trigger, actor)
	if err != nil {
		return outcomeFailed, err
	}

	claimed, err := o.store.ClaimRun(ctx, item.ID, run.ID, "")
	if err != nil {
		return outcomeFailed, err
	}
	if !claimed {
		// Another run holds the item; drop ours.
		_ = o.store.CompleteRun(ctx, run.ID, queue.RunStatusCancelled, "item claimed by another run")
		return outcomeDiscarded, nil
	}

	workingCode, err := reg.Code(kind.WorkingStatusName())
	if err != nil {
		return outcomeFailed, err
	}
	var workingPatch *payload.Patch
	if _, ok := doc[payload.KeyTrigger]; ok {
		workingPatch = payload.NewPatch().Clear(payload.KeyTrigger)
	}
	if err := o.engine.Apply(ctx, transition.Request{Item: item, ToCode: workingCode, Actor: actor, Patch: workingPatch}); err != nil {
		_, _ = o.store.ReleaseRun(ctx, item.ID, run.ID)
		_ = o.store.CompleteRun(ctx, run.ID, queue.RunStatusCancelled, "item moved before run started")
		if errors.Is(err, services.ErrStale) {
			return outcomeDiscarded, nil
		}
		return outcomeFailed, err
	}

	// Snapshot what the agent will see before calling it, so the run can be
	// replayed faithfully even after prompts change.
	prompt, err := o.store.ActivePromptVersion(ctx, kind.String())
	if err != nil {
		return outcomeFailed, err
	}
	stepRun := &queue.StepRun{
		RunID:         run.ID,
		Step:          kind.String(),
		Attempt:       item.FailureCount + 1,
		InputSnapshot: item.PayloadJSON,
	}
	if prompt != nil {
		stepRun.PromptVersionID = prompt.ID
	}
	if _, err := o.store.CreateStepRun(ctx, stepRun); err != nil {
		return outcomeFailed, err
	}

	result, agentErr := agent.Run(ctx, item, agents.Options{Prompt: prompt})
	if agentErr != nil {
		return o.finishFailure(ctx, kind, item, run, stepRun, agentErr)
	}

	// A re-enrichment that superseded this run while the agent was out
	// invalidates the result.
	fresh, err := o.store.GetByID(ctx, item.ID)
	if err != nil {
		return outcomeFailed, err
	}
	if fresh == nil || fresh.CurrentRunID != run.ID {
		_ = o.store.CompleteStepRun(ctx, stepRun.ID, queue.RunStatusCancelled, "", "superseded by a newer run")
		_ = o.store.CompleteRun(ctx, run.ID, queue.RunStatusCancelled, "superseded by a newer run")
		return outcomeDiscarded, nil
	}

	return o.finishSuccess(ctx, kind, item, run, stepRun, result, doc, opts)
}

func (o *Orchestrator) finishFailure(ctx context.Context, kind step.Kind, item *queue.Item, run *queue.Run, stepRun *queue.StepRun, agentErr error) (outcome, error) {
	reg := o.engine.Registry()
	message := agentErr.Error()

	_ = o.store.CompleteStepRun(ctx, stepRun.ID, queue.RunStatusFailed, "", message)
	if err := o.store.RecordFailure(ctx, item.ID, kind.String(), message); err != nil {
		return outcomeFailed, err
	}

	targetName := "failed"
	if kind == step.Fetch && errors.Is(agentErr, agents.ErrUnreachable) {
		targetName = "unreachable"
	}
	targetCode, err := reg.Code(targetName)
	if err != nil {
		return outcomeFailed, err
	}
	if err := o.engine.Apply(ctx, transition.Request{
		Item: item, ToCode: targetCode, Actor: "pipeline:" + kind.String(), Reason: message,
	}); err != nil {
		return outcomeFailed, err
	}

	_ = o.store.CompleteRun(ctx, run.ID, queue.RunStatusFailed, message)
	_, _ = o.store.ReleaseRun(ctx, item.ID, run.ID)
	return outcomeFailed, agentErr
}

func (o *Orchestrator) finishSuccess(ctx context.Context, kind step.Kind, item *queue.Item, run *queue.Run, stepRun *queue.StepRun, result agents.Result, doc payload.Doc, opts Options) (outcome, error) {
	reg := o.engine.Registry()
	actor := "pipeline:" + kind.String()

	if result.RawRef != "" {
		if err := o.store.SetRawRef(ctx, item.ID, result.RawRef); err != nil {
			return outcomeFailed, err
		}
		item.RawRef = result.RawRef
	}

	if result.Usage.TotalTokens > 0 {
		err := o.store.AddMetric(ctx, queue.Metric{
			RunID:     run.ID,
			StepRunID: stepRun.ID,
			Name:      "tokens_total",
			Value:     float64(result.Usage.TotalTokens),
			Unit:      "tokens",
			Agent:     kind.String(),
			Model:     result.Model,
		})
		if err != nil {
			o.logger.Warn("metric not recorded", logging.String(logging.FieldRunID, run.ID), logging.Error(err))
		}
	}

	outputJSON := ""
	if len(result.Fields) > 0 {
		if raw, err := json.Marshal(result.Fields); err == nil {
			outputJSON = string(raw)
		}
	}

	patch := payload.NewPatch().SetAll(result.Fields)
	singleStep := doc.Bool(payload.KeySingleStep)

	rejected := false
	if kind == step.Filter && !opts.SkipRejection {
		if relevant, ok := result.Fields["relevant"].(bool); ok && !relevant {
			rejected = true
		}
	}

	var targetName string
	switch {
	case rejected:
		targetName = "irrelevant"
	case singleStep:
		targetName = kind.DoneStatusName()
	default:
		if next, ok := kind.Next(); ok {
			targetName = next.EntryStatusName()
		} else {
			targetName = step.FinalStatusName
		}
	}
	targetCode, err := reg.Code(targetName)
	if err != nil {
		return outcomeFailed, err
	}

	reason := ""
	if rejected {
		reason, _ = result.Fields["rejection_reason"].(string)
	}
	if err := o.engine.Apply(ctx, transition.Request{
		Item: item, ToCode: targetCode, Actor: actor, Reason: reason, Patch: patch,
	}); err != nil {
		if errors.Is(err, services.ErrStale) {
			_ = o.store.CompleteStepRun(ctx, stepRun.ID, queue.RunStatusCancelled, outputJSON, "superseded by a newer run")
			_ = o.store.CompleteRun(ctx, run.ID, queue.RunStatusCancelled, "superseded by a newer run")
			return outcomeDiscarded, nil
		}
		return outcomeFailed, err
	}

	if err := o.store.CompleteStepRun(ctx, stepRun.ID, queue.RunStatusSuccess, outputJSON, ""); err != nil {
		return outcomeFailed, err
	}

	if singleStep && !rejected {
		if err := o.finishSingleStep(ctx, kind, item); err != nil {
			return outcomeFailed, err
		}
	}

	if err := o.store.CompleteRun(ctx, run.ID, queue.RunStatusSuccess, ""); err != nil {
		return outcomeFailed, err
	}
	if _, err := o.store.ReleaseRun(ctx, item.ID, run.ID); err != nil {
		return outcomeFailed, err
	}

	o.logger.Info("step complete",
		logging.String(logging.FieldStep, kind.String()),
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldRunID, run.ID),
		logging.String("status", reg.DisplayName(item.StatusCode)),
	)
	return outcomeSucceeded, nil
}

// finishSingleStep returns a scoped run to its stashed return status and
// strips the scoping flags. The manual-override flag survives so a later
// full re-enrichment still knows the item was hand-routed.
func (o *Orchestrator) finishSingleStep(ctx context.Context, kind step.Kind, item *queue.Item) error {
	reg := o.engine.Registry()

	doc, err := item.Payload()
	if err != nil {
		return services.Wrap(services.ErrValidation, kind.String(), "payload", "decode payload after step", err)
	}
	returnName := doc.String(payload.KeyReturnStatus)
	if returnName == "" {
		returnName = step.FinalStatusName
	}
	returnCode, err := reg.Code(returnName)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, kind.String(), "return status",
			fmt.Sprintf("stashed return status %q is unknown", returnName), err)
	}

	cleanup := payload.NewPatch().
		Clear(payload.KeySingleStep).
		Clear(payload.KeyReturnStatus)

	return o.engine.Apply(ctx, transition.Request{
		Item:   item,
		ToCode: returnCode,
		Actor:  "pipeline:" + kind.String(),
		Reason: "single-step run complete",
		Manual: true,
		Patch:  cleanup,
	})
}
