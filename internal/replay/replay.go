// Package replay validates that recorded pipeline runs can be reconstructed
// from their persisted step runs, snapshots, and audit trail. It never
// mutates pipeline state: a replay that cannot load its inputs is a fatal
// error, a replay that loads but does not line up is a finding.
package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"curator/internal/agents"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/step"
	"curator/internal/transition"
)

// Report is the outcome of validating one run.
type Report struct {
	RunID    string
	ItemID   int64
	Valid    bool
	Errors   []string
	Warnings []string
}

// CapabilityReport summarizes a sample-based replay test.
type CapabilityReport struct {
	Sampled    int
	Passed     int
	Rate       float64
	TargetRate float64
	Met        bool
}

// RerunResult compares a recorded step output with a fresh execution
// against the recorded input snapshot.
type RerunResult struct {
	RunID          string
	Step           string
	RecordedOutput string
	FreshOutput    string
	Matches        bool
}

// Engine validates runs against the store.
type Engine struct {
	store  *queue.Store
	engine *transition.Engine
	logger *slog.Logger
}

// New builds an Engine. A nil logger is replaced with a no-op logger.
func New(store *queue.Store, engine *transition.Engine, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		engine: engine,
		logger: logging.NewComponentLogger(logger, "replay"),
	}
}

// Replay validates one run. Load failures are returned as errors; findings
// land in the report.
func (e *Engine) Replay(ctx context.Context, runID string) (Report, error) {
	report := Report{RunID: runID}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return report, err
	}
	if run == nil {
		return report, services.Wrap(services.ErrNotFound, "", "replay", fmt.Sprintf("run %s not found", runID), nil)
	}
	report.ItemID = run.ItemID

	stepRuns, err := e.store.StepRunsForRun(ctx, runID)
	if err != nil {
		return report, err
	}
	transitions, err := e.store.TransitionsForItem(ctx, run.ItemID)
	if err != nil {
		return report, err
	}

	if len(stepRuns) == 0 {
		report.Errors = append(report.Errors, "run has no step runs")
	}

	for _, sr := range stepRuns {
		prefix := fmt.Sprintf("step %s (attempt %d)", sr.Step, sr.Attempt)

		if _, err := step.ParseKind(sr.Step); err != nil {
			report.Errors = append(report.Errors, prefix+": unknown step name")
		}
		if sr.InputSnapshot == "" {
			report.Errors = append(report.Errors, prefix+": missing input snapshot")
		} else if !json.Valid([]byte(sr.InputSnapshot)) {
			report.Errors = append(report.Errors, prefix+": input snapshot is not valid JSON")
		}

		switch sr.Status {
		case queue.RunStatusRunning:
			report.Errors = append(report.Errors, prefix+": never completed")
		case queue.RunStatusSuccess:
			if sr.CompletedAt == nil {
				report.Errors = append(report.Errors, prefix+": succeeded without completion time")
			}
			if sr.OutputJSON == "" {
				report.Errors = append(report.Errors, prefix+": succeeded without recorded output")
			} else if !json.Valid([]byte(sr.OutputJSON)) {
				report.Errors = append(report.Errors, prefix+": recorded output is not valid JSON")
			}
			if sr.PromptVersionID == 0 && isPromptedStep(sr.Step) {
				report.Warnings = append(report.Warnings, prefix+": no prompt version recorded")
			}
		case queue.RunStatusFailed:
			if sr.ErrorMessage == "" {
				report.Warnings = append(report.Warnings, prefix+": failed without an error message")
			}
		case queue.RunStatusCancelled:
			report.Warnings = append(report.Warnings, prefix+": cancelled mid-flight")
		}

		if sr.CompletedAt != nil && sr.CompletedAt.Before(sr.StartedAt) {
			report.Errors = append(report.Errors, prefix+": completed before it started")
		}
	}

	// Chronology across step runs.
	for i := 1; i < len(stepRuns); i++ {
		if stepRuns[i].StartedAt.Before(stepRuns[i-1].StartedAt) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("step %s started before preceding step %s", stepRuns[i].Step, stepRuns[i-1].Step))
		}
	}

	// Every successful step should have left a status transition behind.
	succeeded := 0
	for _, sr := range stepRuns {
		if sr.Status == queue.RunStatusSuccess {
			succeeded++
		}
	}
	if succeeded > 0 && len(transitions) == 0 {
		report.Errors = append(report.Errors, "successful steps but no transitions in the audit trail")
	}

	// The audit trail itself must be internally consistent: each row's
	// from state matches the previous row's to state.
	for i := 1; i < len(transitions); i++ {
		if transitions[i].FromCode != transitions[i-1].ToCode {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("audit gap: transition %d leaves %d but next starts from %d",
					transitions[i-1].ID, transitions[i-1].ToCode, transitions[i].FromCode))
		}
	}

	report.Valid = len(report.Errors) == 0
	return report, nil
}

// ReplayBatch validates several runs, isolating per-run load failures as
// invalid reports instead of aborting the batch.
func (e *Engine) ReplayBatch(ctx context.Context, runIDs []string) ([]Report, error) {
	reports := make([]Report, 0, len(runIDs))
	for _, runID := range runIDs {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		report, err := e.Replay(ctx, runID)
		if err != nil {
			report.Valid = false
			report.Errors = append(report.Errors, err.Error())
			e.logger.Warn("replay load failure",
				logging.String(logging.FieldRunID, runID),
				logging.Error(err),
			)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// TestCapability draws a random sample of settled runs and reports whether
// the replayable fraction meets the target rate (in percent).
func (e *Engine) TestCapability(ctx context.Context, sampleSize int, targetRate float64) (CapabilityReport, error) {
	report := CapabilityReport{TargetRate: targetRate}

	runs, err := e.store.SampleRuns(ctx, sampleSize)
	if err != nil {
		return report, err
	}
	if len(runs) == 0 {
		report.Met = true
		return report, nil
	}

	runIDs := make([]string, 0, len(runs))
	for _, run := range runs {
		runIDs = append(runIDs, run.ID)
	}
	reports, err := e.ReplayBatch(ctx, runIDs)
	if err != nil {
		return report, err
	}

	report.Sampled = len(reports)
	for _, r := range reports {
		if r.Valid {
			report.Passed++
		}
	}
	report.Rate = float64(report.Passed) / float64(report.Sampled) * 100
	report.Met = report.Rate >= targetRate
	return report, nil
}

// RerunStep re-executes one recorded step against its input snapshot
// without touching pipeline state, and compares the fresh output with the
// recorded one. Prompt drift and nondeterministic agents surface here.
func (e *Engine) RerunStep(ctx context.Context, runID string, kind step.Kind, steps *step.Registry) (RerunResult, error) {
	result := RerunResult{RunID: runID, Step: kind.String()}

	stepRuns, err := e.store.StepRunsForRun(ctx, runID)
	if err != nil {
		return result, err
	}
	var recorded *queue.StepRun
	for _, sr := range stepRuns {
		if sr.Step == kind.String() {
			recorded = sr
		}
	}
	if recorded == nil {
		return result, services.Wrap(services.ErrNotFound, kind.String(), "rerun",
			fmt.Sprintf("run %s has no recorded %s step", runID, kind), nil)
	}
	if recorded.InputSnapshot == "" {
		return result, services.Wrap(services.ErrValidation, kind.String(), "rerun", "recorded step has no input snapshot", nil)
	}
	result.RecordedOutput = recorded.OutputJSON

	agent, err := steps.Resolve(kind)
	if err != nil {
		return result, err
	}
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return result, err
	}
	if run == nil {
		return result, services.Wrap(services.ErrNotFound, "", "rerun", fmt.Sprintf("run %s not found", runID), nil)
	}
	item, err := e.store.GetByID(ctx, run.ItemID)
	if err != nil {
		return result, err
	}
	if item == nil {
		return result, services.Wrap(services.ErrNotFound, "", "rerun", fmt.Sprintf("item %d not found", run.ItemID), nil)
	}

	var prompt *queue.PromptVersion
	if recorded.PromptVersionID != 0 {
		prompt, err = e.store.GetPromptVersion(ctx, recorded.PromptVersionID)
		if err != nil {
			return result, err
		}
	}

	// Rebuild the item exactly as the agent saw it.
	ghost := *item
	ghost.PayloadJSON = recorded.InputSnapshot

	fresh, err := agent.Run(ctx, &ghost, agents.Options{Prompt: prompt})
	if err != nil {
		return result, services.Wrap(services.ErrAgent, kind.String(), "rerun", "fresh execution failed", err)
	}
	if raw, err := json.Marshal(fresh.Fields); err == nil {
		result.FreshOutput = string(raw)
	}
	result.Matches = equalJSON(result.RecordedOutput, result.FreshOutput)
	return result, nil
}

// RerunStepRun resolves a recorded step run by identifier and re-executes
// it the same way RerunStep does.
func (e *Engine) RerunStepRun(ctx context.Context, stepRunID int64, steps *step.Registry) (RerunResult, error) {
	sr, err := e.store.GetStepRun(ctx, stepRunID)
	if err != nil {
		return RerunResult{}, err
	}
	if sr == nil {
		return RerunResult{}, services.Wrap(services.ErrNotFound, "", "rerun",
			fmt.Sprintf("step run %d not found", stepRunID), nil)
	}
	kind, err := step.ParseKind(sr.Step)
	if err != nil {
		return RerunResult{}, err
	}
	return e.RerunStep(ctx, sr.RunID, kind, steps)
}

// SimulateRun re-executes every successfully recorded step of a run against
// its input snapshots and reports per-step drift. Pipeline state is never
// touched. A successful step that cannot be reloaded (unknown step name,
// missing snapshot) fails the whole simulation; skipping it would fake a
// clean result.
func (e *Engine) SimulateRun(ctx context.Context, runID string, steps *step.Registry) ([]RerunResult, error) {
	stepRuns, err := e.store.StepRunsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	var results []RerunResult
	seen := make(map[string]bool)
	for _, sr := range stepRuns {
		if sr.Status != queue.RunStatusSuccess || seen[sr.Step] {
			continue
		}
		seen[sr.Step] = true
		kind, err := step.ParseKind(sr.Step)
		if err != nil {
			return results, services.Wrap(services.ErrValidation, sr.Step, "simulate",
				fmt.Sprintf("run %s recorded unknown step %q", runID, sr.Step), err)
		}
		if sr.InputSnapshot == "" {
			return results, services.Wrap(services.ErrValidation, sr.Step, "simulate",
				fmt.Sprintf("run %s recorded step %s without an input snapshot", runID, sr.Step), nil)
		}
		result, err := e.RerunStep(ctx, runID, kind, steps)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func isPromptedStep(name string) bool {
	switch name {
	case step.Filter.String(), step.Summarize.String(), step.Tag.String():
		return true
	}
	return false
}

// equalJSON compares two JSON documents ignoring key order.
func equalJSON(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	var av, bv any
	if err := json.Unmarshal([]byte(a), &av); err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(b), &bv); err != nil {
		return false
	}
	ra, err := json.Marshal(av)
	if err != nil {
		return false
	}
	rb, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return string(ra) == string(rb)
}
