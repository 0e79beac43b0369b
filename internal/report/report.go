// Package report assembles the operator-facing cost and health summaries.
// Reports are best effort: a section that cannot be computed is dropped
// with a warning instead of failing the whole report.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/status"
)

// CostReport aggregates token spend over a window.
type CostReport struct {
	Since       time.Time
	ByDay       []queue.CostRow
	ByAgent     []queue.CostRow
	ByModel     []queue.CostRow
	TotalTokens float64
	TotalCalls  int
	Warnings    []string
}

// StatusCount is the number of items sitting in one status.
type StatusCount struct {
	Code        int
	Name        string
	DisplayName string
	Count       int
}

// HealthReport is a point-in-time snapshot of queue and connectivity state.
type HealthReport struct {
	Queue             queue.HealthSummary
	Statuses          []StatusCount
	RecentTransitions int
	LLMReachable      bool
	LLMError          string
	Warnings          []string
}

// Checker is the connectivity probe run by the health report, typically the
// LLM client. A nil Checker skips the probe.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Reporter builds reports from the store.
type Reporter struct {
	store  *queue.Store
	reg    *status.Registry
	logger *slog.Logger
}

// New builds a Reporter. A nil logger is replaced with a no-op logger.
func New(store *queue.Store, reg *status.Registry, logger *slog.Logger) *Reporter {
	return &Reporter{
		store:  store,
		reg:    reg,
		logger: logging.NewComponentLogger(logger, "report"),
	}
}

// Cost aggregates token usage recorded since the given time. Per-agent
// totals drive the overall sum; a failed breakdown becomes a warning.
func (r *Reporter) Cost(ctx context.Context, since time.Time) (CostReport, error) {
	report := CostReport{Since: since}

	byAgent, err := r.store.CostByAgent(ctx, since)
	if err != nil {
		return report, err
	}
	report.ByAgent = byAgent
	for _, row := range byAgent {
		report.TotalTokens += row.Tokens
		report.TotalCalls += row.Calls
	}

	if byDay, err := r.store.CostByDay(ctx, since); err != nil {
		report.Warnings = append(report.Warnings, "per-day breakdown unavailable: "+err.Error())
		r.logger.Warn("cost breakdown failed", logging.String("dimension", "day"), logging.Error(err))
	} else {
		report.ByDay = byDay
	}
	if byModel, err := r.store.CostByModel(ctx, since); err != nil {
		report.Warnings = append(report.Warnings, "per-model breakdown unavailable: "+err.Error())
		r.logger.Warn("cost breakdown failed", logging.String("dimension", "model"), logging.Error(err))
	} else {
		report.ByModel = byModel
	}
	return report, nil
}

// Health snapshots queue counts, per-status occupancy, recent audit
// activity, and optionally probes the given checker.
func (r *Reporter) Health(ctx context.Context, checker Checker) (HealthReport, error) {
	report := HealthReport{}

	summary, err := r.store.Health(ctx)
	if err != nil {
		return report, err
	}
	report.Queue = summary

	stats, err := r.store.Stats(ctx)
	if err != nil {
		return report, err
	}
	for code, count := range stats {
		if count == 0 {
			continue
		}
		name, err := r.reg.Name(code)
		if err != nil {
			report.Warnings = append(report.Warnings, fmt.Sprintf("items in unknown status %d", code))
			name = fmt.Sprintf("status_%d", code)
		}
		report.Statuses = append(report.Statuses, StatusCount{
			Code:        code,
			Name:        name,
			DisplayName: r.reg.DisplayName(code),
			Count:       count,
		})
	}
	sort.Slice(report.Statuses, func(i, j int) bool {
		return report.Statuses[i].Code < report.Statuses[j].Code
	})

	if count, err := r.store.RecentTransitions(ctx, time.Now().Add(-24*time.Hour)); err != nil {
		report.Warnings = append(report.Warnings, "recent transition count unavailable: "+err.Error())
		r.logger.Warn("transition count failed", logging.Error(err))
	} else {
		report.RecentTransitions = count
	}

	if checker != nil {
		if err := checker.HealthCheck(ctx); err != nil {
			report.LLMError = err.Error()
		} else {
			report.LLMReachable = true
		}
	}
	return report, nil
}
