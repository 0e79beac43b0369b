package report_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"curator/internal/queue"
	"curator/internal/report"
	"curator/internal/status"
	"curator/internal/testsupport"
)

func newReporter(t *testing.T) (*report.Reporter, *queue.Store, *status.Registry) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	reg := testsupport.MustRegistry(t, store)
	return report.New(store, reg, nil), store, reg
}

func addTokens(t *testing.T, store *queue.Store, itemID int64, agent, model string, tokens float64) {
	t.Helper()
	ctx := context.Background()
	run, err := store.CreateRun(ctx, itemID, "enrich", "cli")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	err = store.AddMetric(ctx, queue.Metric{
		RunID: run.ID,
		Name:  "tokens_total",
		Value: tokens,
		Unit:  "tokens",
		Agent: agent,
		Model: model,
	})
	if err != nil {
		t.Fatalf("AddMetric failed: %v", err)
	}
}

func TestCostReportTotals(t *testing.T) {
	reporter, store, _ := newReporter(t)
	ctx := context.Background()

	item := testsupport.NewItem(t, store, "https://example.com/cost")
	addTokens(t, store, item.ID, "summarize", "gpt-x", 120)
	addTokens(t, store, item.ID, "tag", "gpt-x", 30)

	got, err := reporter.Cost(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if got.TotalTokens != 150 || got.TotalCalls != 2 {
		t.Fatalf("unexpected totals %#v", got)
	}
	if len(got.ByAgent) != 2 {
		t.Fatalf("expected two agent rows, got %#v", got.ByAgent)
	}
	if len(got.ByModel) != 1 || got.ByModel[0].Key != "gpt-x" {
		t.Fatalf("expected one model row, got %#v", got.ByModel)
	}
	if len(got.ByDay) != 1 {
		t.Fatalf("expected one day row, got %#v", got.ByDay)
	}
	if len(got.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", got.Warnings)
	}
}

func TestCostReportWindow(t *testing.T) {
	reporter, store, _ := newReporter(t)

	item := testsupport.NewItem(t, store, "https://example.com/window")
	addTokens(t, store, item.ID, "summarize", "gpt-x", 120)

	got, err := reporter.Cost(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Cost failed: %v", err)
	}
	if got.TotalTokens != 0 || got.TotalCalls != 0 {
		t.Fatalf("future window must be empty, got %#v", got)
	}
}

func TestHealthReportCounts(t *testing.T) {
	reporter, store, _ := newReporter(t)
	ctx := context.Background()

	testsupport.NewItemAt(t, store, "https://example.com/ready", 110)
	testsupport.NewItemAt(t, store, "https://example.com/working", 211)
	testsupport.NewItemAt(t, store, "https://example.com/review", 300)
	testsupport.NewItemAt(t, store, "https://example.com/dead", 510)

	got, err := reporter.Health(ctx, nil)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	q := got.Queue
	if q.Total != 4 || q.Ready != 1 || q.Working != 1 || q.Review != 1 || q.Terminal != 1 {
		t.Fatalf("unexpected queue summary %#v", q)
	}
	if len(got.Statuses) != 4 {
		t.Fatalf("expected four occupied statuses, got %#v", got.Statuses)
	}
	for i := 1; i < len(got.Statuses); i++ {
		if got.Statuses[i].Code < got.Statuses[i-1].Code {
			t.Fatalf("statuses not sorted: %#v", got.Statuses)
		}
	}
	if got.Statuses[0].Name != "to_fetch" {
		t.Fatalf("expected to_fetch first, got %#v", got.Statuses[0])
	}
}

func TestHealthReportCountsRecentTransitions(t *testing.T) {
	reporter, store, _ := newReporter(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/moves", 110)
	err := store.ApplyTransition(ctx, queue.TransitionInput{
		ItemID: item.ID, FromCode: 110, ToCode: 111, Actor: "pipeline:fetch",
	})
	if err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}

	got, err := reporter.Health(ctx, nil)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if got.RecentTransitions != 1 {
		t.Fatalf("expected one recent transition, got %d", got.RecentTransitions)
	}
}

type staticChecker struct{ err error }

func (c staticChecker) HealthCheck(context.Context) error { return c.err }

func TestHealthReportProbesChecker(t *testing.T) {
	reporter, _, _ := newReporter(t)
	ctx := context.Background()

	got, err := reporter.Health(ctx, staticChecker{})
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !got.LLMReachable || got.LLMError != "" {
		t.Fatalf("expected reachable, got %#v", got)
	}

	got, err = reporter.Health(ctx, staticChecker{err: errors.New("auth rejected")})
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if got.LLMReachable || got.LLMError != "auth rejected" {
		t.Fatalf("expected probe failure recorded, got %#v", got)
	}
}
