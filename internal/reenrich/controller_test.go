package reenrich_test

import (
	"context"
	"errors"
	"testing"

	"curator/internal/payload"
	"curator/internal/queue"
	"curator/internal/reenrich"
	"curator/internal/services"
	"curator/internal/step"
	"curator/internal/testsupport"
	"curator/internal/transition"
)

func newController(t *testing.T) (*reenrich.Controller, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	reg := testsupport.MustRegistry(t, store)
	engine := transition.New(store, reg, nil)
	return reenrich.New(store, engine, nil), store
}

func TestReenrichResetsAndRequeues(t *testing.T) {
	ctrl, store := newController(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/full", 400)
	if err := store.RecordFailure(ctx, item.ID, "tag", "old failure"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	got, err := ctrl.Reenrich(ctx, item.ID, "operator")
	if err != nil {
		t.Fatalf("Reenrich failed: %v", err)
	}
	if got.StatusCode != 200 {
		t.Fatalf("expected pending_enrichment, got %d", got.StatusCode)
	}

	fresh, _ := store.GetByID(ctx, item.ID)
	if fresh.FailureCount != 0 || fresh.LastFailedStep != "" {
		t.Fatalf("expected reset bookkeeping, got %#v", fresh)
	}
	doc, _ := fresh.Payload()
	if !doc.Bool(payload.KeyManualOverride) {
		t.Fatal("expected manual override flag")
	}
	if _, ok := doc[payload.KeySingleStep]; ok {
		t.Fatal("full re-enrichment must not set single-step scoping")
	}
	if doc.String(payload.KeyTrigger) != "re-enrich" {
		t.Fatalf("expected stashed re-enrich trigger, got %q", doc.String(payload.KeyTrigger))
	}
}

func TestRetryStashesRetryTrigger(t *testing.T) {
	ctrl, store := newController(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/retry", 500)
	got, err := ctrl.Retry(ctx, item.ID, "cli")
	if err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	if got.StatusCode != 200 {
		t.Fatalf("expected pending_enrichment, got %d", got.StatusCode)
	}
	doc, _ := got.Payload()
	if doc.String(payload.KeyTrigger) != "retry" {
		t.Fatalf("expected stashed retry trigger, got %q", doc.String(payload.KeyTrigger))
	}
}

func TestReenrichCancelsActiveRuns(t *testing.T) {
	ctrl, store := newController(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/busy", 211)
	run, err := store.CreateRun(ctx, item.ID, "enrich", "cli")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if ok, err := store.ClaimRun(ctx, item.ID, run.ID, ""); err != nil || !ok {
		t.Fatalf("ClaimRun failed: ok=%v err=%v", ok, err)
	}

	if _, err := ctrl.Reenrich(ctx, item.ID, "operator"); err != nil {
		t.Fatalf("Reenrich failed: %v", err)
	}

	gotRun, _ := store.GetRun(ctx, run.ID)
	if gotRun.Status != queue.RunStatusCancelled {
		t.Fatalf("expected cancelled run, got %q", gotRun.Status)
	}
	fresh, _ := store.GetByID(ctx, item.ID)
	if fresh.CurrentRunID != "" {
		t.Fatalf("expected cleared claim, got %q", fresh.CurrentRunID)
	}
	if fresh.StatusCode != 200 {
		t.Fatalf("expected pending_enrichment, got %d", fresh.StatusCode)
	}
}

func TestReenrichStepStashesReturnStatus(t *testing.T) {
	ctrl, store := newController(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		statusCode int
		wantReturn string
	}{
		{"published item returns to review", 400, "pending_review"},
		{"in-review item returns to review", 310, "pending_review"},
		{"terminal item returns to enriched", 500, "enriched"},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := testsupport.NewItemAt(t, store, "https://example.com/scoped"+string(rune('a'+i)), tc.statusCode)

			got, err := ctrl.ReenrichStep(ctx, item.ID, step.Summarize, "operator")
			if err != nil {
				t.Fatalf("ReenrichStep failed: %v", err)
			}
			if got.StatusCode != 210 {
				t.Fatalf("expected to_summarize, got %d", got.StatusCode)
			}
			doc, err := got.Payload()
			if err != nil {
				t.Fatalf("Payload failed: %v", err)
			}
			if !doc.Bool(payload.KeySingleStep) {
				t.Fatal("expected single-step flag")
			}
			if doc.String(payload.KeyReturnStatus) != tc.wantReturn {
				t.Fatalf("expected return status %q, got %q", tc.wantReturn, doc.String(payload.KeyReturnStatus))
			}
			if doc.String(payload.KeyTrigger) != "re-summarize" {
				t.Fatalf("expected stashed re-summarize trigger, got %q", doc.String(payload.KeyTrigger))
			}
		})
	}
}

func TestReenrichUnknownItem(t *testing.T) {
	ctrl, _ := newController(t)
	if _, err := ctrl.Reenrich(context.Background(), 9999, "operator"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReenrichLeavesAuditTrail(t *testing.T) {
	ctrl, store := newController(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/audit", 400)
	if _, err := ctrl.Reenrich(ctx, item.ID, "operator"); err != nil {
		t.Fatalf("Reenrich failed: %v", err)
	}

	transitions, err := store.TransitionsForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("TransitionsForItem failed: %v", err)
	}
	if len(transitions) != 1 || !transitions[0].Manual || transitions[0].Actor != "operator" {
		t.Fatalf("expected one manual audit row by operator, got %#v", transitions)
	}
}
