package transition_test

import (
	"context"
	"errors"
	"testing"

	"curator/internal/payload"
	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/testsupport"
	"curator/internal/transition"
)

func newEngine(t *testing.T) (*transition.Engine, *queue.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	reg := testsupport.MustRegistry(t, store)
	return transition.New(store, reg, nil), store
}

func TestApplyValidTransition(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/a", 110)
	err := engine.Apply(ctx, transition.Request{
		Item: item, ToCode: 111, Actor: "pipeline:fetch",
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if item.StatusCode != 111 {
		t.Fatalf("expected in-memory status 111, got %d", item.StatusCode)
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.StatusCode != 111 {
		t.Fatalf("expected persisted status 111, got %d", got.StatusCode)
	}
}

func TestApplyRejectsIllegalTransition(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/b", 112)
	err := engine.Apply(ctx, transition.Request{
		Item: item, ToCode: 222, Actor: "pipeline:tag",
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	got, _ := store.GetByID(ctx, item.ID)
	if got.StatusCode != 112 {
		t.Fatalf("status should be unchanged, got %d", got.StatusCode)
	}
}

func TestApplyFoldsPatchIntoWrite(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/c", 211)
	patch := payload.NewPatch().Set("summary", "a short summary")
	err := engine.Apply(ctx, transition.Request{
		Item: item, ToCode: 212, Actor: "pipeline:summarize", Patch: patch,
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	doc, err := got.Payload()
	if err != nil {
		t.Fatalf("Payload failed: %v", err)
	}
	if doc.String("summary") != "a short summary" {
		t.Fatalf("expected summary in payload, got %#v", doc)
	}
}

func TestApplySameStateWithoutPatchIsNoop(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/d", 300)
	if err := engine.Apply(ctx, transition.Request{Item: item, ToCode: 300, Actor: "review"}); err != nil {
		t.Fatalf("same-state apply failed: %v", err)
	}
	transitions, err := store.TransitionsForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("TransitionsForItem failed: %v", err)
	}
	if len(transitions) != 0 {
		t.Fatalf("no-op should not write audit rows, got %d", len(transitions))
	}
}

func TestApplyStaleItemFails(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/e", 110)
	other, _ := store.GetByID(ctx, item.ID)

	if err := engine.Apply(ctx, transition.Request{Item: item, ToCode: 111, Actor: "pipeline:fetch"}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	// The second caller read the item before the first write landed.
	err := engine.Apply(ctx, transition.Request{Item: other, ToCode: 111, Actor: "pipeline:fetch"})
	if !errors.Is(err, services.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestApplyByName(t *testing.T) {
	engine, store := newEngine(t)
	ctx := context.Background()

	item := testsupport.NewItemAt(t, store, "https://example.com/f", 100)
	err := engine.ApplyByName(ctx, transition.Request{Item: item, Actor: "ingest"}, "to_fetch")
	if err != nil {
		t.Fatalf("ApplyByName failed: %v", err)
	}
	if item.StatusCode != 110 {
		t.Fatalf("expected 110, got %d", item.StatusCode)
	}

	err = engine.ApplyByName(ctx, transition.Request{Item: item, Actor: "ingest"}, "no_such_status")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
