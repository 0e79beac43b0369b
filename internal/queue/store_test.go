package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"curator/internal/queue"
	"curator/internal/services"
	"curator/internal/testsupport"
)

func TestOpenSeedsStatusLookup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	rows, err := store.StatusRows(context.Background())
	if err != nil {
		t.Fatalf("StatusRows failed: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("expected seeded status rows")
	}
	reg := testsupport.MustRegistry(t, store)
	if code, err := reg.Code("to_fetch"); err != nil || code != 110 {
		t.Fatalf("expected to_fetch = 110, got %d err %v", code, err)
	}
}

func TestAddAndGet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item, err := store.Add(ctx, "https://example.com/a", "Example A", 100, "")
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if item.ID == 0 {
		t.Fatal("expected item ID to be assigned")
	}
	if item.PayloadJSON != "{}" {
		t.Fatalf("expected empty payload default, got %q", item.PayloadJSON)
	}

	fetched, err := store.GetByURL(ctx, "https://example.com/a")
	if err != nil {
		t.Fatalf("GetByURL failed: %v", err)
	}
	if fetched == nil || fetched.ID != item.ID || fetched.Title != "Example A" {
		t.Fatalf("unexpected fetched item: %#v", fetched)
	}
}

func TestDuplicateURLRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	if _, err := store.Add(ctx, "https://example.com/dup", "", 100, ""); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := store.Add(ctx, "https://example.com/dup", "", 100, ""); err == nil {
		t.Fatal("expected unique constraint violation for duplicate URL")
	}
}

func TestEligibleForStatusOrdersOldestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	var ids []int64
	for i := 0; i < 3; i++ {
		item, err := store.Add(ctx, fmt.Sprintf("https://example.com/%d", i), "", 110, "")
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		ids = append(ids, item.ID)
		time.Sleep(2 * time.Millisecond)
	}

	items, err := store.EligibleForStatus(ctx, 110, 2)
	if err != nil {
		t.Fatalf("EligibleForStatus failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != ids[0] || items[1].ID != ids[1] {
		t.Fatalf("expected oldest-first order %v, got %d,%d", ids, items[0].ID, items[1].ID)
	}
}

func TestApplyTransitionGuardsCurrentStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItemAt(t, store, "https://example.com/t", 110)

	err := store.ApplyTransition(ctx, queue.TransitionInput{
		ItemID: item.ID, FromCode: 110, ToCode: 111, Actor: "pipeline:fetch",
	})
	if err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}

	// A second writer still holding the old status loses.
	err = store.ApplyTransition(ctx, queue.TransitionInput{
		ItemID: item.ID, FromCode: 110, ToCode: 111, Actor: "pipeline:fetch",
	})
	if !errors.Is(err, services.ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	transitions, err := store.TransitionsForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("TransitionsForItem failed: %v", err)
	}
	if len(transitions) != 1 {
		t.Fatalf("expected exactly one audit row, got %d", len(transitions))
	}
	if transitions[0].FromCode != 110 || transitions[0].ToCode != 111 || transitions[0].Actor != "pipeline:fetch" {
		t.Fatalf("unexpected audit row: %#v", transitions[0])
	}
}

func TestApplyTransitionUpdatesPayloadAtomically(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItemAt(t, store, "https://example.com/p", 111)

	err := store.ApplyTransition(ctx, queue.TransitionInput{
		ItemID:      item.ID,
		FromCode:    111,
		ToCode:      112,
		Actor:       "pipeline:fetch",
		PayloadJSON: `{"content":"body"}`,
	})
	if err != nil {
		t.Fatalf("ApplyTransition failed: %v", err)
	}

	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.StatusCode != 112 {
		t.Fatalf("expected status 112, got %d", got.StatusCode)
	}
	if got.PayloadJSON != `{"content":"body"}` {
		t.Fatalf("expected payload update, got %q", got.PayloadJSON)
	}
}

func TestClaimRunCompareAndSet(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, "https://example.com/claim")

	ok, err := store.ClaimRun(ctx, item.ID, "run-1", "")
	if err != nil || !ok {
		t.Fatalf("first claim should succeed: ok=%v err=%v", ok, err)
	}
	ok, err = store.ClaimRun(ctx, item.ID, "run-2", "")
	if err != nil {
		t.Fatalf("second claim errored: %v", err)
	}
	if ok {
		t.Fatal("second claim should lose the compare-and-set")
	}

	ok, err = store.ReleaseRun(ctx, item.ID, "run-2")
	if err != nil || ok {
		t.Fatalf("release with wrong run id should not clear: ok=%v err=%v", ok, err)
	}
	ok, err = store.ReleaseRun(ctx, item.ID, "run-1")
	if err != nil || !ok {
		t.Fatalf("release with owning run id failed: ok=%v err=%v", ok, err)
	}
}

func TestFailureBookkeeping(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, "https://example.com/fail")

	if err := store.RecordFailure(ctx, item.ID, "summarize", "model timeout"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := store.RecordFailure(ctx, item.ID, "summarize", "model timeout"); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	got, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.FailureCount != 2 || got.LastFailedStep != "summarize" {
		t.Fatalf("unexpected bookkeeping: %#v", got)
	}

	if err := store.ResetFailures(ctx, item.ID); err != nil {
		t.Fatalf("ResetFailures failed: %v", err)
	}
	got, _ = store.GetByID(ctx, item.ID)
	if got.FailureCount != 0 || got.LastFailedStep != "" || got.ErrorMessage != "" {
		t.Fatalf("expected reset bookkeeping: %#v", got)
	}
}

func TestRunLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, "https://example.com/run")

	run, err := store.CreateRun(ctx, item.ID, "enrich", "cli")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.ID == "" || run.Status != queue.RunStatusRunning {
		t.Fatalf("unexpected run: %#v", run)
	}

	sr, err := store.CreateStepRun(ctx, &queue.StepRun{
		RunID:         run.ID,
		Step:          "summarize",
		InputSnapshot: `{"content":"body"}`,
	})
	if err != nil {
		t.Fatalf("CreateStepRun failed: %v", err)
	}
	if sr.ID == 0 || sr.Attempt != 1 {
		t.Fatalf("unexpected step run: %#v", sr)
	}

	if err := store.CompleteStepRun(ctx, sr.ID, queue.RunStatusSuccess, `{"summary":"ok"}`, ""); err != nil {
		t.Fatalf("CompleteStepRun failed: %v", err)
	}
	if err := store.CompleteRun(ctx, run.ID, queue.RunStatusSuccess, ""); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	stepRuns, err := store.StepRunsForRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("StepRunsForRun failed: %v", err)
	}
	if len(stepRuns) != 1 || stepRuns[0].OutputJSON != `{"summary":"ok"}` || stepRuns[0].CompletedAt == nil {
		t.Fatalf("unexpected step runs: %#v", stepRuns[0])
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != queue.RunStatusSuccess || got.CompletedAt == nil {
		t.Fatalf("unexpected completed run: %#v", got)
	}
}

func TestCancelActiveRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, "https://example.com/cancel")

	if _, err := store.CreateRun(ctx, item.ID, "enrich", "cli"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if _, err := store.CreateRun(ctx, item.ID, "enrich", "cli"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	cancelled, err := store.CancelActiveRuns(ctx, item.ID, "superseded by re-enrichment")
	if err != nil {
		t.Fatalf("CancelActiveRuns failed: %v", err)
	}
	if cancelled != 2 {
		t.Fatalf("expected 2 cancelled runs, got %d", cancelled)
	}

	runs, err := store.RunsForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("RunsForItem failed: %v", err)
	}
	for _, run := range runs {
		if run.Status != queue.RunStatusCancelled {
			t.Fatalf("expected cancelled run, got %#v", run)
		}
	}
}

func TestSampleRunsSkipsRunningRuns(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, "https://example.com/sample")

	settled := make(map[string]bool, 3)
	for i := 0; i < 3; i++ {
		run, err := store.CreateRun(ctx, item.ID, "enrich", "cli")
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		if err := store.CompleteRun(ctx, run.ID, queue.RunStatusSuccess, ""); err != nil {
			t.Fatalf("CompleteRun failed: %v", err)
		}
		settled[run.ID] = true
	}
	if _, err := store.CreateRun(ctx, item.ID, "enrich", "cli"); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	runs, err := store.SampleRuns(ctx, 10)
	if err != nil {
		t.Fatalf("SampleRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 settled runs, got %d", len(runs))
	}
	for _, run := range runs {
		if !settled[run.ID] {
			t.Fatalf("sample included a running run: %#v", run)
		}
	}

	runs, err = store.SampleRuns(ctx, 2)
	if err != nil {
		t.Fatalf("SampleRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected the sample capped at 2, got %d", len(runs))
	}
}

func TestPromptVersions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	v1, err := store.EnsurePromptVersion(ctx, "summarize", "v1", "Summarize: {{content}}")
	if err != nil {
		t.Fatalf("EnsurePromptVersion failed: %v", err)
	}
	if v1 == nil || !v1.Active {
		t.Fatalf("expected active v1, got %#v", v1)
	}

	v2, err := store.EnsurePromptVersion(ctx, "summarize", "v2", "Summarize better: {{content}}")
	if err != nil {
		t.Fatalf("EnsurePromptVersion failed: %v", err)
	}
	if v2.Version != "v2" || !v2.Active {
		t.Fatalf("expected active v2, got %#v", v2)
	}

	active, err := store.ActivePromptVersion(ctx, "summarize")
	if err != nil {
		t.Fatalf("ActivePromptVersion failed: %v", err)
	}
	if active == nil || active.Version != "v2" {
		t.Fatalf("expected v2 active, got %#v", active)
	}
}

func TestSafeToDeleteRawRefs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()

	published := testsupport.NewItemAt(t, store, "https://example.com/old", 400)
	if err := store.SetRawRef(ctx, published.ID, "sha256/abc"); err != nil {
		t.Fatalf("SetRawRef failed: %v", err)
	}

	// A live item sharing the same ref keeps it unsafe.
	live := testsupport.NewItemAt(t, store, "https://example.com/live", 210)
	if err := store.SetRawRef(ctx, live.ID, "sha256/shared"); err != nil {
		t.Fatalf("SetRawRef failed: %v", err)
	}
	sharer := testsupport.NewItemAt(t, store, "https://example.com/sharer", 400)
	if err := store.SetRawRef(ctx, sharer.ID, "sha256/shared"); err != nil {
		t.Fatalf("SetRawRef failed: %v", err)
	}

	// Retention of zero means everything already updated is past the window.
	candidates, err := store.SafeToDeleteRawRefs(ctx, -time.Hour, 100)
	if err != nil {
		t.Fatalf("SafeToDeleteRawRefs failed: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ItemID != published.ID || candidates[0].RawRef != "sha256/abc" {
		t.Fatalf("expected only the unshared published ref, got %#v", candidates)
	}

	if err := store.MarkStorageDeleted(ctx, published.ID, "gc"); err != nil {
		t.Fatalf("MarkStorageDeleted failed: %v", err)
	}
	got, _ := store.GetByID(ctx, published.ID)
	if got.StorageDeletedAt == nil || got.DeletionReason != "gc" {
		t.Fatalf("expected deletion markers, got %#v", got)
	}

	candidates, err = store.SafeToDeleteRawRefs(ctx, -time.Hour, 100)
	if err != nil {
		t.Fatalf("SafeToDeleteRawRefs failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Fatalf("expected no candidates after deletion, got %#v", candidates)
	}
}

func TestCostAggregation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	item := testsupport.NewItem(t, store, "https://example.com/cost")
	run, err := store.CreateRun(ctx, item.ID, "enrich", "cli")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	for i, agent := range []string{"summarizer", "tagger"} {
		err := store.AddMetric(ctx, queue.Metric{
			RunID: run.ID,
			Name:  "tokens_total",
			Value: float64(100 * (i + 1)),
			Unit:  "tokens",
			Agent: agent,
			Model: "test-model",
		})
		if err != nil {
			t.Fatalf("AddMetric failed: %v", err)
		}
	}

	since := time.Now().Add(-time.Hour)
	byAgent, err := store.CostByAgent(ctx, since)
	if err != nil {
		t.Fatalf("CostByAgent failed: %v", err)
	}
	if len(byAgent) != 2 {
		t.Fatalf("expected 2 agent rows, got %#v", byAgent)
	}

	byModel, err := store.CostByModel(ctx, since)
	if err != nil {
		t.Fatalf("CostByModel failed: %v", err)
	}
	if len(byModel) != 1 || byModel[0].Tokens != 300 || byModel[0].Calls != 2 {
		t.Fatalf("expected single aggregated model row, got %#v", byModel)
	}
}

func TestHealthSummary(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	testsupport.NewItemAt(t, store, "https://example.com/h1", 110)
	testsupport.NewItemAt(t, store, "https://example.com/h2", 211)
	testsupport.NewItemAt(t, store, "https://example.com/h3", 300)
	testsupport.NewItemAt(t, store, "https://example.com/h4", 500)

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if health.Total != 4 || health.Ready != 1 || health.Working != 1 || health.Review != 1 || health.Terminal != 1 {
		t.Fatalf("unexpected health: %#v", health)
	}
}
