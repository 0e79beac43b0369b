package rawgc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"curator/internal/blob"
	"curator/internal/queue"
	"curator/internal/rawgc"
	"curator/internal/testsupport"
)

// futureCutoff makes every existing row old enough to collect.
const futureCutoff = -time.Hour

func newCollector(t *testing.T) (*rawgc.Collector, *queue.Store, blob.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustBlobStore(t)
	return rawgc.New(store, blobs, nil), store, blobs
}

func storedItem(t *testing.T, store *queue.Store, blobs blob.Store, url string, statusCode int, content string) (*queue.Item, string) {
	t.Helper()
	ctx := context.Background()
	item := testsupport.NewItemAt(t, store, url, statusCode)
	ref, err := blobs.Put(ctx, []byte(content))
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.SetRawRef(ctx, item.ID, ref); err != nil {
		t.Fatalf("SetRawRef failed: %v", err)
	}
	return item, ref
}

func TestCollectDeletesSettledRefs(t *testing.T) {
	collector, store, blobs := newCollector(t)
	ctx := context.Background()

	published, ref := storedItem(t, store, blobs, "https://example.com/old", 400, "old body")
	_, liveRef := storedItem(t, store, blobs, "https://example.com/live", 210, "live body")

	result, err := collector.Collect(ctx, rawgc.Options{Retention: futureCutoff})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if result.Deleted != 1 || result.Failed != 0 {
		t.Fatalf("expected one deletion, got %#v", result)
	}

	if exists, _ := blobs.Exists(ctx, ref); exists {
		t.Fatal("settled blob should be gone")
	}
	if exists, _ := blobs.Exists(ctx, liveRef); !exists {
		t.Fatal("live blob must survive")
	}

	got, _ := store.GetByID(ctx, published.ID)
	if got.StorageDeletedAt == nil || got.DeletionReason != "gc" {
		t.Fatalf("expected deletion markers on the row, got %#v", got)
	}
}

func TestCollectDeletesThumbnailSibling(t *testing.T) {
	collector, store, blobs := newCollector(t)
	ctx := context.Background()

	_, ref := storedItem(t, store, blobs, "https://example.com/thumbed", 400, "body")
	thumbRef, err := blobs.PutThumbnail(ctx, ref, []byte("<svg/>"))
	if err != nil {
		t.Fatalf("PutThumbnail failed: %v", err)
	}

	if _, err := collector.Collect(ctx, rawgc.Options{Retention: futureCutoff}); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if exists, _ := blobs.Exists(ctx, thumbRef); exists {
		t.Fatal("thumbnail sibling should be gone with the raw ref")
	}
}

func TestCollectDryRun(t *testing.T) {
	collector, store, blobs := newCollector(t)
	ctx := context.Background()

	item, ref := storedItem(t, store, blobs, "https://example.com/dry", 400, "body")

	result, err := collector.Collect(ctx, rawgc.Options{Retention: futureCutoff, DryRun: true})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if !result.DryRun || result.Deleted != 1 || len(result.Candidates) != 1 {
		t.Fatalf("dry run must report the would-delete count, got %#v", result)
	}
	if exists, _ := blobs.Exists(ctx, ref); !exists {
		t.Fatal("dry run must not delete blobs")
	}
	got, _ := store.GetByID(ctx, item.ID)
	if got.StorageDeletedAt != nil {
		t.Fatal("dry run must not mark rows")
	}
}

type flakyBlobStore struct {
	blob.Store
	failRef string
}

func (s *flakyBlobStore) Delete(ctx context.Context, ref string) error {
	if ref == s.failRef {
		return errors.New("disk on fire")
	}
	return s.Store.Delete(ctx, ref)
}

func TestCollectIsolatesDeleteFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	blobs := testsupport.MustBlobStore(t)
	ctx := context.Background()

	broken, brokenRef := storedItem(t, store, blobs, "https://example.com/broken", 400, "broken")
	healthy, _ := storedItem(t, store, blobs, "https://example.com/healthy", 400, "healthy")

	collector := rawgc.New(store, &flakyBlobStore{Store: blobs, failRef: brokenRef}, nil)
	result, err := collector.Collect(ctx, rawgc.Options{Retention: futureCutoff})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if result.Deleted != 1 || result.Failed != 1 {
		t.Fatalf("expected one success and one failure, got %#v", result)
	}

	gotBroken, _ := store.GetByID(ctx, broken.ID)
	if gotBroken.StorageDeletedAt != nil {
		t.Fatal("failed delete must not mark the row")
	}
	gotHealthy, _ := store.GetByID(ctx, healthy.ID)
	if gotHealthy.StorageDeletedAt == nil {
		t.Fatal("healthy item should be collected despite the failure")
	}
}

func TestCollectHonorsLimit(t *testing.T) {
	collector, store, blobs := newCollector(t)
	ctx := context.Background()

	storedItem(t, store, blobs, "https://example.com/one", 400, "one")
	storedItem(t, store, blobs, "https://example.com/two", 400, "two")

	result, err := collector.Collect(ctx, rawgc.Options{Retention: futureCutoff, Limit: 1})
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if result.Deleted != 1 {
		t.Fatalf("expected the limit to cap deletions, got %#v", result)
	}
}
