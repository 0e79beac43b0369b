package testsupport

import (
	"context"
	"testing"

	"curator/internal/config"
	"curator/internal/queue"
	"curator/internal/status"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustRegistry loads the status registry from the store's seeded lookup table.
func MustRegistry(t testing.TB, store *queue.Store) *status.Registry {
	t.Helper()

	reg, err := status.Load(context.Background(), store)
	if err != nil {
		t.Fatalf("status.Load: %v", err)
	}
	return reg
}

// NewItem inserts a discovered item for tests using the provided store.
func NewItem(t testing.TB, store *queue.Store, url string) *queue.Item {
	t.Helper()

	item, err := store.Add(context.Background(), url, "", 100, "{}")
	if err != nil {
		t.Fatalf("store.Add: %v", err)
	}
	return item
}

// NewItemAt inserts an item already sitting in the given status.
func NewItemAt(t testing.TB, store *queue.Store, url string, statusCode int) *queue.Item {
	t.Helper()

	item, err := store.Add(context.Background(), url, "", statusCode, "{}")
	if err != nil {
		t.Fatalf("store.Add: %v", err)
	}
	return item
}
