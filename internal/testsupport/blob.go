package testsupport

import (
	"testing"

	"curator/internal/blob"
)

// MustBlobStore creates a disk blob store under a per-test temp directory.
func MustBlobStore(t testing.TB) *blob.DiskStore {
	t.Helper()

	store, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("blob.NewDiskStore: %v", err)
	}
	return store
}
