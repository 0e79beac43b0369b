// Package joblock prevents concurrent pipeline batch jobs on one data
// directory. Batch commands are invoked from cron and by hand; an flock on
// a well-known file keeps two passes from claiming the same items.
package joblock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld indicates another process currently holds the job lock.
var ErrHeld = errors.New("another pipeline job is already running")

// Lock is an advisory file lock scoped to a data directory.
type Lock struct {
	path string
	lock *flock.Flock
}

// New creates a lock rooted in dataDir. Nothing is acquired yet.
func New(dataDir string) (*Lock, error) {
	if dataDir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(dataDir, "curator.lock")
	return &Lock{path: path, lock: flock.New(path)}, nil
}

// Acquire takes the lock without blocking. ErrHeld means a competing job
// has it.
func (l *Lock) Acquire() error {
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire job lock: %w", err)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

// Release gives the lock back. Safe to call when not held.
func (l *Lock) Release() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release job lock: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}
