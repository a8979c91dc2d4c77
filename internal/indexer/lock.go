package indexer

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	crerrors "github.com/contentgraph/crsync/internal/errors"
)

// RebuildLock serializes full rebuilds across processes. The engine
// assumes one logical writer per indexing session; two concurrent
// rebuilds would race on the same index generation, so the CLI takes
// this lock before starting one. Works on all platforms.
type RebuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRebuildLock creates a rebuild lock below the given directory.
// The lock file lives at <dir>/.rebuild.lock
func NewRebuildLock(dir string) *RebuildLock {
	lockPath := filepath.Join(dir, ".rebuild.lock")
	return &RebuildLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking. Returns
// false when another rebuild holds it.
func (l *RebuildLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, crerrors.Wrap(crerrors.ErrCodeLockFailed,
			fmt.Errorf("failed to create lock directory: %w", err))
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, crerrors.Wrap(crerrors.ErrCodeLockFailed,
			fmt.Errorf("failed to acquire rebuild lock: %w", err))
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked RebuildLock.
func (l *RebuildLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release rebuild lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file location.
func (l *RebuildLock) Path() string {
	return l.path
}
