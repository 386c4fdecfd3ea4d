// Package lifecycle guards a data directory against concurrent servers.
package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	ixerrors "github.com/Aman-CERP/indexify/internal/errors"
)

// LockFileName is the lock file inside the data directory.
const LockFileName = "indexify.lock"

// DirLock is an exclusive cross-process lock on a data directory.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for dataDir. Nothing is locked until Acquire.
func NewDirLock(dataDir string) *DirLock {
	path := filepath.Join(dataDir, LockFileName)
	return &DirLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Acquire takes the lock without blocking. A directory already locked by
// another process fails with ErrCodeDataDirLocked.
func (l *DirLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return ixerrors.New(ixerrors.ErrCodeDataDirLocked,
			fmt.Sprintf("data directory %s is in use by another indexify process", filepath.Dir(l.path)), nil).
			WithDetail("lock", l.path).
			WithSuggestion("Stop the other server or point --data-dir elsewhere")
	}
	l.locked = true
	return nil
}

// Release drops the lock. It is safe to call on an unlocked DirLock.
func (l *DirLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}

// IsLocked reports whether this DirLock holds the lock.
func (l *DirLock) IsLocked() bool {
	return l.locked
}
