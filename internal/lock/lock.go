// Package lock keeps two sync runs from sharing a download directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning means another process holds the lock file.
var ErrAlreadyRunning = errors.New("another sync run is in progress")

// Lock is an advisory file lock.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New returns an unlocked lock on path.
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock without blocking.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, l.path)
	}
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	if !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}
