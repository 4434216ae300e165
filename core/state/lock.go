package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrTickInProgress reports that another invocation already holds the tick
// lock. Callers treat this as a deliberate no-op, not a failure.
var ErrTickInProgress = errors.New("another tick is already in progress")

// Lock is the mutual-exclusion marker colocated with the state file. It is
// held from load through commit so two scheduler invocations can never run a
// tick concurrently. flock-based, so a killed process releases it
// automatically.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the lock without blocking. If another process holds it,
// ErrTickInProgress is returned immediately.
func AcquireLock(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring tick lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrTickInProgress
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock.
func (l *Lock) Release() {
	if l == nil || l.fl == nil {
		return
	}
	_ = l.fl.Unlock()
}
