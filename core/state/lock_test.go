package state

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestLockIsExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.lock")

	first, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// A second invocation must be refused immediately, not block.
	if _, err := AcquireLock(path); !errors.Is(err, ErrTickInProgress) {
		t.Fatalf("second acquire: got %v, want ErrTickInProgress", err)
	}

	first.Release()

	second, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	second.Release()
}

func TestReleaseNilLockIsSafe(t *testing.T) {
	var l *Lock
	l.Release()
}
