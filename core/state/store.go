package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vsmp/logger"
	"vsmp/model"
)

// Store persists the playback cursor to a single JSON file. Saves are atomic
// with respect to process crash: a crash mid-save leaves either the old or
// the new state fully intact, never a torn write.
type Store struct {
	path        string
	defaultStep int64
}

// NewStore creates a store backed by the given file path. defaultStep seeds
// fresh states when no usable cursor exists yet.
func NewStore(path string, defaultStep int64) *Store {
	return &Store{path: path, defaultStep: defaultStep}
}

// Fingerprint derives a stable identifier for a source file from its path,
// size and modification time. A replaced or re-encoded source gets a new
// fingerprint, which invalidates any cursor bound to the old one.
func Fingerprint(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving source path %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("stat source %s: %w", abs, err)
	}
	return fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano()), nil
}

// Load reads the persisted cursor. A missing file yields a fresh default
// state bound to the given fingerprint. A state bound to a different source,
// or one that no longer parses, is archived next to the state file rather
// than overwritten blindly, and a fresh default is returned in its place.
func (s *Store) Load(fingerprint string) (*model.PlaybackState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no playback state found, starting from frame zero",
				logger.String("path", s.path))
			return s.fresh(fingerprint), nil
		}
		return nil, fmt.Errorf("reading state file %s: %w", s.path, err)
	}

	var st model.PlaybackState
	if err := json.Unmarshal(data, &st); err != nil {
		logger.Warn("state file does not parse, archiving it",
			logger.String("path", s.path),
			logger.ErrorField(err))
		if err := s.archive(); err != nil {
			return nil, err
		}
		return s.fresh(fingerprint), nil
	}

	// A zero step parses fine but would stall the cursor forever; treat a
	// hand-mangled file like a corrupt one.
	if st.Step == 0 {
		logger.Warn("state file carries a zero step, archiving it",
			logger.String("path", s.path))
		if err := s.archive(); err != nil {
			return nil, err
		}
		return s.fresh(fingerprint), nil
	}

	if st.SourceFingerprint != fingerprint {
		logger.Info("source fingerprint changed, archiving old state",
			logger.String("path", s.path),
			logger.String("old", st.SourceFingerprint),
			logger.String("new", fingerprint))
		if err := s.archive(); err != nil {
			return nil, err
		}
		return s.fresh(fingerprint), nil
	}

	return &st, nil
}

// Save atomically replaces the state file with the given state: write to a
// temp file in the same directory, fsync, rename over the target, fsync the
// directory.
func (s *Store) Save(st *model.PlaybackState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename has happened

	// CreateTemp opens 0600; the renamed state file should carry the
	// usual mode.
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return fmt.Errorf("setting temp state file mode: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing state file %s: %w", s.path, err)
	}

	// Persist the rename itself; without this a power cut can roll the
	// directory entry back to the old state, which is still consistent,
	// so a sync failure here is not fatal.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			logger.Warn("state directory sync failed", logger.ErrorField(err))
		}
		d.Close()
	}

	return nil
}

// Reset archives any existing state file and persists a fresh default bound
// to the given fingerprint. This is the only sanctioned way to discard a
// cursor.
func (s *Store) Reset(fingerprint string) (*model.PlaybackState, error) {
	if _, err := os.Stat(s.path); err == nil {
		if err := s.archive(); err != nil {
			return nil, err
		}
	}
	st := s.fresh(fingerprint)
	if err := s.Save(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) fresh(fingerprint string) *model.PlaybackState {
	return &model.PlaybackState{
		Position:          0,
		Step:              s.defaultStep,
		SourceFingerprint: fingerprint,
		UpdatedAt:         time.Now().UTC(),
	}
}

func (s *Store) archive() error {
	backup := fmt.Sprintf("%s.%d.bak", s.path, time.Now().UnixNano())
	if err := os.Rename(s.path, backup); err != nil {
		return fmt.Errorf("archiving state file to %s: %w", backup, err)
	}
	logger.Info("archived playback state", logger.String("backup", backup))
	return nil
}
