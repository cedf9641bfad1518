package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// File modes. The state file holds bearer credentials.
const (
	fileMode = 0o600
	dirMode  = 0o700
)

// FileStateStore keeps AppState in a JSON file. Writes go to a temp file
// that is fsynced and renamed over the target, so a crash leaves either the
// old or the new state. Writers are serialized by a mutex inside the process
// and by an flock on path+".lock" across processes.
type FileStateStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileStateStore creates a store for the file at path. The parent
// directory is created on first write.
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStateStore{path: path, logger: logger}
}

// Load returns the stored state, or DefaultState when there is no file.
// A file that does not parse is an error.
func (s *FileStateStore) Load() (*AppState, error) {
	st, err := s.read()
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("state file not found, using default state", "path", s.path)
		return s.DefaultState(), nil
	}
	return st, err
}

// Save writes state, keeping the previous file as path+".bak".
func (s *FileStateStore) Save(state *AppState) error {
	return s.withLock(func() error {
		return s.write(state, true)
	})
}

// Update loads the state, applies fn and saves the result, all under the
// file lock, so concurrent writers never lose each other's changes. An
// unreadable file is replaced by DefaultState before fn runs.
func (s *FileStateStore) Update(fn func(*AppState) error) error {
	return s.withLock(func() error {
		st, err := s.Load()
		if err != nil {
			s.logger.Warn("replacing unreadable state file", "path", s.path, "error", err)
			st = s.DefaultState()
		}
		if err := fn(st); err != nil {
			return err
		}
		return s.write(st, true)
	})
}

// Forget signs the state out and removes the backup, which would still
// hold the credentials.
func (s *FileStateStore) Forget() error {
	return s.withLock(func() error {
		st, err := s.Load()
		if err != nil {
			s.logger.Warn("replacing unreadable state file", "path", s.path, "error", err)
			st = s.DefaultState()
		}
		st.forget()
		if err := s.write(st, false); err != nil {
			return err
		}
		if err := os.Remove(s.backupPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove backup: %w", err)
		}
		return nil
	})
}

// DefaultState returns a signed-out AppState.
func (s *FileStateStore) DefaultState() *AppState {
	now := time.Now().UTC()
	return &AppState{Version: SchemaVersion, CreatedAt: now, UpdatedAt: now}
}

// Exists reports whether the state file is on disk.
func (s *FileStateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the state file path.
func (s *FileStateStore) Path() string {
	return s.path
}

func (s *FileStateStore) backupPath() string { return s.path + ".bak" }

// read opens, checks and decodes the state file.
func (s *FileStateStore) read() (*AppState, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	defer f.Close()

	// Permission bits carry no meaning on Windows.
	if info, err := f.Stat(); err == nil && runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			s.logger.Warn("state.json has too-open permissions, should be 0600",
				"path", s.path, "current_mode", fmt.Sprintf("%04o", perm))
		}
	}

	var st AppState
	if err := json.NewDecoder(f).Decode(&st); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if st.Version == "" {
		st.Version = SchemaVersion
	}
	return &st, nil
}

// withLock runs fn holding the process mutex and the cross-process flock.
func (s *FileStateStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	lock, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, fileMode)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lock.Close() }()

	if err := flockLock(lock.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lock.Fd()) //nolint:errcheck

	return fn()
}

// write stamps st and replaces the file. Must hold the lock.
func (s *FileStateStore) write(st *AppState, backup bool) error {
	st.UpdatedAt = time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = st.UpdatedAt
	}
	if st.Version == "" {
		st.Version = SchemaVersion
	}

	if backup {
		if prev, err := os.ReadFile(s.path); err == nil {
			if err := os.WriteFile(s.backupPath(), prev, fileMode); err != nil {
				s.logger.Warn("failed to create backup", "error", err)
			}
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := replaceFile(s.path, append(data, '\n')); err != nil {
		return err
	}
	// A hand-made file may predate us with a wider mode.
	if err := os.Chmod(s.path, fileMode); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}

	s.logger.Debug("state saved", "path", s.path, "signed_in", st.SignedIn())
	return nil
}

// replaceFile writes data next to path, fsyncs it and renames it over path.
func replaceFile(path string, data []byte) (err error) {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fileMode)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp to state: %w", err)
	}
	return nil
}
