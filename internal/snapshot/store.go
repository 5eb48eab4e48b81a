// Package snapshot stores the latest document fetched from each data source
// as a JSON file in the runtime cache directory.
//
// Readers never see a partially written file: every write goes to a
// temporary file that is renamed over the target. Documents assembled by more
// than one fetcher (calendar.json) are merged with Update, which holds an
// exclusive file lock across the read-modify-write.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/brianhealey/inkdash/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned by Read when the document has never been written.
var ErrNotFound = errors.New("snapshot: not found")

// Store reads and writes snapshot documents in one directory.
type Store struct {
	dir string
	now func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{
		dir:   dir,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*sync.Mutex),
	}
}

// SetClock replaces the timestamp source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Dir returns the directory backing the store.
func (s *Store) Dir() string { return s.dir }

// Path returns the file path of the named document.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Read decodes the named document into v. Fields absent from the file keep
// whatever value v already holds, so callers pre-fill v with defaults.
func (s *Store) Read(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("snapshot: read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("snapshot: decode %s: %w", name, err)
	}
	return nil
}

// ReadOr is Read for rendering paths: on any failure it logs a warning,
// restores def into v and returns false.
func ReadOr[T any](s *Store, name string, def T) (T, bool) {
	v := def
	if err := s.Read(name, &v); err != nil {
		slog.Warn("snapshot: using defaults", "doc", name, "err", err)
		return def, false
	}
	return v, true
}

// Write atomically replaces the named document. Documents implementing
// models.Stamped get their timestamp set to the write time first.
func (s *Store) Write(name string, v any) error {
	if st, ok := v.(models.Stamped); ok {
		st.SetTimestamp(s.now())
	}
	return s.writeAtomic(name, v)
}

func (s *Store) writeAtomic(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", name, err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	path := s.Path(name)
	tmp, err := os.CreateTemp(s.dir, name+".json.*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: write %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("snapshot: rename %s: %w", name, err)
	}
	slog.Debug("snapshot: wrote document", "doc", name, "bytes", len(data))
	return nil
}

// Update performs a locked read-modify-write of the named document. The
// current contents (or def when unreadable) are passed to fn; if fn returns
// nil the result is written back.
func Update[T any](s *Store, name string, def T, fn func(*T) error) error {
	mu := s.nameLock(name)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	unlock, err := lockFile(filepath.Join(s.dir, name+".json.lock"))
	if err != nil {
		return fmt.Errorf("snapshot: lock %s: %w", name, err)
	}
	defer unlock()

	doc := def
	if err := s.Read(name, &doc); err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("snapshot: replacing unreadable document", "doc", name, "err", err)
		}
		doc = def
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return s.Write(name, &doc)
}

func (s *Store) nameLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[name] = mu
	}
	return mu
}
