// Package person is the small-object store for authors and editors.
// It follows the same locking and file-versioning discipline as the
// project store, at lower complexity: the whole store is one versioned
// file under the data root, guarded by a single global lock key.
package person

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"folio/api/internal/flock"
	"folio/api/internal/project"
	"folio/api/internal/util"
)

const (
	filePrefix = "persons"

	// CurrentVersion is the on-disk shape written by Persist.
	CurrentVersion = 2

	// legacyTemplatesDir is the pre-v2 template directory that moved
	// into per-project template references. The v1->v2 migration
	// renames it out of the way exactly once.
	legacyTemplatesDir = "templates"
)

// Person is one author/editor record referenced by person id from
// project metadata and bibliography entries.
type Person struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// DisplayName renders the person for output artifacts.
func (p Person) DisplayName() string {
	if p.FirstName == "" {
		return p.LastName
	}
	return p.FirstName + " " + p.LastName
}

type storeDataV2 struct {
	Persons map[string]*Person `json:"persons"`
}

// storeDataV1 kept persons as a flat list. Migration keys them by id.
type storeDataV1 struct {
	Persons []*Person `json:"persons"`
}

// Store holds all persons in memory; the on-disk file is rewritten as a
// whole on persist. Safe for concurrent use.
type Store struct {
	dir         string
	locks       *flock.Table
	lockTimeout time.Duration

	mu      sync.RWMutex
	persons map[string]*Person
	dirty   bool
}

// NewStore creates a person store rooted at dataDir. Call Load before use.
func NewStore(dataDir string, locks *flock.Table, lockTimeout time.Duration) *Store {
	return &Store{
		dir:         dataDir,
		locks:       locks,
		lockTimeout: lockTimeout,
		persons:     make(map[string]*Person),
	}
}

// Load reads the highest on-disk version, migrating older shapes
// forward. A missing file means a fresh store, not an error.
func (s *Store) Load() error {
	if err := s.locks.Acquire(flock.StoreKey, s.lockTimeout); err != nil {
		return err
	}
	defer s.locks.Release(flock.StoreKey)

	version, path, err := highestVersion(s.dir)
	if errors.Is(err, project.ErrNoDataFound) || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var loaded map[string]*Person
	switch version {
	case 1:
		var old storeDataV1
		if err := json.Unmarshal(data, &old); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		loaded = migrateV1(&old)
		if err := renameLegacyTemplates(s.dir); err != nil {
			return err
		}
		// Loaded state is already the new shape; write it so the
		// migration is not repeated on every start.
		s.mu.Lock()
		s.persons = loaded
		s.mu.Unlock()
		return s.persistLocked()
	case CurrentVersion:
		var cur storeDataV2
		if err := json.Unmarshal(data, &cur); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		loaded = cur.Persons
	default:
		return fmt.Errorf("%w: %d", project.ErrUnknownVersion, version)
	}

	if loaded == nil {
		loaded = make(map[string]*Person)
	}
	s.mu.Lock()
	s.persons = loaded
	s.mu.Unlock()
	return nil
}

// Get returns the person for id.
func (s *Store) Get(id string) (Person, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.persons[id]
	if !ok {
		return Person{}, false
	}
	return *p, true
}

// Exists reports whether a person id is known.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.persons[id]
	return ok
}

// List returns every person sorted by display name.
func (s *Store) List() []Person {
	s.mu.RLock()
	out := make([]Person, 0, len(s.persons))
	for _, p := range s.persons {
		out = append(out, *p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName() != out[j].DisplayName() {
			return out[i].DisplayName() < out[j].DisplayName()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Put inserts or replaces a person, assigning an id when absent.
func (s *Store) Put(p Person) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = util.NewID("p")
	}
	cp := p
	s.persons[p.ID] = &cp
	s.dirty = true
	return p.ID
}

// Persist writes the current store state under the global lock key.
func (s *Store) Persist() error {
	if err := s.locks.Acquire(flock.StoreKey, s.lockTimeout); err != nil {
		return err
	}
	defer s.locks.Release(flock.StoreKey)
	return s.persistLocked()
}

// Flush persists only when the store changed since the last write. The
// periodic persistence worker calls this on every tick.
func (s *Store) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	// Cleared before the write; a concurrent Put re-marks it.
	s.dirty = false
	s.mu.Unlock()

	if err := s.Persist(); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

// persistLocked assumes the caller holds the store file lock. The value
// copy is taken under the map's read lock, not while doing disk I/O.
func (s *Store) persistLocked() error {
	s.mu.RLock()
	out := storeDataV2{Persons: make(map[string]*Person, len(s.persons))}
	for id, p := range s.persons {
		cp := *p
		out.Persons[id] = &cp
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode persons: %w", err)
	}
	path := filepath.Join(s.dir, project.VersionedName(filePrefix, CurrentVersion))
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func migrateV1(old *storeDataV1) map[string]*Person {
	persons := make(map[string]*Person, len(old.Persons))
	for _, p := range old.Persons {
		if p == nil || p.ID == "" {
			log.Printf("person: migrating from v1: dropping record without id")
			continue
		}
		cp := *p
		persons[p.ID] = &cp
	}
	return persons
}

// renameLegacyTemplates moves the pre-v2 templates directory aside.
// Idempotent: already-moved or never-existed are both fine.
func renameLegacyTemplates(dataDir string) error {
	oldPath := filepath.Join(dataDir, legacyTemplatesDir)
	newPath := oldPath + ".old"

	if _, err := os.Stat(oldPath); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("stat legacy templates dir: %w", err)
	}
	if _, err := os.Stat(newPath); err == nil {
		// A previous attempt already moved it.
		return nil
	}
	log.Printf("person: migrating store to v2: renaming legacy %s/ to %s.old/", legacyTemplatesDir, legacyTemplatesDir)
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("rename legacy templates dir: %w", err)
	}
	return nil
}

func highestVersion(dir string) (int, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, "", err
	}
	best := -1
	bestName := ""
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if v, ok := project.ParseVersionedName(entry.Name(), filePrefix); ok && v > best {
			best = v
			bestName = entry.Name()
		}
	}
	if best < 0 {
		return 0, "", project.ErrNoDataFound
	}
	return best, filepath.Join(dir, bestName), nil
}
