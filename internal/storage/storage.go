// Package storage is the project store: a concurrent, lazily-populated,
// borrow-counted in-memory cache over the versioned on-disk project
// format. Disk I/O per project id is serialized by the file lock table;
// in-memory access goes through the handle's own read/write lock.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"folio/api/internal/flock"
	"folio/api/internal/project"
	"folio/api/internal/util"
)

// ErrNotFound indicates an id with no loadable project behind it.
var ErrNotFound = errors.New("storage: project not found")

// Handle is the shared, access-controlled cell around one live in-memory
// project. The storage entry and any number of borrowers point at the
// same Handle; field access always goes through Read/Write/Snapshot.
type Handle struct {
	mu  sync.RWMutex
	doc *project.ProjectData
}

// Read calls fn with shared access to the project.
func (h *Handle) Read(fn func(*project.ProjectData)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn(h.doc)
}

// Write calls fn with exclusive access to the project.
func (h *Handle) Write(fn func(*project.ProjectData)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.doc)
}

// Snapshot returns a deep copy taken under shared access.
func (h *Handle) Snapshot() *project.ProjectData {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.doc.Snapshot()
}

// entry is the bookkeeping record for one project id. Once an id is seen
// the entry stays for the process lifetime; eviction only clears handle.
type entry struct {
	name        string // denormalized display name for listing without loading
	handle      *Handle
	borrows     int // live external borrowers; the entry's own slot is not counted
	lastTouch   time.Time
	lastPersist time.Time
}

// Info describes one known project for listings.
type Info struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Loaded bool   `json:"loaded"`
}

// Storage is the project cache. All methods are safe for concurrent use.
type Storage struct {
	root        string
	locks       *flock.Table
	lockTimeout time.Duration

	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates a Storage rooted at root (one subdirectory per project id).
func New(root string, locks *flock.Table, lockTimeout time.Duration) *Storage {
	return &Storage{
		root:        root,
		locks:       locks,
		lockTimeout: lockTimeout,
		entries:     make(map[string]*entry),
	}
}

func (s *Storage) dir(id string) string {
	return filepath.Join(s.root, id)
}

// Get returns a borrowed handle for id, loading from disk on a cold
// entry. Every successful Get must be paired with Release(id); while
// borrowed, the project is never evicted.
func (s *Storage) Get(id string) (*Handle, error) {
	now := time.Now()

	if h := s.borrowWarm(id, now); h != nil {
		h.Write(func(d *project.ProjectData) { d.Touch(now) })
		return h, nil
	}

	// Cold: serialize the load on the per-id file lock so concurrent
	// callers do not each read the file and overwrite one another.
	if err := s.locks.Acquire(id, s.lockTimeout); err != nil {
		return nil, fmt.Errorf("lock project %s: %w", id, err)
	}
	defer s.locks.Release(id)

	// A racer that held the lock before us may have populated the entry.
	if h := s.borrowWarm(id, now); h != nil {
		h.Write(func(d *project.ProjectData) { d.Touch(now) })
		return h, nil
	}

	doc, err := project.Load(s.dir(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, project.ErrNoDataFound) {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, err
	}
	doc.Touch(now)

	h := &Handle{doc: doc}
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	e.name = doc.Name
	e.handle = h
	e.borrows++
	e.lastTouch = now
	e.lastPersist = now // freshly read, disk already matches
	s.mu.Unlock()
	return h, nil
}

// borrowWarm bumps the borrow count and returns the handle when the
// entry is populated, nil otherwise.
func (s *Storage) borrowWarm(id string, now time.Time) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.handle == nil {
		return nil
	}
	e.borrows++
	e.lastTouch = now
	return e.handle
}

// Release returns a borrow taken by Get.
func (s *Storage) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if e.borrows > 0 {
		e.borrows--
	}
}

// Touch marks id as interacted with, refreshing its display name copy
// and pushing eviction and the next persistence flush out.
func (s *Storage) Touch(id string) {
	now := time.Now()
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok || e.handle == nil {
		s.mu.Unlock()
		return
	}
	e.lastTouch = now
	h := e.handle
	s.mu.Unlock()

	h.Write(func(d *project.ProjectData) { d.Touch(now) })
	s.mu.Lock()
	if e, ok := s.entries[id]; ok && e.handle == h {
		h.Read(func(d *project.ProjectData) { e.name = d.Name })
	}
	s.mu.Unlock()
}

// Insert stores a brand-new project, persists it and returns its id. The
// fresh timestamp keeps a just-created project away from the evictor.
func (s *Storage) Insert(doc *project.ProjectData) (string, error) {
	id := util.NewID("")
	now := time.Now()
	doc.Touch(now)

	s.mu.Lock()
	s.entries[id] = &entry{
		name:      doc.Name,
		handle:    &Handle{doc: doc},
		lastTouch: now,
	}
	s.mu.Unlock()

	if err := s.Persist(id); err != nil {
		return "", err
	}
	return id, nil
}

// Persist writes the current in-memory value of id to disk. The value
// copy is taken under the handle's read lock before the file lock is
// acquired, so slow disk I/O never blocks in-memory mutators. A nil
// handle means disk is already current and nothing is written.
func (s *Storage) Persist(id string) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	var h *Handle
	if ok {
		h = e.handle
	}
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	if h == nil {
		return nil
	}

	snap := h.Snapshot()

	if err := s.locks.Acquire(id, s.lockTimeout); err != nil {
		return fmt.Errorf("lock project %s: %w", id, err)
	}
	defer s.locks.Release(id)

	if err := project.Save(s.dir(id), snap); err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		e.lastPersist = now
		e.name = snap.Name
	}
	s.mu.Unlock()
	return nil
}

// EvictIdle clears the handle of every project that is unreferenced and
// untouched for longer than ttl, persisting it first. The borrow count
// and the touch timestamp are re-checked under exclusive map access
// immediately before clearing, so a borrower that arrived between the
// scan and the clear keeps its handle. Returns the number evicted.
func (s *Storage) EvictIdle(ttl time.Duration) int {
	now := time.Now()

	type candidate struct {
		id      string
		touched time.Time
	}
	var candidates []candidate
	s.mu.RLock()
	for id, e := range s.entries {
		if e.handle != nil && e.borrows == 0 && now.Sub(e.lastTouch) > ttl {
			candidates = append(candidates, candidate{id: id, touched: e.lastTouch})
		}
	}
	s.mu.RUnlock()

	evicted := 0
	for _, c := range candidates {
		if err := s.Persist(c.id); err != nil {
			log.Printf("storage: evict %s: persist failed, keeping in memory: %v", c.id, err)
			continue
		}
		s.mu.Lock()
		e, ok := s.entries[c.id]
		if ok && e.handle != nil && e.borrows == 0 && e.lastTouch.Equal(c.touched) {
			e.handle = nil
			evicted++
		}
		s.mu.Unlock()
	}
	return evicted
}

// PersistModified flushes every loaded project whose last interaction is
// newer than its last persist. Used by the periodic persistence worker;
// any failure is returned so the worker can halt loudly.
func (s *Storage) PersistModified() error {
	var ids []string
	s.mu.RLock()
	for id, e := range s.entries {
		if e.handle != nil && e.lastTouch.After(e.lastPersist) {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range ids {
		if err := s.Persist(id); err != nil {
			return fmt.Errorf("persist %s: %w", id, err)
		}
	}
	return nil
}

// Flush implements the persistence worker's Flusher interface.
func (s *Storage) Flush() error {
	return s.PersistModified()
}

// LoadDirectoryIndex enumerates id-named subdirectories under the root
// and load-checks each project once, recording its display name without
// keeping the body in memory. Unloadable projects are logged and
// skipped. Called on startup.
func (s *Storage) LoadDirectoryIndex() error {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read project root: %w", err)
	}

	for _, dirEntry := range entries {
		if !dirEntry.IsDir() {
			continue
		}
		id := dirEntry.Name()

		if err := s.locks.Acquire(id, s.lockTimeout); err != nil {
			log.Printf("storage: index %s: %v", id, err)
			continue
		}
		doc, err := project.Load(s.dir(id))
		s.locks.Release(id)
		if err != nil {
			log.Printf("storage: index %s: not loadable, skipping: %v", id, err)
			continue
		}

		now := time.Now()
		s.mu.Lock()
		if _, ok := s.entries[id]; !ok {
			// Handle deliberately left empty: this warms the name
			// index, not the body cache.
			s.entries[id] = &entry{name: doc.Name, lastPersist: now}
		}
		s.mu.Unlock()
	}
	return nil
}

// List returns the known projects sorted by nothing in particular;
// callers sort as needed.
func (s *Storage) List() []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]Info, 0, len(s.entries))
	for id, e := range s.entries {
		infos = append(infos, Info{ID: id, Name: e.name, Loaded: e.handle != nil})
	}
	return infos
}

// Borrows reports the live borrow count for id. Test hook.
func (s *Storage) Borrows(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[id]; ok {
		return e.borrows
	}
	return 0
}

// Loaded reports whether id currently has a populated handle.
func (s *Storage) Loaded(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return ok && e.handle != nil
}
