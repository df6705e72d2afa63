// Package flock provides process-local mutual exclusion over disk I/O,
// keyed by resource id. It serializes file reads and writes for one
// document across concurrent goroutines; it does not guard in-memory
// mutation, which is the document handle's own lock.
package flock

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// StoreKey is the singleton key used for the top-level small-object store.
const StoreKey = "__store__"

// ErrTimeout indicates a lock could not be acquired within the configured
// wait. It is distinct from I/O failures so callers can decide to retry.
var ErrTimeout = errors.New("flock: acquire timed out")

// Table maps resource keys to in-memory lock flags. Flags are created on
// first use and never removed; removal would race with a concurrent
// acquire, and entries are bounded by the number of distinct documents
// ever touched.
type Table struct {
	mu           sync.Mutex
	flags        map[string]*atomic.Bool
	pollInterval time.Duration
}

// NewTable creates a lock table. pollInterval is the spin-wait cadence for
// Acquire; zero means 25ms.
func NewTable(pollInterval time.Duration) *Table {
	if pollInterval <= 0 {
		pollInterval = 25 * time.Millisecond
	}
	return &Table{
		flags:        make(map[string]*atomic.Bool),
		pollInterval: pollInterval,
	}
}

func (t *Table) flag(key string) *atomic.Bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.flags[key]
	if !ok {
		f = &atomic.Bool{}
		t.flags[key] = f
	}
	return f
}

// TryAcquire sets the flag for key if it is unset. Non-blocking.
func (t *Table) TryAcquire(key string) bool {
	return t.flag(key).CompareAndSwap(false, true)
}

// Release clears the flag for key. Releasing an unheld lock is a no-op.
func (t *Table) Release(key string) {
	t.flag(key).Store(false)
}

// Acquire polls TryAcquire until it succeeds or the cumulative wait
// exceeds timeout, in which case it returns ErrTimeout. No fairness is
// guaranteed among waiters.
func (t *Table) Acquire(key string, timeout time.Duration) error {
	if t.TryAcquire(key) {
		return nil
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for range ticker.C {
		if t.TryAcquire(key) {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
	}
	return ErrTimeout
}
