package storage

import (
	"context"
	"log"
	"time"
)

// Flusher is anything the periodic persistence worker writes to disk on
// every tick: the project storage itself and the small-object stores.
type Flusher interface {
	Flush() error
}

// RunEviction sweeps idle projects out of memory on a fixed cadence
// until ctx is cancelled.
func (s *Storage) RunEviction(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(ttl); n > 0 {
				log.Printf("storage: evicted %d idle project(s)", n)
			}
		}
	}
}

// RunPersistence flushes the given stores on a fixed cadence until ctx
// is cancelled. A flush failure is returned immediately: continuing
// silently would risk unnoticed data loss, so the caller is expected to
// treat it as fatal.
func RunPersistence(ctx context.Context, interval time.Duration, flushers ...Flusher) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, f := range flushers {
				if err := f.Flush(); err != nil {
					return err
				}
			}
		}
	}
}
