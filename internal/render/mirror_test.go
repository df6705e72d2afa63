package render

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"folio/api/internal/typeset"
)

func setupTestMirror(t *testing.T) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	mirror, err := NewRedisMirror("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis mirror: %v", err)
	}
	return mirror, s
}

func TestMirrorPutGetRoundTrip(t *testing.T) {
	mirror, s := setupTestMirror(t)
	defer mirror.Close()
	defer s.Close()

	ctx := context.Background()
	status := Status{
		Phase:     PhaseFinished,
		Artifacts: []typeset.Artifact{{Format: typeset.FormatPDF, Path: "book.pdf", MimeType: "application/pdf"}},
	}
	mirror.Put(ctx, "req-1", status)

	got, ok := mirror.Get(ctx, "req-1")
	if !ok {
		t.Fatalf("mirrored status not found")
	}
	if got.Phase != PhaseFinished || len(got.Artifacts) != 1 || got.Artifacts[0].Path != "book.pdf" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestMirrorGetUnknownID(t *testing.T) {
	mirror, s := setupTestMirror(t)
	defer mirror.Close()
	defer s.Close()

	if _, ok := mirror.Get(context.Background(), "never-written"); ok {
		t.Fatalf("unknown id must report not found")
	}
}

func TestMirrorEntriesExpire(t *testing.T) {
	mirror, s := setupTestMirror(t)
	defer mirror.Close()
	defer s.Close()

	ctx := context.Background()
	mirror.Put(ctx, "req-1", Status{Phase: PhaseQueued})

	s.FastForward(2 * time.Hour)

	if _, ok := mirror.Get(ctx, "req-1"); ok {
		t.Fatalf("mirrored status must expire after the ttl")
	}
}

func TestManagerFallsBackToMirrorAfterArchiveEviction(t *testing.T) {
	mirror, s := setupTestMirror(t)
	defer mirror.Close()
	defer s.Close()

	ts := &fakeTypesetter{}
	m := NewManager(ts, fakePersons{}, Options{
		TempRoot:     t.TempDir(),
		MaxWorkers:   1,
		PollInterval: 5 * time.Millisecond,
		ArchiveCap:   1,
		Mirror:       mirror,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	first := NewRequest("proj", testSnapshot("Book"), []typeset.Format{typeset.FormatHTML}, nil)
	m.Enqueue(first)
	waitTerminal(t, m, first.ID)

	// Enough later requests to push the first one out of the archive.
	for i := 0; i < 2; i++ {
		req := NewRequest("proj", testSnapshot("Book"), []typeset.Format{typeset.FormatHTML}, nil)
		m.Enqueue(req)
		waitTerminal(t, m, req.ID)
	}

	status, ok := m.Status(ctx, first.ID)
	if !ok {
		t.Fatalf("status lost: archive eviction must fall back to the mirror")
	}
	if status.Phase != PhaseFinished {
		t.Fatalf("mirrored status = %+v", status)
	}
}
