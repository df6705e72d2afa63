package render

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"folio/api/internal/person"
	"folio/api/internal/project"
	"folio/api/internal/typeset"
)

// fakeTypesetter records render calls and can be made slow or failing.
type fakeTypesetter struct {
	mu       sync.Mutex
	order    []string // request output dirs in start order
	prepared []*typeset.Document
	gate     chan struct{} // when set, Render blocks until closed
	maxSeen  int
	active   int
	fail     string
}

func (f *fakeTypesetter) Render(ctx context.Context, doc *typeset.Document, templateID, outDir string, formats []typeset.Format) ([]typeset.Artifact, error) {
	f.mu.Lock()
	f.order = append(f.order, filepath.Base(outDir))
	f.prepared = append(f.prepared, doc)
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	gate := f.gate
	fail := f.fail
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if fail != "" {
		return nil, &renderFailure{fail}
	}
	name := "book.html"
	if err := os.WriteFile(filepath.Join(outDir, name), []byte("<html></html>"), 0o644); err != nil {
		return nil, err
	}
	return []typeset.Artifact{{Format: typeset.FormatHTML, Path: name, MimeType: "text/html"}}, nil
}

type renderFailure struct{ msg string }

func (e *renderFailure) Error() string { return e.msg }

type fakePersons map[string]person.Person

func (f fakePersons) Get(id string) (person.Person, bool) {
	p, ok := f[id]
	return p, ok
}

func (f fakePersons) Exists(id string) bool {
	_, ok := f[id]
	return ok
}

func testSnapshot(name string) *project.ProjectData {
	return &project.ProjectData{
		Name: name,
		Sections: []project.SectionOrToc{
			{Section: &project.Section{
				ID:              "sec-1",
				VisibleInOutput: true,
				Metadata:        project.SectionMeta{Title: "One"},
			}},
		},
	}
}

func waitTerminal(t *testing.T, m *Manager, requestID string) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if status, ok := m.Status(context.Background(), requestID); ok && status.Phase.Terminal() {
			return status
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("request %s never reached a terminal phase", requestID)
	return Status{}
}

func TestFIFOStartOrderWithConcurrencyCeiling(t *testing.T) {
	ts := &fakeTypesetter{gate: make(chan struct{})}
	m := NewManager(ts, fakePersons{}, Options{
		TempRoot:     t.TempDir(),
		MaxWorkers:   2,
		PollInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	var ids []string
	for i := 0; i < 5; i++ {
		req := NewRequest("proj", testSnapshot("Book"), []typeset.Format{typeset.FormatHTML}, nil)
		m.Enqueue(req)
		ids = append(ids, req.ID)
	}

	// With the gate closed, exactly the first two may start.
	time.Sleep(100 * time.Millisecond)
	if got := m.Running(); got != 2 {
		t.Fatalf("expected 2 running workers at the ceiling, got %d", got)
	}

	close(ts.gate)
	for _, id := range ids {
		status := waitTerminal(t, m, id)
		if status.Phase != PhaseFinished {
			t.Fatalf("request %s: %+v", id, status)
		}
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.maxSeen > 2 {
		t.Fatalf("concurrency ceiling exceeded: %d", ts.maxSeen)
	}
	// Requests must start in submission order.
	for i, id := range ids {
		if ts.order[i] != id {
			t.Fatalf("start order[%d] = %s, want %s", i, ts.order[i], id)
		}
	}
}

func TestMissingSnapshotFailsWithNoProjectData(t *testing.T) {
	ts := &fakeTypesetter{}
	m := NewManager(ts, fakePersons{}, Options{TempRoot: t.TempDir(), MaxWorkers: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	req := NewRequest("proj", testSnapshot("Book"), nil, nil)
	if _, ok := req.TakeSnapshot(); !ok {
		t.Fatalf("setup: take snapshot")
	}
	m.Enqueue(req)

	status := waitTerminal(t, m, req.ID)
	if status.Phase != PhaseFailed || !strings.Contains(status.Reason, "no project data") {
		t.Fatalf("expected no-project-data failure, got %+v", status)
	}
}

func TestSnapshotIsTakenExactlyOnce(t *testing.T) {
	req := NewRequest("proj", testSnapshot("Book"), nil, nil)
	if _, ok := req.TakeSnapshot(); !ok {
		t.Fatalf("first take must succeed")
	}
	if _, ok := req.TakeSnapshot(); ok {
		t.Fatalf("second take must fail: snapshots are move-only")
	}
}

func TestMissingAuthorIsSkippedNotFatal(t *testing.T) {
	ts := &fakeTypesetter{}
	persons := fakePersons{"p_known": {ID: "p_known", FirstName: "Ada", LastName: "Lovelace"}}
	m := NewManager(ts, persons, Options{TempRoot: t.TempDir(), MaxWorkers: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	snap := testSnapshot("Book")
	snap.Metadata = &project.Metadata{Authors: []string{"p_known", "p_gone"}}
	req := NewRequest("proj", snap, []typeset.Format{typeset.FormatHTML}, nil)
	m.Enqueue(req)

	status := waitTerminal(t, m, req.ID)
	if status.Phase != PhaseFinished {
		t.Fatalf("render with missing author must still finish: %+v", status)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	authors := ts.prepared[0].Authors
	if len(authors) != 1 || authors[0] != "Ada Lovelace" {
		t.Fatalf("author list should omit the missing id: %v", authors)
	}
}

func TestTypesetterFailureIsTerminalForThatRequestOnly(t *testing.T) {
	ts := &fakeTypesetter{fail: "boom"}
	m := NewManager(ts, fakePersons{}, Options{TempRoot: t.TempDir(), MaxWorkers: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	bad := NewRequest("proj", testSnapshot("Bad"), []typeset.Format{typeset.FormatHTML}, nil)
	m.Enqueue(bad)
	status := waitTerminal(t, m, bad.ID)
	if status.Phase != PhaseFailed || status.Reason != "boom" {
		t.Fatalf("expected failure with reason, got %+v", status)
	}

	// The driver keeps servicing later requests.
	ts.mu.Lock()
	ts.fail = ""
	ts.mu.Unlock()
	good := NewRequest("proj", testSnapshot("Good"), []typeset.Format{typeset.FormatHTML}, nil)
	m.Enqueue(good)
	if s := waitTerminal(t, m, good.ID); s.Phase != PhaseFinished {
		t.Fatalf("driver stalled after failure: %+v", s)
	}
}

func TestStatusOfPendingAndUnknownRequests(t *testing.T) {
	m := NewManager(&fakeTypesetter{}, fakePersons{}, Options{TempRoot: t.TempDir(), MaxWorkers: 1, PollInterval: time.Hour})

	// Driver not running: the request stays in the pending queue and
	// must still report Queued.
	req := NewRequest("proj", testSnapshot("Book"), nil, nil)
	m.Enqueue(req)
	status, ok := m.Status(context.Background(), req.ID)
	if !ok || status.Phase != PhaseQueued {
		t.Fatalf("pending request must report Queued, got %+v ok=%v", status, ok)
	}

	if _, ok := m.Status(context.Background(), "never-submitted"); ok {
		t.Fatalf("unknown id must report not found")
	}
}

func TestArchiveCapacityDropsOldestTerminalOnly(t *testing.T) {
	ts := &fakeTypesetter{}
	m := NewManager(ts, fakePersons{}, Options{TempRoot: t.TempDir(), MaxWorkers: 1, PollInterval: 5 * time.Millisecond, ArchiveCap: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	var ids []string
	for i := 0; i < 4; i++ {
		req := NewRequest("proj", testSnapshot("Book"), []typeset.Format{typeset.FormatHTML}, nil)
		m.Enqueue(req)
		ids = append(ids, req.ID)
		waitTerminal(t, m, req.ID)
	}

	m.mu.Lock()
	size := len(m.archive)
	m.mu.Unlock()
	if size > 2 {
		t.Fatalf("archive exceeded capacity: %d", size)
	}
	// The newest entries survive.
	if _, ok := m.Status(ctx, ids[len(ids)-1]); !ok {
		t.Fatalf("newest archived request evicted")
	}
}

func TestWorkerUsesIsolatedRequestDirectory(t *testing.T) {
	tempRoot := t.TempDir()
	ts := &fakeTypesetter{}
	m := NewManager(ts, fakePersons{}, Options{TempRoot: tempRoot, MaxWorkers: 1, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	req := NewRequest("proj", testSnapshot("Book"), []typeset.Format{typeset.FormatHTML}, nil)

	// Leftovers from an earlier run with the same id must be wiped.
	stale := filepath.Join(tempRoot, req.ID)
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stale, "stale.txt"), []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	m.Enqueue(req)
	status := waitTerminal(t, m, req.ID)
	if status.Phase != PhaseFinished {
		t.Fatalf("render failed: %+v", status)
	}

	if _, err := os.Stat(filepath.Join(stale, "stale.txt")); !os.IsNotExist(err) {
		t.Fatalf("stale working directory content survived")
	}
	if _, err := os.Stat(filepath.Join(tempRoot, req.ID, "book.html")); err != nil {
		t.Fatalf("artifact not written into the request directory: %v", err)
	}
}

func TestStatusPublicCollapse(t *testing.T) {
	tests := []struct {
		phase Phase
		want  PublicState
	}{
		{PhaseQueued, PublicQueued},
		{PhaseQueuedOnLocal, PublicQueued},
		{PhasePreparing, PublicPreparing},
		{PhasePreparingOnLocal, PublicPreparing},
		{PhasePreparedOnLocal, PublicPreparing},
		{PhaseSendToRenderingServer, PublicRunning},
		{PhaseRequestingTemplate, PublicRunning},
		{PhaseTransmittingTemplate, PublicRunning},
		{PhaseQueuedOnRendering, PublicRunning},
		{PhaseRunning, PublicRunning},
		{PhaseFinished, PublicFinished},
		{PhaseSavedOnLocal, PublicFinished},
		{PhaseFailed, PublicFailed},
	}
	for _, tt := range tests {
		if got := (Status{Phase: tt.phase}).Public().State; got != tt.want {
			t.Errorf("Public(%s) = %s, want %s", tt.phase, got, tt.want)
		}
	}
}

func TestTransitionsAreMonotonic(t *testing.T) {
	req := NewRequest("proj", testSnapshot("Book"), nil, nil)

	if !req.advance(Status{Phase: PhaseRunning}) {
		t.Fatalf("forward transition rejected")
	}
	if req.advance(Status{Phase: PhasePreparing}) {
		t.Fatalf("backward transition accepted")
	}
	if !req.advance(Status{Phase: PhaseFailed, Reason: "x"}) {
		t.Fatalf("terminal transition rejected")
	}
	if req.advance(Status{Phase: PhaseFinished}) {
		t.Fatalf("transition out of a terminal phase accepted")
	}
}
