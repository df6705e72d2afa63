package render

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"folio/api/internal/typeset"
)

// StatusMirror persists status transitions outside process memory so
// callers can still poll after a restart. Optional.
type StatusMirror interface {
	Put(ctx context.Context, requestID string, status Status)
	Get(ctx context.Context, requestID string) (Status, bool)
}

// ArtifactUploader pushes finished artifacts to object storage. Optional
// and best-effort: an upload failure never fails the render.
type ArtifactUploader interface {
	Upload(ctx context.Context, requestID, localPath string) error
}

// Options configures a Manager.
type Options struct {
	TempRoot     string
	MaxWorkers   int
	PollInterval time.Duration
	// ArchiveCap bounds the request archive; the oldest TERMINAL
	// entries are dropped first, live requests are never dropped.
	ArchiveCap int
	Mirror     StatusMirror
	Uploader   ArtifactUploader
}

// Manager owns the pending queue, the request archive, the driver loop
// and the worker pool. Safe for concurrent use.
type Manager struct {
	typesetter typeset.Renderer
	persons    PersonResolver
	opts       Options

	mu           sync.Mutex
	pending      []*Request
	archive      map[string]*Request
	archiveOrder []string
	running      int
}

// NewManager creates a render manager. Call Run to start the driver.
func NewManager(typesetter typeset.Renderer, persons PersonResolver, opts Options) *Manager {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.ArchiveCap <= 0 {
		opts.ArchiveCap = 1000
	}
	return &Manager{
		typesetter: typesetter,
		persons:    persons,
		opts:       opts,
		archive:    make(map[string]*Request),
	}
}

// Enqueue appends a request to the back of the pending queue and
// returns immediately. Queue depth is unbounded; the concurrency
// ceiling only delays dequeue, it never rejects a submission.
func (m *Manager) Enqueue(req *Request) {
	m.mu.Lock()
	m.pending = append(m.pending, req)
	m.mu.Unlock()
	m.mirror(req)
}

// Status looks up a request: archive first, then the still-pending
// queue (not yet dequeued means still Queued), then the mirror. The
// boolean is false only for ids never submitted.
func (m *Manager) Status(ctx context.Context, requestID string) (Status, bool) {
	m.mu.Lock()
	if req, ok := m.archive[requestID]; ok {
		m.mu.Unlock()
		return req.Status(), true
	}
	for _, req := range m.pending {
		if req.ID == requestID {
			m.mu.Unlock()
			return req.Status(), true
		}
	}
	m.mu.Unlock()

	if m.opts.Mirror != nil {
		return m.opts.Mirror.Get(ctx, requestID)
	}
	return Status{}, false
}

// Running reports the current number of in-flight workers. Test hook.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Run is the driver loop: a single long-lived coordinator that wakes on
// a fixed interval and dispatches queued requests to worker goroutines
// while capacity remains. Returns when ctx is cancelled; in-flight
// workers run to completion regardless of callers still polling.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.dispatch(ctx)
		}
	}
}

// dispatch starts workers for queued requests in FIFO order up to the
// concurrency ceiling. A request moves into the archive the instant a
// worker is assigned to it.
func (m *Manager) dispatch(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) > 0 && m.running < m.opts.MaxWorkers {
		req := m.pending[0]
		m.pending = m.pending[1:]
		m.archive[req.ID] = req
		m.archiveOrder = append(m.archiveOrder, req.ID)
		m.trimArchiveLocked()
		m.running++
		go m.work(ctx, req)
	}
}

// trimArchiveLocked drops the oldest terminal entries above the
// capacity bound. Callers hold m.mu.
func (m *Manager) trimArchiveLocked() {
	if len(m.archive) <= m.opts.ArchiveCap {
		return
	}
	kept := m.archiveOrder[:0]
	for i, id := range m.archiveOrder {
		req, ok := m.archive[id]
		if !ok {
			continue
		}
		if len(m.archive) > m.opts.ArchiveCap && req.Status().Phase.Terminal() {
			delete(m.archive, id)
			continue
		}
		kept = append(kept, m.archiveOrder[i])
	}
	m.archiveOrder = kept
}

func (m *Manager) finishWorker() {
	m.mu.Lock()
	m.running--
	m.mu.Unlock()
}

// work services one request end to end. Any step failure is terminal for
// this request only; the driver and other workers are unaffected.
func (m *Manager) work(ctx context.Context, req *Request) {
	defer m.finishWorker()

	snap, ok := req.TakeSnapshot()
	if !ok {
		m.fail(req, ErrNoProjectData.Error())
		return
	}

	m.advance(req, Status{Phase: PhasePreparing})
	prepared := Prepare(snap, req.SectionIDs, m.persons)

	m.advance(req, Status{Phase: PhaseRunning})

	// Fresh, isolated working directory scoped to the request id;
	// leftovers from a crashed earlier run are wiped.
	outDir := filepath.Join(m.opts.TempRoot, req.ID)
	if err := os.RemoveAll(outDir); err != nil {
		m.fail(req, fmt.Sprintf("reset working directory: %v", err))
		return
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		m.fail(req, fmt.Sprintf("create working directory: %v", err))
		return
	}

	artifacts, err := m.typesetter.Render(ctx, prepared, snap.TemplateID, outDir, req.Formats)
	if err != nil {
		m.fail(req, err.Error())
		return
	}

	m.advance(req, Status{Phase: PhaseFinished, Artifacts: artifacts})
	log.Printf("render: request %s finished with %d artifact(s)", req.ID, len(artifacts))

	if m.opts.Uploader != nil {
		for _, artifact := range artifacts {
			if err := m.opts.Uploader.Upload(ctx, req.ID, filepath.Join(outDir, artifact.Path)); err != nil {
				log.Printf("render: request %s: upload %s: %v", req.ID, artifact.Path, err)
			}
		}
	}
}

func (m *Manager) fail(req *Request, reason string) {
	m.advance(req, Status{Phase: PhaseFailed, Reason: reason})
	log.Printf("render: request %s failed: %s", req.ID, reason)
}

func (m *Manager) advance(req *Request, status Status) {
	if req.advance(status) {
		m.mirror(req)
	}
}

func (m *Manager) mirror(req *Request) {
	if m.opts.Mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.opts.Mirror.Put(ctx, req.ID, req.Status())
}
