// Package render is the rendering job queue: it accepts render requests
// for project snapshots, runs a bounded number of concurrent workers,
// drives the typesetting collaborator and exposes asynchronous status.
package render

import (
	"errors"
	"sync"

	"folio/api/internal/project"
	"folio/api/internal/typeset"
	"folio/api/internal/util"
)

// Phase is one internal state of a render request. Transitions are
// monotonic: a request only ever moves forward, never back.
type Phase string

const (
	PhaseQueued    Phase = "Queued"
	PhasePreparing Phase = "Preparing"
	PhaseRunning   Phase = "Running"
	PhaseFinished  Phase = "Finished"
	PhaseFailed    Phase = "Failed"

	// Remote-delegation path: renders handed off to a rendering server
	// walk through these finer-grained phases. The local path above is
	// a strict prefix/subset; both share the same terminal shapes.
	PhaseQueuedOnLocal         Phase = "QueuedOnLocal"
	PhasePreparingOnLocal      Phase = "PreparingOnLocal"
	PhasePreparedOnLocal       Phase = "PreparedOnLocal"
	PhaseSendToRenderingServer Phase = "SendToRenderingServer"
	PhaseRequestingTemplate    Phase = "RequestingTemplate"
	PhaseTransmittingTemplate  Phase = "TransmittingTemplate"
	PhaseQueuedOnRendering     Phase = "QueuedOnRendering"
	PhaseSavedOnLocal          Phase = "SavedOnLocal"
)

// phaseRank orders phases for the forward-only transition check.
// Terminal phases share the top rank.
var phaseRank = map[Phase]int{
	PhaseQueued:                0,
	PhaseQueuedOnLocal:         0,
	PhasePreparing:             1,
	PhasePreparingOnLocal:      1,
	PhasePreparedOnLocal:       2,
	PhaseSendToRenderingServer: 3,
	PhaseRequestingTemplate:    4,
	PhaseTransmittingTemplate:  5,
	PhaseQueuedOnRendering:     6,
	PhaseRunning:               7,
	PhaseFinished:              8,
	PhaseSavedOnLocal:          8,
	PhaseFailed:                8,
}

// Terminal reports whether p is an end state.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseSavedOnLocal || p == PhaseFailed
}

// Status is the tracked state of one render request.
type Status struct {
	Phase     Phase              `json:"phase"`
	Reason    string             `json:"reason,omitempty"`
	Artifacts []typeset.Artifact `json:"artifacts,omitempty"`
}

// PublicState is the simplified label shown to API consumers, collapsing
// the fine-grained local/remote phases.
type PublicState string

const (
	PublicQueued    PublicState = "queued"
	PublicPreparing PublicState = "preparing"
	PublicRunning   PublicState = "running"
	PublicFinished  PublicState = "finished"
	PublicFailed    PublicState = "failed"
)

// PublicStatus is the externally visible shape of a Status.
type PublicStatus struct {
	State     PublicState        `json:"state"`
	Reason    string             `json:"reason,omitempty"`
	Artifacts []typeset.Artifact `json:"artifacts,omitempty"`
}

// Public collapses the internal phase machine for API consumers.
func (s Status) Public() PublicStatus {
	out := PublicStatus{Reason: s.Reason, Artifacts: s.Artifacts}
	switch s.Phase {
	case PhaseQueued, PhaseQueuedOnLocal:
		out.State = PublicQueued
	case PhasePreparing, PhasePreparingOnLocal, PhasePreparedOnLocal:
		out.State = PublicPreparing
	case PhaseFinished, PhaseSavedOnLocal:
		out.State = PublicFinished
	case PhaseFailed:
		out.State = PublicFailed
	default:
		// Everything between preparation and completion, including the
		// remote transmission phases, reads as running.
		out.State = PublicRunning
	}
	return out
}

// ErrNoProjectData indicates a worker dequeued a request whose snapshot
// slot was already empty. That is a programming error upstream, not a
// user error.
var ErrNoProjectData = errors.New("render: no project data attached")

// Request is one unit of render work. The snapshot is move-only: the
// worker that services the request takes it exactly once; it is never
// cloned into two workers.
type Request struct {
	ID         string
	ProjectID  string
	Formats    []typeset.Format
	SectionIDs []string

	mu       sync.Mutex
	snapshot *project.ProjectData
	status   Status
}

// NewRequest builds a Queued request around a point-in-time snapshot
// taken by the submitter.
func NewRequest(projectID string, snapshot *project.ProjectData, formats []typeset.Format, sectionIDs []string) *Request {
	return &Request{
		ID:         util.NewRequestID(),
		ProjectID:  projectID,
		Formats:    formats,
		SectionIDs: sectionIDs,
		snapshot:   snapshot,
		status:     Status{Phase: PhaseQueued},
	}
}

// TakeSnapshot moves the snapshot out of the request. The second and any
// later call returns false.
func (r *Request) TakeSnapshot() (*project.ProjectData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.snapshot == nil {
		return nil, false
	}
	snap := r.snapshot
	r.snapshot = nil
	return snap, true
}

// Status returns a copy of the current status.
func (r *Request) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// advance moves the request to a later phase. Backward or
// terminal-to-anything transitions are ignored, keeping the machine
// monotonic even under buggy callers.
func (r *Request) advance(next Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status.Phase.Terminal() {
		return false
	}
	if phaseRank[next.Phase] <= phaseRank[r.status.Phase] {
		return false
	}
	r.status = next
	return true
}
