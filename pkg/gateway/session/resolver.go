package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vozerp/consult-gateway/pkg/core/design"
	"github.com/vozerp/consult-gateway/pkg/workflow"
)

// designFetcher is what the resolver needs from the fetch gateway.
type designFetcher interface {
	Fetch(ctx context.Context, threadID, checkpointID string) (*design.Design, error)
}

// Resolver reconciles durable state with the hydrated session: it decides,
// per thread id, whether a design fetch is needed and issues it at most
// once. Repeated resolutions for the same thread id are no-ops; a thread
// id change invalidates the previous hydration and triggers a new fetch.
type Resolver struct {
	state   *State
	fetcher designFetcher
	logger  *slog.Logger

	mu       sync.Mutex
	hydrated map[string]bool
	inflight map[string]bool
}

func NewResolver(state *State, fetcher designFetcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		state:    state,
		fetcher:  fetcher,
		logger:   logger,
		hydrated: make(map[string]bool),
		inflight: make(map[string]bool),
	}
}

// Resolve runs the reconciliation policy once and returns the resulting
// snapshot.
//
// In start or interviewing the resolver does nothing: the voice surface
// owns the next transition, and fetching mid-interview would overwrite
// the conversation's eventual output. In processing or design_ready a
// fetch is issued when a usable thread id exists and no design has been
// hydrated for that id yet. Phase saying design_ready does not exempt the
// thread from fetching: readiness records intent, not hydration status,
// so a fresh start that restored the phase from storage still fetches.
func (r *Resolver) Resolve(ctx context.Context) Snapshot {
	snap := r.state.Snapshot()
	if snap.Phase == PhaseStart || snap.Phase == PhaseInterviewing {
		return snap
	}

	threadID := snap.ThreadID
	if !workflow.IsUsableThreadID(threadID) {
		return snap
	}

	r.mu.Lock()
	if r.hydrated[threadID] && snap.Design != nil {
		r.mu.Unlock()
		return snap
	}
	if r.inflight[threadID] {
		// A fetch for this thread is already outstanding; do not
		// duplicate it, return what we have.
		r.mu.Unlock()
		return snap
	}
	r.inflight[threadID] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inflight, threadID)
		r.mu.Unlock()
	}()

	doc, err := r.fetcher.Fetch(ctx, threadID, "")
	if err != nil || doc == nil {
		if err != nil {
			r.logger.Error("session resolution fetch failed", "thread_id", threadID, "error", err)
		}
		// A pipeline run may have hydrated this thread while the fetch
		// was outstanding; its result is newer than this failure.
		current := r.state.Snapshot()
		if r.isHydrated(threadID) && current.ThreadID == threadID && current.Design != nil {
			return current
		}
		// Phase stays put: bouncing to start would discard a thread id
		// the user could retry with.
		r.state.SetError("No se pudo cargar el diseño. Intenta de nuevo.")
		return r.state.Snapshot()
	}

	// A reset or thread switch while the fetch was outstanding makes this
	// result stale; discard it.
	current := r.state.Snapshot()
	if current.ThreadID != threadID || current.Phase == PhaseStart || current.Phase == PhaseInterviewing {
		r.logger.Info("discarding stale fetch result", "thread_id", threadID)
		return current
	}

	r.state.SetDesign(ctx, doc)
	r.state.SetError("")
	if current.Phase == PhaseProcessing {
		r.state.SetPhase(ctx, PhaseDesignReady)
	}

	r.mu.Lock()
	r.hydrated[threadID] = true
	r.mu.Unlock()

	return r.state.Snapshot()
}

// MarkHydrated records that the design for a thread id is already in the
// store, so the next resolution does not re-fetch it. Called when a
// pipeline run hydrates the session directly.
func (r *Resolver) MarkHydrated(threadID string) {
	if threadID == "" {
		return
	}
	r.mu.Lock()
	r.hydrated[threadID] = true
	r.mu.Unlock()
}

// Invalidate forgets the hydration record for a thread id so the next
// resolution fetches again. Used after reset.
func (r *Resolver) Invalidate(threadID string) {
	r.mu.Lock()
	delete(r.hydrated, threadID)
	r.mu.Unlock()
}

func (r *Resolver) isHydrated(threadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hydrated[threadID]
}
