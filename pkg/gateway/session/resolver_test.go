package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vozerp/consult-gateway/pkg/core/design"
	"github.com/vozerp/consult-gateway/pkg/gateway/store"
)

const (
	threadA = "2c7e37b5-3f28-4c9f-9aff-4a365aa3f474"
	threadB = "8a6075fa-8b4e-4dc8-8a09-0d0a5e3fce2c"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	doc   *design.Design
	err   error

	// onFetch, when set, runs before returning. Used to race a reset
	// against an outstanding fetch.
	onFetch func()
}

func newFakeFetcher(doc *design.Design) *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, doc: doc}
}

func (f *fakeFetcher) Fetch(_ context.Context, threadID, _ string) (*design.Design, error) {
	f.mu.Lock()
	f.calls[threadID]++
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.doc, f.err
}

func (f *fakeFetcher) callCount(threadID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[threadID]
}

func readyState(t *testing.T, threadID string, phase Phase) *State {
	t.Helper()
	ctx := context.Background()
	s := NewState(store.NewMemory(), nil)
	s.SetThreadID(ctx, threadID)
	s.SetPhase(ctx, phase)
	return s
}

func TestResolveFetchesExactlyOncePerThread(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher(twoViewDesign())
	state := readyState(t, threadA, PhaseDesignReady)
	r := NewResolver(state, fetcher, nil)

	for i := 0; i < 5; i++ {
		snap := r.Resolve(ctx)
		if snap.Design == nil {
			t.Fatalf("resolve %d: design not hydrated", i)
		}
	}
	if got := fetcher.callCount(threadA); got != 1 {
		t.Fatalf("fetch count = %d, want exactly 1", got)
	}
}

func TestResolveDoesNothingWhileInterviewIsRunning(t *testing.T) {
	ctx := context.Background()
	for _, phase := range []Phase{PhaseStart, PhaseInterviewing} {
		fetcher := newFakeFetcher(twoViewDesign())
		state := readyState(t, threadA, phase)
		r := NewResolver(state, fetcher, nil)

		r.Resolve(ctx)
		if got := fetcher.callCount(threadA); got != 0 {
			t.Errorf("phase %s: fetch count = %d, want 0", phase, got)
		}
	}
}

func TestResolveSkipsUnusableThreadID(t *testing.T) {
	ctx := context.Background()
	for _, id := range []string{"", "NONE", "none", "not-a-uuid"} {
		fetcher := newFakeFetcher(twoViewDesign())
		state := readyState(t, id, PhaseDesignReady)
		r := NewResolver(state, fetcher, nil)

		snap := r.Resolve(ctx)
		if got := fetcher.callCount(id); got != 0 {
			t.Errorf("id %q: fetch count = %d, want 0", id, got)
		}
		if snap.ErrorMessage != "" {
			t.Errorf("id %q: unexpected error message %q", id, snap.ErrorMessage)
		}
	}
}

func TestResolveThreadChangeTriggersNewFetch(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher(twoViewDesign())
	state := readyState(t, threadA, PhaseDesignReady)
	r := NewResolver(state, fetcher, nil)

	r.Resolve(ctx)
	state.SetThreadID(ctx, threadB)
	state.SetDesign(ctx, nil)
	r.Resolve(ctx)

	if got := fetcher.callCount(threadA); got != 1 {
		t.Errorf("fetches for %s = %d, want 1", threadA, got)
	}
	if got := fetcher.callCount(threadB); got != 1 {
		t.Errorf("fetches for %s = %d, want 1", threadB, got)
	}
}

func TestResolveAdvancesProcessingToDesignReady(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher(twoViewDesign())
	state := readyState(t, threadA, PhaseProcessing)
	r := NewResolver(state, fetcher, nil)

	snap := r.Resolve(ctx)
	if snap.Phase != PhaseDesignReady {
		t.Fatalf("phase = %q, want design_ready", snap.Phase)
	}
}

func TestResolveFailureKeepsPhase(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher(nil)
	fetcher.err = errors.New("upstream down")
	state := readyState(t, threadA, PhaseDesignReady)
	r := NewResolver(state, fetcher, nil)

	snap := r.Resolve(ctx)
	if snap.Phase != PhaseDesignReady {
		t.Fatalf("phase = %q, failure must not bounce to start", snap.Phase)
	}
	if snap.ErrorMessage == "" {
		t.Fatal("expected a user-visible error message")
	}

	// The thread is not marked hydrated, so the next resolve retries.
	fetcher.err = nil
	fetcher.doc = twoViewDesign()
	snap = r.Resolve(ctx)
	if snap.Design == nil || snap.ErrorMessage != "" {
		t.Fatalf("retry did not recover: %+v", snap)
	}
	if got := fetcher.callCount(threadA); got != 2 {
		t.Fatalf("fetch count = %d, want 2", got)
	}
}

func TestResolveSkipsFetchWhenMarkedHydrated(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher(nil)
	fetcher.err = errors.New("upstream down")
	state := readyState(t, threadA, PhaseDesignReady)
	state.SetDesign(ctx, twoViewDesign())
	r := NewResolver(state, fetcher, nil)

	// A pipeline run hydrated the session directly.
	r.MarkHydrated(threadA)

	snap := r.Resolve(ctx)
	if got := fetcher.callCount(threadA); got != 0 {
		t.Fatalf("fetch count = %d, want 0 for an already hydrated thread", got)
	}
	if snap.Design == nil || snap.ErrorMessage != "" {
		t.Fatalf("snapshot = %+v", snap)
	}

	// A reset invalidates the record and the next resolve fetches again.
	state.Reset(ctx)
	r.Invalidate(threadA)
	state.SetThreadID(ctx, threadA)
	state.SetPhase(ctx, PhaseDesignReady)
	fetcher.err = nil
	fetcher.doc = twoViewDesign()
	r.Resolve(ctx)
	if got := fetcher.callCount(threadA); got != 1 {
		t.Fatalf("fetch count after invalidate = %d, want 1", got)
	}
}

func TestResolveFailureKeepsConcurrentlyHydratedDesign(t *testing.T) {
	ctx := context.Background()
	state := readyState(t, threadA, PhaseDesignReady)
	fetcher := newFakeFetcher(nil)
	fetcher.err = errors.New("upstream down")
	r := NewResolver(state, fetcher, nil)
	fetcher.onFetch = func() {
		// A pipeline run completes while the fetch is in flight.
		state.SetDesign(ctx, twoViewDesign())
		r.MarkHydrated(threadA)
	}

	snap := r.Resolve(ctx)
	if snap.Design == nil {
		t.Fatal("hydrated design lost to a failed fetch")
	}
	if snap.ErrorMessage != "" {
		t.Fatalf("error %q set although a valid design is hydrated", snap.ErrorMessage)
	}
}

func TestResolveDiscardsStaleResultAfterReset(t *testing.T) {
	ctx := context.Background()
	state := readyState(t, threadA, PhaseDesignReady)
	fetcher := newFakeFetcher(twoViewDesign())
	fetcher.onFetch = func() {
		// User starts a new design cycle while the fetch is in flight.
		state.Reset(ctx)
	}
	r := NewResolver(state, fetcher, nil)

	snap := r.Resolve(ctx)
	if snap.Phase != PhaseStart {
		t.Fatalf("phase = %q, want start after reset", snap.Phase)
	}
	if snap.Design != nil {
		t.Fatal("stale fetch result must be discarded after reset")
	}
}
