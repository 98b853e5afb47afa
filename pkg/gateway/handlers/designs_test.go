package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vozerp/consult-gateway/pkg/core/design"
	"github.com/vozerp/consult-gateway/pkg/gateway/metrics"
	"github.com/vozerp/consult-gateway/pkg/gateway/rpccall"
	"github.com/vozerp/consult-gateway/pkg/gateway/session"
	"github.com/vozerp/consult-gateway/pkg/gateway/store"
	"github.com/vozerp/consult-gateway/pkg/workflow"
)

type nopSaver struct{}

// blockingWorkflow parks inside CreateThread until released, keeping the
// pipeline lock held for concurrency tests.
type blockingWorkflow struct {
	fakeWorkflow
	entered chan struct{}
	release chan struct{}
}

func (b *blockingWorkflow) CreateThread(ctx context.Context) (*workflow.Thread, error) {
	close(b.entered)
	<-b.release
	return b.fakeWorkflow.CreateThread(ctx)
}

func (nopSaver) Save(context.Context, string, string, string) (string, error) {
	return "/tmp/t.json", nil
}

func newDesignsHandler(t *testing.T) (DesignsHandler, *session.State) {
	t.Helper()
	state := session.NewState(store.NewMemory(), testLogger())
	wf := &fakeWorkflow{design: sampleDesign()}
	pipeline := session.NewPipeline(wf, nopSaver{}, "designer_agent", testLogger())
	return DesignsHandler{
		Config:   testConfig(),
		State:    state,
		Pipeline: pipeline,
		Identity: &IdentityStash{},
		Logger:   testLogger(),
	}, state
}

func TestDesignsHandlerHappyPath(t *testing.T) {
	h, state := newDesignsHandler(t)

	body := `{"companyName":"Acme","ownerName":"Juan","transcript":"vendemos tornillos"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/designs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result session.PipelineResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ThreadID != testThreadID || result.Design == nil {
		t.Fatalf("result = %+v", result)
	}

	snap := state.Snapshot()
	if snap.Phase != session.PhaseDesignReady {
		t.Fatalf("phase = %q, want design_ready", snap.Phase)
	}
	if snap.ThreadID != testThreadID || snap.Design == nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDesignsHandlerEmptyTranscript(t *testing.T) {
	h, state := newDesignsHandler(t)
	h.Metrics = metrics.New("t")

	req := httptest.NewRequest(http.MethodPost, "/v1/designs",
		strings.NewReader(`{"companyName":"Acme","ownerName":"Juan","transcript":""}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if snap := state.Snapshot(); snap.Phase != session.PhaseStart {
		t.Fatalf("phase = %q, precondition failure must not move phase", snap.Phase)
	}
	if got := testutil.ToFloat64(h.Metrics.ErrorsTotal.WithLabelValues("pipeline", "invalid_request_error")); got != 1 {
		t.Fatalf("errors_total = %v, want 1", got)
	}
}

// failingFetcher stands in for an unreachable workflow service.
type failingFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *failingFetcher) Fetch(context.Context, string, string) (*design.Design, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, errors.New("upstream down")
}

func (f *failingFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestDesignsHandlerMarksResolverHydrated(t *testing.T) {
	h, state := newDesignsHandler(t)
	fetcher := &failingFetcher{}
	resolver := session.NewResolver(state, fetcher, testLogger())
	h.Resolver = resolver

	body := `{"companyName":"Acme","ownerName":"Juan","transcript":"vendemos tornillos"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/designs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The next session read must not re-fetch what the pipeline just
	// hydrated, and must not disturb the ready session.
	snap := resolver.Resolve(context.Background())
	if got := fetcher.callCount(); got != 0 {
		t.Fatalf("fetch count after pipeline hydration = %d, want 0", got)
	}
	if snap.Design == nil || snap.ErrorMessage != "" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDesignsHandlerUsesStashedIdentity(t *testing.T) {
	h, _ := newDesignsHandler(t)
	h.Identity.Put(rpccall.Identity{CompanyName: "Ferretería", OwnerName: "María"})

	req := httptest.NewRequest(http.MethodPost, "/v1/designs",
		strings.NewReader(`{"transcript":"vendemos tornillos"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	// The stash is consumed by a successful run.
	if _, ok := h.Identity.Peek(); ok {
		t.Fatal("identity stash must be cleared after success")
	}
}

func TestDesignsHandlerConcurrentRunConflicts(t *testing.T) {
	h, _ := newDesignsHandler(t)

	// Hold the pipeline lock by submitting from a stalled goroutine.
	blocker := make(chan struct{})
	wf := &blockingWorkflow{
		fakeWorkflow: fakeWorkflow{design: sampleDesign()},
		entered:      make(chan struct{}),
		release:      blocker,
	}
	h.Pipeline = session.NewPipeline(wf, nopSaver{}, "designer_agent", testLogger())

	started := make(chan struct{})
	go func() {
		close(started)
		req := httptest.NewRequest(http.MethodPost, "/v1/designs",
			strings.NewReader(`{"companyName":"A","ownerName":"B","transcript":"x"}`))
		h.ServeHTTP(httptest.NewRecorder(), req)
	}()
	<-started
	<-wf.entered

	req := httptest.NewRequest(http.MethodPost, "/v1/designs",
		strings.NewReader(`{"companyName":"A","ownerName":"B","transcript":"y"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already_processing") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	close(blocker)
}
