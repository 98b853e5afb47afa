package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/vozerp/consult-gateway/pkg/core"
	"github.com/vozerp/consult-gateway/pkg/core/design"
	"github.com/vozerp/consult-gateway/pkg/workflow"
)

type fakeWorkflow struct {
	mu            sync.Mutex
	threadsMade   int
	streamInputs  []*workflow.RunInput
	updates       []map[string]any
	finalDesign   *design.Design
	createErr     error
	streamErr     error
	updateErr     error
	getStateErr   error
	streamStarted chan struct{}
	streamRelease chan struct{}
}

func (f *fakeWorkflow) CreateThread(context.Context) (*workflow.Thread, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.mu.Lock()
	f.threadsMade++
	f.mu.Unlock()
	return &workflow.Thread{ThreadID: "2c7e37b5-3f28-4c9f-9aff-4a365aa3f474"}, nil
}

func (f *fakeWorkflow) GetState(_ context.Context, threadID, _ string) (*workflow.ThreadState, error) {
	if f.getStateErr != nil {
		return nil, f.getStateErr
	}
	return &workflow.ThreadState{Values: workflow.StateValues{ERPDesign: f.finalDesign}}, nil
}

func (f *fakeWorkflow) UpdateState(_ context.Context, _ string, values any, asNode string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	f.updates = append(f.updates, map[string]any{"values": values, "as_node": asNode})
	f.mu.Unlock()
	return nil
}

func (f *fakeWorkflow) Stream(_ context.Context, _, _ string, input *workflow.RunInput, _ string) ([]workflow.StreamEvent, error) {
	if f.streamStarted != nil {
		f.streamStarted <- struct{}{}
		<-f.streamRelease
	}
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	f.mu.Lock()
	f.streamInputs = append(f.streamInputs, input)
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeWorkflow) threadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threadsMade
}

type recordingSaver struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (r *recordingSaver) Save(_ context.Context, _, _, transcript string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.mu.Lock()
	r.saved = append(r.saved, transcript)
	r.mu.Unlock()
	return "/tmp/transcript.json", nil
}

func TestSubmitHappyPath(t *testing.T) {
	wf := &fakeWorkflow{finalDesign: &design.Design{
		Tables: []design.Table{{Name: "clientes"}},
	}}
	saver := &recordingSaver{}
	p := NewPipeline(wf, saver, "designer_agent", nil)

	result, err := p.Submit(context.Background(), "Acme", "Juan", "hola, vendemos tornillos")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.ThreadID != "2c7e37b5-3f28-4c9f-9aff-4a365aa3f474" {
		t.Fatalf("thread id = %q", result.ThreadID)
	}

	// Absent sub-collections come back normalized to empty, never nil.
	if result.Design.Views == nil || result.Design.Actions == nil {
		t.Fatalf("design not normalized: %+v", result.Design)
	}

	// First stream carries the transcript, second resumes with no input.
	if len(wf.streamInputs) != 2 {
		t.Fatalf("stream calls = %d, want 2", len(wf.streamInputs))
	}
	first := wf.streamInputs[0]
	if first == nil || len(first.Messages) != 1 {
		t.Fatalf("first stream input = %+v", first)
	}
	content := first.Messages[0].Content
	for _, want := range []string{"Empresa: Acme", "Propietario: Juan", "hola, vendemos tornillos"} {
		if !strings.Contains(content, want) {
			t.Errorf("transcript brief missing %q", want)
		}
	}
	if wf.streamInputs[1] != nil {
		t.Fatalf("resume stream input = %+v, want nil", wf.streamInputs[1])
	}

	// Interview marked finished as the interview node.
	if len(wf.updates) != 1 || wf.updates[0]["as_node"] != interviewNode {
		t.Fatalf("updates = %+v", wf.updates)
	}

	if len(saver.saved) != 1 {
		t.Fatalf("transcript not backed up")
	}
	if p.Running() {
		t.Fatal("lock not released after success")
	}
}

func TestSubmitEmptyTranscriptFailsWithoutNetwork(t *testing.T) {
	wf := &fakeWorkflow{}
	p := NewPipeline(wf, nil, "designer_agent", nil)

	_, err := p.Submit(context.Background(), "Acme", "Juan", "   ")
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrInvalidRequest {
		t.Fatalf("error = %v, want invalid_request_error", err)
	}
	if wf.threadCount() != 0 {
		t.Fatal("no network call may be made for an empty transcript")
	}
	if p.Running() {
		t.Fatal("lock held after precondition failure")
	}
}

func TestSubmitConcurrentInvocationFailsFast(t *testing.T) {
	wf := &fakeWorkflow{
		finalDesign:   &design.Design{},
		streamStarted: make(chan struct{}, 2),
		streamRelease: make(chan struct{}, 2),
	}
	p := NewPipeline(wf, nil, "designer_agent", nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "Acme", "Juan", "primera")
		done <- err
	}()
	<-wf.streamStarted // first run is now inside the workflow call

	_, err := p.Submit(context.Background(), "Acme", "Juan", "segunda")
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Code != "already_processing" {
		t.Fatalf("error = %v, want already_processing", err)
	}

	wf.streamRelease <- struct{}{}
	<-wf.streamStarted
	wf.streamRelease <- struct{}{}
	if err := <-done; err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	// Only the first invocation created a thread.
	if wf.threadCount() != 1 {
		t.Fatalf("threads created = %d, want 1", wf.threadCount())
	}

	// With the first run finished a retry is allowed again.
	wf.streamStarted = nil
	if _, err := p.Submit(context.Background(), "Acme", "Juan", "tercera"); err != nil {
		t.Fatalf("retry after completion: %v", err)
	}
}

func TestSubmitMissingDesignFails(t *testing.T) {
	wf := &fakeWorkflow{finalDesign: nil}
	p := NewPipeline(wf, nil, "designer_agent", nil)

	_, err := p.Submit(context.Background(), "Acme", "Juan", "hola")
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrUpstream {
		t.Fatalf("error = %v, want upstream_error", err)
	}
	if p.Running() {
		t.Fatal("lock not released after failure")
	}
}

func TestSubmitBackupFailureDoesNotAbort(t *testing.T) {
	wf := &fakeWorkflow{finalDesign: &design.Design{}}
	saver := &recordingSaver{err: errors.New("disk full")}
	p := NewPipeline(wf, saver, "designer_agent", nil)

	if _, err := p.Submit(context.Background(), "Acme", "Juan", "hola"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
}

func TestSubmitWorkflowErrorReleasesLock(t *testing.T) {
	wf := &fakeWorkflow{streamErr: errors.New("stream reset")}
	p := NewPipeline(wf, nil, "designer_agent", nil)

	if _, err := p.Submit(context.Background(), "Acme", "Juan", "hola"); err == nil {
		t.Fatal("expected error")
	}
	if p.Running() {
		t.Fatal("lock not released after workflow error")
	}
}
