package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vozerp/consult-gateway/pkg/core"
	"github.com/vozerp/consult-gateway/pkg/core/design"
	"github.com/vozerp/consult-gateway/pkg/workflow"
)

// transcriptSaver durably stores the raw transcript as a backup before
// the pipeline touches the workflow service.
type transcriptSaver interface {
	Save(ctx context.Context, companyName, ownerName, transcript string) (string, error)
}

// interviewNode is the graph node credited with the interview-complete
// state update.
const interviewNode = "interview_user"

// PipelineResult is the outcome of a successful pipeline run.
type PipelineResult struct {
	ThreadID string         `json:"threadId"`
	Design   *design.Design `json:"design"`
}

// Pipeline turns a finished interview transcript into a generated design.
// At most one invocation may be outstanding at a time; a concurrent call
// fails fast instead of creating a second workflow thread for the same
// conversation.
type Pipeline struct {
	wf          workflowAPI
	transcripts transcriptSaver
	graph       string
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
}

func NewPipeline(wf workflowAPI, transcripts transcriptSaver, graph string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{wf: wf, transcripts: transcripts, graph: graph, logger: logger}
}

// Running reports whether a pipeline invocation is outstanding.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

func (p *Pipeline) release() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// Submit runs the full transcript-to-design sequence: create a thread,
// stream the transcript in, mark the interview finished, resume the graph
// so design generation runs, then read the design back. The exclusivity
// lock is released on every path so a retry is always possible.
func (p *Pipeline) Submit(ctx context.Context, companyName, ownerName, transcript string) (*PipelineResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, core.NewInvalidRequestErrorWithParam("transcript must not be empty", "transcript")
	}
	if !p.acquire() {
		return nil, core.NewPreconditionError("a design is already being processed", "already_processing")
	}
	defer p.release()

	// Backup first: a pipeline failure must never lose the conversation.
	if p.transcripts != nil {
		if path, err := p.transcripts.Save(ctx, companyName, ownerName, transcript); err != nil {
			p.logger.Error("transcript backup failed", "error", err)
		} else {
			p.logger.Info("transcript backed up", "path", path)
		}
	}

	thread, err := p.wf.CreateThread(ctx)
	if err != nil {
		return nil, fmt.Errorf("create workflow thread: %w", err)
	}
	threadID := thread.ThreadID
	p.logger.Info("pipeline started", "thread_id", threadID, "company", companyName)

	input := &workflow.RunInput{Messages: []workflow.Message{{
		Content: formatInterviewBrief(companyName, ownerName, transcript),
		Type:    "human",
	}}}
	if _, err := p.wf.Stream(ctx, threadID, p.graph, input, workflow.StreamModeUpdates); err != nil {
		return nil, fmt.Errorf("submit transcript: %w", err)
	}

	if err := p.wf.UpdateState(ctx, threadID, map[string]any{"is_finished": true}, interviewNode); err != nil {
		return nil, fmt.Errorf("mark interview finished: %w", err)
	}

	// Resuming with no input is where the design generation runs.
	if _, err := p.wf.Stream(ctx, threadID, p.graph, nil, workflow.StreamModeUpdates); err != nil {
		return nil, fmt.Errorf("resume workflow: %w", err)
	}

	state, err := p.wf.GetState(ctx, threadID, "")
	if err != nil {
		return nil, fmt.Errorf("read final state: %w", err)
	}
	doc := state.Values.ERPDesign
	if doc == nil {
		return nil, core.NewUpstreamError("workflow", fmt.Errorf("design generation failed for thread %s", threadID))
	}
	doc.Normalize()

	p.logger.Info("pipeline finished", "thread_id", threadID,
		"tables", len(doc.Tables), "views", len(doc.Views), "actions", len(doc.Actions))
	return &PipelineResult{ThreadID: threadID, Design: doc}, nil
}

// formatInterviewBrief prefixes the transcript with the company and owner
// metadata the design agent expects.
func formatInterviewBrief(companyName, ownerName, transcript string) string {
	var b strings.Builder
	b.WriteString("# Información de la entrevista de diseño ERP\n\n")
	b.WriteString("Empresa: " + companyName + "\n")
	b.WriteString("Propietario: " + ownerName + "\n\n")
	b.WriteString("## Transcripción de la conversación:\n\n")
	b.WriteString(transcript)
	return b.String()
}
