package session

import (
	"context"
	"log/slog"

	"github.com/vozerp/consult-gateway/pkg/core"
	"github.com/vozerp/consult-gateway/pkg/core/design"
	"github.com/vozerp/consult-gateway/pkg/workflow"
)

// workflowAPI is the slice of the workflow client the session layer uses.
type workflowAPI interface {
	CreateThread(ctx context.Context) (*workflow.Thread, error)
	GetState(ctx context.Context, threadID, checkpointID string) (*workflow.ThreadState, error)
	UpdateState(ctx context.Context, threadID string, values any, asNode string) error
	Stream(ctx context.Context, threadID, graph string, input *workflow.RunInput, mode string) ([]workflow.StreamEvent, error)
}

// Fetcher is the design fetch gateway: a one-shot read of a thread's
// generated design from the workflow service.
type Fetcher struct {
	wf     workflowAPI
	logger *slog.Logger
}

func NewFetcher(wf workflowAPI, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{wf: wf, logger: logger}
}

// Fetch returns the design stored at values.erp_design of the thread's
// state. An unusable thread id (non-UUID or the NONE sentinel) is a
// non-error "nothing to fetch" case and returns nil without contacting
// the service. Transport and decoding failures are logged and likewise
// return nil so a transient upstream error never crashes the caller;
// a response that is missing the design fails with not_found.
func (f *Fetcher) Fetch(ctx context.Context, threadID, checkpointID string) (*design.Design, error) {
	if !workflow.IsUsableThreadID(threadID) {
		f.logger.Debug("skipping design fetch for unusable thread id", "thread_id", threadID)
		return nil, nil
	}

	state, err := f.wf.GetState(ctx, threadID, checkpointID)
	if err != nil {
		f.logger.Error("design fetch failed", "thread_id", threadID, "error", err)
		return nil, nil
	}
	if state.Values.ERPDesign == nil {
		return nil, core.NewNotFoundError("design not found in session")
	}

	doc := state.Values.ERPDesign
	doc.Normalize()
	if refs := doc.DanglingRefs(); len(refs) > 0 {
		f.logger.Warn("design contains dangling table references", "thread_id", threadID, "refs", refs)
	}
	return doc, nil
}
