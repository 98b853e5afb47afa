package workflow

import (
	"encoding/json"

	"github.com/vozerp/consult-gateway/pkg/core/design"
)

// Thread is the workflow service's unit of conversational/execution state.
type Thread struct {
	ThreadID string `json:"thread_id"`
}

// Checkpoint identifies a point-in-time snapshot of a thread.
type Checkpoint struct {
	CheckpointID string `json:"checkpoint_id"`
	ThreadID     string `json:"thread_id"`
}

// StateValues is the subset of thread state values this gateway consumes.
// The design document lives at values.erp_design by convention.
type StateValues struct {
	Messages    json.RawMessage `json:"messages,omitempty"`
	CompanyName string          `json:"company_name,omitempty"`
	IsFinished  bool            `json:"is_finished,omitempty"`
	ERPDesign   *design.Design  `json:"erp_design,omitempty"`
	Feedback    string          `json:"feedback,omitempty"`
}

// ThreadState is a thread's state as returned by the workflow service.
// Next names the graph nodes awaiting input.
type ThreadState struct {
	Values           StateValues `json:"values"`
	Next             []string    `json:"next,omitempty"`
	Checkpoint       *Checkpoint `json:"checkpoint,omitempty"`
	ParentCheckpoint *Checkpoint `json:"parent_checkpoint,omitempty"`
	CreatedAt        string      `json:"created_at,omitempty"`
}

// StreamEvent is one SSE event of a streamed run. The gateway drains runs to
// completion without interpreting individual events.
type StreamEvent struct {
	Event string
	Data  json.RawMessage
}

// Message is a single conversational input submitted to a run.
type Message struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// RunInput is the input document for a streamed run.
type RunInput struct {
	Messages []Message `json:"messages"`
}
