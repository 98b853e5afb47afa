package handlers

import (
	"log/slog"
	"net/http"

	"github.com/vozerp/consult-gateway/pkg/core"
	"github.com/vozerp/consult-gateway/pkg/core/design"
	"github.com/vozerp/consult-gateway/pkg/gateway/metrics"
	"github.com/vozerp/consult-gateway/pkg/gateway/mw"
	"github.com/vozerp/consult-gateway/pkg/gateway/session"
	"github.com/vozerp/consult-gateway/pkg/workflow"
)

type sessionResponse struct {
	Phase          session.Phase  `json:"phase"`
	ThreadID       string         `json:"threadId,omitempty"`
	Design         *design.Design `json:"design,omitempty"`
	ActiveView     *design.View   `json:"activeView,omitempty"`
	SidebarOpen    bool           `json:"isSidebarOpen"`
	InfoPanelOpen  bool           `json:"isInfoPanelOpen"`
	VoicePanelOpen bool           `json:"isVoicePanelOpen"`
	Error          string         `json:"error,omitempty"`
}

func sessionResponseFrom(snap session.Snapshot) sessionResponse {
	return sessionResponse{
		Phase:          snap.Phase,
		ThreadID:       snap.ThreadID,
		Design:         snap.Design,
		ActiveView:     snap.ActiveView,
		SidebarOpen:    snap.SidebarOpen,
		InfoPanelOpen:  snap.InfoPanelOpen,
		VoicePanelOpen: snap.VoicePanelOpen,
		Error:          snap.ErrorMessage,
	}
}

// SessionHandler serves the current session. Every read runs the resolver
// first, so a process restart with a persisted design_ready phase
// re-hydrates the design before answering.
type SessionHandler struct {
	State    *session.State
	Resolver *session.Resolver
	Logger   *slog.Logger
}

func (h SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snap := h.Resolver.Resolve(r.Context())
	writeJSON(w, http.StatusOK, sessionResponseFrom(snap))
}

// SessionResetHandler starts a new design cycle: state back to defaults,
// durable keys purged, hydration records invalidated.
type SessionResetHandler struct {
	State    *session.State
	Resolver *session.Resolver
	Logger   *slog.Logger
}

func (h SessionResetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	prev := h.State.Snapshot()
	h.State.Reset(r.Context())
	if prev.ThreadID != "" {
		h.Resolver.Invalidate(prev.ThreadID)
	}
	h.Logger.Info("session reset", "previous_thread_id", prev.ThreadID)
	writeJSON(w, http.StatusOK, sessionResponseFrom(h.State.Snapshot()))
}

// ThreadDesignHandler reads the design of an arbitrary thread without
// touching the live session. Route: GET /v1/sessions/{threadId}.
type ThreadDesignHandler struct {
	Fetcher *session.Fetcher
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (h ThreadDesignHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	threadID := r.PathValue("threadId")
	if !workflow.IsUsableThreadID(threadID) {
		writeCoreErrorJSON(w, reqID,
			core.NewInvalidRequestErrorWithParam("threadId must be a UUID", "threadId"),
			http.StatusBadRequest)
		return
	}

	doc, err := h.Fetcher.Fetch(r.Context(), threadID, r.URL.Query().Get("checkpoint"))
	if err != nil {
		coreErr, status := coreErrorFrom(err, reqID)
		if h.Metrics != nil {
			h.Metrics.RecordDesignFetch("missing")
			h.Metrics.RecordError("design_fetch", string(coreErr.Type))
		}
		writeCoreErrorJSON(w, reqID, coreErr, status)
		return
	}
	if doc == nil {
		// The fetch gateway swallows transport errors; surface them
		// uniformly as an unavailable design.
		if h.Metrics != nil {
			h.Metrics.RecordDesignFetch("unavailable")
		}
		writeCoreErrorJSON(w, reqID,
			core.NewNotFoundError("design not available for thread"),
			http.StatusNotFound)
		return
	}
	if h.Metrics != nil {
		h.Metrics.RecordDesignFetch("ok")
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"threadId": threadID,
		"design":   doc,
	})
}
