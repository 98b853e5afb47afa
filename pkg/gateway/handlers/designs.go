package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vozerp/consult-gateway/pkg/core"
	"github.com/vozerp/consult-gateway/pkg/gateway/config"
	"github.com/vozerp/consult-gateway/pkg/gateway/metrics"
	"github.com/vozerp/consult-gateway/pkg/gateway/mw"
	"github.com/vozerp/consult-gateway/pkg/gateway/session"
)

// DesignsHandler runs the transcript-to-design pipeline. A completed run
// feeds the session: thread id and design are stored and the phase moves
// to design_ready.
type DesignsHandler struct {
	Config   config.Config
	State    *session.State
	Pipeline *session.Pipeline
	Resolver *session.Resolver
	Identity *IdentityStash
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

func (h DesignsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		CompanyName string `json:"companyName"`
		OwnerName   string `json:"ownerName"`
		Transcript  string `json:"transcript"`
	}
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid request body"), http.StatusBadRequest)
		return
	}

	// The agent usually reports the identity over the RPC channel before
	// the transcript arrives; fall back to it when the request omits it.
	if strings.TrimSpace(req.CompanyName) == "" || strings.TrimSpace(req.OwnerName) == "" {
		if id, ok := h.Identity.Peek(); ok {
			if strings.TrimSpace(req.CompanyName) == "" {
				req.CompanyName = id.CompanyName
			}
			if strings.TrimSpace(req.OwnerName) == "" {
				req.OwnerName = id.OwnerName
			}
		}
	}

	start := time.Now()
	result, err := h.Pipeline.Submit(r.Context(), req.CompanyName, req.OwnerName, req.Transcript)
	if err != nil {
		if h.Metrics != nil {
			h.Metrics.RecordPipelineRun("error", time.Since(start))
		}
		coreErr, status := coreErrorFrom(err, reqID)
		if h.Metrics != nil {
			h.Metrics.RecordError("pipeline", string(coreErr.Type))
		}
		h.Logger.Error("pipeline failed", "request_id", reqID, "error", err)
		h.State.SetError("No se pudo generar el diseño. Intenta de nuevo.")
		writeCoreErrorJSON(w, reqID, coreErr, status)
		return
	}
	if h.Metrics != nil {
		h.Metrics.RecordPipelineRun("ok", time.Since(start))
	}

	ctx := r.Context()
	h.State.SetThreadID(ctx, result.ThreadID)
	h.State.SetDesign(ctx, result.Design)
	h.State.SetError("")
	h.State.SetPhase(ctx, session.PhaseDesignReady)
	// The resolver must not re-fetch what this run just hydrated.
	if h.Resolver != nil {
		h.Resolver.MarkHydrated(result.ThreadID)
	}
	h.Identity.Clear()

	writeJSON(w, http.StatusOK, result)
}
