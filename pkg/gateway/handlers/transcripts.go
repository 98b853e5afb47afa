package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vozerp/consult-gateway/pkg/core"
	"github.com/vozerp/consult-gateway/pkg/gateway/config"
	"github.com/vozerp/consult-gateway/pkg/gateway/metrics"
	"github.com/vozerp/consult-gateway/pkg/gateway/mw"
)

type transcriptStore interface {
	Save(ctx context.Context, companyName, ownerName, transcript string) (string, error)
}

type TranscriptsHandler struct {
	Config      config.Config
	Transcripts transcriptStore
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

func (h TranscriptsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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

	path, err := h.Transcripts.Save(r.Context(), req.CompanyName, req.OwnerName, req.Transcript)
	if err != nil {
		coreErr, status := coreErrorFrom(err, reqID)
		if h.Metrics != nil {
			h.Metrics.RecordError("transcripts", string(coreErr.Type))
		}
		h.Logger.Error("save transcript failed", "request_id", reqID, "error", err)
		writeCoreErrorJSON(w, reqID, coreErr, status)
		return
	}
	if h.Metrics != nil {
		h.Metrics.TranscriptsSaved.Inc()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"path":    path,
	})
}
