package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vozerp/consult-gateway/pkg/gateway/config"
	"github.com/vozerp/consult-gateway/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// healthProber reports whether the workflow service answers its health
// endpoint.
type healthProber interface {
	Health(ctx context.Context) bool
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle

	// Workflow, when set, is probed on every readiness check. An
	// unreachable workflow service is reported but does not flip
	// readiness: the gateway can still serve session state and rooms.
	Workflow healthProber
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		AuthMode      string   `json:"auth_mode"`
		WorkflowOK    *bool    `json:"workflow_ok,omitempty"`
		Draining      bool     `json:"draining,omitempty"`
		DrainingForMS int64    `json:"draining_for_ms,omitempty"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.WorkflowBaseURL == "" {
		issues = append(issues, "workflow url not configured")
	}
	if h.Config.RoomAPIKey == "" || h.Config.RoomAPISecret == "" {
		issues = append(issues, "room credentials not configured")
	}
	if h.Config.RPCMaxMessageBytes <= 0 {
		issues = append(issues, "rpc max message bytes must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	var workflowOK *bool
	if h.Workflow != nil {
		probeCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		reachable := h.Workflow.Health(probeCtx)
		cancel()
		workflowOK = &reachable
	}

	draining := h.Lifecycle.IsDraining()
	var drainingForMS int64
	if since, ok := h.Lifecycle.DrainingSince(); ok {
		drainingForMS = time.Since(since).Milliseconds()
	}

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:            ok,
		AuthMode:      string(h.Config.AuthMode),
		WorkflowOK:    workflowOK,
		Draining:      draining,
		DrainingForMS: drainingForMS,
		Issues:        issues,
	})
}
