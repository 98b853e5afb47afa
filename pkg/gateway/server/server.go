// Package server wires the gateway: session state, resolver, pipeline,
// external-service clients, routes, and the middleware chain.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/vozerp/consult-gateway/pkg/gateway/config"
	"github.com/vozerp/consult-gateway/pkg/gateway/handlers"
	"github.com/vozerp/consult-gateway/pkg/gateway/lifecycle"
	"github.com/vozerp/consult-gateway/pkg/gateway/metrics"
	"github.com/vozerp/consult-gateway/pkg/gateway/mw"
	"github.com/vozerp/consult-gateway/pkg/gateway/rpcconn"
	"github.com/vozerp/consult-gateway/pkg/gateway/session"
	"github.com/vozerp/consult-gateway/pkg/gateway/store"
	"github.com/vozerp/consult-gateway/pkg/gateway/transcripts"
	"github.com/vozerp/consult-gateway/pkg/room"
	"github.com/vozerp/consult-gateway/pkg/workflow"
)

// Deps are the externally constructed collaborators. Main builds the real
// clients; tests substitute fakes through the same seam.
type Deps struct {
	KV          store.KV
	Workflow    *workflow.Client
	Rooms       *room.Client
	Transcripts *transcripts.Saver
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	state     *session.State
	resolver  *session.Resolver
	pipeline  *session.Pipeline
	fetcher   *session.Fetcher
	identity  *handlers.IdentityStash
	lifecycle *lifecycle.Lifecycle
	rpcConns  *rpcconn.Tracker
	metrics   *metrics.Metrics
}

func New(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	kv := deps.KV
	if kv == nil {
		kv = store.NewMemory()
	}

	state := session.NewState(kv, logger)
	state.Load(ctx)

	fetcher := session.NewFetcher(deps.Workflow, logger)
	resolver := session.NewResolver(state, fetcher, logger)
	pipeline := session.NewPipeline(deps.Workflow, nil, cfg.WorkflowGraph, logger)
	if deps.Transcripts != nil {
		pipeline = session.NewPipeline(deps.Workflow, deps.Transcripts, cfg.WorkflowGraph, logger)
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		state:     state,
		resolver:  resolver,
		pipeline:  pipeline,
		fetcher:   fetcher,
		identity:  &handlers.IdentityStash{},
		lifecycle: &lifecycle.Lifecycle{},
		rpcConns:  rpcconn.NewTracker(),
		metrics:   metrics.New(cfg.MetricsNamespace),
	}

	s.routes(deps)
	return s
}

func (s *Server) routes(deps Deps) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	ready := handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.lifecycle}
	if deps.Workflow != nil {
		ready.Workflow = deps.Workflow
	}
	s.mux.Handle("/readyz", ready)
	s.mux.Handle("/metrics", s.metrics.Handler())

	s.mux.Handle("/v1/rooms", handlers.RoomsHandler{
		Config:  s.cfg,
		Rooms:   deps.Rooms,
		Logger:  s.logger,
		Metrics: s.metrics,
	})
	s.mux.Handle("/v1/rooms/token", &handlers.TokenHandler{
		Config:  s.cfg,
		Rooms:   deps.Rooms,
		Logger:  s.logger,
		Metrics: s.metrics,
	})

	s.mux.Handle("/v1/transcripts", handlers.TranscriptsHandler{
		Config:      s.cfg,
		Transcripts: deps.Transcripts,
		Logger:      s.logger,
		Metrics:     s.metrics,
	})

	s.mux.Handle("/v1/session", handlers.SessionHandler{
		State:    s.state,
		Resolver: s.resolver,
		Logger:   s.logger,
	})
	s.mux.Handle("/v1/session/reset", handlers.SessionResetHandler{
		State:    s.state,
		Resolver: s.resolver,
		Logger:   s.logger,
	})
	s.mux.Handle("/v1/sessions/{threadId}", handlers.ThreadDesignHandler{
		Fetcher: s.fetcher,
		Logger:  s.logger,
		Metrics: s.metrics,
	})

	s.mux.Handle("/v1/designs", handlers.DesignsHandler{
		Config:   s.cfg,
		State:    s.state,
		Pipeline: s.pipeline,
		Resolver: s.resolver,
		Identity: s.identity,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})

	s.mux.Handle("/v1/rpc", handlers.RPCHandler{
		Config:    s.cfg,
		State:     s.state,
		Identity:  s.identity,
		Logger:    s.logger,
		Lifecycle: s.lifecycle,
		Conns:     s.rpcConns,
		Metrics:   s.metrics,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withTimeout(h)
	h = s.recordMetrics(h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.cfg, s.logger, h)
	h = mw.RequestID(h)
	return h
}

// withTimeout bounds every request except the long-lived RPC websocket,
// which http.TimeoutHandler cannot serve: its writer is not hijackable.
func (s *Server) withTimeout(next http.Handler) http.Handler {
	if s.cfg.HandlerTimeout <= 0 {
		return next
	}
	timed := http.TimeoutHandler(next, s.cfg.HandlerTimeout,
		`{"error":{"type":"api_error","message":"request timed out"}}`)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/rpc" {
			next.ServeHTTP(w, r)
			return
		}
		timed.ServeHTTP(w, r)
	})
}

// SetDraining flips readiness so load balancers stop routing here.
func (s *Server) SetDraining(draining bool) {
	s.lifecycle.SetDraining(draining)
}

// WarnRPC notifies open RPC connections that shutdown is coming.
func (s *Server) WarnRPC(code, message string) int {
	return s.rpcConns.NotifyAll(rpcconn.Notice{Code: code, Message: message})
}

// WaitRPC blocks until all RPC connections close or ctx expires.
func (s *Server) WaitRPC(ctx context.Context) bool {
	return s.rpcConns.Wait(ctx)
}

// CancelRPC force-closes the remaining RPC connections.
func (s *Server) CancelRPC() int {
	return s.rpcConns.ShutdownAll()
}

type metricsWriter struct {
	http.ResponseWriter
	status int
}

func (w *metricsWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (s *Server) recordMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket upgrades hijack the connection; wrapping the writer
		// would break the upgrade.
		if r.URL.Path == "/v1/rpc" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		mm := &metricsWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(mm, r)
		s.metrics.RecordRequest(r.URL.Path, r.Method, strconv.Itoa(mm.status), time.Since(start))
	})
}
