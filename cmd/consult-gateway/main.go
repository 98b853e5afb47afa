package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vozerp/consult-gateway/internal/dotenv"
	"github.com/vozerp/consult-gateway/pkg/gateway/config"
	gatewayserver "github.com/vozerp/consult-gateway/pkg/gateway/server"
	"github.com/vozerp/consult-gateway/pkg/gateway/store"
	"github.com/vozerp/consult-gateway/pkg/gateway/transcripts"
	"github.com/vozerp/consult-gateway/pkg/room"
	"github.com/vozerp/consult-gateway/pkg/workflow"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.KV, error)
	newGateway   func(ctx context.Context, cfg config.Config, logger *slog.Logger, deps gatewayserver.Deps) *gatewayserver.Server
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:   config.LoadFromEnv,
		openStore:    openStore,
		newGateway:   gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) },
		signalStop:   signal.Stop,
	}
}

// openStore picks the durable backend: Postgres when a DSN is configured,
// otherwise in-memory.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.KV, error) {
	if cfg.StorageDSN == "" {
		logger.Info("no storage dsn configured, using in-memory store")
		return store.NewMemory(), nil
	}
	return store.OpenPostgres(ctx, cfg.StorageDSN, logger)
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openStore == nil {
		return errors.New("missing openStore dependency")
	}
	if deps.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	kv, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()

	wf := workflow.New(cfg.WorkflowBaseURL,
		workflow.WithAPIKey(cfg.WorkflowAPIKey),
		workflow.WithLogger(logger),
		workflow.WithTransportTimeouts(cfg.UpstreamConnectTimeout, cfg.UpstreamResponseHeaderTimeout),
		workflow.WithRequestTimeout(cfg.WorkflowRequestTimeout),
		workflow.WithStreamTimeout(cfg.WorkflowStreamTimeout))
	rooms := room.NewClient(room.ClientConfig{
		BaseURL:         cfg.RoomHTTPURL(),
		APIKey:          cfg.RoomAPIKey,
		APISecret:       cfg.RoomAPISecret,
		EmptyTimeout:    cfg.RoomEmptyTimeout,
		MaxParticipants: int64(cfg.RoomMaxParticipants),
	})
	saver := transcripts.NewSaver(cfg.TranscriptDir, logger)
	if pg, ok := kv.(*store.Postgres); ok {
		saver.WithArchive(pg)
	}

	gw := deps.newGateway(ctx, cfg, logger, gatewayserver.Deps{
		KV:          kv,
		Workflow:    wf,
		Rooms:       rooms,
		Transcripts: saver,
	})
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway", "addr", cfg.Addr, "auth_mode", cfg.AuthMode,
		"workflow_url", cfg.WorkflowBaseURL, "room_url", cfg.RoomServiceURL)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining(true)
	gw.WarnRPC("draining", "gateway is shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitRPC(waitCtx) {
		gw.CancelRPC()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "consult-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "consult-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
