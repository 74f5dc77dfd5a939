package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"TaPull/internal/orchestrator"
	"TaPull/internal/usecase"
	pkgch "TaPull/pkg/clickhouse"
	"TaPull/pkg/config"
	xhttp "TaPull/pkg/http"
	applogger "TaPull/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	sched      *orchestrator.Scheduler
	caps       *orchestrator.CapabilityManager
	feed       *usecase.SnapshotFeed
	prefetcher *usecase.Prefetcher
	proc       *usecase.SnapshotProcessor
	handler    xhttp.Handler
	chClient   *pkgch.Client
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies. chClient is nil
// unless the clickhouse backend is configured.
func New(
	cfg *config.Config,
	log *applogger.Logger,
	sched *orchestrator.Scheduler,
	caps *orchestrator.CapabilityManager,
	feed *usecase.SnapshotFeed,
	prefetcher *usecase.Prefetcher,
	proc *usecase.SnapshotProcessor,
	handler xhttp.Handler,
	chClient *pkgch.Client,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		sched:      sched,
		caps:       caps,
		feed:       feed,
		prefetcher: prefetcher,
		proc:       proc,
		handler:    handler,
		chClient:   chClient,
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Discover entitlements up front so routing and plan tier are correct
	// from the first request. Failure is non-fatal: the capability manager
	// retries on the drain loop.
	if err := a.caps.Refresh(ctx); err != nil {
		a.log.Warn("startup entitlement discovery failed", applogger.Error(err))
	} else {
		supported, _ := a.caps.Counts()
		a.log.Info("entitlements discovered",
			applogger.String("plan_tier", string(a.caps.Tier())),
			applogger.Int("symbols", supported))
	}

	a.feed.Start(ctx)
	a.prefetcher.Start(ctx)

	metricsPath := a.cfg.Metrics.Path
	if !a.cfg.Metrics.Enabled {
		metricsPath = ""
	}
	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithHost(a.cfg.Server.Host),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(metricsPath),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("tapull started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("backend", a.cfg.Backend.Type),
		applogger.Strings("symbols", a.cfg.Taapi.Symbols))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	a.prefetcher.Stop()

	// Resolve anything still queued before the HTTP server goes away.
	a.sched.ForceReset(ctx)

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	// Stop the feed after the last resolutions were offered; Stop flushes
	// the pending batch.
	a.feed.Stop()

	if a.proc != nil {
		a.proc.Close()
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.log.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
