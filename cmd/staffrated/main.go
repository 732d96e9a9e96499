// Command staffrated serves the staff rating kiosk.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/okian/staffrate/internal/adapters/http/api"
	service "github.com/okian/staffrate/internal/app"
	"github.com/okian/staffrate/internal/config"
	"github.com/okian/staffrate/pkg/logger"
	"github.com/okian/staffrate/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Re-init with the configured format, then apply the level.
	_ = logger.Init(logger.WithFormat(cfg.LogFormat))
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "staffrated exited with error", logger.Error(err))
		os.Exit(1)
	}
}

// run wires the store, ledger and service and serves HTTP until ctx ends.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("main")
	registerRuntimeCollectors()

	entities, err := service.LoadRoster(cfg)
	if err != nil {
		return err
	}

	store, err := service.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}

	l, err := service.OpenLedger(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return err
	}

	svc := service.New(store, l,
		service.WithLogger(logger.Get()),
		service.WithRoster(entities),
		service.WithRenderer(service.NewLogRenderer(logger.Named("board"))),
		service.WithReconnectInterval(cfg.ResyncInterval()),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.NewServer(svc, svc).Routes(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("backend", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(gctx, "shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

// registerRuntimeCollectors adds Go runtime and process metrics to the
// kiosk registry once.
func registerRuntimeCollectors() {
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := metrics.GetRegistry().Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				logger.Get().Warn(context.Background(), "runtime collector not registered", logger.Error(err))
			}
		}
	}
}
