package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/api"
	"github.com/raaihank/log-sentinel/internal/cache"
	"github.com/raaihank/log-sentinel/internal/config"
	"github.com/raaihank/log-sentinel/internal/content"
	"github.com/raaihank/log-sentinel/internal/logger"
	"github.com/raaihank/log-sentinel/internal/metrics"
	"github.com/raaihank/log-sentinel/internal/model"
	"github.com/raaihank/log-sentinel/internal/reportdb"
	"github.com/raaihank/log-sentinel/internal/store"
	"github.com/raaihank/log-sentinel/internal/tracing"
	"github.com/raaihank/log-sentinel/internal/websocket"
	"github.com/raaihank/log-sentinel/internal/worker"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("log-sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *healthCheck {
		performHealthCheck(cfg.Server.Port)
		return
	}

	log, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting log-sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	if err := run(cfg, log); err != nil {
		log.Error("Service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	closeTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := closeTracing(context.Background()); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()
	if cfg.Metrics.Enabled {
		metrics.MustRegister()
	}

	modelStore, err := store.Open(&cfg.Store, log.WithComponent("store").Logger)
	if err != nil {
		return fmt.Errorf("failed to open model store: %w", err)
	}
	var backing cache.Store
	if modelStore != nil {
		backing = modelStore
		defer modelStore.Close()
	}
	models := cache.New(cfg.Cache, backing, log.WithComponent("cache").Logger)

	engine, err := model.NewEngine(cfg.ModelOptions(), log.WithComponent("model").Logger)
	if err != nil {
		return err
	}
	reader, err := content.NewReader(afero.NewOsFs(), cfg.Content, log.WithComponent("content").Logger)
	if err != nil {
		return err
	}

	reports, err := reportdb.Open(cfg.Reports, log.WithComponent("reportdb").Logger)
	if err != nil {
		return err
	}
	defer reports.Close()

	// reports left unfinished by a previous process never complete
	if n, err := reports.MarkInterrupted(ctx); err != nil {
		log.Warn("Failed to mark interrupted reports", zap.Error(err))
	} else if n > 0 {
		log.Info("Marked interrupted reports as failed", zap.Int64("count", n))
	}

	hub := websocket.NewHub(&cfg.WebSocket, log.WithComponent("websocket").Logger)
	go hub.Run(ctx)

	workers := worker.New(cfg.Workers, engine, models, reader, reports, afero.NewOsFs(), hub, log.WithComponent("worker").Logger)
	workers.Start(ctx)

	server := api.New(cfg, log, api.Deps{
		Workers: workers,
		Reports: reports,
		Hub:     hub,
		Cache:   models,
		Version: version,
	})

	if err := config.Watch(func(*config.Config) {
		log.Info("Configuration file changed, restart to apply")
	}, func(err error) {
		log.Warn("Ignoring invalid configuration change", zap.Error(err))
	}); err != nil {
		log.Debug("Configuration file not watched", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case serveErr = <-serverErrors:
		log.Error("Server error", zap.Error(serveErr))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
		}
	}

	// running reports are cancelled and recorded as failed
	cancel()
	workers.Stop()
	log.Info("Server shutdown complete")
	return serveErr
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(port int) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/health", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
