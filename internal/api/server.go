package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/log-sentinel/internal/cache"
	"github.com/raaihank/log-sentinel/internal/config"
	"github.com/raaihank/log-sentinel/internal/logger"
	"github.com/raaihank/log-sentinel/internal/metrics"
	"github.com/raaihank/log-sentinel/internal/reportdb"
	"github.com/raaihank/log-sentinel/internal/websocket"
	"github.com/raaihank/log-sentinel/internal/worker"
)

// Reports reads the report registry
type Reports interface {
	Get(ctx context.Context, id string) (*reportdb.Record, error)
	List(ctx context.Context, limit int) ([]reportdb.Record, error)
}

// Deps are the components served by the API
type Deps struct {
	Workers *worker.Workers
	Reports Reports
	Hub     *websocket.Hub
	Cache   *cache.Cache
	Version string
}

// Server is the HTTP front of the report workers
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	deps    Deps
	limiter *rateLimiter
	router  *mux.Router
	server  *http.Server
	started time.Time
}

// New creates a new API server instance
func New(cfg *config.Config, log *logger.Logger, deps Deps) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("api"),
		deps:    deps,
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	if cfg.RateLimit.Enabled {
		s.limiter = newRateLimiter(cfg.RateLimit)
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, metrics.Handler()).Methods(http.MethodGet)
	}

	// websocket routes stay outside the middleware, the upgrade needs the
	// raw ResponseWriter
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
		s.router.HandleFunc("/ws/{id}", s.handleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/reports", s.handleCreateReport).Methods(http.MethodPost)
	api.HandleFunc("/reports", s.handleListReports).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", s.handleGetReport).Methods(http.MethodGet)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("Starting log-sentinel API server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("metrics", s.config.Metrics.Enabled),
		zap.Bool("websocket", s.config.WebSocket.Enabled),
		zap.Bool("rate_limit", s.config.RateLimit.Enabled),
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping log-sentinel API server")
	return s.server.Shutdown(ctx)
}
