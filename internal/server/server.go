package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/saks635/NL2SQL-Convertor/internal/config"
	"github.com/saks635/NL2SQL-Convertor/internal/handler"
	"github.com/saks635/NL2SQL-Convertor/internal/openapi"
	"github.com/saks635/NL2SQL-Convertor/internal/pipeline"
	"github.com/saks635/NL2SQL-Convertor/internal/server/middleware"
	"github.com/saks635/NL2SQL-Convertor/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	CORSMethods     []string
	MaxUploadSize   int64 // bytes
	RateLimit       int   // pipeline requests per minute per IP; 0 disables
	Version         string

	RecordHistory bool
	HistoryKeep   int
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		CORSMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		MaxUploadSize:   50 << 20,
		RateLimit:       60,
		RecordHistory:   true,
		HistoryKeep:     1000,
	}
}

// FromSettings maps loaded settings onto a server Config.
func FromSettings(s config.Settings, version string) (Config, error) {
	cfg := DefaultConfig()
	cfg.Host = s.Server.Host
	cfg.Port = s.Server.Port
	cfg.RateLimit = s.Server.RateLimit
	cfg.Version = version
	cfg.RecordHistory = s.History.Enabled
	cfg.HistoryKeep = s.History.MaxEntries
	if len(s.Server.CORS.Origins) > 0 {
		cfg.CORSOrigins = s.Server.CORS.Origins
	}
	if len(s.Server.CORS.Methods) > 0 {
		cfg.CORSMethods = s.Server.CORS.Methods
	}

	if s.Server.MaxUploadSize != "" {
		n, err := config.ParseSize(s.Server.MaxUploadSize)
		if err != nil {
			return Config{}, fmt.Errorf("server.max_upload_size: %w", err)
		}
		cfg.MaxUploadSize = n
	}
	if s.Server.ShutdownTimeout != "" {
		d, err := time.ParseDuration(s.Server.ShutdownTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("server.shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}

// Server is the HTTP front end of the pipeline. It owns the Chi router and
// shares the pipeline's connector registry and the history store.
type Server struct {
	cfg        Config
	router     chi.Router
	pipeline   *pipeline.Pipeline
	store      *config.Store
	authSvc    *service.AuthService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. A nil authSvc leaves the API open.
func New(cfg Config, p *pipeline.Pipeline, store *config.Store, authSvc *service.AuthService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		pipeline: p,
		store:    store,
		authSvc:  authSvc,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   s.cfg.CORSMethods,
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	sysHandler := handler.NewSystemHandler(s.store, s.pipeline.Registry(), s.pipeline.Providers(), s.logger)
	pipeHandler := handler.NewPipelineHandler(s.pipeline, s.store, handler.PipelineOptions{
		MaxUploadSize: s.cfg.MaxUploadSize,
		RecordHistory: s.cfg.RecordHistory,
		HistoryKeep:   s.cfg.HistoryKeep,
		Logger:        s.logger,
	})
	openAPIHandler := handler.NewOpenAPIHandler(openapi.Info{
		Version: s.cfg.Version,
		Auth:    s.authSvc != nil,
	})

	// --- Health checks and docs (no auth required) ---
	r.Get("/healthz", sysHandler.Healthz)
	r.Get("/readyz", sysHandler.Readyz)
	r.Get("/openapi.json", openAPIHandler.ServeSpec)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		if s.authSvc != nil {
			r.Use(middleware.Authenticate(s.authSvc))
		}

		r.Get("/providers", sysHandler.ListProviders)

		// Pipeline calls reach the model and the databases, so they are
		// rate limited per client IP.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(s.cfg.RateLimit))

			r.Post("/schema", pipeHandler.Schema)
			r.Post("/analyze", pipeHandler.Analyze)
			r.Post("/generate", pipeHandler.Generate)
			r.Post("/execute", pipeHandler.Execute)
			r.Post("/ask", pipeHandler.Ask)
		})

		// Saved sources
		r.Get("/sources", sysHandler.ListSources)
		r.Post("/sources", sysHandler.CreateSource)
		r.Delete("/sources/{name}", sysHandler.DeleteSource)
		r.With(middleware.RateLimit(s.cfg.RateLimit)).Post("/sources/{name}/test", sysHandler.TestSource)

		// Request history
		r.Get("/history", sysHandler.ListHistory)
		r.Get("/history/{id}", sysHandler.GetHistory)
	})

	s.router = r
}

// ListenAndServe starts the HTTP server and blocks until ctx is done or a
// SIGINT or SIGTERM is received. It then performs a graceful shutdown,
// draining in-flight requests before closing all database connections.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or a shutdown signal
// arrives.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute, // uploads
		WriteTimeout:      5 * time.Minute, // model calls plus execution
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", ln.Addr().String(), "auth", s.authSvc != nil)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.pipeline.Registry().CloseAll()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
