package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/iddaa-lens/cronrunner/pkg/handlers/health"
	"github.com/iddaa-lens/cronrunner/pkg/handlers/status"
	"github.com/iddaa-lens/cronrunner/pkg/jobs"
	"github.com/iddaa-lens/cronrunner/pkg/logger"
	"github.com/iddaa-lens/cronrunner/pkg/middleware"
)

const shutdownTimeout = 5 * time.Second

// Source is what the status endpoints read from; *jobs.Registry satisfies it.
type Source interface {
	Snapshot() []jobs.Status
	Lookup(key string) (jobs.Status, bool)
}

// Server exposes read-only job status over HTTP
type Server struct {
	router   *http.ServeMux
	addr     string
	logger   *logger.Logger
	handlers struct {
		health *health.Handler
		status *status.Handler
	}
}

// New creates a status server listening on addr
func New(addr string, source Source, loc *time.Location, log *logger.Logger) *Server {
	server := &Server{
		router: http.NewServeMux(),
		addr:   addr,
		logger: log,
	}

	server.handlers.health = health.NewHandler(source, log)
	server.handlers.status = status.NewHandler(source, loc, log)

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.wrap(s.handlers.health.HealthCheck))
	s.router.HandleFunc("GET /jobs", s.wrap(s.handlers.status.List))
	s.router.HandleFunc("GET /jobs/{key}", s.wrap(s.handlers.status.Get))
	s.router.HandleFunc("OPTIONS /", s.wrap(func(http.ResponseWriter, *http.Request) {}))
}

func (s *Server) wrap(h http.HandlerFunc) http.HandlerFunc {
	return middleware.Logging(s.logger, middleware.CORS(h))
}

// Handler returns the routed handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done, then shuts down
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("server failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info().
		Str("action", "server_start").
		Str("addr", ln.Addr().String()).
		Msg("Starting status server")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	s.logger.Info().
		Str("action", "server_stop").
		Msg("Status server stopped")
	return nil
}
