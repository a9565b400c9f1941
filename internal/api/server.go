package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bgutil/potprovider/internal/session"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second

	// Version is reported on GET /ping.
	Version = "1.0.0"
)

// Server wraps the chi router and the session manager it fronts.
type Server struct {
	router    *chi.Mux
	sessions  *session.Manager
	logger    *slog.Logger
	addr      string
	startedAt time.Time
}

// NewServer creates and configures a new HTTP server bound to addr
// (host:port). Binding itself happens in Run, which falls back from a
// dual-stack "::" host to "0.0.0.0" if the former fails.
func NewServer(addr string, sessions *session.Manager, logger *slog.Logger) *Server {
	srv := &Server{
		router:    chi.NewRouter(),
		sessions:  sessions,
		logger:    logger,
		addr:      addr,
		startedAt: time.Now(),
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

func (s *Server) routes() {
	s.router.Get("/ping", s.handlePing)
	s.router.Handle("/metrics", metricsHandler())

	s.router.Group(func(r chi.Router) {
		r.Use(deprecatedFieldMiddleware)
		r.Post("/get_pot", s.handleGetPot)
	})

	s.router.Post("/invalidate_caches", s.handleInvalidateCaches)
	s.router.Post("/invalidate_it", s.handleInvalidateIntegrityTokens)
	s.router.Get("/minter_cache", s.handleMinterCache)
}

// Router returns the chi router, for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run starts the HTTP server and blocks until a shutdown signal is
// received. It binds to the configured address; if that host is the
// dual-stack "::" and the bind fails, it falls back to "0.0.0.0" on the
// same port.
func (s *Server) Run() error {
	listener, actualAddr, err := listen(s.addr, s.logger)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.addr = actualAddr

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.sessions.Shutdown()
	s.logger.Info("server stopped")
	return nil
}

// listen binds addr, falling back from "::" to "0.0.0.0" on the same port
// if the dual-stack bind fails, per the spec's host-binding fallback rule.
func listen(addr string, logger *slog.Logger) (net.Listener, string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
	}

	l, err := net.Listen("tcp", addr)
	if err == nil {
		return l, addr, nil
	}
	if host != "::" {
		return nil, "", err
	}

	fallback := net.JoinHostPort("0.0.0.0", port)
	logger.Warn("dual-stack bind failed, falling back", "from", addr, "to", fallback, "error", err)
	l, err = net.Listen("tcp", fallback)
	if err != nil {
		return nil, "", err
	}
	return l, fallback, nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
