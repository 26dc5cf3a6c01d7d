// Package webui serves the mood board: the REST endpoints for submitting
// prompts and tuning the backend order, the websocket feed carrying images
// as they are generated, and the embedded single-page board.
package webui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/logging"

	"go.uber.org/zap"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// ServerConfig configures the Server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	StaticConfig    StaticAssetConfig
	LogSkipPaths    []string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "",
		Port:            3000,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		StaticConfig:    DefaultStaticAssetConfig(),
		LogSkipPaths:    []string{"/health"},
	}
}

// ServerDeps are the components the routes delegate to. Guard protects the
// endpoints that change shared state; Limiter throttles prompt submission.
// Both are optional.
type ServerDeps struct {
	API         *API
	Broadcaster *Broadcaster
	Limiter     *RateLimiter
	Guard       Middleware
}

// Server is the board's HTTP server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	config     ServerConfig
	logger     *logging.Logger
	deps       ServerDeps
	static     *StaticAssetHandler
	loggingMw  *LoggingMiddleware
}

// NewServer wires routes and middleware.
func NewServer(config ServerConfig, deps ServerDeps, logger *logging.Logger) (*Server, error) {
	if deps.API == nil {
		return nil, errors.New("webui: api cannot be nil")
	}
	if deps.Broadcaster == nil {
		return nil, errors.New("webui: broadcaster cannot be nil")
	}
	if deps.Guard == nil {
		deps.Guard = func(h http.Handler) http.Handler { return h }
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultServerConfig().ShutdownTimeout
	}

	s := &Server{
		mux:       http.NewServeMux(),
		config:    config,
		logger:    logger.Named("webui"),
		deps:      deps,
		static:    NewStaticAssetHandler(config.StaticConfig),
		loggingMw: NewLoggingMiddleware(logger, LoggingMiddlewareConfig{SkipPaths: config.LogSkipPaths}),
	}
	s.setupRoutes()

	addr := net.JoinHostPort(config.Host, fmt.Sprint(config.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.deps.API
	guard := s.deps.Guard

	s.mux.HandleFunc("/health", api.HandleHealth)

	var prompts http.Handler = http.HandlerFunc(api.HandlePrompts)
	if s.deps.Limiter != nil {
		prompts = s.deps.Limiter.Middleware(prompts)
	}
	s.mux.Handle("/api/prompts", prompts)

	s.mux.Handle("/api/priority", guardWrites(guard, http.HandlerFunc(api.HandlePriority)))
	s.mux.Handle("/api/priority/swap", guard(http.HandlerFunc(api.HandlePrioritySwap)))
	s.mux.HandleFunc("/api/history", api.HandleHistory)
	s.mux.HandleFunc("/api/metrics", api.HandleMetrics)

	s.mux.HandleFunc("/ws", s.deps.Broadcaster.HandleConnection)

	s.static.RegisterRoutes(s.mux)
	s.mux.HandleFunc("/", s.handleRoot)
}

// guardWrites applies guard to every method except GET and HEAD.
func guardWrites(guard Middleware, next http.Handler) http.Handler {
	guarded := guard(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}
		guarded.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.static.ServeIndex().ServeHTTP(w, r)
}

// Handler returns the routed handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return s.loggingMw.Handler(s.mux)
}

// Start runs the websocket hub and serves HTTP until Shutdown. It returns
// nil after a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("webui: failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.deps.Broadcaster.Start(ctx)
	s.logger.Info("board server listening", zap.String("addr", ln.Addr().String()))

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webui: http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Websocket clients are closed when the context given to Start is done.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("webui: http shutdown error: %w", err)
	}
	s.logger.Info("board server stopped")
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Broadcaster returns the websocket hub.
func (s *Server) Broadcaster() *Broadcaster {
	return s.deps.Broadcaster
}
