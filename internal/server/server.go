// Package server exposes the query API, the manual index trigger and the
// live trade WebSocket over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/ctfindexer/internal/domain"
	"github.com/alanyoungcy/ctfindexer/internal/server/handler"
	"github.com/alanyoungcy/ctfindexer/internal/server/middleware"
	"github.com/alanyoungcy/ctfindexer/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string
	APIKey      string // guards the index trigger; empty disables the check
	RateLimit   int    // requests per RateWindow per client IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Query  *handler.QueryHandler
	Index  *handler.IndexHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain:
// CORS, then logging, then rate limiting. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      Routes(cfg, handlers, wsHub, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &Server{httpServer: srv, logger: logger}
}

// Routes builds the full handler tree. It is separate from NewServer so it
// can be served by httptest.
func Routes(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handlers.Health.Index)
	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /events/{slug}", handlers.Query.GetEvent)
	mux.HandleFunc("GET /events/{slug}/markets", handlers.Query.GetEventMarkets)
	mux.HandleFunc("GET /markets/{slug}", handlers.Query.GetMarket)
	mux.HandleFunc("GET /markets/{slug}/trades", handlers.Query.ListMarketTrades)
	mux.HandleFunc("GET /tokens/{tokenId}/trades", handlers.Query.ListTokenTrades)
	mux.HandleFunc("GET /sync/{streamKey}", handlers.Query.GetWatermark)
	mux.HandleFunc("GET /sync/{streamKey}/runs", handlers.Query.ListRuns)
	mux.HandleFunc("GET /stats", handlers.Query.GetStats)

	mux.Handle("POST /api/index/trigger", middleware.Auth(cfg.APIKey)(http.HandlerFunc(handlers.Index.Trigger)))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	window := cfg.RateWindow
	if window <= 0 {
		window = time.Second
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
