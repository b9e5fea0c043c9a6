package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tickpilot/internal/domain"
	"github.com/alanyoungcy/tickpilot/internal/server/handler"
	"github.com/alanyoungcy/tickpilot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Bots      *handler.BotHandler
	CopyTrade *handler.CopyTradeHandler
	Users     *handler.UserHandler
	Admin     *handler.AdminHandler
}

// Server is the headless HTTP control plane for the trading runtime.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, per-client rate limiting).
// limiter may be nil to disable API rate limiting.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Bot configuration and lifecycle.
	mux.HandleFunc("POST /api/bots", handlers.Bots.CreateBot)
	mux.HandleFunc("GET /api/bots/{id}", handlers.Bots.GetBot)
	mux.HandleFunc("GET /api/bots/{id}/stats", handlers.Bots.GetStats)
	mux.HandleFunc("POST /api/bots/{id}/start", handlers.Bots.StartBot)
	mux.HandleFunc("POST /api/bots/{id}/stop", handlers.Bots.StopBot)
	mux.HandleFunc("POST /api/bots/{id}/pause", handlers.Bots.PauseBot)
	mux.HandleFunc("POST /api/bots/{id}/resume", handlers.Bots.ResumeBot)
	mux.HandleFunc("GET /api/users/{id}/bots", handlers.Bots.ListBots)

	// Copy trading.
	mux.HandleFunc("POST /api/follows", handlers.CopyTrade.Follow)
	mux.HandleFunc("DELETE /api/follows", handlers.CopyTrade.Unfollow)
	mux.HandleFunc("GET /api/leaders/{id}/followers", handlers.CopyTrade.Followers)
	mux.HandleFunc("GET /api/users/{id}/profit/leaders", handlers.CopyTrade.ProfitByLeader)
	mux.HandleFunc("GET /api/users/{id}/profit/daily", handlers.CopyTrade.ProfitByDay)

	// Account linking and settings.
	mux.HandleFunc("POST /api/users/{id}/token", handlers.Users.LinkToken)
	mux.HandleFunc("PUT /api/users/{id}/copy-settings", handlers.Users.UpdateCopySettings)

	// Operator endpoints.
	mux.HandleFunc("POST /api/admin/reset-daily-loss", handlers.Admin.ResetDailyLoss)

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil {
		h = middleware.RateLimit(limiter)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
