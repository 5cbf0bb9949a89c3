// Package api is the engine-UI control-plane surface (spec.md §6): a thin
// net/http + ServeMux server exposing health, status, and the arm/disarm/
// kill/reset-kill control endpoints, adapted from
// 0xtitan6-polymarket-mm/internal/api/server.go's mux-plus-http.Server shape.
// Trade-history, leaderboard, and performance reads are named but
// unimplemented — spec.md places the relational read-store they need out of
// scope.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"perp-engine/internal/config"
)

// Server runs the dashboard's control-plane HTTP surface.
type Server struct {
	cfg     config.DashboardConfig
	http    *http.Server
	logger  *slog.Logger
}

// NewServer builds a Server bound to h's routes.
func NewServer(cfg config.DashboardConfig, h *Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/trading/status", h.HandleStatus)
	mux.HandleFunc("/trading/arm", h.HandleArm)
	mux.HandleFunc("/trading/disarm", h.HandleDisarm)
	mux.HandleFunc("/trading/kill", h.HandleKill)
	mux.HandleFunc("/trading/reset-kill", h.HandleResetKill)
	mux.HandleFunc("/trading/history", h.HandleHistoryStub)
	mux.HandleFunc("/trading/leaderboard", h.HandleLeaderboardStub)
	mux.HandleFunc("/trading/performance", h.HandlePerformanceStub)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      withCORS(cfg, mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{cfg: cfg, http: srv, logger: logger.With("component", "api-server")}
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("dashboard server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
