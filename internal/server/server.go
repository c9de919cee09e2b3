// Package server assembles the HTTP server: routes, middleware and
// lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"claude-bridge/internal/config"
	"claude-bridge/internal/handlers"
	"claude-bridge/internal/middleware"
)

const upstreamTimeout = 5 * time.Minute

type Server struct {
	config *config.Manager
	logger *slog.Logger
	server *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	return &Server{
		config: configManager,
		logger: logger,
	}
}

// Start runs the server until an interrupt or SIGTERM arrives, then shuts
// down gracefully.
func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	mux, err := s.setupRoutes(cfg)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes(cfg *config.Config) (*http.ServeMux, error) {
	transport := handlers.NewHTTPTransport(upstreamTimeout)

	messagesHandler, err := handlers.NewMessagesHandler(cfg, transport, s.logger)
	if err != nil {
		return nil, fmt.Errorf("building messages handler: %w", err)
	}

	tokenHandler := handlers.NewTokenCountHandler(s.logger)
	healthHandler := handlers.NewHealthHandler(s.logger)

	set := middleware.NewSet(s.config, s.logger)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/messages/count_tokens", set.DefaultChain().Handler(tokenHandler))
	mux.Handle("POST /v1/messages", set.DefaultChain().Handler(messagesHandler))
	mux.Handle("/health", set.HealthChain().Handler(healthHandler))

	return mux, nil
}
