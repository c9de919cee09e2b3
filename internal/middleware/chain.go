// Package middleware provides the HTTP middleware chain: telemetry
// stubbing, request logging and proxy authentication.
package middleware

import (
	"log/slog"
	"net/http"

	"claude-bridge/internal/config"
)

// Middleware wraps a handler with cross-cutting behavior.
type Middleware func(http.Handler) http.Handler

// Chain is an ordered middleware list.
type Chain struct {
	middlewares []Middleware
}

func New(middlewares ...Middleware) Chain {
	return Chain{middlewares: middlewares}
}

// Then appends more middleware to the chain.
func (c Chain) Then(middlewares ...Middleware) Chain {
	return Chain{middlewares: append(c.middlewares, middlewares...)}
}

// Handler applies the chain to a handler, first middleware outermost.
func (c Chain) Handler(handler http.Handler) http.Handler {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}

	return handler
}

// Set holds the configured middleware for composition into per-route chains.
type Set struct {
	Telemetry Middleware
	Logging   Middleware
	Auth      Middleware
}

func NewSet(config *config.Manager, logger *slog.Logger) Set {
	return Set{
		Telemetry: NewTelemetryStubMiddleware(logger),
		Logging:   NewLoggingMiddleware(logger),
		Auth:      NewAuthMiddleware(config, logger),
	}
}

// DefaultChain is the standard chain for API endpoints.
func (s Set) DefaultChain() Chain {
	return New(
		s.Telemetry,
		s.Logging,
		s.Auth,
	)
}

// HealthChain skips authentication for liveness probes.
func (s Set) HealthChain() Chain {
	return New(
		s.Telemetry,
		s.Logging,
	)
}
