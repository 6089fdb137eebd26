// Package api exposes the local diagnostics HTTP endpoint.
//
// It binds to loopback by default and serves the orchestrator's status
// snapshot plus a basic health check. There is no authentication: the
// endpoint exists for field debugging over SSH, not for remote access.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/plantform/plantnode/internal/infrastructure/config"
	"github.com/plantform/plantnode/internal/infrastructure/database"
	"github.com/plantform/plantnode/internal/infrastructure/logging"
	"github.com/plantform/plantnode/internal/orchestrator"
)

// gracefulShutdownTimeout bounds the drain of in-flight requests.
const gracefulShutdownTimeout = 5 * time.Second

// StatusSource provides the FSM snapshot. *orchestrator.Orchestrator
// satisfies it.
type StatusSource interface {
	Status() orchestrator.Status
}

// Deps holds the API server's dependencies.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger
	Status StatusSource
	DB     *database.DB
}

// Server serves the diagnostics endpoint.
type Server struct {
	cfg    config.APIConfig
	logger *logging.Logger
	status StatusSource
	db     *database.DB

	httpServer *http.Server
}

// New creates a Server. Call Start to begin listening.
func New(deps Deps) *Server {
	return &Server{
		cfg:    deps.Config,
		logger: deps.Logger.With("component", "api"),
		status: deps.Status,
		db:     deps.DB,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", "error", err)
		}
	}()

	s.logger.Info("diagnostics endpoint listening", "addr", addr)
	return nil
}

// Close drains in-flight requests and stops the server.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
