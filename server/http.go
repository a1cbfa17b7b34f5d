// Package server runs the tracker's HTTP listener with graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout bounds how long in-flight requests may run after
// shutdown begins.
const DefaultShutdownTimeout = 10 * time.Second

// Config configures an HTTPServer.
type Config struct {
	// Address is the TCP listen address (e.g. ":8080"). Required.
	Address string

	// Handler serves every request. Required.
	Handler http.Handler

	// ShutdownTimeout defaults to DefaultShutdownTimeout when zero.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// HTTPServer serves HTTP until its context is cancelled, then drains.
type HTTPServer struct {
	address         string
	handler         http.Handler
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// ready is closed once the listener is bound.
	ready chan struct{}
	addr  net.Addr
}

// New validates cfg and returns a server. Call Serve to start it.
func New(cfg Config) (*HTTPServer, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("server address is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("server handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	timeout := cfg.ShutdownTimeout
	if timeout == 0 {
		timeout = DefaultShutdownTimeout
	}
	return &HTTPServer{
		address:         cfg.Address,
		handler:         cfg.Handler,
		shutdownTimeout: timeout,
		logger:          cfg.Logger,
		ready:           make(chan struct{}),
	}, nil
}

// Ready is closed once the server accepts connections.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. Only valid after Ready is closed; useful
// when listening on port 0.
func (s *HTTPServer) Addr() net.Addr {
	return s.addr
}

// Serve blocks until ctx is cancelled, then stops accepting connections
// and waits up to the shutdown timeout for active requests.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	s.logger.Info("HTTP server listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-serveDone

	s.logger.Info("HTTP server stopped")
	return nil
}
