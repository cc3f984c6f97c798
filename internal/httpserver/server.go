package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

// Server wraps the http.Server with timeouts sized for multipart uploads.
type Server struct {
	inner           *http.Server
	shutdownTimeout time.Duration
}

// Option adjusts the server.
type Option func(*Server)

// WithWriteTimeout overrides how long a handler may take to write its response.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.inner.WriteTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for in-flight requests.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// New constructs a server listening on the provided port.
func New(port int, handler http.Handler, opts ...Option) *Server {
	inner := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}
	srv := &Server{inner: inner, shutdownTimeout: defaultShutdownTimeout}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully terminates the HTTP server, giving up after the shutdown timeout or when
// ctx ends, whichever comes first.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.inner.Shutdown(ctx)
}

// ShutdownTimeout reports how long Shutdown waits for in-flight requests.
func (s *Server) ShutdownTimeout() time.Duration { return s.shutdownTimeout }
