package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Default configuration values for the HTTP server.
const (
	DefaultHost              = "" // all interfaces
	DefaultPort              = "8080"
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 15 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1MB
	DefaultMaxBodyBytes      = 1 << 20 // 1MB
)

// ServerConfig holds configuration for the HTTP server and router.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	MaxHeaderBytes    int
	MaxBodyBytes      int64
}

// applyDefaults sets default values for any unset (zero) fields.
func (cfg *ServerConfig) applyDefaults() {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
}

// APIServer wraps the HTTP server with its timeouts and lifecycle.
type APIServer struct {
	server *http.Server
}

// NewAPIServer creates an HTTP server around the given handler.
// Applies defaults for zero or invalid config values.
func NewAPIServer(handler http.Handler, cfg ServerConfig) *APIServer {
	cfg.applyDefaults()

	return &APIServer{
		server: &http.Server{
			Addr:              cfg.Host + ":" + cfg.Port,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			MaxHeaderBytes:    cfg.MaxHeaderBytes,
		},
	}
}

// Start starts the HTTP server and blocks until it stops.
func (s *APIServer) Start() error {
	slog.Info("starting HTTP server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
// The provided context bounds how long outstanding requests may take.
func (s *APIServer) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler returns the underlying HTTP handler for testing purposes.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}
