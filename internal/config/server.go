package config

import (
	"fmt"
	"time"

	"github.com/rezkam/fieldguide/internal/env"
)

// ServerConfig holds all configuration for the server binary.
type ServerConfig struct {
	HTTP          HTTPConfig
	Store         StoreConfig
	Observer      ObserverConfig
	Observability ObservabilityConfig

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// HTTPConfig holds HTTP server configuration. Zero values fall back to the
// defaults in the httpapi package.
type HTTPConfig struct {
	Host              string        `env:"HOST"`
	Port              string        `env:"PORT" default:"8080"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT"`
	MaxHeaderBytes    int           `env:"HTTP_MAX_HEADER_BYTES"`
	MaxBodyBytes      int64         `env:"HTTP_MAX_BODY_BYTES"`
}

// LoadServerConfig loads and validates server configuration from environment.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	return cfg, nil
}
