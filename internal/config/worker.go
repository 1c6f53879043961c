package config

import (
	"fmt"
	"time"

	"github.com/rezkam/fieldguide/internal/env"
)

// WorkerConfig holds all configuration for the worker binary.
type WorkerConfig struct {
	Store         StoreConfig
	Observer      ObserverConfig
	Research      ResearchConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig

	// Polling loop and retry policy.
	PollIntervalMs int   `env:"POLL_INTERVAL_MS" default:"250"`
	BaseDelayMs    int64 `env:"BASE_DELAY_MS" default:"1000"`
	MaxRetries     int   `env:"MAX_RETRIES" default:"3"`
	Concurrency    int   `env:"WORKER_CONCURRENCY" default:"2"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Validate checks the polling loop parameters.
func (c *WorkerConfig) Validate() error {
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive, got %d", c.PollIntervalMs)
	}
	if c.BaseDelayMs <= 0 {
		return fmt.Errorf("BASE_DELAY_MS must be positive, got %d", c.BaseDelayMs)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Concurrency)
	}
	return nil
}

// PollInterval returns the claim polling interval as a duration.
func (c *WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// BaseDelay returns the retry backoff base as a duration.
func (c *WorkerConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// LoadWorkerConfig loads and validates worker configuration from environment.
func LoadWorkerConfig() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load worker config: %w", err)
	}

	return cfg, nil
}
