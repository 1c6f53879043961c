package env

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestConfig struct {
	DBPath    string        `env:"TEST_DB_PATH" default:"./data/test.db"`
	Interval  int           `env:"TEST_INTERVAL_MS" default:"250"`
	Threshold float64       `env:"TEST_THRESHOLD" default:"0.5"`
	Enabled   bool          `env:"TEST_ENABLED" default:"true"`
	Timeout   time.Duration `env:"TEST_TIMEOUT" default:"10s"`
	NoDef     string        `env:"TEST_NO_DEF"`
}

func TestParse(t *testing.T) {
	os.Clearenv()
	os.Setenv("TEST_DB_PATH", "/tmp/other.db")
	os.Setenv("TEST_INTERVAL_MS", "50")
	os.Setenv("TEST_THRESHOLD", "0.75")
	os.Setenv("TEST_ENABLED", "false")
	os.Setenv("TEST_TIMEOUT", "1m30s")
	os.Setenv("TEST_NO_DEF", "foo")

	var cfg TestConfig
	err := Parse(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/other.db", cfg.DBPath)
	assert.Equal(t, 50, cfg.Interval)
	assert.Equal(t, 0.75, cfg.Threshold)
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, "foo", cfg.NoDef)
}

func TestParse_Defaults(t *testing.T) {
	os.Clearenv()

	var cfg TestConfig
	err := Parse(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "./data/test.db", cfg.DBPath)
	assert.Equal(t, 250, cfg.Interval)
	assert.Equal(t, 0.5, cfg.Threshold)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Empty(t, cfg.NoDef)
}

func TestParse_EmptyStringRespected(t *testing.T) {
	os.Clearenv()
	os.Setenv("TEST_DB_PATH", "") // Empty string for string field

	var cfg TestConfig
	err := Parse(&cfg)
	require.NoError(t, err)

	// Empty strings should be respected for string fields (not use defaults)
	assert.Equal(t, "", cfg.DBPath)
	// Interval not set, so uses default
	assert.Equal(t, 250, cfg.Interval)
}

func TestParse_EmptyStringIntError(t *testing.T) {
	os.Clearenv()
	os.Setenv("TEST_INTERVAL_MS", "") // Empty string for int field

	var cfg TestConfig
	err := Parse(&cfg)
	// Empty string for int field should error
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestParse_EmbeddedStruct(t *testing.T) {
	type BaseConfig struct {
		StoreDSN    string `env:"STORE_DSN"`
		StoreDriver string `env:"STORE_DRIVER" default:"sqlite"`
	}

	type AppConfig struct {
		BaseConfig
		AppName string `env:"APP_NAME" default:"fieldguide"`
	}

	t.Run("parses embedded struct fields", func(t *testing.T) {
		os.Clearenv()
		os.Setenv("STORE_DSN", "postgres://localhost/db")
		os.Setenv("APP_NAME", "testapp")

		var cfg AppConfig
		err := Parse(&cfg)
		require.NoError(t, err)

		assert.Equal(t, "postgres://localhost/db", cfg.StoreDSN)
		assert.Equal(t, "sqlite", cfg.StoreDriver) // Uses default
		assert.Equal(t, "testapp", cfg.AppName)
	})

	t.Run("empty string in embedded struct is respected", func(t *testing.T) {
		os.Clearenv()
		os.Setenv("STORE_DSN", "postgres://localhost/db")
		os.Setenv("STORE_DRIVER", "") // Empty string

		var cfg AppConfig
		err := Parse(&cfg)
		require.NoError(t, err)

		assert.Equal(t, "", cfg.StoreDriver) // Empty string is respected, not replaced with default
	})
}

func TestParse_Validator(t *testing.T) {
	os.Clearenv()
	os.Setenv("VALIDATED_PORT", "-1")

	var cfg validatedConfig
	err := Parse(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port must be positive")
}

type validatedConfig struct {
	Port int `env:"VALIDATED_PORT" default:"8080"`
}

func (c *validatedConfig) Validate() error {
	if c.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}
