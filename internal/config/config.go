package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/brickrunner/internal/gridmanager"
	"github.com/GriffinCanCode/brickrunner/internal/input"
	"github.com/GriffinCanCode/brickrunner/internal/logging"
	"github.com/GriffinCanCode/brickrunner/internal/output"
	"github.com/GriffinCanCode/brickrunner/internal/protocol"
)

// Config holds the process configuration of a runner.
type Config struct {
	Runner      RunnerConfig
	GridManager GridManagerConfig
	Input       InputConfig
	SlowQueue   SlowQueueConfig
	Protocol    ProtocolConfig
	Logging     LogConfig

	// BrickConfig is the path of the brick file.
	BrickConfig string `envconfig:"BRICK_CONFIG"`
}

// RunnerConfig holds the listener of the runner.
type RunnerConfig struct {
	Host string `envconfig:"RUNNER_HOST" default:"0.0.0.0"`
	Port int    `envconfig:"RUNNER_PORT" default:"0"`
	// AdvertiseHost is the host other runners and the grid manager use to
	// reach this runner.
	AdvertiseHost string `envconfig:"RUNNER_ADVERTISE_HOST" default:"127.0.0.1"`
	// MaxConnections caps concurrently open peer connections. Zero is unlimited.
	MaxConnections int `envconfig:"RUNNER_MAX_CONNECTIONS" default:"256"`
}

// GridManagerConfig holds the control plane connection.
type GridManagerConfig struct {
	Address  string        `envconfig:"GRIDMANAGER_ADDR" default:"http://localhost:8080/gridmanager"`
	Enabled  bool          `envconfig:"GRIDMANAGER_ENABLED" default:"true"`
	Timeout  time.Duration `envconfig:"GRIDMANAGER_TIMEOUT" default:"5s"`
	Retries  int           `envconfig:"GRIDMANAGER_RETRIES" default:"2"`
	AlertRPS float64       `envconfig:"GRIDMANAGER_ALERT_RPS" default:"1"`
}

// InputConfig holds the Input watermarks.
type InputConfig struct {
	LowWatermark int `envconfig:"INPUT_LOW_WATERMARK" default:"10"`
	BatchSize    int `envconfig:"INPUT_BATCH_SIZE" default:"25"`
}

// SlowQueueConfig holds the slow-queue detection thresholds.
type SlowQueueConfig struct {
	MinDepth   int     `envconfig:"SLOW_QUEUE_MIN_DEPTH" default:"50"`
	ResetDepth int     `envconfig:"SLOW_QUEUE_RESET_DEPTH" default:"10"`
	Samples    int     `envconfig:"SLOW_QUEUE_SAMPLES" default:"10"`
	MinGrowth  float64 `envconfig:"SLOW_QUEUE_MIN_GROWTH" default:"0"`
}

// ProtocolConfig holds wire settings.
type ProtocolConfig struct {
	CompressThreshold int `envconfig:"COMPRESS_THRESHOLD" default:"4096"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load reads configuration from the environment. A .env file in the working
// directory is read first; variables already set take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Runner: RunnerConfig{
			Host:           "0.0.0.0",
			Port:           0,
			AdvertiseHost:  "127.0.0.1",
			MaxConnections: 256,
		},
		GridManager: GridManagerConfig{
			Address:  "http://localhost:8080/gridmanager",
			Enabled:  true,
			Timeout:  5 * time.Second,
			Retries:  2,
			AlertRPS: 1,
		},
		Input: InputConfig{
			LowWatermark: input.DefaultLowWatermark,
			BatchSize:    input.DefaultBatchSize,
		},
		SlowQueue: SlowQueueConfig{
			MinDepth:   50,
			ResetDepth: 10,
			Samples:    10,
			MinGrowth:  0,
		},
		Protocol: ProtocolConfig{
			CompressThreshold: protocol.DefaultCompressThreshold,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// Validate rejects values the runner cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Runner.Port < 0 || c.Runner.Port > 65535 {
		errs = append(errs, fmt.Errorf("RUNNER_PORT out of range: %d", c.Runner.Port))
	}
	if c.Runner.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("RUNNER_MAX_CONNECTIONS must not be negative, got %d", c.Runner.MaxConnections))
	}
	if c.Input.LowWatermark <= 0 {
		errs = append(errs, fmt.Errorf("INPUT_LOW_WATERMARK must be positive, got %d", c.Input.LowWatermark))
	}
	if c.Input.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("INPUT_BATCH_SIZE must be positive, got %d", c.Input.BatchSize))
	}
	if c.SlowQueue.ResetDepth >= c.SlowQueue.MinDepth {
		errs = append(errs, fmt.Errorf("SLOW_QUEUE_RESET_DEPTH (%d) must be below SLOW_QUEUE_MIN_DEPTH (%d)",
			c.SlowQueue.ResetDepth, c.SlowQueue.MinDepth))
	}
	if c.SlowQueue.Samples < 2 {
		errs = append(errs, fmt.Errorf("SLOW_QUEUE_SAMPLES must be at least 2, got %d", c.SlowQueue.Samples))
	}
	if c.Protocol.CompressThreshold < 0 {
		errs = append(errs, fmt.Errorf("COMPRESS_THRESHOLD must not be negative, got %d", c.Protocol.CompressThreshold))
	}
	if c.GridManager.Enabled && c.GridManager.Address == "" {
		errs = append(errs, errors.New("GRIDMANAGER_ADDR is required when the grid manager is enabled"))
	}
	return errors.Join(errs...)
}

// GridManagerClient returns the client settings.
func (c *Config) GridManagerClient() gridmanager.Config {
	return gridmanager.Config{
		Address:  c.GridManager.Address,
		Timeout:  c.GridManager.Timeout,
		Retries:  c.GridManager.Retries,
		AlertRPS: c.GridManager.AlertRPS,
	}
}

// Growth returns the slow-queue policy thresholds.
func (c *Config) Growth() output.GrowthConfig {
	return output.GrowthConfig{
		MinDepth:   c.SlowQueue.MinDepth,
		ResetDepth: c.SlowQueue.ResetDepth,
		Samples:    c.SlowQueue.Samples,
		MinGrowth:  c.SlowQueue.MinGrowth,
	}
}

// Logger returns the logger settings.
func (c *Config) Logger() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.Development = c.Logging.Development
	return cfg
}
