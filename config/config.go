package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds transport configuration
type ServerConfig struct {
	Transport      string `mapstructure:"transport"`
	HTTPPort       int    `mapstructure:"http_port"`
	RateLimitRPS   int    `mapstructure:"rate_limit_rps"`
	RateLimitBurst int    `mapstructure:"rate_limit_burst"`
	MaxBodyKB      int    `mapstructure:"max_body_kb"`
}

// RunnerConfig holds the execution resource budget
type RunnerConfig struct {
	TimeoutSec      int `mapstructure:"timeout_sec"`
	MemoryMB        int `mapstructure:"memory_mb"`
	MaxOutputMB     int `mapstructure:"max_output_mb"`
	MaxCodeKB       int `mapstructure:"max_code_kb"`
	MaxDatasetCells int `mapstructure:"max_dataset_cells"`
	Workers         int `mapstructure:"workers"`
	QueueWaitMS     int `mapstructure:"queue_wait_ms"`
	MaxCallStack    int `mapstructure:"max_call_stack"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("server.transport", "http")
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.rate_limit_rps", 20)
	viper.SetDefault("server.rate_limit_burst", 40)
	viper.SetDefault("server.max_body_kb", 8192)

	viper.SetDefault("runner.timeout_sec", 10)
	viper.SetDefault("runner.memory_mb", 256)
	viper.SetDefault("runner.max_output_mb", 16)
	viper.SetDefault("runner.max_code_kb", 64)
	viper.SetDefault("runner.max_dataset_cells", 2_000_000)
	viper.SetDefault("runner.workers", 4)
	viper.SetDefault("runner.queue_wait_ms", 500)
	viper.SetDefault("runner.max_call_stack", 512)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "http", "mcp-stdio", "mcp-http":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'http', 'mcp-stdio' or 'mcp-http'", c.Server.Transport)
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port: %d", c.Server.HTTPPort)
	}

	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("server.rate_limit_rps must be positive, got: %d", c.Server.RateLimitRPS)
	}

	if c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_burst must be positive, got: %d", c.Server.RateLimitBurst)
	}

	if c.Server.MaxBodyKB <= 0 {
		return fmt.Errorf("server.max_body_kb must be positive, got: %d", c.Server.MaxBodyKB)
	}

	if c.Runner.TimeoutSec <= 0 {
		return fmt.Errorf("runner.timeout_sec must be positive, got: %d", c.Runner.TimeoutSec)
	}

	if c.Runner.MemoryMB <= 0 {
		return fmt.Errorf("runner.memory_mb must be positive, got: %d", c.Runner.MemoryMB)
	}

	if c.Runner.MaxOutputMB <= 0 {
		return fmt.Errorf("runner.max_output_mb must be positive, got: %d", c.Runner.MaxOutputMB)
	}

	if c.Runner.MaxCodeKB <= 0 {
		return fmt.Errorf("runner.max_code_kb must be positive, got: %d", c.Runner.MaxCodeKB)
	}

	if c.Runner.MaxDatasetCells <= 0 {
		return fmt.Errorf("runner.max_dataset_cells must be positive, got: %d", c.Runner.MaxDatasetCells)
	}

	if c.Runner.Workers <= 0 {
		return fmt.Errorf("runner.workers must be positive, got: %d", c.Runner.Workers)
	}

	if c.Runner.QueueWaitMS < 0 {
		return fmt.Errorf("runner.queue_wait_ms must not be negative, got: %d", c.Runner.QueueWaitMS)
	}

	if c.Runner.MaxCallStack <= 0 {
		return fmt.Errorf("runner.max_call_stack must be positive, got: %d", c.Runner.MaxCallStack)
	}

	return nil
}

// GetTimeout returns the execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Runner.TimeoutSec) * time.Second
}

// GetQueueWait returns how long a request may wait for a worker slot
func (c *Config) GetQueueWait() time.Duration {
	return time.Duration(c.Runner.QueueWaitMS) * time.Millisecond
}
