package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// Config holds all application configuration
type Config struct {
	// Server
	Port int
	Env  string

	// Database
	DatabaseURL string

	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		Env:            getEnv("ENV", "development"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}

	return cfg, nil
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	switch c.Env {
	case "development", "test", "production":
	default:
		return fmt.Errorf("ENV must be development, test or production, got %q", c.Env)
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	return nil
}

// Level returns the configured log level, defaulting to info
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return level
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// HasDatabase reports whether run recording is configured
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
