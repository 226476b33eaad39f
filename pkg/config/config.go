// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the SaveRelay server.
type Config struct {
	// Server settings
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`

	// Database
	DatabaseDSN    string `yaml:"database_dsn"`
	DatabaseDriver string `yaml:"-"` // "postgres" or "sqlite", auto-detected from DSN

	// Dispatch timing
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	OfflineTimeout    time.Duration `yaml:"offline_timeout"`
	ReapTimeout       time.Duration `yaml:"reap_timeout"`
	ReapInterval      time.Duration `yaml:"reap_interval"`
	ClaimLimit        int           `yaml:"claim_limit"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "console"
	LogFile   string `yaml:"log_file"`
}

func defaults() *Config {
	return &Config{
		Port:              8080,
		CORSOrigins:       []string{"http://localhost:3000"},
		DatabaseDSN:       "sqlite://./saverelay.db",
		HeartbeatInterval: 15 * time.Second,
		OfflineTimeout:    45 * time.Second,
		ReapTimeout:       30 * time.Minute,
		ReapInterval:      5 * time.Minute,
		ClaimLimit:        25,
		LogLevel:          "info",
		LogFormat:         "console",
	}
}

// Load builds configuration from defaults, an optional YAML file named by
// SAVERELAY_CONFIG, and environment variable overrides, in that order.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("SAVERELAY_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.DatabaseDriver = detectDriver(cfg.DatabaseDSN)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fileConfig mirrors Config for YAML decoding. Durations are strings in
// the file ("45s", "30m") and parsed here; pointer fields distinguish
// "absent" from "zero".
type fileConfig struct {
	Port              *int     `yaml:"port"`
	CORSOrigins       []string `yaml:"cors_origins"`
	DatabaseDSN       *string  `yaml:"database_dsn"`
	HeartbeatInterval *string  `yaml:"heartbeat_interval"`
	OfflineTimeout    *string  `yaml:"offline_timeout"`
	ReapTimeout       *string  `yaml:"reap_timeout"`
	ReapInterval      *string  `yaml:"reap_interval"`
	ClaimLimit        *int     `yaml:"claim_limit"`
	LogLevel          *string  `yaml:"log_level"`
	LogFormat         *string  `yaml:"log_format"`
	LogFile           *string  `yaml:"log_file"`
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != nil {
		c.Port = *fc.Port
	}
	if fc.CORSOrigins != nil {
		c.CORSOrigins = fc.CORSOrigins
	}
	if fc.DatabaseDSN != nil {
		c.DatabaseDSN = *fc.DatabaseDSN
	}
	if fc.ClaimLimit != nil {
		c.ClaimLimit = *fc.ClaimLimit
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}
	if fc.LogFormat != nil {
		c.LogFormat = *fc.LogFormat
	}
	if fc.LogFile != nil {
		c.LogFile = *fc.LogFile
	}

	durations := []struct {
		name string
		raw  *string
		dst  *time.Duration
	}{
		{"heartbeat_interval", fc.HeartbeatInterval, &c.HeartbeatInterval},
		{"offline_timeout", fc.OfflineTimeout, &c.OfflineTimeout},
		{"reap_timeout", fc.ReapTimeout, &c.ReapTimeout},
		{"reap_interval", fc.ReapInterval, &c.ReapInterval},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("parse %s in %s: %w", d.name, path, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)
	c.DatabaseDSN = getEnv("DATABASE_DSN", c.DatabaseDSN)
	c.HeartbeatInterval = getEnvDuration("HEARTBEAT_INTERVAL", c.HeartbeatInterval)
	c.OfflineTimeout = getEnvDuration("OFFLINE_TIMEOUT", c.OfflineTimeout)
	c.ReapTimeout = getEnvDuration("REAP_TIMEOUT", c.ReapTimeout)
	c.ReapInterval = getEnvDuration("REAP_INTERVAL", c.ReapInterval)
	c.ClaimLimit = getEnvInt("CLAIM_LIMIT", c.ClaimLimit)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
}

// Validate enforces the timing relationships the dispatch design relies on:
// the offline timeout must cover several heartbeats, and the reap timeout
// must stay far above any client-side poll ceiling.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.OfflineTimeout < 2*c.HeartbeatInterval {
		return fmt.Errorf("offline_timeout (%s) must be at least twice heartbeat_interval (%s)",
			c.OfflineTimeout, c.HeartbeatInterval)
	}
	if c.ReapTimeout < 5*time.Minute {
		return fmt.Errorf("reap_timeout (%s) must be at least 5m so it outlasts client polling", c.ReapTimeout)
	}
	if c.ReapInterval <= 0 {
		return fmt.Errorf("reap_interval must be positive")
	}
	if c.ClaimLimit < 1 {
		return fmt.Errorf("claim_limit must be at least 1")
	}
	return nil
}

// detectDriver determines the database driver from DSN.
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite://") || strings.HasPrefix(dsn, "sqlite3://") {
		return "sqlite"
	}
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") || dsn == ":memory:" {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from the DSN.
func (c *Config) CleanDSN() string {
	dsn := c.DatabaseDSN
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if c.DatabaseDriver == "postgres" {
		return c.DatabaseDSN
	}
	return dsn
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

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
