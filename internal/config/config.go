// Package config holds the application configuration, loaded from an optional
// YAML file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Scanner  ScannerConfig  `yaml:"scanner" json:"scanner"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Type         string `yaml:"type" json:"type"` // "sqlite" or "postgres"
	DatabasePath string `yaml:"database_path" json:"database_path"`
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password" json:"password"`
	Database     string `yaml:"database" json:"database"`
	LogQueries   bool   `yaml:"log_queries" json:"log_queries"`
}

// ScannerConfig holds the default scanner tuning knobs. Per-scan settings are
// resolved from these defaults when a scan is started without overrides.
type ScannerConfig struct {
	MaxConcurrentTasks int           `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`
	BatchSize          int           `yaml:"batch_size" json:"batch_size"`
	Timeout            time.Duration `yaml:"timeout" json:"timeout"`
	UseMmap            bool          `yaml:"use_mmap" json:"use_mmap"`
	Extensions         []string      `yaml:"extensions" json:"extensions"`
	MaxFileSize        int64         `yaml:"max_file_size" json:"max_file_size"`
	WatchAfterScan     bool          `yaml:"watch_after_scan" json:"watch_after_scan"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type:         "sqlite",
			DatabasePath: "abop.db",
			Host:         "localhost",
			Port:         5432,
			Database:     "abop",
		},
		Scanner: ScannerConfig{
			MaxConcurrentTasks: 0, // 0 = detected parallelism
			BatchSize:          100,
			Timeout:            30 * time.Second,
			UseMmap:            true,
			MaxFileSize:        4 << 30, // 4 GiB
			WatchAfterScan:     true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given YAML file (if it exists) on top of
// the defaults, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Missing config file is fine, defaults apply.
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides configuration values from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("ABOP_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("ABOP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_TYPE"); v != "" {
		c.Database.Type = v
	}
	if v := os.Getenv("ABOP_DATABASE_PATH"); v != "" {
		c.Database.DatabasePath = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Database.Username = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("ABOP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}
