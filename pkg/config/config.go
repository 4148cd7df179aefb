package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds screening configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	DatabaseURL   string `yaml:"database_url"`
	ArchiveDriver string `yaml:"archive_driver"` // sqlite | postgres | none
	SQLitePath    string `yaml:"sqlite_path"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	PolicyPath string `yaml:"policy_path"`

	ListSources      []string `yaml:"list_sources"` // tried in order
	ListFile         string   `yaml:"list_file"`
	ListArtifactHash string   `yaml:"list_artifact_hash"`

	OwnershipURL     string        `yaml:"ownership_url"`
	OwnershipFile    string        `yaml:"ownership_file"`
	OwnershipTimeout time.Duration `yaml:"ownership_timeout"`
	OwnershipRPS     float64       `yaml:"ownership_rps"`
	OwnershipBurst   int           `yaml:"ownership_burst"`

	BatchWorkers int `yaml:"batch_workers"`

	ReceiptSeed   string `yaml:"-"`
	ReceiptIssuer string `yaml:"receipt_issuer"`

	OTelEnabled  bool   `yaml:"otel_enabled"`
	OTelEndpoint string `yaml:"otel_endpoint"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		LogLevel:         "INFO",
		ArchiveDriver:    "none",
		SQLitePath:       "data/exposure.db",
		ListSources:      []string{"file"},
		ListFile:         "data/restricted_list.yaml",
		OwnershipTimeout: 5 * time.Second,
		OwnershipRPS:     10,
		OwnershipBurst:   10,
		BatchWorkers:     8,
		ReceiptIssuer:    "exposure",
		OTelEndpoint:     "localhost:4317",
	}
}

// Load loads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults, then applies environment
// variables, which take precedence.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.LogLevel)
	str("DATABASE_URL", &c.DatabaseURL)
	str("ARCHIVE_DRIVER", &c.ArchiveDriver)
	str("SQLITE_PATH", &c.SQLitePath)
	str("REDIS_ADDR", &c.RedisAddr)
	str("REDIS_PASSWORD", &c.RedisPassword)
	str("POLICY_PATH", &c.PolicyPath)
	str("LIST_FILE", &c.ListFile)
	str("LIST_ARTIFACT_HASH", &c.ListArtifactHash)
	str("OWNERSHIP_URL", &c.OwnershipURL)
	str("OWNERSHIP_FILE", &c.OwnershipFile)
	str("RECEIPT_SEED", &c.ReceiptSeed)
	str("RECEIPT_ISSUER", &c.ReceiptIssuer)
	str("OTEL_ENDPOINT", &c.OTelEndpoint)

	if v := os.Getenv("LIST_SOURCES"); v != "" {
		c.ListSources = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.ListSources = append(c.ListSources, strings.ToLower(s))
			}
		}
	}
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		c.OTelEnabled = v == "true" || v == "1"
	}

	var err error
	if v := os.Getenv("REDIS_DB"); v != "" {
		if c.RedisDB, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
	}
	if v := os.Getenv("OWNERSHIP_TIMEOUT"); v != "" {
		if c.OwnershipTimeout, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("OWNERSHIP_TIMEOUT: %w", err)
		}
	}
	if v := os.Getenv("OWNERSHIP_RPS"); v != "" {
		if c.OwnershipRPS, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("OWNERSHIP_RPS: %w", err)
		}
	}
	if v := os.Getenv("OWNERSHIP_BURST"); v != "" {
		if c.OwnershipBurst, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("OWNERSHIP_BURST: %w", err)
		}
	}
	if v := os.Getenv("BATCH_WORKERS"); v != "" {
		if c.BatchWorkers, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("BATCH_WORKERS: %w", err)
		}
	}
	return c.Validate()
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.ArchiveDriver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("unsupported archive driver %q", c.ArchiveDriver)
	}
	if c.ArchiveDriver == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres archive")
	}
	for _, s := range c.ListSources {
		switch s {
		case "file", "artifact", "postgres", "sqlite":
		default:
			return fmt.Errorf("unsupported list source %q", s)
		}
	}
	if c.BatchWorkers < 1 {
		return fmt.Errorf("batch workers must be positive, got %d", c.BatchWorkers)
	}
	if c.OwnershipRPS < 0 || c.OwnershipBurst < 0 {
		return fmt.Errorf("ownership rate limits must not be negative")
	}
	return nil
}
