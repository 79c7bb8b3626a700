package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/meditrek-engine/internal/domain"
)

// LiteConfig is a simplified configuration for standalone operation.
// It requires no external databases and uses sensible defaults.
type LiteConfig struct {
	// Data storage
	DataDir string // Base directory for data files

	// Cache settings
	CacheMaxItems int           // Maximum items in memory cache
	CacheTTL      time.Duration // Default cache TTL

	// Engine settings
	Timezone    string
	GraceWindow time.Duration
	TickWindow  time.Duration
	SweepSpec   string // cron spec; empty disables the background sweep

	// CatalogPath optionally replaces the embedded interaction catalog
	CatalogPath string

	// Logging
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: json, text
}

// DefaultLiteConfig returns a configuration with sensible defaults.
func DefaultLiteConfig() *LiteConfig {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".meditrek")

	return &LiteConfig{
		DataDir:       dataDir,
		CacheMaxItems: 1000,
		CacheTTL:      15 * time.Minute,
		Timezone:      "UTC",
		GraceWindow:   120 * time.Minute,
		TickWindow:    5 * time.Minute,
		SweepSpec:     "@every 1m",
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// LoadLiteConfig loads configuration from environment variables.
// Falls back to defaults if not set.
func LoadLiteConfig() *LiteConfig {
	cfg := DefaultLiteConfig()

	if v := os.Getenv("MEDITREK_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Cache settings
	if v := os.Getenv("MEDITREK_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CacheMaxItems = n
		}
	}
	if v := os.Getenv("MEDITREK_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}

	// Engine
	if v := os.Getenv("MEDITREK_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("MEDITREK_GRACE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.GraceWindow = d
		}
	}
	if v := os.Getenv("MEDITREK_TICK_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TickWindow = d
		}
	}
	if v, ok := os.LookupEnv("MEDITREK_SWEEP_SPEC"); ok {
		cfg.SweepSpec = v
	}
	cfg.CatalogPath = os.Getenv("MEDITREK_CATALOG_PATH")

	// Logging
	if v := os.Getenv("MEDITREK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MEDITREK_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}

// Validate checks values that would otherwise fail late at startup.
func (c *LiteConfig) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return validateLogging(c.LogLevel, c.LogFormat)
}

// DBPath returns the path to the SQLite database.
func (c *LiteConfig) DBPath() string {
	return filepath.Join(c.DataDir, "meditrek.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0755)
}

// ToDomain expresses the lite settings as a full configuration so both
// binaries share the same wiring.
func (c *LiteConfig) ToDomain() *domain.Config {
	catalogSource := "embedded"
	if c.CatalogPath != "" {
		catalogSource = "file"
	}
	return &domain.Config{
		Cache: domain.CacheConfig{
			DefaultTTL: c.CacheTTL,
			MaxItems:   c.CacheMaxItems,
		},
		Logging: domain.LoggingConfig{
			Level:  c.LogLevel,
			Format: c.LogFormat,
			Output: "stderr",
		},
		MCP: domain.MCPConfig{
			ServerName:    "meditrek-mcp-server-lite",
			ServerVersion: "v0.1.0",
		},
		Engine: domain.EngineConfig{
			Timezone:    c.Timezone,
			GraceWindow: c.GraceWindow,
		},
		Sweep: domain.SweepConfig{
			Enabled:    c.SweepSpec != "",
			Spec:       c.SweepSpec,
			TickWindow: c.TickWindow,
		},
		Catalog: domain.CatalogConfig{
			Source: catalogSource,
			Path:   c.CatalogPath,
		},
		Notify: domain.NotifyConfig{
			Log: true,
		},
	}
}
