// Package config loads the engine configuration. Manager reads config.yaml and
// MEDITREK_* environment variables through viper; LiteConfig is the env-only
// configuration of the standalone binary.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/meditrek-engine/internal/database"
	"github.com/meditrek-engine/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. MEDITREK_SERVER_PORT.
const EnvPrefix = "MEDITREK"

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	v           *viper.Viper
	configPaths []string
	config      *domain.Config
}

// NewManager creates a new configuration manager. configPaths replaces the
// default search path for config.yaml.
func NewManager(configPaths ...string) (*Manager, error) {
	if len(configPaths) == 0 {
		configPaths = []string{".", "./config", "/etc/meditrek/"}
	}
	m := &Manager{configPaths: configPaths}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range m.configPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values. Every key needs a default so
// AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "meditrek")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "")

	// Cache defaults
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "15m")
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "meditrek-mcp-server")
	v.SetDefault("mcp.server_version", "v0.1.0")
	v.SetDefault("mcp.request_timeout", "30s")

	// Engine defaults
	v.SetDefault("engine.timezone", "UTC")
	v.SetDefault("engine.grace_window", "120m")
	v.SetDefault("engine.freshness_threshold", "15m")
	v.SetDefault("engine.on_time_window", "30m")

	// Sweep defaults
	v.SetDefault("sweep.enabled", true)
	v.SetDefault("sweep.spec", "@every 1m")
	v.SetDefault("sweep.tick_window", "5m")
	v.SetDefault("sweep.lookback", "24h")
	v.SetDefault("sweep.delivery_timeout", "10s")

	// Catalog defaults
	v.SetDefault("catalog.source", "embedded")
	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.dsn", "")

	// Predictor defaults
	v.SetDefault("predictor.enabled", false)
	v.SetDefault("predictor.base_url", "")
	v.SetDefault("predictor.timeout", "5s")
	v.SetDefault("predictor.rate_limit", 10)
	v.SetDefault("predictor.confidence_threshold", 0.7)
	v.SetDefault("predictor.cache_size", 1024)
	v.SetDefault("predictor.cache_ttl", "1h")

	// Notification defaults
	v.SetDefault("notify.log", true)
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_timeout", "10s")
	v.SetDefault("notify.webhook_rate", 5)
	v.SetDefault("notify.websocket", true)
	v.SetDefault("notify.sendgrid_api_key", "")
	v.SetDefault("notify.email_from", "")
	v.SetDefault("notify.email_from_name", "Meditrek Reminders")
	v.SetDefault("notify.patient_emails", map[string]string{})
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// ConfigFile returns the config file in use, or "" when running on defaults
// and environment only.
func (m *Manager) ConfigFile() string {
	return m.v.ConfigFileUsed()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a loaded configuration.
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if config.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if config.Database.Username == "" {
		return fmt.Errorf("database username is required")
	}

	if config.Cache.RedisURL != "" {
		if _, err := url.Parse(config.Cache.RedisURL); err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
	}

	if err := validateLogging(config.Logging.Level, config.Logging.Format); err != nil {
		return err
	}

	if _, err := time.LoadLocation(config.Engine.Timezone); err != nil {
		return fmt.Errorf("invalid engine timezone %q: %w", config.Engine.Timezone, err)
	}
	if config.Engine.GraceWindow <= 0 {
		return fmt.Errorf("engine grace window must be positive")
	}

	if config.Sweep.Enabled {
		if _, err := cron.ParseStandard(config.Sweep.Spec); err != nil {
			return fmt.Errorf("invalid sweep spec %q: %w", config.Sweep.Spec, err)
		}
		if config.Sweep.TickWindow <= 0 {
			return fmt.Errorf("sweep tick window must be positive")
		}
	}

	switch config.Catalog.Source {
	case "", "embedded", "postgres":
	case "file":
		if config.Catalog.Path == "" {
			return fmt.Errorf("catalog path is required for the file source")
		}
	default:
		return fmt.Errorf("invalid catalog source: %s", config.Catalog.Source)
	}

	if config.Predictor.Enabled && config.Predictor.BaseURL == "" {
		return fmt.Errorf("predictor base URL is required when the predictor is enabled")
	}
	if t := config.Predictor.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("predictor confidence threshold must be within [0, 1]: %v", t)
	}

	if config.Notify.SendGridAPIKey != "" && config.Notify.EmailFrom == "" {
		return fmt.Errorf("notify email_from is required with a SendGrid API key")
	}

	return nil
}

func validateLogging(level, format string) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s", level)
	}
	switch strings.ToLower(format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s", format)
	}
	return nil
}

// DatabaseURL returns the postgres:// URL of the configured database.
func (m *Manager) DatabaseURL() string {
	return database.ConfigFromDomain(m.config.Database).URL()
}

// CatalogDSN returns the DSN of the postgres catalog source, defaulting to the
// main database.
func (m *Manager) CatalogDSN() string {
	if m.config.Catalog.DSN != "" {
		return m.config.Catalog.DSN
	}
	return m.DatabaseURL()
}
