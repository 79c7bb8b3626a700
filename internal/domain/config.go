package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents cache configuration. An empty RedisURL selects the
// in-process LRU cache.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxItems    int           `mapstructure:"max_items"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"` // stdout, stderr
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName     string        `mapstructure:"server_name"`
	ServerVersion  string        `mapstructure:"server_version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EngineConfig holds calendar and freshness settings of the adherence engine.
type EngineConfig struct {
	Timezone           string        `mapstructure:"timezone"`
	GraceWindow        time.Duration `mapstructure:"grace_window"`
	FreshnessThreshold time.Duration `mapstructure:"freshness_threshold"`
	OnTimeWindow       time.Duration `mapstructure:"on_time_window"`
}

// SweepConfig controls the reminder sweep.
type SweepConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Spec            string        `mapstructure:"spec"` // cron spec, e.g. "@every 1m"
	TickWindow      time.Duration `mapstructure:"tick_window"`
	Lookback        time.Duration `mapstructure:"lookback"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

// CatalogConfig selects where interaction rules come from: "embedded",
// "file" or "postgres".
type CatalogConfig struct {
	Source string `mapstructure:"source"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// PredictorConfig configures the optional severity predictor.
type PredictorConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	BaseURL             string        `mapstructure:"base_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RateLimit           int           `mapstructure:"rate_limit"` // requests per second
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
	CacheSize           int           `mapstructure:"cache_size"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
}

// NotifyConfig configures reminder delivery channels.
type NotifyConfig struct {
	Log            bool          `mapstructure:"log"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	WebhookRate    int           `mapstructure:"webhook_rate"`
	WebSocket      bool          `mapstructure:"websocket"`
	SendGridAPIKey string        `mapstructure:"sendgrid_api_key"`
	EmailFrom      string        `mapstructure:"email_from"`
	EmailFromName  string        `mapstructure:"email_from_name"`
	// PatientEmails maps patient ids to addresses for e-mail reminders.
	PatientEmails map[string]string `mapstructure:"patient_emails"`
}
