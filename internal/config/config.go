package config

import (
	"time"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/core/graph"
)

// Config represents the complete application configuration.
// Precedence, lowest first: defaults, config file, environment, runtime overrides.
type Config struct {
	Server      ServerConfig        `mapstructure:"server"`
	Logging     LoggingConfig       `mapstructure:"logging"`
	Metrics     MetricsConfig       `mapstructure:"metrics"`
	Health      HealthConfig        `mapstructure:"health"`
	Store       StoreConfig         `mapstructure:"store"`
	Redis       RedisConfig         `mapstructure:"redis"`
	Graph       GraphConfig         `mapstructure:"graph"`
	Throttle    core.ThrottleConfig `mapstructure:"throttle"`
	Guard       GuardConfig         `mapstructure:"guard"`
	Credentials CredentialsConfig   `mapstructure:"credentials"`
	App         AppConfig           `mapstructure:"app"`
	Auth        AuthConfig          `mapstructure:"auth"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// MaxUploadSize bounds multipart request bodies accepted from clients.
	MaxUploadSize int64 `mapstructure:"max_upload_size"`
	// TrustProxyHeaders lets forwarding headers set the client address.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

// StoreConfig selects and configures the credential store.
type StoreConfig struct {
	// Driver is one of libsql, file or redis.
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RedisConfig is used by the redis store driver.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// GraphConfig points the executor at the upstream API.
type GraphConfig struct {
	BaseURL   string         `mapstructure:"base_url"`
	UploadURL string         `mapstructure:"upload_url"`
	Timeouts  graph.Timeouts `mapstructure:"timeouts"`
}

// GuardConfig configures duplicate suppression.
type GuardConfig struct {
	Window time.Duration `mapstructure:"window"`
}

// CredentialsConfig carries the statically configured credential sources.
type CredentialsConfig struct {
	// PageTokens is the raw credential map: structured JSON/YAML, or
	// "id|token" entries separated by newlines or commas.
	PageTokens string `mapstructure:"page_tokens"`
	// Resources is merged over PageTokens.
	Resources   map[string]string `mapstructure:"resources"`
	MasterToken string            `mapstructure:"master_token"`
	// TokensFile backs the file store driver.
	TokensFile string `mapstructure:"tokens_file"`
}

// AppConfig holds the upstream application identity. It is carried for operators
// and never sent by the gateway itself.
type AppConfig struct {
	ID     string `mapstructure:"id"`
	Secret string `mapstructure:"secret"`
}

// AuthConfig configures the shared-secret gate in front of /api.
type AuthConfig struct {
	// AccessPin disables the gate when empty.
	AccessPin            string `mapstructure:"access_pin"`
	MaxAttemptsPerMinute int    `mapstructure:"max_attempts_per_minute"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
