// Package config provides centralized configuration management for pagegate.
// Settings are layered in this order, later layers winning:
// defaults registered on viper, the config file, environment variables, runtime
// overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/pagegate/pagegate/internal/core"
	"github.com/pagegate/pagegate/internal/core/engine"
	"github.com/pagegate/pagegate/internal/core/graph"
)

const (
	// AppName names the XDG config and data directories.
	AppName = "pagegate"
	// EnvPrefix is prepended to every environment variable.
	EnvPrefix = "PAGEGATE"
)

// Store drivers
const (
	DriverLibsql = "libsql"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex
)

// EnvVarSpec defines environment variable mappings for config fields
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "15m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.max_upload_size", 1<<30)
	v.SetDefault("server.trust_proxy_headers", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Metrics and health defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)

	// Store defaults
	v.SetDefault("store.driver", DriverLibsql)
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", AppName)

	// Upstream defaults
	v.SetDefault("graph.base_url", graph.DefaultBaseURL)
	v.SetDefault("graph.upload_url", graph.DefaultUploadURL)
	v.SetDefault("graph.timeouts.get", graph.DefaultTimeouts.Get.String())
	v.SetDefault("graph.timeouts.post", graph.DefaultTimeouts.Post.String())
	v.SetDefault("graph.timeouts.multipart", graph.DefaultTimeouts.Multipart.String())
	v.SetDefault("graph.timeouts.transfer", graph.DefaultTimeouts.Transfer.String())

	v.SetDefault("throttle.global_min_interval", core.DefaultThrottle.GlobalMinInterval.String())
	v.SetDefault("throttle.per_resource_min_interval", core.DefaultThrottle.PerResourceMinInterval.String())
	v.SetDefault("guard.window", engine.DefaultDuplicateWindow.String())

	v.SetDefault("credentials.tokens_file", DefaultTokensPath())
	v.SetDefault("auth.max_attempts_per_minute", 10)
}

// Load decodes the settings held by v (the global viper when nil) into a typed
// Config, applying environment and runtime overrides on top.
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, v *viper.Viper, runtimeOverrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v == nil {
		v = viper.GetViper()
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	merged := v.AllSettings()
	mergeSettings(merged, envOverrides)
	for _, overrides := range runtimeOverrides {
		mergeSettings(merged, overrides)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyFallbacks(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	var errs []error
	switch cfg.Store.Driver {
	case DriverLibsql, DriverFile, DriverRedis:
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported driver %q", cfg.Store.Driver))
	}
	if cfg.Throttle.GlobalMinInterval < 0 || cfg.Throttle.PerResourceMinInterval < 0 {
		errs = append(errs, errors.New("throttle: intervals must not be negative"))
	}
	if cfg.Guard.Window < 0 {
		errs = append(errs, errors.New("guard.window must not be negative"))
	}
	if cfg.Store.Driver == DriverFile && strings.TrimSpace(cfg.Credentials.TokensFile) == "" {
		errs = append(errs, errors.New("credentials.tokens_file is required for the file store"))
	}
	return errors.Join(errs...)
}

func applyFallbacks(cfg *Config) {
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverLibsql
	}
	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if strings.TrimSpace(cfg.Credentials.TokensFile) == "" {
		cfg.Credentials.TokensFile = DefaultTokensPath()
	}
	if strings.TrimSpace(cfg.Redis.Prefix) == "" {
		cfg.Redis.Prefix = AppName
	}
	if cfg.Guard.Window == 0 {
		cfg.Guard.Window = engine.DefaultDuplicateWindow
	}
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

// getEnvSpecs maps environment variables to config paths. The unprefixed names are
// accepted for deployments migrating from older setups; prefixed names win.
func getEnvSpecs() []EnvVarSpec {
	prefix := EnvPrefix + "_"

	return []EnvVarSpec{
		// Legacy names
		{Name: "PAGE_TOKENS", Path: []string{"credentials", "page_tokens"}, Type: EnvString},
		{Name: "TOKENS_FILE", Path: []string{"credentials", "tokens_file"}, Type: EnvString},
		{Name: "ACCESS_PIN", Path: []string{"auth", "access_pin"}, Type: EnvString},
		{Name: "FB_APP_ID", Path: []string{"app", "id"}, Type: EnvString},
		{Name: "FB_APP_SECRET", Path: []string{"app", "secret"}, Type: EnvString},
		{Name: "GLOBAL_MIN_INTERVAL", Path: []string{"throttle", "global_min_interval"}, Type: EnvString},
		{Name: "PER_PAGE_MIN_INTERVAL", Path: []string{"throttle", "per_resource_min_interval"}, Type: EnvString},

		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},
		{Name: prefix + "REDIS_ADDR", Path: []string{"redis", "addr"}, Type: EnvString},
		{Name: prefix + "REDIS_PASSWORD", Path: []string{"redis", "password"}, Type: EnvString},
		{Name: prefix + "REDIS_DB", Path: []string{"redis", "db"}, Type: EnvInt},
		{Name: prefix + "REDIS_PREFIX", Path: []string{"redis", "prefix"}, Type: EnvString},

		// Upstream config
		{Name: prefix + "GRAPH_BASE_URL", Path: []string{"graph", "base_url"}, Type: EnvString},
		{Name: prefix + "GRAPH_UPLOAD_URL", Path: []string{"graph", "upload_url"}, Type: EnvString},
		{Name: prefix + "THROTTLE_GLOBAL", Path: []string{"throttle", "global_min_interval"}, Type: EnvString},
		{Name: prefix + "THROTTLE_PER_RESOURCE", Path: []string{"throttle", "per_resource_min_interval"}, Type: EnvString},
		{Name: prefix + "GUARD_WINDOW", Path: []string{"guard", "window"}, Type: EnvString},

		// Credentials and gate
		{Name: prefix + "PAGE_TOKENS", Path: []string{"credentials", "page_tokens"}, Type: EnvString},
		{Name: prefix + "MASTER_TOKEN", Path: []string{"credentials", "master_token"}, Type: EnvString},
		{Name: prefix + "TOKENS_FILE", Path: []string{"credentials", "tokens_file"}, Type: EnvString},
		{Name: prefix + "APP_ID", Path: []string{"app", "id"}, Type: EnvString},
		{Name: prefix + "APP_SECRET", Path: []string{"app", "secret"}, Type: EnvString},
		{Name: prefix + "ACCESS_PIN", Path: []string{"auth", "access_pin"}, Type: EnvString},
	}
}

// mergeSettings deep-merges src into dst.
func mergeSettings(dst, src map[string]any) {
	for key, value := range src {
		key = strings.ToLower(key)
		srcMap, srcIsMap := value.(map[string]any)
		if dstMap, ok := dst[key].(map[string]any); ok && srcIsMap {
			mergeSettings(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
}

// secondsToDurationHookFunc accepts bare numbers as seconds for duration fields, so
// "1.5" and 2 both work next to "1500ms".
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch from.Kind() {
		case reflect.String:
			raw := strings.TrimSpace(data.(string))
			seconds, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return data, nil
			}
			return time.Duration(seconds * float64(time.Second)), nil
		case reflect.Int, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		}
		return data, nil
	}
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(AppName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}

// DefaultTokensPath returns the XDG-compliant path to the file store document.
func DefaultTokensPath() string {
	dataDir := DefaultDataDir()
	if strings.TrimSpace(dataDir) == "" {
		return "./tokens.json"
	}
	return filepath.Join(dataDir, "tokens.json")
}
