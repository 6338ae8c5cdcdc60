// Package config loads the proxy configuration.
//
// Values are layered: the embedded example file provides defaults, a TOML
// file on disk overrides them and SW_* environment variables override both.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/Sternrassler/movietracker-sw/pkg/cache"
	"github.com/Sternrassler/movietracker-sw/pkg/fetch"
	"github.com/Sternrassler/movietracker-sw/pkg/logging"
	"github.com/Sternrassler/movietracker-sw/pkg/router"
	"github.com/Sternrassler/movietracker-sw/pkg/strategy"
)

//go:embed config.example.toml
var exampleConfig string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SW_"

// Config is the complete proxy configuration.
type Config struct {
	Server       ServerConfig       `toml:"server" envPrefix:"SERVER_"`
	Origin       OriginConfig       `toml:"origin" envPrefix:"ORIGIN_"`
	Redis        RedisConfig        `toml:"redis" envPrefix:"REDIS_"`
	Cache        CacheConfig        `toml:"cache" envPrefix:"CACHE_"`
	Routes       RoutesConfig       `toml:"routes" envPrefix:"ROUTES_"`
	Fetch        FetchConfig        `toml:"fetch" envPrefix:"FETCH_"`
	Refresh      RefreshConfig      `toml:"refresh" envPrefix:"REFRESH_"`
	Outbox       OutboxConfig       `toml:"outbox" envPrefix:"OUTBOX_"`
	Connectivity ConnectivityConfig `toml:"connectivity" envPrefix:"CONNECTIVITY_"`
	Log          LogConfig          `toml:"log" envPrefix:"LOG_"`
	Telemetry    TelemetryConfig    `toml:"telemetry" envPrefix:"TELEMETRY_"`
}

type ServerConfig struct {
	Addr            string        `toml:"addr" env:"ADDR"`
	ReadTimeout     time.Duration `toml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `toml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type OriginConfig struct {
	URL string `toml:"url" env:"URL"`
}

type RedisConfig struct {
	Enabled  bool   `toml:"enabled" env:"ENABLED"`
	Addr     string `toml:"addr" env:"ADDR"`
	Password string `toml:"password" env:"PASSWORD"`
	DB       int    `toml:"db" env:"DB"`
}

type CacheConfig struct {
	Prefix      string   `toml:"prefix" env:"PREFIX"`
	Version     string   `toml:"version" env:"VERSION"`
	SeedWorkers int      `toml:"seed_workers" env:"SEED_WORKERS"`
	Manifest    []string `toml:"manifest" env:"MANIFEST"`
}

type RoutesConfig struct {
	APIPatterns []string `toml:"api_patterns" env:"API_PATTERNS"`
	SharePath   string   `toml:"share_path" env:"SHARE_PATH"`
}

type FetchConfig struct {
	UserAgent      string        `toml:"user_agent" env:"USER_AGENT"`
	Timeout        time.Duration `toml:"timeout" env:"TIMEOUT"`
	MaxAttempts    int           `toml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialBackoff time.Duration `toml:"initial_backoff" env:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `toml:"max_backoff" env:"MAX_BACKOFF"`
}

type RefreshConfig struct {
	Timeout     time.Duration `toml:"timeout" env:"TIMEOUT"`
	Rate        float64       `toml:"rate" env:"RATE"`
	Burst       int           `toml:"burst" env:"BURST"`
	Conditional bool          `toml:"conditional" env:"CONDITIONAL"`
}

type OutboxConfig struct {
	Enabled     bool   `toml:"enabled" env:"ENABLED"`
	Path        string `toml:"path" env:"PATH"`
	MaxAttempts int    `toml:"max_attempts" env:"MAX_ATTEMPTS"`
}

type ConnectivityConfig struct {
	OfflineThreshold int           `toml:"offline_threshold" env:"OFFLINE_THRESHOLD"`
	PingInterval     time.Duration `toml:"ping_interval" env:"PING_INTERVAL"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled" env:"ENABLED"`
	Endpoint    string `toml:"endpoint" env:"ENDPOINT"`
	ServiceName string `toml:"service_name" env:"SERVICE_NAME"`
}

// DefaultConfig returns the configuration of the embedded example file.
func DefaultConfig() Config {
	var cfg Config
	if _, err := toml.Decode(exampleConfig, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded example is invalid: %v", err))
	}
	return cfg
}

// Example returns the embedded example configuration file.
func Example() string {
	return exampleConfig
}

// Load reads the configuration at path on top of the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file; a missing file is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteExample writes the example configuration to path, creating parent
// directories. An existing file is left untouched.
func WriteExample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, []byte(exampleConfig), 0o644)
}

// Validate checks the values the proxy cannot start without.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if _, err := c.OriginURL(); err != nil {
		errs = append(errs, err)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if c.Cache.SeedWorkers < 1 {
		errs = append(errs, errors.New("cache.seed_workers must be at least 1"))
	}
	if _, err := router.CompilePatterns(c.Routes.APIPatterns); err != nil {
		errs = append(errs, fmt.Errorf("routes.api_patterns: %w", err))
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, errors.New("fetch.max_attempts must be at least 1"))
	}
	if c.Refresh.Rate < 0 {
		errs = append(errs, errors.New("refresh.rate must not be negative"))
	}
	if c.Outbox.Enabled && c.Outbox.Path == "" {
		errs = append(errs, errors.New("outbox.path is required when the outbox is enabled"))
	}
	if c.Connectivity.OfflineThreshold < 1 {
		errs = append(errs, errors.New("connectivity.offline_threshold must be at least 1"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}

// OriginURL parses the app origin. It must be an absolute http(s) URL.
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin.URL)
	if err != nil {
		return nil, fmt.Errorf("origin.url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("origin.url must be an absolute http(s) URL, got %q", c.Origin.URL)
	}
	return u, nil
}

// Partitions returns the cache partition names of the configured version.
func (c Config) Partitions() cache.Partitions {
	return cache.NewPartitions(c.Cache.Prefix, c.Cache.Version)
}

// FetchClient returns the network client configuration.
func (c Config) FetchClient() fetch.Config {
	return fetch.Config{
		UserAgent: c.Fetch.UserAgent,
		Timeout:   c.Fetch.Timeout,
	}
}

// FetchRetry returns the retry policy of install-time manifest fetches.
// Requests answered through the strategies are never retried.
func (c Config) FetchRetry() fetch.RetryConfig {
	retry := fetch.DefaultRetryConfig()
	retry.MaxAttempts = c.Fetch.MaxAttempts
	retry.InitialBackoff = c.Fetch.InitialBackoff
	retry.MaxBackoff = c.Fetch.MaxBackoff
	return retry
}

// OutboxRetry returns the retry policy of outbox replays.
func (c Config) OutboxRetry() fetch.RetryConfig {
	retry := c.FetchRetry()
	if c.Outbox.MaxAttempts > 0 {
		retry.MaxAttempts = c.Outbox.MaxAttempts
	}
	return retry
}

// RefreshConfig returns the background refresh settings.
func (c Config) RefreshConfig() strategy.RefreshConfig {
	return strategy.RefreshConfig{
		Timeout:     c.Refresh.Timeout,
		Rate:        c.Refresh.Rate,
		Burst:       c.Refresh.Burst,
		Conditional: c.Refresh.Conditional,
	}
}

// RouterConfig returns the strategy selector settings.
// Validate must have accepted the patterns.
func (c Config) RouterConfig() router.Config {
	cfg := router.DefaultConfig()
	cfg.Partitions = c.Partitions()
	cfg.SharePath = c.Routes.SharePath
	if len(c.Routes.APIPatterns) > 0 {
		patterns, err := router.CompilePatterns(c.Routes.APIPatterns)
		if err == nil {
			cfg.Rules.APIPatterns = patterns
		}
	}
	return cfg
}

// Logging returns the logger settings.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Format == "console"
	return cfg
}
