// Package config provides configuration loading for the descgen service.
// Configuration comes from a YAML file with environment variable overrides;
// .env files are loaded first so local development can override without
// touching the shell.
package config

import (
	"time"
)

// Default configuration values.
const (
	defaultServiceName        = "descgen"
	defaultServiceVersion     = "1.0.0"
	defaultServicePort        = 8090
	defaultDatabasePath       = "descgen.db"
	defaultLogLevel           = "info"
	defaultPollIntervalSec    = 30
	defaultLeaseSec           = 300
	defaultMaxAttempts        = 3
	defaultRetryBaseSec       = 60
	defaultCycleLockTTLSec    = 600
	defaultHeartbeatMaxAgeSec = 120
	defaultOptionalBudget     = 20
	defaultUpstreamRetries    = 2
	defaultUpstreamBackoffSec = 2
	defaultCooldownBaseSec    = 300
	defaultCooldownMaxSec     = 3600
	defaultCacheTTLHours      = 6
)

// Config holds all configuration for the service.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Database  DatabaseConfig  `yaml:"database"`
	Worker    WorkerConfig    `yaml:"worker"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `env:"DESCGEN_PORT" yaml:"port"`
	Debug   bool   `env:"APP_DEBUG"    yaml:"debug"`
}

// DatabaseConfig holds the embedded database configuration.
type DatabaseConfig struct {
	Path string `env:"DESCGEN_DB_PATH" yaml:"path"`
}

// WorkerConfig holds worker loop configuration.
type WorkerConfig struct {
	PollInterval    time.Duration `env:"DESCGEN_POLL_INTERVAL" yaml:"poll_interval"`
	LeaseTTL        time.Duration `yaml:"lease_ttl"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryBase       time.Duration `yaml:"retry_base"`
	CycleLockTTL    time.Duration `yaml:"cycle_lock_ttl"`
	HeartbeatMaxAge time.Duration `yaml:"heartbeat_max_age"`
	OptionalBudget  int           `env:"DESCGEN_OPTIONAL_BUDGET" yaml:"optional_budget"`
}

// UpstreamConfig holds the default policy for outbound service calls.
// Individual call sites may override any of these per call.
type UpstreamConfig struct {
	RetryCount   int           `yaml:"retry_count"`
	Backoff      time.Duration `yaml:"backoff"`
	CooldownBase time.Duration `yaml:"cooldown_base"`
	CooldownMax  time.Duration `yaml:"cooldown_max"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	RateRPS      int           `yaml:"rate_rps"`
}

// EndpointsConfig holds base URLs for the upstream services the worker
// calls. The activities endpoint is required by the worker; weather and
// nutrition are optional and their enrichment steps are skipped when the
// URL is empty.
type EndpointsConfig struct {
	ActivitiesURL string `env:"DESCGEN_ACTIVITIES_URL" yaml:"activities_url"`
	WeatherURL    string `env:"DESCGEN_WEATHER_URL"    yaml:"weather_url"`
	NutritionURL  string `env:"DESCGEN_NUTRITION_URL"  yaml:"nutrition_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `env:"LOG_LEVEL" yaml:"level"`
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.Version == "" {
		cfg.Service.Version = defaultServiceVersion
	}
	if cfg.Service.Port == 0 {
		cfg.Service.Port = defaultServicePort
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaultDatabasePath
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = defaultPollIntervalSec * time.Second
	}
	if cfg.Worker.LeaseTTL == 0 {
		cfg.Worker.LeaseTTL = defaultLeaseSec * time.Second
	}
	if cfg.Worker.MaxAttempts == 0 {
		cfg.Worker.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Worker.RetryBase == 0 {
		cfg.Worker.RetryBase = defaultRetryBaseSec * time.Second
	}
	if cfg.Worker.CycleLockTTL == 0 {
		cfg.Worker.CycleLockTTL = defaultCycleLockTTLSec * time.Second
	}
	if cfg.Worker.HeartbeatMaxAge == 0 {
		cfg.Worker.HeartbeatMaxAge = defaultHeartbeatMaxAgeSec * time.Second
	}
	if cfg.Worker.OptionalBudget == 0 {
		cfg.Worker.OptionalBudget = defaultOptionalBudget
	}
	if cfg.Upstream.RetryCount == 0 {
		cfg.Upstream.RetryCount = defaultUpstreamRetries
	}
	if cfg.Upstream.Backoff == 0 {
		cfg.Upstream.Backoff = defaultUpstreamBackoffSec * time.Second
	}
	if cfg.Upstream.CooldownBase == 0 {
		cfg.Upstream.CooldownBase = defaultCooldownBaseSec * time.Second
	}
	if cfg.Upstream.CooldownMax == 0 {
		cfg.Upstream.CooldownMax = defaultCooldownMaxSec * time.Second
	}
	if cfg.Upstream.CacheTTL == 0 {
		cfg.Upstream.CacheTTL = defaultCacheTTLHours * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLogLevel
	}
}
