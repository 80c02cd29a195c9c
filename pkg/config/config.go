package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for bookpulse-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration for the result cache. Optional: when Host is empty
	// the engine falls back to the in-memory cache.
	Redis RedisConfig `yaml:"redis"`

	// Cache behavior for computed metrics results.
	Cache CacheConfig `yaml:"cache"`

	// Scheduler intervals for the maintenance jobs.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Retention windows for audit and KPI data.
	Retention RetentionConfig `yaml:"retention"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"bookpulse"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"bookpulse_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString builds a pgx-compatible connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// CacheConfig controls the metrics result cache.
type CacheConfig struct {
	// DefaultTTLMinutes is applied when a KPI definition does not carry its own TTL.
	DefaultTTLMinutes int `yaml:"default_ttl_minutes" env:"CACHE_DEFAULT_TTL_MINUTES" env-default:"60"`
}

// DefaultTTL returns the configured default TTL as a duration.
func (c *CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLMinutes) * time.Minute
}

// SchedulerConfig controls the maintenance scheduler. Only the real-time
// interval is configurable; the other jobs fire on calendar boundaries.
type SchedulerConfig struct {
	Enabled                 bool `yaml:"enabled" env:"SCHEDULER_ENABLED" env-default:"true"`
	RealtimeIntervalMinutes int  `yaml:"realtime_interval_minutes" env:"SCHEDULER_REALTIME_INTERVAL_MINUTES" env-default:"5"`
}

// RealtimeInterval returns how often real-time KPIs are recomputed.
func (c *SchedulerConfig) RealtimeInterval() time.Duration {
	return time.Duration(c.RealtimeIntervalMinutes) * time.Minute
}

// RetentionConfig holds data aging windows.
type RetentionConfig struct {
	// AuditArchiveYears is how long audit records stay in the hot table
	// before the daily job moves them to the archive table.
	AuditArchiveYears int `yaml:"audit_archive_years" env:"RETENTION_AUDIT_ARCHIVE_YEARS" env-default:"2"`
	// ColdStorageYears is how long archived records stay before the monthly
	// job moves them to cold storage.
	ColdStorageYears int `yaml:"cold_storage_years" env:"RETENTION_COLD_STORAGE_YEARS" env-default:"5"`
	// SystemEventDays is how long processed system events are kept.
	SystemEventDays int `yaml:"system_event_days" env:"RETENTION_SYSTEM_EVENT_DAYS" env-default:"30"`
	// KPIValueDays is the global sweep cutoff for old KPI values. Each KPI
	// definition's own retention window is a floor the sweep never crosses.
	KPIValueDays int `yaml:"kpi_value_days" env:"RETENTION_KPI_VALUE_DAYS" env-default:"730"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD,
// REDIS_PASSWORD) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv reads configuration from environment variables only.
// Used when no config.yaml is present (containerized deployments).
func LoadFromEnv(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return cfg, nil
}
