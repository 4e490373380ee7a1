// Package config provides configuration management for the tender ingestion
// service. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Scraper   ScraperConfig
	Retry     RetryConfig
	Metrics   MetricsConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	Exchange  ExchangeConfig
	Transform TransformConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ScraperConfig holds the external scraper process configuration
type ScraperConfig struct {
	// BinaryPath is the scraper executable; WorkDir is its install path and
	// becomes the subprocess working directory.
	BinaryPath      string
	WorkDir         string
	DefaultHeadless bool
	DefaultWorkers  int
}

// RetryConfig holds the process retry/backoff policy
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// MetricsConfig holds performance threshold and housekeeping configuration
type MetricsConfig struct {
	SlowPageThreshold   time.Duration // per-page time before a medium alert
	MaxRuntimeThreshold time.Duration // total runtime before a high alert
	ErrorRateHigh       float64       // errors/pages ratio for a high alert
	ErrorRateCritical   float64       // errors/pages ratio for a critical alert
	MemoryThresholdMB   uint64
	WatchdogInterval    time.Duration
	CleanupInterval     time.Duration
	StaleMetricsAge     time.Duration
}

// SchedulerConfig holds recurring schedule configuration
type SchedulerConfig struct {
	SweepInterval        time.Duration // recovery sweep period
	PurgeAfter           time.Duration // inactive schedules older than this are purged
	DefaultIntervalHours int
	Bootstrap            bool // create a default schedule when none persist
	BootstrapTenantID    string
}

// RateLimitConfig holds the per-tenant API rate limit
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// ExchangeConfig holds currency conversion configuration
type ExchangeConfig struct {
	APIURL      string
	Timeout     time.Duration
	CacheTTL    time.Duration
	FallbackUSD float64
	FallbackMYR float64
}

// TransformConfig holds transformer configuration
type TransformConfig struct {
	CategoryRulesPath string // YAML keyword rules; built-in rules when empty
	TitlePrefixLen    int    // prefix length for the fuzzy dedup match
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// JobRetention is how long terminal jobs stay queryable in memory.
const JobRetention = 24 * time.Hour

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "tender_ingest"),
				User:           getEnv("POSTGRES_USER", "ingest"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "tender_ingest"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Scraper: ScraperConfig{
			BinaryPath:      getEnv("SCRAPER_BINARY", "tender-scraper"),
			WorkDir:         getEnv("SCRAPER_WORKDIR", "/opt/tender-scraper"),
			DefaultHeadless: getEnvAsBool("SCRAPER_HEADLESS", true),
			DefaultWorkers:  getEnvAsInt("SCRAPER_WORKERS", 4),
		},
		Retry: RetryConfig{
			MaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", 5*time.Second),
			MaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 30*time.Second),
			Multiplier:   getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
		},
		Metrics: MetricsConfig{
			SlowPageThreshold:   getEnvAsDuration("METRICS_SLOW_PAGE_THRESHOLD", 30*time.Second),
			MaxRuntimeThreshold: getEnvAsDuration("METRICS_MAX_RUNTIME", 30*time.Minute),
			ErrorRateHigh:       getEnvAsFloat("METRICS_ERROR_RATE_HIGH", 0.2),
			ErrorRateCritical:   getEnvAsFloat("METRICS_ERROR_RATE_CRITICAL", 0.5),
			MemoryThresholdMB:   uint64(getEnvAsInt("METRICS_MEMORY_THRESHOLD_MB", 500)),
			WatchdogInterval:    getEnvAsDuration("METRICS_WATCHDOG_INTERVAL", time.Minute),
			CleanupInterval:     getEnvAsDuration("METRICS_CLEANUP_INTERVAL", time.Hour),
			StaleMetricsAge:     getEnvAsDuration("METRICS_STALE_AGE", 24*time.Hour),
		},
		Scheduler: SchedulerConfig{
			SweepInterval:        getEnvAsDuration("SCHEDULER_SWEEP_INTERVAL", time.Minute),
			PurgeAfter:           getEnvAsDuration("SCHEDULER_PURGE_AFTER", 30*24*time.Hour),
			DefaultIntervalHours: getEnvAsInt("SCHEDULER_DEFAULT_INTERVAL_HOURS", 6),
			Bootstrap:            getEnvAsBool("SCHEDULER_BOOTSTRAP", false),
			BootstrapTenantID:    getEnv("SCHEDULER_BOOTSTRAP_TENANT", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Exchange: ExchangeConfig{
			APIURL:      getEnv("EXCHANGE_API_URL", "https://api.exchangerate-api.com/v4/latest/KZT"),
			Timeout:     getEnvAsDuration("EXCHANGE_API_TIMEOUT", 10*time.Second),
			CacheTTL:    getEnvAsDuration("EXCHANGE_CACHE_TTL", time.Hour),
			FallbackUSD: getEnvAsFloat("EXCHANGE_FALLBACK_USD", 0.002),
			FallbackMYR: getEnvAsFloat("EXCHANGE_FALLBACK_MYR", 0.0078),
		},
		Transform: TransformConfig{
			CategoryRulesPath: getEnv("CATEGORY_RULES_PATH", ""),
			TitlePrefixLen:    getEnvAsInt("DEDUP_TITLE_PREFIX_LEN", 50),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
