// Package config provides configuration management for the bid poller.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/emoki/snipr/internal/models"
	"github.com/emoki/snipr/internal/types"
)

// Storage drivers
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Polling   PollingConfig
	Network   NetworkConfig
	Items     []models.ItemRef
	Registry  RegistryConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	AutoMigrate    bool
	MigrationsPath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// StorageConfig selects the snapshot store backend
type StorageConfig struct {
	Driver       string
	CacheEnabled bool
	CacheTTL     time.Duration
}

// PollingConfig holds scheduler timing. MinInterval/MaxInterval bound the
// jittered gap between polls of one item; EndGrace is how long a price must
// stay unchanged before the auction is considered over.
type PollingConfig struct {
	MinInterval time.Duration
	MaxInterval time.Duration
	EndGrace    time.Duration
}

// NetworkConfig holds outbound request behaviour
type NetworkConfig struct {
	RotateUserAgents      bool
	UseProxies            bool
	ProxyFile             string
	RetryBackoff          time.Duration
	FetchTimeout          time.Duration
	SiteRequestsPerSecond float64
	BreakerMaxFailures    int
	BreakerResetTimeout   time.Duration
}

// RegistryConfig controls how often the tracking registry is re-read
type RegistryConfig struct {
	SyncInterval time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	items, err := parseItems(getEnv("TRACK_ITEMS", ""))
	if err != nil {
		return nil, err
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
				Database:       getEnv("POSTGRES_DB", "snipr"),
				User:           getEnv("POSTGRES_USER", "snipr"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
				AutoMigrate:    getEnvAsBool("AUTO_MIGRATE", false),
				MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations/postgres"),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
		},
		Storage: StorageConfig{
			Driver:       strings.ToLower(getEnv("STORAGE_DRIVER", StorageDriverPostgres)),
			CacheEnabled: getEnvAsBool("CACHE_ENABLED", false),
			CacheTTL:     getEnvAsDuration("CACHE_TTL", 10*time.Minute),
		},
		Polling: PollingConfig{
			MinInterval: getEnvAsSeconds("POLL_MIN_SECONDS", 30),
			MaxInterval: getEnvAsSeconds("POLL_MAX_SECONDS", 60),
			EndGrace:    getEnvAsSeconds("POLL_END_GRACE_SECONDS", 60),
		},
		Network: NetworkConfig{
			RotateUserAgents:      getEnvAsBool("ROTATE_USER_AGENTS", true),
			UseProxies:            getEnvAsBool("USE_PROXIES", false),
			ProxyFile:             getEnv("PROXY_FILE", "proxies.txt"),
			RetryBackoff:          getEnvAsSeconds("RETRY_BACKOFF_SECONDS", 10),
			FetchTimeout:          getEnvAsDuration("FETCH_TIMEOUT", 30*time.Second),
			SiteRequestsPerSecond: getEnvAsFloat("SITE_REQUESTS_PER_SECOND", 1),
			BreakerMaxFailures:    getEnvAsInt("BREAKER_MAX_FAILURES", 5),
			BreakerResetTimeout:   getEnvAsDuration("BREAKER_RESET_TIMEOUT", 60*time.Second),
		},
		Items: items,
		Registry: RegistryConfig{
			SyncInterval: getEnvAsDuration("REGISTRY_SYNC_INTERVAL", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("API_REQUESTS_PER_SECOND", 20),
			Burst:             getEnvAsInt("API_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects settings the scheduler cannot run with
func (c *Config) Validate() error {
	p := c.Polling
	if p.MinInterval <= 0 {
		return fmt.Errorf("POLL_MIN_SECONDS must be positive, got %s", p.MinInterval)
	}
	if p.MaxInterval < p.MinInterval {
		return fmt.Errorf("POLL_MAX_SECONDS (%s) must be >= POLL_MIN_SECONDS (%s)", p.MaxInterval, p.MinInterval)
	}
	if p.EndGrace <= 0 {
		return fmt.Errorf("POLL_END_GRACE_SECONDS must be positive, got %s", p.EndGrace)
	}
	if c.Network.RetryBackoff < 0 {
		return fmt.Errorf("RETRY_BACKOFF_SECONDS must not be negative, got %s", c.Network.RetryBackoff)
	}
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}
	return nil
}

// parseItems reads the static item list: comma separated "site|url[|title]" entries
func parseItems(raw string) ([]models.ItemRef, error) {
	var items []models.ItemRef
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, "|", 3)
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid TRACK_ITEMS entry %q, want site|url[|title]", entry)
		}

		item := models.ItemRef{
			Site: types.NormalizeSite(parts[0]),
			URL:  strings.TrimSpace(parts[1]),
		}
		if len(parts) == 3 {
			if title := strings.TrimSpace(parts[2]); title != "" {
				item.Title = &title
			}
		}
		items = append(items, item)
	}
	return items, nil
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
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds reads a whole number of seconds
func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
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
