// Package config provides configuration management for the tag gallery service.
// It loads configuration from environment variables and .env files.
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
	Server     ServerConfig
	Gallery    GalleryConfig
	Session    SessionConfig
	Upstream   UpstreamConfig
	Moderation ModerationConfig
	Gateways   GatewayConfig
	Redis      RedisConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// GalleryConfig holds the campaign scope of the gallery
type GalleryConfig struct {
	Tag            string // space-separated campaign tags
	ExtraPredicate string // optional GraphQL where-fragment, spliced verbatim
	DefaultLimit   int    // initial page size and "load more" increment
}

// SessionConfig holds gallery session limits
type SessionConfig struct {
	IdleTimeout  time.Duration // sessions unseen for this long are closed
	ReapInterval time.Duration
	MaxSessions  int // 0 means unlimited
}

// UpstreamConfig holds the remote GraphQL API configuration
type UpstreamConfig struct {
	Endpoint string
	Timeout  time.Duration
	Budget   int           // max upstream requests per BudgetWindow, 0 disables
	Window   time.Duration // budget window
}

// ModerationConfig holds the sources of the exclusion list
type ModerationConfig struct {
	Inline string // "KT1...:id,KT1...:id"
	File   string // JSON file with [{"fa2_address":..,"token_id":..}]
}

// GatewayConfig holds IPFS gateway base URLs
type GatewayConfig struct {
	Default string
	Fxhash  string
	Teia    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
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

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Gallery: GalleryConfig{
			Tag:            getEnv("TAG", "tezos4tezos"),
			ExtraPredicate: getEnv("EXTRA_GQL_FILTER", ""),
			DefaultLimit:   getEnvAsInt("DEFAULT_LIMIT", 30),
		},
		Session: SessionConfig{
			IdleTimeout:  getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute),
			ReapInterval: getEnvAsDuration("SESSION_REAP_INTERVAL", time.Minute),
			MaxSessions:  getEnvAsInt("MAX_SESSIONS", 10000),
		},
		Upstream: UpstreamConfig{
			Endpoint: getEnv("TEZTOK_API", "https://api.teztok.com/v1/graphql"),
			Timeout:  getEnvAsDuration("UPSTREAM_TIMEOUT", 30*time.Second),
			Budget:   getEnvAsInt("UPSTREAM_BUDGET", 0),
			Window:   getEnvAsDuration("UPSTREAM_BUDGET_WINDOW", time.Minute),
		},
		Moderation: ModerationConfig{
			Inline: getEnv("EXCLUDED_TOKENS", ""),
			File:   getEnv("EXCLUDED_TOKENS_FILE", ""),
		},
		Gateways: GatewayConfig{
			Default: getEnv("IPFS_GATEWAY", "https://ipfs.io/ipfs/"),
			Fxhash:  getEnv("FXHASH_IPFS_GATEWAY", "https://gateway.fxhash.xyz/ipfs/"),
			Teia:    getEnv("TEIA_IPFS_GATEWAY", "https://cache.teia.rocks/ipfs/"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
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

// Validate checks the values the gallery cannot run without
func (c *Config) Validate() error {
	if c.Gallery.Tag == "" {
		return fmt.Errorf("TAG must not be empty")
	}
	if c.Gallery.DefaultLimit <= 0 {
		return fmt.Errorf("DEFAULT_LIMIT must be positive, got %d", c.Gallery.DefaultLimit)
	}
	if c.Upstream.Endpoint == "" {
		return fmt.Errorf("TEZTOK_API must not be empty")
	}
	if c.Session.IdleTimeout <= 0 || c.Session.ReapInterval <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT and SESSION_REAP_INTERVAL must be positive")
	}
	if c.Session.MaxSessions < 0 {
		return fmt.Errorf("MAX_SESSIONS cannot be negative")
	}
	if c.Upstream.Budget < 0 {
		return fmt.Errorf("UPSTREAM_BUDGET cannot be negative")
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive, got %d", c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be positive, got %d", c.RateLimit.Burst)
	}
	return nil
}

// UpstreamBudgetEnabled reports whether upstream requests are metered through Redis
func (c *Config) UpstreamBudgetEnabled() bool {
	return c.Upstream.Budget > 0
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
