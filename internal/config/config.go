package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Decision sources for the boot endpoint and the bridge runtime.
const (
	SourceHTTP     = "http"
	SourcePostgres = "postgres"
)

// Config holds all configuration values for the application
type Config struct {
	Port            string
	AllowedOrigins  []string
	LogLevel        string
	LogFormat       string // json | console
	Environment     string
	DatabaseURL     string
	RedisURL        string
	APIBase         string // base URL runtimes use for boot fetches and event reports
	DecisionSource  string // http | postgres
	IdentitySecret  string
	SessionIdle     time.Duration
	PayloadCacheTTL time.Duration
	DebugAllowed    bool // lets bridge clients request inspect snapshots
	EventRateLimit  int  // event reports per visitor per minute, 0 disables
	EventRetention  int  // days of stored events to keep, 0 keeps everything
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  parseOrigins(getEnv("ALLOWED_ORIGINS", "*")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "json")),
		Environment:     getEnv("ENVIRONMENT", "production"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", ""),
		APIBase:         strings.TrimRight(getEnv("API_BASE", "http://localhost:8080"), "/"),
		DecisionSource:  strings.ToLower(getEnv("DECISION_SOURCE", SourcePostgres)),
		IdentitySecret:  getEnv("IDENTITY_SECRET", ""),
		SessionIdle:     getDurationEnv("SESSION_IDLE", 30*time.Minute),
		PayloadCacheTTL: getDurationEnv("PAYLOAD_CACHE_TTL", 60*time.Second),
		DebugAllowed:    getBoolEnv("DEBUG_ALLOWED", false),
		EventRateLimit:  getIntEnv("EVENT_RATE_LIMIT", 120),
		EventRetention:  getIntEnv("EVENT_RETENTION_DAYS", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks combinations that cannot work at runtime
func (c *Config) Validate() error {
	switch c.DecisionSource {
	case SourceHTTP, SourcePostgres:
	default:
		return fmt.Errorf("invalid DECISION_SOURCE %q: want %s or %s", c.DecisionSource, SourceHTTP, SourcePostgres)
	}
	if c.DecisionSource == SourcePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when DECISION_SOURCE=%s", SourcePostgres)
	}
	if c.IdentitySecret == "" && c.Environment == "production" {
		return fmt.Errorf("IDENTITY_SECRET is required in production")
	}
	return nil
}

// IsDevelopment reports whether the service runs outside production
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// getEnv gets an environment variable with a fallback value
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// parseOrigins parses comma-separated origins into a slice
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// getBoolEnv gets a boolean environment variable with a fallback value
func getBoolEnv(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getIntEnv gets an integer environment variable with a fallback value
func getIntEnv(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getDurationEnv accepts Go duration strings ("90s") or plain seconds ("90")
func getDurationEnv(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
