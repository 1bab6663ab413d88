// Package config provides configuration management for the mail router.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration so the service starts safely.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - TLS_CERT / TLS_KEY: Paths enabling HTTPS when both are set
//
// Database Configuration:
//   - POSTGRES_HOST: PostgreSQL host (default: localhost)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (default: mail_router)
//   - POSTGRES_USER: PostgreSQL username (default: postgres)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration (optional; empty REDIS_ADDRESS disables the shared
// rule cache and the rule-change subscriber):
//   - REDIS_ADDRESS: Redis server address
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Evaluation:
//   - EVALUATION_BUDGET: Per-message evaluation time budget (default: 250ms)
//   - MERGE_POLICY: domain_first, transport_first or by_priority
//     (default: domain_first)
//   - RULE_CACHE_TTL: Rule snapshot TTL (default: 1m)
//   - CACHE_FLUSH_SCHEDULE: Cron spec for the safety-net cache flush
//     (default: "0 */6 * * *")
//
// Webhook Notifications:
//   - WEBHOOK_TIMEOUT: Per-request timeout (default: 10s)
//   - WEBHOOK_MAX_ATTEMPTS: Delivery attempts per webhook (default: 3)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the mail router. All fields
// correspond to environment variables that can be set to override defaults.
// Load the configuration with Load() and validate it with Validate() before
// use.
type Config struct {
	// Application settings
	Port     string // Server port number
	LogLevel string // Logging level (debug, info, warn, error)
	TLSCert  string // TLS certificate path, empty for plain HTTP
	TLSKey   string // TLS key path

	// PostgreSQL rule store
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis for the shared rule cache and rule-change fan-out
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Evaluation tuning
	EvaluationBudget   string // Per-message time budget (duration string)
	MergePolicy        string // domain_first, transport_first, by_priority
	RuleCacheTTL       string // Snapshot TTL (duration string)
	CacheFlushSchedule string // Cron spec for the periodic safety-net flush

	// Webhook notification delivery
	WebhookTimeout     string
	WebhookMaxAttempts string
}

// Load creates a Config with values from environment variables, falling back
// to defaults. Call Validate() before using the result.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		TLSCert:  getEnv("TLS_CERT", ""),
		TLSKey:   getEnv("TLS_KEY", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "mail_router"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		EvaluationBudget:   getEnv("EVALUATION_BUDGET", "250ms"),
		MergePolicy:        getEnv("MERGE_POLICY", "domain_first"),
		RuleCacheTTL:       getEnv("RULE_CACHE_TTL", "1m"),
		CacheFlushSchedule: getEnv("CACHE_FLUSH_SCHEDULE", "0 */6 * * *"),

		WebhookTimeout:     getEnv("WEBHOOK_TIMEOUT", "10s"),
		WebhookMaxAttempts: getEnv("WEBHOOK_MAX_ATTEMPTS", "3"),
	}
}

// getEnv retrieves an environment variable value or returns a default value
// if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks required fields, formats and cross-field dependencies.
// Call it after Load() and before starting the service.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresDB == "" {
		return fmt.Errorf("POSTGRES_DB is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("POSTGRES_PORT must be a valid port number")
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if _, err := time.ParseDuration(c.EvaluationBudget); err != nil {
		return fmt.Errorf("EVALUATION_BUDGET must be a valid duration (e.g., '250ms')")
	}
	if _, err := time.ParseDuration(c.RuleCacheTTL); err != nil {
		return fmt.Errorf("RULE_CACHE_TTL must be a valid duration (e.g., '1m')")
	}

	switch c.MergePolicy {
	case "domain_first", "transport_first", "by_priority":
	default:
		return fmt.Errorf("MERGE_POLICY must be 'domain_first', 'transport_first' or 'by_priority'")
	}

	if _, err := time.ParseDuration(c.WebhookTimeout); err != nil {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be a valid duration (e.g., '10s')")
	}
	if attempts, err := strconv.Atoi(c.WebhookMaxAttempts); err != nil || attempts < 1 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be a positive number")
	}

	return nil
}

// Budget returns the parsed evaluation budget. Call after Validate().
func (c *Config) Budget() time.Duration {
	d, _ := time.ParseDuration(c.EvaluationBudget)
	return d
}

// CacheTTL returns the parsed rule cache TTL. Call after Validate().
func (c *Config) CacheTTL() time.Duration {
	d, _ := time.ParseDuration(c.RuleCacheTTL)
	return d
}
