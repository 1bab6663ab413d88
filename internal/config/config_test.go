package config

import (
	"os"
	"testing"
	"time"
)

var testEnvVars = []string{
	"PORT", "LOG_LEVEL", "TLS_CERT", "TLS_KEY",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB", "POSTGRES_USER",
	"POSTGRES_PASSWORD", "POSTGRES_SSL_MODE",
	"REDIS_ADDRESS", "REDIS_PASSWORD", "REDIS_DB", "REDIS_POOL_SIZE",
	"EVALUATION_BUDGET", "MERGE_POLICY", "RULE_CACHE_TTL", "CACHE_FLUSH_SCHEDULE",
	"WEBHOOK_TIMEOUT", "WEBHOOK_MAX_ATTEMPTS",
}

func clearTestEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range testEnvVars {
		if v, ok := os.LookupEnv(key); ok {
			t.Setenv(key, v)
			os.Unsetenv(key)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearTestEnvVars(t)

	config := Load()

	if config.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", config.Port)
	}
	if config.LogLevel != "info" {
		t.Errorf("Load() LogLevel = %v, want info", config.LogLevel)
	}
	if config.PostgresHost != "localhost" {
		t.Errorf("Load() PostgresHost = %v, want localhost", config.PostgresHost)
	}
	if config.PostgresDB != "mail_router" {
		t.Errorf("Load() PostgresDB = %v, want mail_router", config.PostgresDB)
	}
	if config.RedisAddress != "" {
		t.Errorf("Load() RedisAddress = %v, want empty", config.RedisAddress)
	}
	if config.EvaluationBudget != "250ms" {
		t.Errorf("Load() EvaluationBudget = %v, want 250ms", config.EvaluationBudget)
	}
	if config.MergePolicy != "domain_first" {
		t.Errorf("Load() MergePolicy = %v, want domain_first", config.MergePolicy)
	}
	if config.RuleCacheTTL != "1m" {
		t.Errorf("Load() RuleCacheTTL = %v, want 1m", config.RuleCacheTTL)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	clearTestEnvVars(t)
	t.Setenv("PORT", "9090")
	t.Setenv("MERGE_POLICY", "by_priority")
	t.Setenv("EVALUATION_BUDGET", "500ms")
	t.Setenv("REDIS_ADDRESS", "redis.internal:6379")

	config := Load()

	if config.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", config.Port)
	}
	if config.MergePolicy != "by_priority" {
		t.Errorf("Load() MergePolicy = %v, want by_priority", config.MergePolicy)
	}
	if config.EvaluationBudget != "500ms" {
		t.Errorf("Load() EvaluationBudget = %v, want 500ms", config.EvaluationBudget)
	}
	if config.RedisAddress != "redis.internal:6379" {
		t.Errorf("Load() RedisAddress = %v, want redis.internal:6379", config.RedisAddress)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Port = "http" }, true},
		{"port out of range", func(c *Config) { c.Port = "70000" }, true},
		{"cert without key", func(c *Config) { c.TLSCert = "/etc/tls/cert.pem" }, true},
		{"missing postgres host", func(c *Config) { c.PostgresHost = "" }, true},
		{"missing postgres db", func(c *Config) { c.PostgresDB = "" }, true},
		{"bad postgres port", func(c *Config) { c.PostgresPort = "x" }, true},
		{"redis db out of range", func(c *Config) { c.RedisAddress = "localhost:6379"; c.RedisDB = "16" }, true},
		{"bad budget", func(c *Config) { c.EvaluationBudget = "soon" }, true},
		{"bad cache ttl", func(c *Config) { c.RuleCacheTTL = "long" }, true},
		{"unknown merge policy", func(c *Config) { c.MergePolicy = "random" }, true},
		{"bad webhook attempts", func(c *Config) { c.WebhookMaxAttempts = "0" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnvVars(t)
			config := Load()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParsedDurations(t *testing.T) {
	clearTestEnvVars(t)
	config := Load()

	if got := config.Budget(); got != 250*time.Millisecond {
		t.Errorf("Budget() = %v, want 250ms", got)
	}
	if got := config.CacheTTL(); got != time.Minute {
		t.Errorf("CacheTTL() = %v, want 1m", got)
	}
}
