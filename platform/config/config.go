// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetWebhookRateLimitRPS() float64
	GetWebhookRateLimitBurst() int
}

// JWTConfig provides JWT validation settings for admin middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// EnvConfig exposes the deployment environment.
type EnvConfig interface {
	IsDevelopment() bool
}

// JobberConfig provides settings for the field-service API integration.
type JobberConfig interface {
	GetJobberGraphQLURL() string
	GetJobberGraphQLVersion() string
	GetJobberTokenURL() string
	GetJobberClientID() string
	GetJobberClientSecret() string
	GetJobberWebhookSecret() string
}

// AIConfig provides settings for the AI email composer.
type AIConfig interface {
	GetGrokAPIKey() string
	GetGrokBaseURL() string
	GetGrokModel() string
	GetGrokTemperature() float64
	IsAIEnabled() bool
}

// EmailConfig provides settings for email dispatch.
type EmailConfig interface {
	GetEmailProvider() string
	GetBrevoAPIKey() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
}

// SchedulerConfig provides settings for the asynq scheduler and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetDedupLogRetention() time.Duration
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                   string
	HTTPAddr              string
	DatabaseURL           string
	JWTAccessSecret       string
	CORSAllowAll          bool
	CORSOrigins           []string
	CORSAllowCreds        bool
	WebhookRateLimitRPS   float64
	WebhookRateLimitBurst int

	JobberGraphQLURL     string
	JobberGraphQLVersion string
	JobberTokenURL       string
	JobberClientID       string
	JobberClientSecret   string
	JobberWebhookSecret  string

	GrokAPIKey      string
	GrokBaseURL     string
	GrokModel       string
	GrokTemperature float64

	EmailProvider    string
	BrevoAPIKey      string
	EmailFromName    string
	EmailFromAddress string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string

	RedisURL          string
	RedisTLSInsecure  bool
	AsynqQueueName    string
	AsynqConcurrency  int
	DedupLogRetention time.Duration
}

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// EnvConfig implementation
func (c *Config) IsDevelopment() bool { return strings.EqualFold(c.Env, "development") }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string             { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool           { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string        { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool         { return c.CORSAllowCreds }
func (c *Config) GetWebhookRateLimitRPS() float64 { return c.WebhookRateLimitRPS }
func (c *Config) GetWebhookRateLimitBurst() int   { return c.WebhookRateLimitBurst }

// JobberConfig implementation
func (c *Config) GetJobberGraphQLURL() string     { return c.JobberGraphQLURL }
func (c *Config) GetJobberGraphQLVersion() string { return c.JobberGraphQLVersion }
func (c *Config) GetJobberTokenURL() string       { return c.JobberTokenURL }
func (c *Config) GetJobberClientID() string       { return c.JobberClientID }
func (c *Config) GetJobberClientSecret() string   { return c.JobberClientSecret }
func (c *Config) GetJobberWebhookSecret() string  { return c.JobberWebhookSecret }

// AIConfig implementation
func (c *Config) GetGrokAPIKey() string       { return c.GrokAPIKey }
func (c *Config) GetGrokBaseURL() string      { return c.GrokBaseURL }
func (c *Config) GetGrokModel() string        { return c.GrokModel }
func (c *Config) GetGrokTemperature() float64 { return c.GrokTemperature }
func (c *Config) IsAIEnabled() bool           { return c.GrokAPIKey != "" }

// EmailConfig implementation
func (c *Config) GetEmailProvider() string    { return c.EmailProvider }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string                 { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool           { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string           { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int            { return c.AsynqConcurrency }
func (c *Config) GetDedupLogRetention() time.Duration { return c.DedupLogRetention }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		WebhookRateLimitRPS:   mustFloat(getEnv("WEBHOOK_RATE_LIMIT_RPS", "5")),
		WebhookRateLimitBurst: int(mustInt64(getEnv("WEBHOOK_RATE_LIMIT_BURST", "10"))),

		JobberGraphQLURL:     getEnv("JOBBER_GRAPHQL_URL", "https://api.getjobber.com/api/graphql"),
		JobberGraphQLVersion: getEnv("JOBBER_GRAPHQL_VERSION", "2025-04-16"),
		JobberTokenURL:       getEnv("JOBBER_TOKEN_URL", "https://api.getjobber.com/api/oauth/token"),
		JobberClientID:       getEnv("JOBBER_CLIENT_ID", ""),
		JobberClientSecret:   getEnv("JOBBER_CLIENT_SECRET", ""),
		JobberWebhookSecret:  getEnv("JOBBER_WEBHOOK_SECRET", ""),

		GrokAPIKey:      getEnv("GROK_API_KEY", ""),
		GrokBaseURL:     getEnv("GROK_API_URL", "https://api.x.ai/v1"),
		GrokModel:       getEnv("GROK_MODEL", "grok-4-0709"),
		GrokTemperature: mustFloat(getEnv("GROK_TEMPERATURE", "0.3")),

		EmailProvider:    strings.ToLower(getEnv("EMAIL_PROVIDER", "none")),
		BrevoAPIKey:      getEnv("BREVO_API_KEY", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "ServiceFlow"),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@serviceflow.com"),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         int(mustInt64(getEnv("SMTP_PORT", "587"))),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),

		RedisURL:          getEnv("REDIS_URL", ""),
		RedisTLSInsecure:  strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:    getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:  int(mustInt64(getEnv("ASYNQ_CONCURRENCY", "10"))),
		DedupLogRetention: mustDuration(getEnv("DEDUP_LOG_RETENTION", "168h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required outside development")
	}
	switch cfg.EmailProvider {
	case "none", "brevo", "smtp":
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be one of none, brevo, smtp")
	}
	if cfg.EmailProvider == "brevo" && cfg.BrevoAPIKey == "" {
		return nil, fmt.Errorf("BREVO_API_KEY is required when EMAIL_PROVIDER is brevo")
	}
	if cfg.EmailProvider == "smtp" && cfg.SMTPHost == "" {
		return nil, fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER is smtp")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
