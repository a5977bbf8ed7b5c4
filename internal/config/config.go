package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port    string
	BaseURL string

	// Logging
	LogLevel  string
	LogFormat string

	// Document store
	DataBackend  string
	SQLiteDBPath string
	DatabaseURL  string

	// Change events
	EventBus     string
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	RedisURL     string
	RedisChannel string

	// Sessions and notices
	SessionSecret  string
	SessionTTL     time.Duration
	NoticeDuration time.Duration

	// Federated sign-in
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string

	// Spreadsheet export
	GoogleSpreadsheetID      string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	RateLimitPerMinute int
}

var (
	validBackends = []string{"memory", "sqlite", "postgres"}
	validBuses    = []string{"local", "amqp", "redis"}
)

func Load() *Config {
	return &Config{
		Port:    getEnv("PORT", "8080"),
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DataBackend:  getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/spendly.db"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		EventBus:     getEnv("EVENT_BUS", "local"),
		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "spendly"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "expense_export"),
		RedisURL:     getEnv("REDIS_URL", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "spendly:changes"),

		SessionSecret:  getEnv("SESSION_SECRET", ""),
		SessionTTL:     getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		NoticeDuration: getEnvDuration("NOTICE_DURATION", 3*time.Second),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}
}

// Validate validates the configuration and returns an error listing every problem found
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.BaseURL != "" {
		if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid base URL '%s': must be absolute", c.BaseURL))
		}
	}

	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errors = append(errors, "DATABASE_URL is required when using postgres backend")
		} else if u, err := url.Parse(c.DatabaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid database URL: %v", err))
		} else if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			errors = append(errors, fmt.Sprintf("invalid database URL scheme '%s': must be 'postgres' or 'postgresql'", u.Scheme))
		}
	}

	if !slices.Contains(validBuses, c.EventBus) {
		errors = append(errors, fmt.Sprintf("invalid event bus '%s': must be one of %v", c.EventBus, validBuses))
	}

	if c.EventBus == "amqp" && c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required when using amqp event bus")
	}
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.EventBus == "redis" {
		if c.RedisURL == "" {
			errors = append(errors, "REDIS_URL is required when using redis event bus")
		} else if u, err := url.Parse(c.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errors = append(errors, fmt.Sprintf("invalid Redis URL '%s': scheme must be 'redis' or 'rediss'", c.RedisURL))
		}
		if c.RedisChannel == "" {
			errors = append(errors, "Redis channel cannot be empty when using redis event bus")
		}
	}

	if len(c.SessionSecret) < 16 {
		errors = append(errors, "SESSION_SECRET must be at least 16 characters")
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.NoticeDuration <= 0 || c.NoticeDuration > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid notice duration %v: must be between 0 and 1 minute", c.NoticeDuration))
	}

	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		errors = append(errors, "GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		errors = append(errors, "GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together")
	}

	if c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errors = append(errors, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1", c.RateLimitPerMinute))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// ExportEnabled reports whether spreadsheet export has enough configuration to run.
func (c *Config) ExportEnabled() bool {
	return c.GoogleSpreadsheetID != "" && (c.GoogleServiceAccountJSON != "" || c.GoogleServiceAccountFile != "")
}

// ValidateExport checks the settings the export worker needs on top of Validate.
func (c *Config) ValidateExport() error {
	var errors []string
	if c.GoogleSpreadsheetID == "" {
		errors = append(errors, "GOOGLE_SPREADSHEET_ID is required for export")
	}
	if c.GoogleServiceAccountJSON == "" && c.GoogleServiceAccountFile == "" {
		errors = append(errors, "either GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE must be provided for export")
	}
	if c.AMQPURL == "" {
		errors = append(errors, "AMQP_URL is required for export")
	}
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
