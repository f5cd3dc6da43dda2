// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Application
	AppEnv        string
	LogLevel      string
	EncryptionKey string

	// Database
	DatabaseURL string
	SQLitePath  string

	// Redis
	RedisURL string

	// RabbitMQ
	RabbitMQURL string

	// Sync worker
	SyncInterval     time.Duration
	SyncBatchSize    int
	SyncMaxErrors    int
	SyncMaxParallel  int
	CalendarProvider string
	CalendarID       string

	// Reminders
	ReminderWindow time.Duration

	// OAuth
	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthRedirectURL  string
	OAuthScopes       string

	// CalDAV
	CalDAVEndpoint string
	CalDAVUsername string
	CalDAVPassword string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		EncryptionKey: getEnv("PAUTA_ENCRYPTION_KEY", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("PAUTA_SQLITE_PATH", "pauta.db"),
		RedisURL:    getEnv("REDIS_URL", ""),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		SyncInterval:    getDurationEnv("SYNC_INTERVAL", 2*time.Minute),
		SyncBatchSize:   getIntEnv("SYNC_BATCH_SIZE", 50),
		SyncMaxErrors:   getIntEnv("SYNC_MAX_ERRORS", 5),
		SyncMaxParallel: getIntEnv("SYNC_MAX_PARALLEL", 5),

		CalendarProvider: getEnv("CALENDAR_PROVIDER", "google"),
		CalendarID:       getEnv("CALENDAR_ID", "primary"),

		ReminderWindow: getDurationEnv("REMINDER_WINDOW", 30*time.Minute),

		OAuthClientID:     getEnv("OAUTH_CLIENT_ID", ""),
		OAuthClientSecret: getEnv("OAUTH_CLIENT_SECRET", ""),
		OAuthAuthURL:      getEnv("OAUTH_AUTH_URL", "https://accounts.google.com/o/oauth2/auth"),
		OAuthTokenURL:     getEnv("OAUTH_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		OAuthRedirectURL:  getEnv("OAUTH_REDIRECT_URL", ""),
		OAuthScopes:       getEnv("OAUTH_SCOPES", "https://www.googleapis.com/auth/calendar.events"),

		CalDAVEndpoint: getEnv("CALDAV_ENDPOINT", ""),
		CalDAVUsername: getEnv("CALDAV_USERNAME", ""),
		CalDAVPassword: getEnv("CALDAV_PASSWORD", ""),
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// UsesPostgres returns true when a Postgres URL is configured. Without one
// the service falls back to the embedded SQLite database.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
