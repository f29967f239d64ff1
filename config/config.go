package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the incident service
type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Logging
	LogLevel  string
	LogFormat string

	// Database configuration
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Store connection lifecycle
	DBRetryDelay     time.Duration
	DBMaxRetryDelay  time.Duration
	DBConnectTimeout time.Duration
	DBHealthInterval time.Duration

	// SendGrid configuration
	SendGridAPIKey    string
	SendGridFromName  string
	SendGridFromEmail string

	// Twilio configuration
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// Notification fan-out
	Recipients  Recipients
	SendTimeout time.Duration

	// Image uploads
	UploadsDir     string
	UploadsMaxSize int64
	PublicBaseURL  string

	// CORS
	AllowedOrigins []string

	// RabbitMQ, publishing is disabled when AMQPURL is empty
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
}

// Recipients is the ordered recipient list of every notification channel.
// It is built once at startup and never modified afterwards.
type Recipients struct {
	emails []string
	phones []string
}

// NewRecipients copies the given lists so callers cannot mutate them later.
func NewRecipients(emails, phones []string) Recipients {
	return Recipients{
		emails: append([]string(nil), emails...),
		phones: append([]string(nil), phones...),
	}
}

// Emails returns a copy of the email recipients in configured order.
func (r Recipients) Emails() []string {
	return append([]string(nil), r.emails...)
}

// Phones returns a copy of the SMS recipients in configured order.
func (r Recipients) Phones() []string {
	return append([]string(nil), r.phones...)
}

var defaultAllowedOrigins = []string{
	"https://my-frontenf-server.onrender.com",
	"http://127.0.0.1:5500",
	"http://localhost:5500",
}

// Load loads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBUser:            getEnv("DB_USER", "server"),
		DBPassword:        getEnv("DB_PASSWORD", "secret"),
		DBName:            getEnv("DB_NAME", "incidents"),
		DBMaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),

		DBRetryDelay:     getDurationEnv("DB_RETRY_DELAY", time.Second),
		DBMaxRetryDelay:  getDurationEnv("DB_MAX_RETRY_DELAY", 30*time.Second),
		DBConnectTimeout: getDurationEnv("DB_CONNECT_TIMEOUT", 5*time.Second),
		DBHealthInterval: getDurationEnv("DB_HEALTH_INTERVAL", 10*time.Second),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Incident Reports"),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		Recipients: NewRecipients(
			getListEnv("NOTIFY_EMAILS", nil),
			getListEnv("NOTIFY_PHONES", nil),
		),
		SendTimeout: getDurationEnv("NOTIFY_SEND_TIMEOUT", 10*time.Second),

		UploadsDir:     getEnv("UPLOADS_DIR", "uploads"),
		UploadsMaxSize: int64(getIntEnv("UPLOADS_MAX_BYTES", 10<<20)),
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "incidents"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "report.created"),
	}

	return cfg
}

// IsProduction reports whether internal error details must be hidden from clients
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets a positive integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated environment variable, keeping order and
// dropping blank entries.
func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
