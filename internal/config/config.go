package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	PublicBaseURL      string
	LogLevel           string
	ClinicName         string
	CORSAllowedOrigins []string

	DatabaseURL string

	// Non-blocking write pipeline
	UseMemoryQueue bool
	WorkerCount    int
	WriteQueueURL  string
	WriteOpsTable  string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Object storage
	DocumentsBucket  string
	DocumentsBaseURL string

	// AI flows
	AIProvider     string
	GeminiAPIKey   string
	GeminiModelID  string
	BedrockModelID string

	// Payment links
	PaymentAccessToken string
	PaymentLocationID  string
	PaymentBaseURL     string
	PaymentWebhookKey  string
	PaymentSuccessURL  string

	AuthJWTSecret string

	// Notifications
	StaffNotifyEmails []string
	EmailProvider     string
	SESFromEmail      string
	SESFromName       string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	OutboxInterval    time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ClinicName:         getEnv("CLINIC_NAME", "ClinicDesk"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		WriteQueueURL:  getEnv("WRITE_QUEUE_URL", ""),
		WriteOpsTable:  getEnv("WRITE_OPS_TABLE", "write_ops"),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		DocumentsBucket:  getEnv("DOCUMENTS_BUCKET", ""),
		DocumentsBaseURL: getEnv("DOCUMENTS_BASE_URL", ""),

		AIProvider:     strings.ToLower(strings.TrimSpace(getEnv("AI_PROVIDER", "gemini"))),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:  getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		BedrockModelID: getEnv("BEDROCK_MODEL_ID", ""),

		PaymentAccessToken: getEnv("PAYMENT_ACCESS_TOKEN", ""),
		PaymentLocationID:  getEnv("PAYMENT_LOCATION_ID", ""),
		PaymentBaseURL:     getEnv("PAYMENT_BASE_URL", ""),
		PaymentWebhookKey:  getEnv("PAYMENT_WEBHOOK_SIGNATURE_KEY", ""),
		PaymentSuccessURL:  getEnv("PAYMENT_SUCCESS_URL", ""),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		StaffNotifyEmails: getEnvAsList("STAFF_NOTIFY_EMAILS", nil),
		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "ClinicDesk"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "ClinicDesk"),
		OutboxInterval:    getEnvAsDuration("OUTBOX_INTERVAL", 15*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable, trimming blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
