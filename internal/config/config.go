package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	PublicBaseURL  string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	// Redis (response cache, dedupe, turn history)
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// AWS (SQS job queue, Bedrock, SES, S3 archive)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	MessageQueueURL     string
	BedrockModelID      string
	ArchiveBucket       string

	// Gemini fallback generation
	GeminiAPIKey  string
	GeminiModelID string

	// Platform adapter credentials
	AirbnbAPIKey      string
	AirbnbBaseURL     string
	VrboAPIKey        string
	VrboBaseURL       string
	BookingAPIKey     string
	BookingBaseURL    string
	DirectSiteBaseURL string
	DirectSiteToken   string

	// Dispatch retry policy
	DispatchMaxAttempts int
	DispatchBaseDelay   time.Duration

	// Engine tuning
	HistoryLimit       int
	CacheTTL           time.Duration
	SentimentThreshold float64
	PropertyQueueDepth int
	HoldingMessage     string

	// Escalation notifications
	EscalationEmails   []string
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
	SESFromEmail       string
	SESFromName        string
	NotifyTimeout      time.Duration
	WebhookRateLimit   float64
	WebhookRateBurst   int
	EventDedupeWindow  time.Duration
	HistoryTTL         time.Duration
	ArchiveOnResolve   bool
	ComposerMaxRetries int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		MessageQueueURL:     getEnv("MESSAGE_QUEUE_URL", ""),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		ArchiveBucket:       getEnv("ARCHIVE_BUCKET", ""),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", ""),

		AirbnbAPIKey:      getEnv("AIRBNB_API_KEY", ""),
		AirbnbBaseURL:     getEnv("AIRBNB_BASE_URL", "https://api.airbnb.com"),
		VrboAPIKey:        getEnv("VRBO_API_KEY", ""),
		VrboBaseURL:       getEnv("VRBO_BASE_URL", "https://api.vrbo.com"),
		BookingAPIKey:     getEnv("BOOKING_API_KEY", ""),
		BookingBaseURL:    getEnv("BOOKING_BASE_URL", "https://messaging.booking.com"),
		DirectSiteBaseURL: getEnv("DIRECT_SITE_BASE_URL", ""),
		DirectSiteToken:   getEnv("DIRECT_SITE_TOKEN", ""),

		DispatchMaxAttempts: getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 4),
		DispatchBaseDelay:   getEnvAsDuration("DISPATCH_BASE_DELAY", 500*time.Millisecond),

		HistoryLimit:       getEnvAsInt("HISTORY_LIMIT", 20),
		CacheTTL:           getEnvAsDuration("RESPONSE_CACHE_TTL", 6*time.Hour),
		SentimentThreshold: getEnvAsFloat("SENTIMENT_THRESHOLD", 0.7),
		PropertyQueueDepth: getEnvAsInt("PROPERTY_QUEUE_DEPTH", 8),
		HoldingMessage:     getEnv("HOLDING_MESSAGE", "Thanks for reaching out! We're looking into this and will get back to you shortly."),

		EscalationEmails:  getEnvAsList("ESCALATION_EMAILS"),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Cohost"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Cohost"),
		NotifyTimeout:     getEnvAsDuration("NOTIFY_TIMEOUT", 10*time.Second),

		WebhookRateLimit:   getEnvAsFloat("WEBHOOK_RATE_LIMIT", 25),
		WebhookRateBurst:   getEnvAsInt("WEBHOOK_RATE_BURST", 50),
		EventDedupeWindow:  getEnvAsDuration("EVENT_DEDUPE_WINDOW", 24*time.Hour),
		HistoryTTL:         getEnvAsDuration("HISTORY_TTL", 72*time.Hour),
		ArchiveOnResolve:   getEnvAsBool("ARCHIVE_ON_RESOLVE", false),
		ComposerMaxRetries: getEnvAsInt("COMPOSER_MAX_RETRIES", 2),
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
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

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
