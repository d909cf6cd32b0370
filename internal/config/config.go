package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all environment-driven settings for the gateway.
type Config struct {
	Port        string
	MetricsPort string

	// Shared keyed store and durable event log.
	RedisURL string

	// Session directory (Postgres).
	DatabaseURL string

	// Credential verification.
	TokenSecret   string
	TokenIssuer   string
	TokenAudience string
	TokenMaxAge   time.Duration

	// Voice providers.
	OpenAIAPIKey string
	GeminiAPIKey string

	// Internal evaluation/observation services.
	AgentsBaseURL string
	WebhookSecret string

	// Session budget.
	SessionDuration time.Duration

	// Transcript export.
	Kafka KafkaConfig
}

// KafkaConfig holds transcript exporter settings.
type KafkaConfig struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	Principal string
}

func Load() *Config {
	return &Config{
		Port:            envOrDefault("PORT", "8080"),
		MetricsPort:     envOrDefault("METRICS_PORT", "9090"),
		RedisURL:        os.Getenv("REDIS_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		TokenSecret:     os.Getenv("REALTIME_TOKEN_SECRET"),
		TokenIssuer:     envOrDefault("TOKEN_ISSUER", "interview-prep-realtime"),
		TokenAudience:   envOrDefault("TOKEN_AUDIENCE", "ws-client"),
		TokenMaxAge:     envDurationOrDefault("TOKEN_MAX_AGE", 60*time.Second),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:    firstNonEmpty(os.Getenv("GOOGLE_GEMINI_API_KEY"), os.Getenv("GEMINI_API_KEY")),
		AgentsBaseURL:   os.Getenv("APP_URL"),
		WebhookSecret:   os.Getenv("INTERNAL_WEBHOOK_SECRET"),
		SessionDuration: envDurationOrDefault("SESSION_DURATION", 15*time.Minute),
		Kafka: KafkaConfig{
			Enabled:   envBool("KAFKA_ENABLED"),
			Brokers:   envList("KAFKA_BROKERS"),
			Topic:     envOrDefault("KAFKA_TOPIC_TRANSCRIPTS", "interview.transcripts"),
			Principal: envOrDefault("KAFKA_PRINCIPAL", "interview-realtime-gateway"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
