package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration, sourced from environment variables
// (a .env file is loaded by main before this runs).
type Config struct {
	AppEnv   string
	LogLevel string

	// One paired WhatsApp device serves one restaurant; inbound messages are
	// attributed to this restaurant during normalization.
	RestaurantID string

	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	GeminiAPIKeys  []string
	GeminiModel    string
	GeminiTimeout  time.Duration
	GeminiCooldown time.Duration

	WhatsAppStorePath string
	WhatsAppLogLevel  string

	HTTPListenAddr   string
	PublicBasePath   string
	WebhookSecret    string
	MetricsNamespace string
}

// Load reads configuration from the environment and validates required fields.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		RestaurantID:      os.Getenv("RESTAURANT_ID"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DatabaseSchema:    getEnv("DATABASE_SCHEMA", "public"),
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		GeminiAPIKeys:     splitCSV(os.Getenv("GEMINI_API_KEYS")),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "WARN"),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:    os.Getenv("PUBLIC_BASE_PATH"),
		WebhookSecret:     os.Getenv("WEBHOOK_SECRET"),
		MetricsNamespace:  getEnv("METRICS_NAMESPACE", "ordering_bot"),
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getEnvBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.GeminiTimeout, err = getEnvDuration("GEMINI_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.GeminiCooldown, err = getEnvDuration("GEMINI_COOLDOWN", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.RestaurantID == "" {
		return nil, fmt.Errorf("RESTAURANT_ID is required")
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("DATABASE_URL or SQLITE_PATH is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func splitCSV(val string) []string {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			res = append(res, trimmed)
		}
	}
	return res
}
