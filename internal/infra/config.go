package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	LedgerBaseURL string
	LedgerAPIKey  string

	WorldBaseURL         string
	WorldAPIKey          string
	WorldPollInterval    time.Duration
	WorldPollMaxAttempts int
	WorldFetchAttempts   int
	WorldFetchDelay      time.Duration

	ImageBaseURL     string
	ImageAPIKey      string
	FallbackImageURL string

	ContentBaseURL string
	ContentAPIKey  string

	MaxConcurrentPipelines int64

	JobTTL           time.Duration
	JobSweepInterval time.Duration

	AllowedOrigins []string
	DefaultLocale  string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		RateLimitWindow:      time.Millisecond * time.Duration(getEnvInt("RATE_LIMIT_WINDOW_MS", 3600000)),
		RateLimitMaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 2),

		LedgerBaseURL: os.Getenv("LEDGER_BASE_URL"),
		LedgerAPIKey:  os.Getenv("LEDGER_API_KEY"),

		WorldBaseURL:         getEnv("WORLD_BASE_URL", "https://api.worldlabs.dev/v1"),
		WorldAPIKey:          os.Getenv("WORLD_API_KEY"),
		WorldPollInterval:    time.Second * time.Duration(getEnvInt("WORLD_POLL_INTERVAL_SECONDS", 5)),
		WorldPollMaxAttempts: getEnvInt("WORLD_POLL_MAX_ATTEMPTS", 120),
		WorldFetchAttempts:   getEnvInt("WORLD_FETCH_ATTEMPTS", 5),
		WorldFetchDelay:      time.Second * time.Duration(getEnvInt("WORLD_FETCH_DELAY_SECONDS", 3)),

		ImageBaseURL:     getEnv("IMAGE_BASE_URL", "https://api.imagesynth.dev/v1"),
		ImageAPIKey:      os.Getenv("IMAGE_API_KEY"),
		FallbackImageURL: os.Getenv("FALLBACK_IMAGE_URL"),

		ContentBaseURL: os.Getenv("CONTENT_BASE_URL"),
		ContentAPIKey:  os.Getenv("CONTENT_API_KEY"),

		MaxConcurrentPipelines: int64(getEnvInt("MAX_CONCURRENT_PIPELINES", 32)),

		JobTTL:           time.Minute * time.Duration(getEnvInt("JOB_TTL_MINUTES", 0)),
		JobSweepInterval: time.Minute * time.Duration(getEnvInt("JOB_SWEEP_INTERVAL_MINUTES", 0)),

		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		DefaultLocale:  getEnv("DEFAULT_LOCALE", "en"),
	}

	if cfg.LedgerBaseURL == "" {
		return nil, fmt.Errorf("LEDGER_BASE_URL is required")
	}

	if cfg.WorldAPIKey == "" {
		return nil, fmt.Errorf("WORLD_API_KEY is required")
	}

	return cfg, nil
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
