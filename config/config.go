package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Provider
	GeminiAPIKey    string
	TextModel       string // default: gemini-2.0-flash
	MultimodalModel string // default: gemini-1.5-pro
	ProviderTimeout time.Duration

	// Credits
	CostPerCall         int64 // credits debited per successful generation
	StartingBalance     int64 // balance granted to newly created accounts
	LowBalanceThreshold int64

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"

	// Rate Limiting
	DefaultRateLimitRPM int64 // requests per minute, default: 60
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		TextModel:            getEnv("TEXT_MODEL", "gemini-2.0-flash"),
		MultimodalModel:      getEnv("MULTIMODAL_MODEL", "gemini-1.5-pro"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.CostPerCall, err = getEnvInt64("CREDIT_COST_PER_CALL", 1); err != nil {
		return nil, err
	}
	if cfg.StartingBalance, err = getEnvInt64("CREDIT_STARTING_BALANCE", 50); err != nil {
		return nil, err
	}
	if cfg.LowBalanceThreshold, err = getEnvInt64("CREDIT_LOW_BALANCE_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.DefaultRateLimitRPM, err = getEnvInt64("DEFAULT_RATE_LIMIT_RPM", 60); err != nil {
		return nil, err
	}

	timeoutSec, err := getEnvInt64("PROVIDER_TIMEOUT_SECONDS", 60)
	if err != nil {
		return nil, err
	}
	cfg.ProviderTimeout = time.Duration(timeoutSec) * time.Second

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.CostPerCall <= 0 {
		return nil, fmt.Errorf("CREDIT_COST_PER_CALL must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
