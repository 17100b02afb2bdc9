package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	Port         string
	DatabasePath string
	LogLevel     string

	// External rate source (government rate pages / API).
	RateSourceBaseURL   string
	RateSourceUserAgent string
	RateFetchTimeout    time.Duration
	// RateStaleAfter is the soft staleness window: a stored schedule older
	// than this is still returned, but a background refresh is scheduled.
	RateStaleAfter time.Duration

	ReportCacheExpiration time.Duration
	ReportCacheCleanup    time.Duration

	MaxIngestBatch int
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	Cfg = &AppConfig{
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./cryptotax.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		RateSourceBaseURL:   getEnv("RATE_SOURCE_BASE_URL", "https://api.service.hmrc.gov.uk"),
		RateSourceUserAgent: getEnv("RATE_SOURCE_USER_AGENT", "CryptoTax/1.0"),
		RateFetchTimeout:    getEnvAsDuration("RATE_FETCH_TIMEOUT", 10*time.Second),
		RateStaleAfter:      getEnvAsDuration("RATE_STALE_AFTER", 24*time.Hour),

		ReportCacheExpiration: getEnvAsDuration("REPORT_CACHE_EXPIRATION", 15*time.Minute),
		ReportCacheCleanup:    getEnvAsDuration("REPORT_CACHE_CLEANUP", 30*time.Minute),

		MaxIngestBatch: getEnvAsInt("MAX_INGEST_BATCH", 10000),
	}

	if Cfg.RateStaleAfter <= 0 {
		log.Printf("WARNING: RATE_STALE_AFTER must be positive, using default 24h")
		Cfg.RateStaleAfter = 24 * time.Hour
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, RateSource=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.RateSourceBaseURL)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
