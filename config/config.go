package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/neurotunes/sequencer/errors"
)

// Defaults for tunable settings.
const (
	DefaultPort           = "8080"
	DefaultDatabasePath   = "sequencer.db"
	DefaultCatalogPath    = "catalog.json"
	DefaultLogLevel       = "info"
	DefaultCrossfadeMs    = 3000
	DefaultPreloadLeadMs  = 1000
	DefaultRateLimitRPS   = 10
	DefaultRateLimitBurst = 20
)

type Config struct {
	Port                   string
	DatabasePath           string
	CatalogPath            string
	LogLevel               string
	CrossfadeMs            int64
	PreloadLeadMs          int64
	RateLimitEnabled       bool
	RateLimitRPS           int
	RateLimitBurst         int
	SecurityHeadersEnabled bool
}

func New() (*Config, error) {
	var (
		port          = flag.String("port", getEnvOrDefault("PORT", DefaultPort), "HTTP listen port")
		dbPath        = flag.String("db-path", getEnvOrDefault("DB_PATH", DefaultDatabasePath), "Profile store file path")
		catalogPath   = flag.String("catalog", getEnvOrDefault("CATALOG_PATH", DefaultCatalogPath), "Catalog JSON file path")
		logLevel      = flag.String("log-level", getEnvOrDefault("LOG_LEVEL", DefaultLogLevel), "Log level (debug, info, warn, error)")
		crossfadeMs   = flag.Int64("crossfade-ms", getEnvInt64OrDefault("CROSSFADE_MS", DefaultCrossfadeMs), "Crossfade duration in milliseconds")
		preloadMs     = flag.Int64("preload-lead-ms", getEnvInt64OrDefault("PRELOAD_LEAD_MS", DefaultPreloadLeadMs), "Preload lead before fade-out in milliseconds")
		rateEnabled   = flag.Bool("rate-limit", getEnvBoolOrDefault("RATE_LIMIT_ENABLED", true), "Enable API rate limiting")
		rateRPS       = flag.Int("rate-limit-rps", getEnvIntOrDefault("RATE_LIMIT_RPS", DefaultRateLimitRPS), "Rate limit requests per second")
		rateBurst     = flag.Int("rate-limit-burst", getEnvIntOrDefault("RATE_LIMIT_BURST", DefaultRateLimitBurst), "Rate limit burst size")
		secureHeaders = flag.Bool("security-headers", getEnvBoolOrDefault("SECURITY_HEADERS_ENABLED", true), "Enable security response headers")
	)
	flag.Parse()

	cfg := &Config{
		Port:                   *port,
		DatabasePath:           *dbPath,
		CatalogPath:            *catalogPath,
		LogLevel:               *logLevel,
		CrossfadeMs:            *crossfadeMs,
		PreloadLeadMs:          *preloadMs,
		RateLimitEnabled:       *rateEnabled,
		RateLimitRPS:           *rateRPS,
		RateLimitBurst:         *rateBurst,
		SecurityHeadersEnabled: *secureHeaders,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable before startup.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return errors.ErrInvalidPort.WithContext("port", c.Port)
	}
	if c.DatabasePath == "" {
		return errors.ErrInvalidDatabasePath
	}
	if c.CatalogPath == "" {
		return errors.ErrInvalidCatalogPath
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.ErrInvalidLogLevel.WithContext("log_level", c.LogLevel)
	}
	if c.CrossfadeMs <= 0 {
		return errors.ErrInvalidCrossfade.WithContext("crossfade_ms", c.CrossfadeMs)
	}
	if c.PreloadLeadMs <= 0 {
		return errors.ErrInvalidPreloadLead.WithContext("preload_lead_ms", c.PreloadLeadMs)
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return errors.ErrValidationFailed.WithContext("rate_limit_rps", c.RateLimitRPS).
			WithContext("rate_limit_burst", c.RateLimitBurst)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
