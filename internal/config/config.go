package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "RentFlow"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultCustodyTimeout = 10 * time.Second
	defaultFundsTimeout   = 15 * time.Second
	defaultFundsStream    = "leasesign:funds:events"
	defaultDedupTTL       = 7 * 24 * time.Hour
	defaultCurrencyScale  = 2
	idemTTLSecondsEnvVar  = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar      = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurEnvVar     = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	CustodyBaseURL string
	CustodyTimeout time.Duration

	FundsTimeout       time.Duration
	FundsWebhookSecret string
	FundsStream        string
	FundsEventDedupTTL time.Duration

	CurrencyScale int32
}

// Load reads an optional .env file, then populates a Config from the environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:            getEnv("APP_NAME", defaultAppName),
		AppEnv:             getEnv("APP_ENV", defaultAppEnv),
		Port:               getEnv("PORT", defaultPort),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		ShutdownPeriod:     defaultShutdownDelay,
		IdempotencyTTL:     defaultIdempotencyTTL,
		CustodyBaseURL:     strings.TrimRight(os.Getenv("CUSTODY_BASE_URL"), "/"),
		FundsWebhookSecret: os.Getenv("FUNDS_WEBHOOK_SECRET"),
		FundsStream:        getEnv("FUNDS_STREAM", defaultFundsStream),
		CurrencyScale:      defaultCurrencyScale,
	}

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.CustodyTimeout, err = duration("CUSTODY_TIMEOUT", defaultCustodyTimeout); err != nil {
		return Config{}, err
	}
	if cfg.FundsTimeout, err = duration("FUNDS_TIMEOUT", defaultFundsTimeout); err != nil {
		return Config{}, err
	}
	if cfg.FundsEventDedupTTL, err = duration("FUNDS_EVENT_DEDUP_TTL", defaultDedupTTL); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("CURRENCY_SCALE"); v != "" {
		scale, err := strconv.Atoi(v)
		if err != nil || scale < 0 || scale > 18 {
			return Config{}, fmt.Errorf("invalid CURRENCY_SCALE: %q", v)
		}
		cfg.CurrencyScale = int32(scale)
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the service runs in a development environment, where
// missing backing stores fall back to in-memory implementations.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
