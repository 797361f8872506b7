// Package config loads daemon configuration from the environment, with an
// optional YAML profile override.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds daemon configuration.
type Config struct {
	ListenAddr string
	LogLevel   string

	// TimelockID is the authorizer's own dispatch identity; Admin is the
	// initial admin principal; Delay is the initial minimum delay.
	TimelockID string
	Admin      string
	Delay      time.Duration

	// JournalDriver selects the pending-set journal: "sqlite",
	// "postgres", or "memory".
	JournalDriver string
	DatabaseURL   string

	// RedisAddr enables notification fan-out over Redis pub/sub when
	// non-empty.
	RedisAddr    string
	RedisChannel string

	// JWTSecret signs API bearer tokens. Empty disables token auth
	// (dev mode: X-Caller-ID header).
	JWTSecret string

	RateRPS   float64
	RateBurst int
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		LogLevel:      getenv("LOG_LEVEL", "INFO"),
		TimelockID:    getenv("TIMELOCK_ID", "timelock"),
		Admin:         getenv("TIMELOCK_ADMIN", ""),
		Delay:         7 * 24 * time.Hour,
		JournalDriver: getenv("JOURNAL_DRIVER", "sqlite"),
		DatabaseURL:   getenv("DATABASE_URL", "gatekeep.db"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisChannel:  getenv("REDIS_CHANNEL", "gatekeep.notifications"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		RateRPS:       10,
		RateBurst:     20,
	}

	if raw := os.Getenv("TIMELOCK_DELAY_SECONDS"); raw != "" {
		if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Delay = time.Duration(secs) * time.Second
		}
	}
	if raw := os.Getenv("RATE_RPS"); raw != "" {
		if rps, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.RateRPS = rps
		}
	}
	if raw := os.Getenv("RATE_BURST"); raw != "" {
		if burst, err := strconv.Atoi(raw); err == nil {
			cfg.RateBurst = burst
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
