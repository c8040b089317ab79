package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer   string // Issuer claim for minted tokens
	Audience string // Audience claim for minted tokens

	Algorithm string // JWT signing algorithm for ephemeral keys (RS256, ES256) (default: ES256)
	KeyDir    string // Optional: directory of PEM signing keys; empty means ephemeral

	DatabaseFile string // Path to SQLite database file (default: ./walletauth.db)

	RedisAddr     string // Optional: Redis address; empty means in-process TTL store
	RedisPassword string
	RedisDB       int

	AccessTTL  time.Duration // Access token lifetime (default: 15m)
	RefreshTTL time.Duration // Refresh token lifetime (default: 30 days)
	StepUpTTL  time.Duration // Step-up token lifetime (default: 5m)
	BindTokens bool          // Embed cnf.jkt for devices with registered keys (default: true)

	RateLimit      int64         // Per-window request budget (default: 5)
	RateWindow     time.Duration // Rate window length (default: 1m)
	DeviceTrustTTL time.Duration // Trust flag lifetime (default: 30 days)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 10m)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:        getEnvOrDefault("AUTH_ISSUER", "wallet-auth"),
		Audience:      getEnvOrDefault("AUTH_AUDIENCE", "wallet-api"),
		Algorithm:     getEnvOrDefault("AUTH_ALGORITHM", "ES256"),
		KeyDir:        os.Getenv("AUTH_KEY_DIR"),
		DatabaseFile:  getEnvOrDefault("AUTH_DATABASE_FILE", "walletauth.db"),
		RedisAddr:     os.Getenv("AUTH_REDIS_ADDR"),
		RedisPassword: os.Getenv("AUTH_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("AUTH_REDIS_DB", 0),

		AccessTTL:  getEnvDurationOrDefault("AUTH_ACCESS_TTL", 15*time.Minute),
		RefreshTTL: getEnvDurationOrDefault("AUTH_REFRESH_TTL", 30*24*time.Hour),
		StepUpTTL:  getEnvDurationOrDefault("AUTH_STEP_UP_TTL", 5*time.Minute),
		BindTokens: getEnvBoolOrDefault("AUTH_BIND_TOKENS", true),

		RateLimit:      int64(getEnvIntOrDefault("AUTH_RATE_LIMIT", 5)),
		RateWindow:     getEnvDurationOrDefault("AUTH_RATE_WINDOW", time.Minute),
		DeviceTrustTTL: getEnvDurationOrDefault("AUTH_DEVICE_TRUST_TTL", 30*24*time.Hour),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 10*time.Minute),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	// Bare integers are read as minutes.
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}
	return defaultValue
}
