package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerURL   string
	Token       string
	Environment string

	// Reconnect backoff
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	// Engine tuning
	SendTimeout       time.Duration
	HeartbeatInterval time.Duration
	CachedLogLimit    int

	// Dev server
	DevServerPort string
	JWTSecret     string
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerURL:            getEnv("PAWMART_SERVER_URL", "http://localhost:8080"),
		Token:                getEnv("PAWMART_TOKEN", ""),
		Environment:          getEnv("ENVIRONMENT", "development"),
		ReconnectBaseDelay:   getEnvAsDuration("RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:    getEnvAsDuration("RECONNECT_MAX_DELAY", 30*time.Second),
		MaxReconnectAttempts: getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10),
		SendTimeout:          getEnvAsDuration("SEND_TIMEOUT", 10*time.Second),
		HeartbeatInterval:    getEnvAsDuration("HEARTBEAT_INTERVAL", 25*time.Second),
		CachedLogLimit:       getEnvAsInt("CACHED_LOG_LIMIT", 32),
		DevServerPort:        getEnv("DEV_SERVER_PORT", "8080"),
		JWTSecret:            getEnv("JWT_SECRET", "your-secret-key"),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
