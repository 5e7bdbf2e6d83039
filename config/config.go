package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppPort   string
	AppMode   string
	LogMode   string
	JWTSecret string

	MarketplaceAPIURL  string
	MarketplacePushURL string
	UpstreamTimeout    time.Duration
	ReconnectMin       time.Duration
	ReconnectMax       time.Duration

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MessageRateLimit  int
	MessageRateWindow time.Duration

	PlaceholderAvatarURL string
}

func LoadConfig() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		AppPort:   getEnv("APP_PORT", "8080"),
		AppMode:   getEnv("APP_MODE", "debug"),
		LogMode:   getEnv("LOG_MODE", "development"),
		JWTSecret: getEnv("JWT_SECRET", "change-me"),

		MarketplaceAPIURL:  getEnv("MARKETPLACE_API_URL", "http://localhost:3000"),
		MarketplacePushURL: getEnv("MARKETPLACE_PUSH_URL", "ws://localhost:3000/ws"),
		UpstreamTimeout:    getEnvAsDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		ReconnectMin:       getEnvAsDuration("RECONNECT_MIN", 500*time.Millisecond),
		ReconnectMax:       getEnvAsDuration("RECONNECT_MAX", 30*time.Second),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		MessageRateLimit:  getEnvAsInt("MESSAGE_RATE_LIMIT", 60),
		MessageRateWindow: getEnvAsDuration("MESSAGE_RATE_WINDOW", time.Minute),

		PlaceholderAvatarURL: getEnv("PLACEHOLDER_AVATAR_URL", "/static/avatar-placeholder.png"),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go duration strings ("750ms", "30s").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return fallback
}
