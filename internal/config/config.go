package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	MongoURI string
	RedisURL string

	// JWTSecret verifies bearer tokens issued by the auth service.
	JWTSecret string

	// StrictInvalidate makes a failed cache invalidation after a
	// successful mutation an error for the mutating caller. Disabling it
	// trades read-after-write visibility for availability: the stale entry
	// expires within the cache TTL.
	StrictInvalidate bool
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8082"),
		Env:              getEnv("ENV", "development"),
		MongoURI:         os.Getenv("MONGODB_URI"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		StrictInvalidate: getEnv("CACHE_STRICT_INVALIDATE", "true") == "true",
	}

	if cfg.Env == "production" {
		if cfg.MongoURI == "" {
			panic("MONGODB_URI is required in production")
		}
		if cfg.RedisURL == "" {
			panic("REDIS_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			panic("JWT_SECRET is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
