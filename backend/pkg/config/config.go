package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/seimmuc/family-tree/backend/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Neo4j
	Neo4jURI         string
	Neo4jUser        string
	Neo4jPassword    string
	Neo4jDatabase    string
	Neo4jTxRetryTime time.Duration // 0 disables managed transaction retries

	// Media
	MediaRoot           string
	MediaImageMIMETypes []string
	MediaMaxUploadBytes int64
	PortraitMaxSize     int // longest portrait edge in pixels

	// Users and sessions
	UsersAdmins         []string // usernames that always hold every permission
	UsersMakeFirstAdmin bool
	SessionTTL          time.Duration
	SessionCookieSecure bool

	// HTTP
	CORSOrigins    []string
	LoginRateLimit float64 // attempts per second per client
	LoginRateBurst int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", ""),
		Neo4jURI:            getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:           getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:       getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase:       getEnv("NEO4J_DATABASE", ""),
		Neo4jTxRetryTime:    getEnvDuration("NEO4J_TX_RETRY_TIME", 0),
		MediaRoot:           getEnv("MEDIA_ROOT", "media"),
		MediaImageMIMETypes: parseConfigList(os.Getenv("MEDIA_IMAGE_MIME_TYPES"), []string{"image/jpeg", "image/png", "image/gif", "image/webp"}),
		MediaMaxUploadBytes: int64(getEnvInt("MEDIA_MAX_UPLOAD_BYTES", 10<<20)),
		PortraitMaxSize:     getEnvInt("PORTRAIT_MAX_SIZE", 512),
		UsersAdmins:         parseConfigList(os.Getenv("USERS_ADMINS"), nil),
		UsersMakeFirstAdmin: parseConfigBool(os.Getenv("USERS_MAKE_FIRST_ADMIN"), false),
		SessionTTL:          getEnvDuration("SESSION_TTL", 30*24*time.Hour),
		SessionCookieSecure: parseConfigBool(os.Getenv("SESSION_COOKIE_SECURE"), false),
		CORSOrigins:         parseConfigList(os.Getenv("CORS_ORIGINS"), nil),
		LoginRateLimit:      getEnvFloat("LOGIN_RATE_LIMIT", 0.2),
		LoginRateBurst:      getEnvInt("LOGIN_RATE_BURST", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	if c.Neo4jURI == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_URI")
	}
	if c.Neo4jUser == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_USER")
	}
	if c.Neo4jPassword == "" {
		return apperrors.NewConfigMissingRequired("NEO4J_PASSWORD")
	}
	if c.MediaRoot == "" {
		return apperrors.NewConfigMissingRequired("MEDIA_ROOT")
	}
	if len(c.MediaImageMIMETypes) == 0 {
		return apperrors.NewConfigValidationFailed("MEDIA_IMAGE_MIME_TYPES", "at least one type is required")
	}
	if c.SessionTTL <= 0 {
		return apperrors.NewConfigValidationFailed("SESSION_TTL", "must be positive")
	}
	if c.Neo4jTxRetryTime < 0 {
		return apperrors.NewConfigValidationFailed("NEO4J_TX_RETRY_TIME", "must not be negative")
	}
	if c.PortraitMaxSize <= 0 {
		return apperrors.NewConfigValidationFailed("PORTRAIT_MAX_SIZE", "must be positive")
	}
	if c.MediaMaxUploadBytes <= 0 {
		return apperrors.NewConfigValidationFailed("MEDIA_MAX_UPLOAD_BYTES", "must be positive")
	}
	if c.LoginRateLimit <= 0 || c.LoginRateBurst < 1 {
		return apperrors.NewConfigValidationFailed("LOGIN_RATE_LIMIT", "rate and burst must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// IsAdmin reports whether username is a configured administrator
func (c *Config) IsAdmin(username string) bool {
	for _, a := range c.UsersAdmins {
		if strings.EqualFold(a, username) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseConfigBool accepts yes/no style flags; anything unrecognized yields defaultValue
func parseConfigBool(value string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "yes", "y", "true", "t", "1", "on":
		return true
	case "no", "n", "false", "f", "0", "off":
		return false
	}
	return defaultValue
}

// parseConfigList reads either a JSON string array or a comma separated list
func parseConfigList(value string, defaultValue []string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultValue
	}
	var items []string
	if strings.HasPrefix(value, "[") {
		if err := json.Unmarshal([]byte(value), &items); err != nil {
			return defaultValue
		}
	} else {
		items = strings.Split(value, ",")
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
