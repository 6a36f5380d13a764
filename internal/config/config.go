// Package config handles application configuration.
package config

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port    int
	BaseURL string

	// Database
	DatabaseURL string

	// Authentication
	JWTSecret     string
	JWTExpiry     time.Duration
	EncryptionKey []byte // 32-byte key for session token signing and at-rest encryption

	// Analysis provider
	AnthropicAPIKey string
	AnthropicModel  string

	// Crawler
	CrawlerUserAgent   string
	CrawlerParallelism int
	CrawlerTimeout     time.Duration

	// CORS
	CORSOrigins []string

	// Object Storage (S3-compatible) for tier setting overrides
	StorageEnabled   bool
	StorageEndpoint  string // AWS_ENDPOINT_URL_S3
	StorageAccessKey string // AWS_ACCESS_KEY_ID
	StorageSecretKey string // AWS_SECRET_ACCESS_KEY
	StorageBucket    string
	StorageRegion    string
	TierSettingsKey  string // Object key for tier overrides within the bucket

	// Schedule worker
	WorkerPollInterval        time.Duration // How often to scan for due scheduled audits
	WorkerConcurrency         int
	WorkerShutdownGracePeriod time.Duration

	// Idle shutdown settings (for scale-to-zero deployments)
	IdleTimeout time.Duration // Time before shutting down when idle (0 = disabled)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DatabaseURL: getEnv("DATABASE_URL", "file:fortress.db?_journal=WAL&_timeout=5000"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTExpiry:   getEnvDuration("JWT_EXPIRY", 15*time.Minute),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),

		CrawlerUserAgent:   getEnv("CRAWLER_USER_AGENT", "FortressBot/1.0 (+https://fortresshq.dev/bot)"),
		CrawlerParallelism: getEnvInt("CRAWLER_PARALLELISM", 2),
		CrawlerTimeout:     getEnvDuration("CRAWLER_TIMEOUT", 20*time.Second),

		CORSOrigins: getEnvSlice("CORS_ORIGINS", []string{"http://localhost:3000"}),

		// Object Storage (S3-compatible)
		StorageEndpoint:  getEnv("AWS_ENDPOINT_URL_S3", ""),
		StorageAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		StorageSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StorageBucket:    getEnvWithFallback("BUCKET_NAME", "STORAGE_BUCKET", ""),
		StorageRegion:    getEnv("AWS_REGION", "auto"),
		TierSettingsKey:  getEnv("TIER_SETTINGS_KEY", "config/tiers.json"),
	}

	// Enable storage if bucket is configured
	cfg.StorageEnabled = cfg.StorageBucket != "" && cfg.StorageEndpoint != ""

	// Schedule worker configuration
	cfg.WorkerPollInterval = getEnvDuration("WORKER_POLL_INTERVAL", 1*time.Minute)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 1)
	cfg.WorkerShutdownGracePeriod = getEnvDuration("WORKER_SHUTDOWN_GRACE_PERIOD", 5*time.Minute)

	// Idle shutdown configuration (scale-to-zero)
	cfg.IdleTimeout = getEnvDuration("IDLE_TIMEOUT", 0) // 0 = disabled

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	// Set up encryption key (derive from JWT secret if not explicitly set)
	encKeyStr := getEnv("ENCRYPTION_KEY", "")
	if encKeyStr != "" {
		decoded, err := base64.StdEncoding.DecodeString(encKeyStr)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("ENCRYPTION_KEY must be a base64-encoded 32-byte key")
		}
		cfg.EncryptionKey = decoded
	} else {
		cfg.EncryptionKey = deriveEncryptionKey(cfg.JWTSecret)
	}

	return cfg, nil
}

// AnalysisEnabled returns true if the LLM analysis provider is configured.
func (c *Config) AnalysisEnabled() bool {
	return c.AnthropicAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvWithFallback(primary, fallback, defaultValue string) string {
	if value := os.Getenv(primary); value != "" {
		return value
	}
	if value := os.Getenv(fallback); value != "" {
		return value
	}
	return defaultValue
}

// deriveEncryptionKey creates a 32-byte key from a secret string using HKDF.
// HKDF is appropriate for deriving keys from high-entropy secrets like JWT
// secrets. For low-entropy passwords, use Argon2 instead.
func deriveEncryptionKey(secret string) []byte {
	salt := []byte("fortress-api-encryption-key-v1")
	info := []byte("aes-256-gcm-encryption")

	hkdfReader := hkdf.New(sha256.New, []byte(secret), salt, info)

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdfReader, key); err != nil {
		// This should never happen with valid inputs
		panic("hkdf: failed to derive key: " + err.Error())
	}

	return key
}
