package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// HTTP Server Configuration
	HTTPPort           int
	CORSAllowedOrigins []string

	// Database Configuration
	DatabaseURL string
	DataDir     string

	LogMode string

	// Authentication Configuration
	AdminUsername  string
	AdminPassword  string
	JWTSecret      string
	JWTSecretFrom  string
	JWTExpiryHours int

	// Optional YAML role policy; empty means the built-in roles.
	PolicyFile string

	// Scoring
	ScoringURL           string
	ScoringTimeout       time.Duration
	ScoringRetries       int
	ScoringRatePerSecond float64
	ScoringBurst         int
	ScoringSeed          int64
	ScoringNoise         float64

	// Notifications
	RedisAddr                string
	RedisChannel             string
	SlackBotToken            string
	SlackChannel             string
	SlackContestationChannel string
	OutboxInterval           time.Duration
	OutboxMaxAttempts        int

	// Tracing
	OTelEnabled      bool
	OTelEndpoint     string
	OTelSamplerRatio float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTPPort = getEnvAsIntOrDefault("HTTP_PORT", 3000)
	cfg.CORSAllowedOrigins = getEnvAsListOrDefault("CORS_ALLOWED_ORIGINS", nil)

	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", "sqlite:creditdesk.db")
	cfg.DataDir = getEnvOrDefault("DATA_DIR", "./data")
	cfg.LogMode = getEnvOrDefault("LOG_MODE", "development")

	cfg.AdminUsername = getEnvOrDefault("ADMIN_USERNAME", "admin")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD") // No default - must be set
	cfg.JWTExpiryHours = getEnvAsIntOrDefault("JWT_EXPIRY_HOURS", 24)

	secret, from, err := loadOrGenerateJWTSecret(filepath.Join(cfg.DataDir, ".jwt_secret"))
	if err != nil {
		return nil, err
	}
	cfg.JWTSecret, cfg.JWTSecretFrom = secret, from

	cfg.PolicyFile = os.Getenv("POLICY_FILE")

	cfg.ScoringURL = os.Getenv("SCORING_URL")
	cfg.ScoringTimeout = getEnvAsDurationOrDefault("SCORING_TIMEOUT", 5*time.Second)
	cfg.ScoringRetries = getEnvAsIntOrDefault("SCORING_RETRIES", 1)
	cfg.ScoringRatePerSecond = getEnvAsFloatOrDefault("SCORING_RATE_PER_SECOND", 0)
	cfg.ScoringBurst = getEnvAsIntOrDefault("SCORING_BURST", 10)
	cfg.ScoringSeed = int64(getEnvAsIntOrDefault("SCORING_SEED", 0))
	cfg.ScoringNoise = getEnvAsFloatOrDefault("SCORING_NOISE", 0)

	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.RedisChannel = getEnvOrDefault("REDIS_CHANNEL", "creditdesk.decisions")
	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	cfg.SlackChannel = os.Getenv("SLACK_CHANNEL")
	cfg.SlackContestationChannel = os.Getenv("SLACK_CONTESTATION_CHANNEL")
	cfg.OutboxInterval = getEnvAsDurationOrDefault("OUTBOX_INTERVAL", 2*time.Second)
	cfg.OutboxMaxAttempts = getEnvAsIntOrDefault("OUTBOX_MAX_ATTEMPTS", 8)

	cfg.OTelEnabled = getEnvAsBoolOrDefault("OTEL_ENABLED", false)
	cfg.OTelEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTelSamplerRatio = getEnvAsFloatOrDefault("OTEL_SAMPLER_RATIO", 1)

	return cfg, cfg.Validate()
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.AdminPassword == "" {
		errs = append(errs, errors.New("ADMIN_PASSWORD is not set"))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT %d is out of range", c.HTTPPort))
	}
	if c.JWTExpiryHours <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRY_HOURS must be positive"))
	}
	if c.ScoringNoise < 0 || c.ScoringNoise > 0.5 {
		errs = append(errs, errors.New("SCORING_NOISE must be between 0 and 0.5"))
	}
	if c.OTelSamplerRatio < 0 || c.OTelSamplerRatio > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLER_RATIO must be between 0 and 1"))
	}
	if c.SlackBotToken != "" && c.SlackChannel == "" {
		errs = append(errs, errors.New("SLACK_CHANNEL is required when SLACK_BOT_TOKEN is set"))
	}
	return errors.Join(errs...)
}

// JWTExpiry is the token lifetime.
func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWTExpiryHours) * time.Hour
}

// loadOrGenerateJWTSecret returns the JWT secret and where it came from:
// the JWT_SECRET env var, the secret file, or a freshly generated value
// that is persisted for the next start.
func loadOrGenerateJWTSecret(secretPath string) (string, string, error) {
	if envSecret := os.Getenv("JWT_SECRET"); envSecret != "" {
		return envSecret, "env", nil
	}

	// #nosec G304 -- path is derived from DATA_DIR.
	if data, err := os.ReadFile(secretPath); err == nil {
		if secret := strings.TrimSpace(string(data)); secret != "" {
			return secret, secretPath, nil
		}
	}

	secret, err := generateSecureSecret(32) // 256 bits
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(filepath.Dir(secretPath), 0o755); err != nil {
		return secret, "generated", nil
	}
	if err := os.WriteFile(secretPath, []byte(secret), 0o600); err != nil {
		return secret, "generated", nil
	}
	return secret, "generated:" + secretPath, nil
}

// generateSecureSecret generates a cryptographically secure random string
func generateSecureSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate JWT secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault returns the value of an environment variable as an integer or a default value
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault accepts Go durations ("1500ms") or plain seconds.
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsListOrDefault splits a comma-separated value, dropping blanks.
func getEnvAsListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
