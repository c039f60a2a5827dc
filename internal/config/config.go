// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DatabasePath  string // Main database file (always absolute)
	CachePath     string // Cache database beside the main one
	DataDir       string // Directory holding both databases
	SessionSecret string // Opaque to the core; passed through to auth middleware
	JWTSecret     string // Opaque to the core; passed through to auth middleware

	PrimaryAIKey   string
	PrimaryAIURL   string
	SecondaryAIKey string
	SecondaryAIURL string
	PrimaryAIModel   string
	SecondaryAIModel string

	WeatherBaseURL string
	GeocodeBaseURL string

	LogLevel    string
	SyncTiebreak string // origin_lex | server_wins

	Backup BackupConfig

	Port                    int
	MaxConnections          int
	PairingCacheMax         int
	MetricsWindow           int
	AppliedOpsRetentionDays int

	HeartbeatInterval time.Duration
	PairingCacheTTL   time.Duration
	ProviderTimeout   time.Duration
	WeatherTimeout    time.Duration

	ExternalCallsDisabled bool
	LogPretty             bool
}

// BackupConfig holds S3-compatible remote backup settings
type BackupConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	RetentionDays   int
	Enabled         bool
}

// Tiebreak modes for equal-timestamp sync conflicts
const (
	TiebreakOriginLex  = "origin_lex"
	TiebreakServerWins = "server_wins"
)

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dbPath := getEnv("SOMMOS_DATABASE_PATH", "./data/sommos.db")
	absDBPath, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}

	dataDir := filepath.Dir(absDBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DatabasePath:  absDBPath,
		CachePath:     filepath.Join(dataDir, "cache.db"),
		DataDir:       dataDir,
		SessionSecret: getEnv("SOMMOS_SESSION_SECRET", ""),
		JWTSecret:     getEnv("SOMMOS_JWT_SECRET", ""),

		PrimaryAIKey:     getEnv("SOMMOS_PRIMARY_AI_KEY", ""),
		PrimaryAIURL:     getEnv("SOMMOS_PRIMARY_AI_URL", "https://api.deepseek.com/v1/chat/completions"),
		PrimaryAIModel:   getEnv("SOMMOS_PRIMARY_AI_MODEL", "deepseek-chat"),
		SecondaryAIKey:   getEnv("SOMMOS_SECONDARY_AI_KEY", ""),
		SecondaryAIURL:   getEnv("SOMMOS_SECONDARY_AI_URL", "https://api.openai.com/v1/chat/completions"),
		SecondaryAIModel: getEnv("SOMMOS_SECONDARY_AI_MODEL", "gpt-4o-mini"),

		WeatherBaseURL: getEnv("SOMMOS_WEATHER_BASE_URL", "https://archive-api.open-meteo.com/v1/archive"),
		GeocodeBaseURL: getEnv("SOMMOS_GEOCODE_BASE_URL", "https://geocoding-api.open-meteo.com/v1/search"),

		LogLevel:     getEnv("SOMMOS_LOG_LEVEL", "info"),
		SyncTiebreak: getEnv("SOMMOS_SYNC_TIEBREAK", TiebreakOriginLex),

		Port:                    getEnvAsInt("SOMMOS_PORT", 3001),
		MaxConnections:          getEnvAsInt("SOMMOS_MAX_CONNECTIONS", 1000),
		PairingCacheMax:         getEnvAsInt("SOMMOS_PAIRING_CACHE_MAX", 10000),
		MetricsWindow:           getEnvAsInt("SOMMOS_METRICS_WINDOW", 100),
		AppliedOpsRetentionDays: getEnvAsInt("SOMMOS_APPLIED_OPS_RETENTION_DAYS", 14),

		HeartbeatInterval: getEnvAsMillis("SOMMOS_HEARTBEAT_INTERVAL_MS", 30000),
		PairingCacheTTL:   getEnvAsMillis("SOMMOS_PAIRING_CACHE_TTL_MS", 900000),
		ProviderTimeout:   getEnvAsMillis("SOMMOS_PROVIDER_TIMEOUT_MS", 30000),
		WeatherTimeout:    getEnvAsMillis("SOMMOS_WEATHER_TIMEOUT_MS", 10000),

		ExternalCallsDisabled: getEnvAsBool("SOMMOS_EXTERNAL_CALLS_DISABLED", false),
		LogPretty:             getEnvAsBool("SOMMOS_LOG_PRETTY", false),

		Backup: BackupConfig{
			Enabled:         getEnvAsBool("SOMMOS_BACKUP_ENABLED", false),
			Bucket:          getEnv("SOMMOS_BACKUP_BUCKET", ""),
			Endpoint:        getEnv("SOMMOS_BACKUP_ENDPOINT", ""),
			Region:          getEnv("SOMMOS_BACKUP_REGION", "auto"),
			AccessKeyID:     getEnv("SOMMOS_BACKUP_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("SOMMOS_BACKUP_SECRET_ACCESS_KEY", ""),
			RetentionDays:   getEnvAsInt("SOMMOS_BACKUP_RETENTION_DAYS", 30),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration ranges and enumerations
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid listen port %d", c.Port)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max_connections must be positive, got %d", c.MaxConnections)
	}
	if c.PairingCacheMax < 1 {
		return fmt.Errorf("pairing_cache_max must be positive, got %d", c.PairingCacheMax)
	}
	if c.MetricsWindow < 1 {
		return fmt.Errorf("metrics_window must be positive, got %d", c.MetricsWindow)
	}
	if c.AppliedOpsRetentionDays < 7 {
		return fmt.Errorf("applied_ops retention must be at least 7 days, got %d", c.AppliedOpsRetentionDays)
	}
	if c.SyncTiebreak != TiebreakOriginLex && c.SyncTiebreak != TiebreakServerWins {
		return fmt.Errorf("unknown sync_tiebreak mode %q", c.SyncTiebreak)
	}
	if c.HeartbeatInterval <= 0 || c.PairingCacheTTL <= 0 || c.ProviderTimeout <= 0 || c.WeatherTimeout <= 0 {
		return fmt.Errorf("timeouts and intervals must be positive")
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("backup enabled but no bucket configured")
	}
	return nil
}

// PrimaryAIEnabled reports whether the primary provider may be attempted
func (c *Config) PrimaryAIEnabled() bool {
	return c.PrimaryAIKey != "" && !c.ExternalCallsDisabled
}

// SecondaryAIEnabled reports whether the secondary provider may be attempted
func (c *Config) SecondaryAIEnabled() bool {
	return c.SecondaryAIKey != "" && !c.ExternalCallsDisabled
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsMillis(key string, defaultMs int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultMs)) * time.Millisecond
}
