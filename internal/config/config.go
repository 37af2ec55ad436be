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
	DataDir   string // Base directory for all databases (always absolute)
	LogLevel  string
	LogPretty bool
	Port      int
	DevMode   bool

	AnalysisSchedule string // cron expression with seconds
	ValidationGate   float64
	UniverseFile     string
	StrategyFile     string

	YahooBaseURL        string
	YahooRequestsPerSec float64
	PriceCacheTTL       time.Duration

	MaintenanceSchedule string
	RunRetentionDays    int // analysis runs older than this are purged
	CacheRetentionDays  int // cached price series untouched this long are purged

	Backup *BackupConfig

	gateSet bool
}

// BackupConfig holds offsite backup settings for Cloudflare R2
type BackupConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Schedule        string
	RetentionDays   int
}

// Enabled reports whether every credential needed for R2 is present
func (b *BackupConfig) Enabled() bool {
	return b != nil && b.AccountID != "" && b.AccessKeyID != "" && b.SecretAccessKey != "" && b.BucketName != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RISKCYCLE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:             absDataDir,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogPretty:           getEnvAsBool("LOG_PRETTY", false),
		Port:                getEnvAsInt("PORT", 8080),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		AnalysisSchedule:    getEnv("ANALYSIS_SCHEDULE", "0 30 22 * * 1-5"),
		ValidationGate:      getEnvAsFloat("VALIDATION_GATE", 60),
		UniverseFile:        getEnv("UNIVERSE_FILE", "configs/universe.yaml"),
		StrategyFile:        getEnv("STRATEGY_FILE", ""),
		YahooBaseURL:        getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
		YahooRequestsPerSec: getEnvAsFloat("YAHOO_REQUESTS_PER_SECOND", 2),
		PriceCacheTTL:       getEnvAsDuration("PRICE_CACHE_TTL", 12*time.Hour),
		MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 0 2 * * *"),
		RunRetentionDays:    getEnvAsInt("RUN_RETENTION_DAYS", 90),
		CacheRetentionDays:  getEnvAsInt("CACHE_RETENTION_DAYS", 30),
		Backup:              loadBackupConfig(),
	}
	_, cfg.gateSet = os.LookupEnv("VALIDATION_GATE")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		BucketName:      getEnv("R2_BUCKET_NAME", ""),
		Schedule:        getEnv("BACKUP_SCHEDULE", "0 0 3 * * *"),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
}

// ResolveGate returns VALIDATION_GATE when it is set in the environment and
// the strategy's gate otherwise
func (c *Config) ResolveGate(strategyGate float64) float64 {
	if c.gateSet {
		return c.ValidationGate
	}
	return strategyGate
}

// Validate checks that configured values are usable
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.ValidationGate < 0 || c.ValidationGate > 100 {
		return fmt.Errorf("VALIDATION_GATE must be within [0, 100], got %g", c.ValidationGate)
	}
	if c.PriceCacheTTL < 0 {
		return fmt.Errorf("PRICE_CACHE_TTL must not be negative")
	}
	if c.RunRetentionDays < 0 || c.CacheRetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative")
	}
	if c.Backup != nil && c.Backup.RetentionDays < 0 {
		return fmt.Errorf("BACKUP_RETENTION_DAYS must not be negative")
	}
	return nil
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
