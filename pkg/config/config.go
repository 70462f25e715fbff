package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: every environment variable is read here and nowhere else
type Config struct {
	Env string // development, staging, production

	// Pipeline
	Pipeline PipelineConfig

	// Database (optional sink)
	Database DatabaseConfig

	// Object storage (optional publishing)
	MinIO MinIOConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// PipelineConfig holds the locations and sizing of one run
type PipelineConfig struct {
	ConfigDir    string // directory of per-family YAML files
	InputDir     string // root of per-family raw file directories
	OutputDir    string // where tables and audit artifacts are written
	Workers      int    // families processed in parallel
	WriteParquet bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether the PostgreSQL sink is configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// MinIOConfig holds S3-compatible object store configuration
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
	UploadRPS int // max uploads per second, 0 = unlimited
}

// Enabled reports whether publishing to object storage is configured
func (m MinIOConfig) Enabled() bool {
	return m.Endpoint != ""
}

// Load reads configuration from environment variables
// ⭐ SSOT: the only function that calls os.Getenv()
func Load() (*Config, error) {
	// Try multiple paths for .env file
	loadEnvFile()

	cfg := &Config{
		Env: getEnv("ENV", "development"),

		Pipeline: PipelineConfig{
			ConfigDir:    getEnv("KPI_CONFIG_DIR", "configs/families"),
			InputDir:     getEnv("KPI_INPUT_DIR", "data/raw"),
			OutputDir:    getEnv("KPI_OUTPUT_DIR", "data/output"),
			Workers:      getEnvAsInt("KPI_WORKERS", 4),
			WriteParquet: getEnvAsBool("KPI_WRITE_PARQUET", true),
		},

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "edukpi"),
			Prefix:    getEnv("MINIO_PREFIX", "kpi"),
			Region:    getEnv("MINIO_REGION", ""),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
			UploadRPS: getEnvAsInt("MINIO_UPLOAD_RPS", 0),
		},

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set
func (c *Config) validate() error {
	// Validate environment
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("KPI_WORKERS must be >= 1")
	}

	if c.Pipeline.ConfigDir == "" || c.Pipeline.InputDir == "" || c.Pipeline.OutputDir == "" {
		return fmt.Errorf("KPI_CONFIG_DIR, KPI_INPUT_DIR and KPI_OUTPUT_DIR are required")
	}

	// Partial object store settings are a misconfiguration, not a silent no-op
	if c.MinIO.Enabled() {
		if c.MinIO.AccessKey == "" || c.MinIO.SecretKey == "" {
			return fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when MINIO_ENDPOINT is set")
		}
		if c.MinIO.Bucket == "" {
			return fmt.Errorf("MINIO_BUCKET is required when MINIO_ENDPOINT is set")
		}
		if c.MinIO.UploadRPS < 0 {
			return fmt.Errorf("MINIO_UPLOAD_RPS must be >= 0")
		}
	}

	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	// Try paths in order of priority
	paths := []string{
		".env", // Current directory
	}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
