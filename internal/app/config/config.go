package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Application identity, written into backup manifests.
const (
	AppName    = "PolicyHub"
	AppVersion = "1.0.0"
)

type Config struct {
	Environment string
	Shared      SharedConfig
	Limits      LimitsConfig
	LogLevel    string
}

// SharedConfig locates the shared network folder every desktop process
// reads and writes, and sets the retry policy for the busy store.
type SharedConfig struct {
	Root          string
	BusyTimeout   time.Duration
	RetryAttempts uint64
	RetryBackoff  time.Duration
}

type LimitsConfig struct {
	MaxFileSize int64
}

// AllowedExtensions is the upload allow-list with its extension-to-MIME map.
var AllowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain",
}

// Load configuration from environment variables
func Load() (*Config, error) {
	// Load .env file in non-production environments; the file is optional
	env := os.Getenv("ENVIRONMENT")
	if env != "production" {
		_ = godotenv.Load()
	}

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Shared: SharedConfig{
			Root:          getEnv("POLICYHUB_SHARED_ROOT", ""),
			BusyTimeout:   getDurationEnv("POLICYHUB_BUSY_TIMEOUT", 30*time.Second),
			RetryAttempts: uint64(getInt64Env("POLICYHUB_RETRY_ATTEMPTS", 4)),
			RetryBackoff:  getDurationEnv("POLICYHUB_RETRY_BACKOFF", 250*time.Millisecond),
		},
		Limits: LimitsConfig{
			MaxFileSize: getInt64Env("POLICYHUB_MAX_FILE_SIZE", 25*1024*1024), // 25MB default
		},
		LogLevel: getEnv("POLICYHUB_LOG_LEVEL", "info"),
	}

	if config.Shared.Root == "" {
		return nil, fmt.Errorf("POLICYHUB_SHARED_ROOT is required")
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
