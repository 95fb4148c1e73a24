// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds every tunable for the gateway and the workers.
// Values come from the environment; defaults match local development.
type Settings struct {
	AppName     string
	Environment string
	ListenAddr  string

	APIKeys            []string
	RateLimitPerMinute int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResultTTL     time.Duration

	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3UseSSL        bool
	UseLocalStorage bool
	LocalStorage    string

	GPUIDs          []int
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	SoftTimeLimit   time.Duration
	HardTimeLimit   time.Duration
	MaxTasksPerChild int

	CallbackTimeout   time.Duration
	PrometheusEnabled bool

	// Optional Postgres task archive. Empty disables it.
	DatabaseURL string
}

// Load reads Settings from the environment.
func Load() *Settings {
	return &Settings{
		AppName:     getEnv("APP_NAME", "inferno"),
		Environment: getEnv("ENVIRONMENT", "development"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),

		APIKeys:            splitCSV(getEnv("API_KEYS", "test-key-123")),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		ResultTTL:     getEnvDuration("RESULT_TTL_SECONDS", 24*time.Hour),

		S3Endpoint:      getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:     getEnv("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:     getEnv("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:        getEnv("S3_BUCKET", "inference-results"),
		S3UseSSL:        getEnvBool("S3_USE_SSL", false),
		UseLocalStorage: getEnvBool("USE_LOCAL_STORAGE", true),
		LocalStorage:    getEnv("LOCAL_STORAGE_PATH", "./data"),

		GPUIDs:           splitInts(getEnv("GPU_IDS", "")),
		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		RetryBackoff:     getEnvDuration("RETRY_BACKOFF_SECONDS", 60*time.Second),
		RetryBackoffMax:  getEnvDuration("RETRY_BACKOFF_MAX_SECONDS", 300*time.Second),
		SoftTimeLimit:    getEnvDuration("SOFT_TIME_LIMIT_SECONDS", 540*time.Second),
		HardTimeLimit:    getEnvDuration("HARD_TIME_LIMIT_SECONDS", 600*time.Second),
		MaxTasksPerChild: getEnvInt("WORKER_MAX_TASKS_PER_CHILD", 100),

		CallbackTimeout:   getEnvDuration("CALLBACK_TIMEOUT_SECONDS", 30*time.Second),
		PrometheusEnabled: getEnvBool("PROMETHEUS_ENABLED", true),

		DatabaseURL: getEnv("DATABASE_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads an integer number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

// splitCSV splits a comma-separated string, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitInts(s string) []int {
	var out []int
	for _, part := range splitCSV(s) {
		if n, err := strconv.Atoi(part); err == nil {
			out = append(out, n)
		}
	}
	return out
}
