package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "inferno", cfg.AppName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, []string{"test-key-123"}, cfg.APIKeys)
	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 24*time.Hour, cfg.ResultTTL)
	assert.True(t, cfg.UseLocalStorage)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.RetryBackoff)
	assert.Equal(t, 300*time.Second, cfg.RetryBackoffMax)
	assert.Equal(t, 540*time.Second, cfg.SoftTimeLimit)
	assert.Equal(t, 600*time.Second, cfg.HardTimeLimit)
	assert.Equal(t, 100, cfg.MaxTasksPerChild)
	assert.Equal(t, 30*time.Second, cfg.CallbackTimeout)
	assert.True(t, cfg.PrometheusEnabled)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("API_KEYS", "key-a, key-b ,,key-c")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "5")
	t.Setenv("RESULT_TTL_SECONDS", "3600")
	t.Setenv("GPU_IDS", "0,1,3")
	t.Setenv("USE_LOCAL_STORAGE", "false")
	t.Setenv("ENVIRONMENT", "production")

	cfg := Load()

	assert.Equal(t, []string{"key-a", "key-b", "key-c"}, cfg.APIKeys)
	assert.Equal(t, 5, cfg.RateLimitPerMinute)
	assert.Equal(t, time.Hour, cfg.ResultTTL)
	assert.Equal(t, []int{0, 1, 3}, cfg.GPUIDs)
	assert.False(t, cfg.UseLocalStorage)
	assert.Equal(t, "production", cfg.Environment)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "lots")
	t.Setenv("USE_LOCAL_STORAGE", "maybe")
	t.Setenv("MAX_RETRIES", "")

	cfg := Load()

	assert.Equal(t, 60, cfg.RateLimitPerMinute)
	assert.True(t, cfg.UseLocalStorage)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestSplitCSV(t *testing.T) {
	assert.Nil(t, splitCSV(""))
	assert.Equal(t, []string{"a"}, splitCSV("a"))
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a , b "))
	assert.Nil(t, splitCSV(" , ,"))
}

func TestSplitInts(t *testing.T) {
	assert.Nil(t, splitInts(""))
	assert.Equal(t, []int{0, 2, 7}, splitInts("0,2,7"))
	assert.Equal(t, []int{1}, splitInts("1,not-a-number"))
}
