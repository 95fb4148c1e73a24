package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactKey(t *testing.T) {
	assert.Equal(t, "test-key...", RedactKey("test-key-123"))
	assert.Equal(t, "short...", RedactKey("short"))
	assert.Equal(t, "...", RedactKey(""))
	assert.Equal(t, "12345678...", RedactKey("12345678"))
}

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", JSONOutput: true, Output: &buf})

	Logger.Info().Str("component", "test").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "test", entry["component"])
	assert.NotEmpty(t, entry["time"])
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", JSONOutput: true, Output: &buf})

	Logger.Info().Msg("dropped")
	assert.Empty(t, buf.Bytes())

	Logger.Warn().Msg("kept")
	assert.NotEmpty(t, buf.Bytes())
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "info", JSONOutput: true, Output: &buf})

	logger := WithComponent("gateway")
	logger.Info().Msg("up")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "gateway", entry["component"])
}
