package gqlpipe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func clearConfigEnv(t *testing.T) {
	for _, env := range envBindings {
		t.Setenv(env, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3007/graphql", cfg.HTTPEndpoint)
	assert.Equal(t, "ws://localhost:3007/graphql", cfg.WSEndpoint)
	assert.Equal(t, 30*time.Second, cfg.WS.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("API_GRAPHQL_URL", "https://api.example.com/graphql")
	t.Setenv("API_WS", "wss://api.example.com/graphql")
	t.Setenv("API_WS_TIMEOUT", "5s")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/graphql", cfg.HTTPEndpoint)
	assert.Equal(t, "wss://api.example.com/graphql", cfg.WSEndpoint)
	assert.Equal(t, 5*time.Second, cfg.WS.Timeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfigRejectsBadEndpoint(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("API_WS", "http://api.example.com/graphql")

	_, err := LoadConfig()
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", "console")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger("warn", "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)
	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}
