package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/sla-engine/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("chatty"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel(""))
}

func TestNewLogger_WritesServiceFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	app := config.AppConfig{Name: "sla-engine", Env: "production", Version: "1.2.3"}

	logger, err := buildLogger(app, config.LoggerConfig{Level: "info"}, []string{path})
	require.NoError(t, err)

	Component(logger, "sweep").Info("sweep finished")
	logger.Debug("hidden")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "sweep finished", entry["message"])
	assert.Equal(t, "sweep", entry["component"])
	assert.Equal(t, "sla-engine", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
}
