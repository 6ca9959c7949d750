package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuschat/realtime/internal/config"
)

func TestNewConsoleLogger(t *testing.T) {
	log, err := New(config.LogConfig{Level: "info", Console: true})
	require.NoError(t, err)

	log.Info("hello")
	_ = log.Sync()
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.log")

	log, err := New(config.LogConfig{Level: "debug", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	log.Info("to file")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud", Console: true})
	assert.Error(t, err)
}

func TestNewRejectsNoOutput(t *testing.T) {
	_, err := New(config.LogConfig{Level: "info"})
	assert.Error(t, err)
}
