package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	t.Run("console only", func(t *testing.T) {
		l, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		assert.Nil(t, l.file)
		assert.NoError(t, l.Close())
	})

	t.Run("file output creates directories", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "nested", "runcore.log")

		l, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)
		require.NotNil(t, l.file)
		assert.Equal(t, int64(defaultMaxSizeMB)*1024*1024, l.file.maxBytes)

		zl := l.GetZerolog()
		zl.Info().Str("run_id", "r1").Msg("run started")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"run_id":"r1"`)
	})

	t.Run("rotation settings reach the file", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "runcore.log")

		l, err := New(Config{File: logFile, MaxSize: 5, MaxAge: 3, Compress: true})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, int64(5)*1024*1024, l.file.maxBytes)
		assert.Equal(t, "72h0m0s", l.file.maxAge.String())
		assert.True(t, l.file.compress)
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	})
}

func TestSetLevel(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	logFile := filepath.Join(t.TempDir(), "level.log")
	l, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)
	logger := l.GetZerolog()

	logger.Debug().Msg("hidden")
	require.NoError(t, l.SetLevel("debug"))
	logger.Debug().Msg("visible")
	assert.Error(t, l.SetLevel("loud"))
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestRedactedFileOutput(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	logFile := filepath.Join(t.TempDir(), "redacted.log")
	l, err := New(Config{
		Level:     "info",
		File:      logFile,
		Redaction: true,
		Secrets:   []string{"gateway-s3cret"},
	})
	require.NoError(t, err)

	logger := l.GetZerolog().With().Str("component", "gateway").Logger()
	logger.Info().
		Str("url", "/ws?session=s1&token=gateway-s3cret").
		Str("X-Runcore-Secret", "gateway-s3cret").
		Msg("client connected")
	logger.Info().Str("note", "shared secret gateway-s3cret rotated").Msg("config reloaded")
	logger.Info().Str("key", "sk-ant-api03-AbCdEf_123456").Msg("provider ready")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"component":"gateway"`)
	assert.Contains(t, out, `token=[REDACTED]`)
	assert.Contains(t, out, `"X-Runcore-Secret":"[REDACTED]"`)
	assert.Contains(t, out, `"key":"[REDACTED]"`)
	assert.NotContains(t, out, "gateway-s3cret")
	assert.NotContains(t, out, "sk-ant-")
}
