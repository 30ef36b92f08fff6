package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/runcore/pkg/history"
	"github.com/harun/runcore/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedHistory writes a few messages next to a (missing) config file and
// returns the config path.
func seedHistory(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store, err := history.NewStore(filepath.Join(dir, "history.db"), zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i, m := range []struct{ run, text string }{
		{"r1", "one"},
		{"r2", "other"},
		{"r1", "two"},
	} {
		require.NoError(t, store.Append(ctx, protocol.RunWarning{
			Envelope: protocol.NewEnvelope(m.run, "s1", "", time.UnixMilli(int64(1000+i))),
			Message:  m.text,
		}))
	}
	return filepath.Join(dir, "runcore.json")
}

func runHistory(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs(append([]string{"history"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestHistoryCommands(t *testing.T) {
	cfgPath := seedHistory(t)

	t.Run("runs as json", func(t *testing.T) {
		out, err := runHistory(t, "runs", "--config", cfgPath, "--format", "json")
		require.NoError(t, err)

		var runs []runView
		require.NoError(t, json.Unmarshal([]byte(out), &runs))
		require.Len(t, runs, 2)
		assert.Equal(t, "r1", runs[0].RunID)
		assert.Equal(t, 2, runs[0].Messages)
	})

	t.Run("runs as text", func(t *testing.T) {
		out, err := runHistory(t, "runs", "--config", cfgPath, "--format", "text")
		require.NoError(t, err)
		assert.Contains(t, out, "RUN")
		assert.Contains(t, out, "r2")
	})

	t.Run("run replay", func(t *testing.T) {
		out, err := runHistory(t, "run", "r1", "--config", cfgPath, "--format", "text")
		require.NoError(t, err)
		assert.Contains(t, out, "[r1] run_warning one")
		assert.Contains(t, out, "[r1] run_warning two")
		assert.NotContains(t, out, "other")
	})

	t.Run("run as yaml", func(t *testing.T) {
		out, err := runHistory(t, "run", "r2", "--config", cfgPath, "--format", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "type: run_warning")
		assert.Contains(t, out, "message: other")
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := runHistory(t, "run", "missing", "--config", cfgPath, "--format", "text")
		assert.Error(t, err)
	})

	t.Run("session", func(t *testing.T) {
		out, err := runHistory(t, "session", "s1", "--config", cfgPath, "--format", "text", "--limit", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "two")
		assert.NotContains(t, out, "one")
	})

	t.Run("bad format", func(t *testing.T) {
		_, err := runHistory(t, "runs", "--config", cfgPath, "--format", "xml")
		assert.Error(t, err)
	})

	t.Run("prune", func(t *testing.T) {
		out, err := runHistory(t, "prune", "--config", cfgPath, "--format", "text", "--older-than", "1h")
		require.NoError(t, err)
		assert.Contains(t, out, "Pruned 3 messages")
	})
}

func TestStatusStopped(t *testing.T) {
	cmd := GetRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"status", "--config", filepath.Join(t.TempDir(), "runcore.json")})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "Status: stopped")
}
