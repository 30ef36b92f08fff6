package observability

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	require.NoError(t, InitAuditLogger(path))
	t.Cleanup(func() { GetAuditLogger().Close() })

	RecordControlAudit(context.Background(), "abort", "client-1", "accepted", map[string]any{"run_id": "r1"})
	RecordConfigAudit(context.Background(), "reload", nil)
	require.NoError(t, GetAuditLogger().Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "control", lines[0]["type"])
	assert.Equal(t, "abort", lines[0]["action"])
	assert.Equal(t, "client-1", lines[0]["actor"])
	assert.Equal(t, map[string]any{"run_id": "r1"}, lines[0]["metadata"])
	assert.Equal(t, "config", lines[1]["type"])
	assert.Equal(t, "system", lines[1]["actor"])
}

func TestAuditLoggerDiscardsUntilInitialized(t *testing.T) {
	a := &AuditLogger{}
	assert.NoError(t, a.Close())
	assert.NotPanics(t, func() {
		GetAuditLogger().Record(context.Background(), AuditEvent{Type: "control", Action: "run"})
	})
}
