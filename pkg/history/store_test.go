package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/runcore/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history", "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func msgAt(runID, sessionID string, ts int64, text string) protocol.Message {
	return protocol.RunWarning{
		Envelope: protocol.NewEnvelope(runID, sessionID, "", time.UnixMilli(ts)),
		Message:  text,
	}
}

func TestNewStoreRequiresPath(t *testing.T) {
	_, err := NewStore("", zerolog.Nop())
	assert.Error(t, err)
}

func TestAppendAndListRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, msgAt("r1", "s1", 10, "one")))
	require.NoError(t, s.Append(ctx, msgAt("r2", "s1", 11, "other run")))
	require.NoError(t, s.Append(ctx, msgAt("r1", "s1", 12, "two")))

	records, err := s.ListRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "one", records[0].Message.(protocol.RunWarning).Message)
	assert.Equal(t, "two", records[1].Message.(protocol.RunWarning).Message)
	assert.Equal(t, protocol.TypeRunWarning, records[0].Type)
	assert.Equal(t, int64(12), records[1].Timestamp)
}

func TestAppendRefusesInvalid(t *testing.T) {
	s := newTestStore(t)
	err := s.Append(context.Background(), msgAt("", "s1", 1, "no run"))
	assert.ErrorIs(t, err, protocol.ErrInvalidMessage)
}

func TestListSessionLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i, text := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Append(ctx, msgAt("r1", "s1", int64(i), text)))
	}

	records, err := s.ListSession(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].Message.(protocol.RunWarning).Message)
	assert.Equal(t, "d", records[1].Message.(protocol.RunWarning).Message)

	all, err := s.ListSession(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, msgAt("r1", "s1", 10, "a")))
	require.NoError(t, s.Append(ctx, msgAt("r1", "s1", 20, "b")))
	require.NoError(t, s.Append(ctx, msgAt("r2", "s1", 30, "c")))

	runs, err := s.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].RunID)
	assert.Equal(t, RunSummary{RunID: "r1", SessionID: "s1", Messages: 2, FirstAt: 10, LastAt: 20}, runs[1])
}

func TestPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, msgAt("r1", "s1", 1000, "old")))
	require.NoError(t, s.Append(ctx, msgAt("r1", "s1", 5000, "new")))

	n, err := s.Prune(ctx, time.UnixMilli(2000))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := s.ListRun(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Message.(protocol.RunWarning).Message)
}

func TestRecorder(t *testing.T) {
	s := newTestStore(t)
	ch := make(chan protocol.Message, 3)
	ch <- msgAt("r1", "s1", 1, "a")
	ch <- msgAt("", "s1", 2, "invalid is skipped")
	ch <- msgAt("r1", "s1", 3, "b")
	close(ch)

	NewRecorder(s).Run(context.Background(), ch)

	records, err := s.ListRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(10 * 24 * 3600 * 1000)
	require.NoError(t, s.Append(ctx, msgAt("r1", "s1", now.Add(-8*24*time.Hour).UnixMilli(), "stale")))
	require.NoError(t, s.Append(ctx, msgAt("r1", "s1", now.Add(-time.Hour).UnixMilli(), "fresh")))

	r := NewRetention(s, 0, "")
	r.now = func() time.Time { return now }

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, r.Start())
	assert.Error(t, r.Start())
	r.Stop()
	r.Stop()
}

func TestRetentionRejectsBadSchedule(t *testing.T) {
	s := newTestStore(t)
	r := NewRetention(s, time.Hour, "every tuesday-ish")
	assert.Error(t, r.Start())
}
