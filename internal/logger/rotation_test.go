package logger

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T, maxBytes int64, maxAgeDays int, compress bool) (*rotatingFile, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "runcore.log")
	r, err := openRotatingFile(path, 1, maxAgeDays, compress)
	require.NoError(t, err)
	r.maxBytes = maxBytes
	t.Cleanup(func() { r.Close() })
	return r, path
}

func backups(t *testing.T, path string) []string {
	t.Helper()
	matches, err := filepath.Glob(path + ".*")
	require.NoError(t, err)
	return matches
}

func TestRotatingFileRollsOverSize(t *testing.T) {
	r, path := newTestFile(t, 64, 0, false)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	line := []byte(`{"level":"info","message":"run started"}` + "\n")
	_, err := r.Write(line)
	require.NoError(t, err)
	assert.Empty(t, backups(t, path))

	_, err = r.Write(line)
	require.NoError(t, err)

	rolled := backups(t, path)
	require.Len(t, rolled, 1)
	assert.Equal(t, path+".20260301T100000.000", rolled[0])

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, line, current)
}

func TestRotatingFileOversizedWrite(t *testing.T) {
	r, path := newTestFile(t, 8, 0, false)

	n, err := r.Write([]byte("a line longer than the limit\n"))
	require.NoError(t, err)
	assert.Equal(t, 29, n)
	assert.Empty(t, backups(t, path))
}

func TestRotatingFileCompressesBackup(t *testing.T) {
	r, path := newTestFile(t, 16, 0, true)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	_, err := r.Write([]byte("first entry\n"))
	require.NoError(t, err)
	_, err = r.Write([]byte("second entry\n"))
	require.NoError(t, err)

	rolled := backups(t, path)
	require.Len(t, rolled, 1)
	assert.Equal(t, path+".20260301T100000.000.gz", rolled[0])

	f, err := os.Open(rolled[0])
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "first entry\n", string(data))
}

func TestRotatingFilePrunesExpiredBackups(t *testing.T) {
	r, path := newTestFile(t, 16, 7, false)
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	expired := path + "." + now.Add(-10*24*time.Hour).Format(backupLayout) + ".gz"
	recent := path + "." + now.Add(-2*24*time.Hour).Format(backupLayout)
	unrelated := path + ".keep"
	for _, name := range []string{expired, recent, unrelated} {
		require.NoError(t, os.WriteFile(name, []byte("old"), 0o644))
	}

	_, err := r.Write([]byte("first entry\n"))
	require.NoError(t, err)
	_, err = r.Write([]byte("second entry\n"))
	require.NoError(t, err)

	assert.NoFileExists(t, expired)
	assert.FileExists(t, recent)
	assert.FileExists(t, unrelated)
	assert.FileExists(t, path+"."+now.Format(backupLayout))
}

func TestRotatingFileAppendsToExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runcore.log")
	require.NoError(t, os.WriteFile(path, []byte("earlier\n"), 0o644))

	r, err := openRotatingFile(path, 1, 0, false)
	require.NoError(t, err)
	assert.Equal(t, int64(8), r.size)

	_, err = r.Write([]byte("later\n"))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "earlier\nlater\n", string(data))
}

func TestRotatingFileWriteAfterClose(t *testing.T) {
	r, _ := newTestFile(t, 64, 0, false)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err := r.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
