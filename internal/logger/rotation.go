package logger

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// backupLayout is the UTC timestamp appended to rolled log files.
const backupLayout = "20060102T150405.000"

// rotatingFile is an append-only log file that rolls over once it grows
// past maxBytes. Rolled files are named <path>.<timestamp>, gzipped when
// compress is set, and removed once older than maxAge.
type rotatingFile struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxAge   time.Duration
	compress bool

	f    *os.File
	size int64
	now  func() time.Time
}

func openRotatingFile(path string, maxSizeMB, maxAgeDays int, compress bool) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	r := &rotatingFile{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		maxAge:   time.Duration(maxAgeDays) * 24 * time.Hour,
		compress: compress,
		now:      time.Now,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *rotatingFile) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	r.f = f
	r.size = info.Size()
	return nil
}

// Write appends p, rolling the file first when p would push it past
// maxBytes. A single oversized write still lands in one file.
func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.f == nil {
		return 0, os.ErrClosed
	}
	if r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.roll(); err != nil {
			return 0, fmt.Errorf("rotate %s: %w", r.path, err)
		}
	}
	n, err := r.f.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

func (r *rotatingFile) roll() error {
	if err := r.f.Close(); err != nil {
		return err
	}
	r.f = nil

	backup := r.path + "." + r.now().UTC().Format(backupLayout)
	if err := os.Rename(r.path, backup); err != nil {
		return err
	}
	if err := r.open(); err != nil {
		return err
	}

	var errs []error
	if r.compress {
		errs = append(errs, gzipFile(backup))
	}
	errs = append(errs, r.prune())
	return errors.Join(errs...)
}

// prune removes rolled files whose timestamp is older than maxAge.
func (r *rotatingFile) prune() error {
	if r.maxAge <= 0 {
		return nil
	}
	matches, err := filepath.Glob(r.path + ".*")
	if err != nil {
		return err
	}
	cutoff := r.now().Add(-r.maxAge)
	var errs []error
	for _, name := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, r.path+"."), ".gz")
		rolled, err := time.Parse(backupLayout, stamp)
		if err != nil {
			continue
		}
		if rolled.Before(cutoff) {
			errs = append(errs, os.Remove(name))
		}
	}
	return errors.Join(errs...)
}

func gzipFile(name string) error {
	src, err := os.Open(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(name+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		dst.Close()
		os.Remove(name + ".gz")
		return err
	}
	if err := zw.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
