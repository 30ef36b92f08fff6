package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// defaultMaxSizeMB applies when a log file is configured without a size.
const defaultMaxSizeMB = 100

// Logger owns the process-wide zerolog logger and its log file.
type Logger struct {
	logger zerolog.Logger
	file   *rotatingFile
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	File      string // log file path, empty for none
	Console   bool   // write to stderr
	Pretty    bool   // human-readable console output
	Redaction bool   // mask credentials
	Secrets   []string
	MaxSize   int  // MB before the file rolls over
	MaxAge    int  // days rolled files are kept, 0 keeps them
	Compress  bool // gzip rolled files
}

// New builds the logger and installs it as the zerolog global logger. An
// unknown level falls back to info. With neither console nor file output
// configured, logs go to stderr.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.Console {
		var console io.Writer = os.Stderr
		if cfg.Pretty {
			console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		writers = append(writers, console)
	}

	var file *rotatingFile
	if cfg.File != "" {
		maxSize := cfg.MaxSize
		if maxSize <= 0 {
			maxSize = defaultMaxSizeMB
		}
		file, err = openRotatingFile(cfg.File, maxSize, cfg.MaxAge, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = os.Stderr
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	if cfg.Redaction {
		out = NewRedactor(cfg.Secrets...).Wrap(out)
	}

	// Level is global so SetLevel reaches loggers already handed out.
	zerolog.SetGlobalLevel(level)
	l := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = l

	return &Logger{logger: l, file: file}, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// SetLevel changes the level of every logger. Unknown levels are rejected.
func (l *Logger) SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}
