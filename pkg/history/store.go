// Package history persists runtime messages so runs can be replayed after
// the fact. Messages are stored in their encoded wire form.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/runcore/internal/observability"
	"github.com/harun/runcore/internal/tracing"
	"github.com/harun/runcore/pkg/protocol"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Record is one stored message with its row metadata.
type Record struct {
	ID        int64
	RunID     string
	SessionID string
	TurnID    string
	Type      protocol.Type
	Timestamp int64
	Message   protocol.Message
}

// RunSummary aggregates the stored messages of one run.
type RunSummary struct {
	RunID     string
	SessionID string
	Messages  int
	FirstAt   int64
	LastAt    int64
}

// Store is a SQLite-backed message history.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore opens (creating if needed) the history database at path.
func NewStore(path string, logger zerolog.Logger) (*Store, error) {
	observability.EnsureRegistered()

	if path == "" {
		return nil, errors.New("history database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		turn_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores msg. Invalid messages are refused.
func (s *Store) Append(ctx context.Context, msg protocol.Message) error {
	start := time.Now()

	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := protocol.Validate(payload); err != nil {
		return err
	}

	h := msg.Header()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (run_id, session_id, turn_id, type, timestamp, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		h.RunID, h.SessionID, h.TurnID, string(msg.Kind()), h.Timestamp, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	observability.RecordHistoryAppend(time.Since(start))
	return nil
}

// ListRun returns every message of runID in append order.
func (s *Store) ListRun(ctx context.Context, runID string) ([]Record, error) {
	ctx, span := tracing.StartSpan(ctx, "runcore.history", "history.list_run", attribute.String("run_id", runID))
	defer span.End()

	records, err := s.query(ctx,
		`SELECT id, run_id, session_id, turn_id, type, timestamp, payload FROM messages WHERE run_id = ? ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return records, err
}

// ListSession returns the latest limit messages of sessionID in append
// order. A limit <= 0 returns all of them.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx,
		`SELECT id, run_id, session_id, turn_id, type, timestamp, payload FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		sessionID, limit,
	)
}

// Runs summarizes the most recent runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, session_id, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM messages GROUP BY run_id, session_id ORDER BY MAX(id) DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.SessionID, &r.Messages, &r.FirstAt, &r.LastAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune deletes messages older than before and returns how many were
// removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE timestamp < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	observability.RecordHistoryPruned(n)
	s.logger.Debug().Int64("rows", n).Time("before", before).Msg("History pruned")
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			typ     string
			payload string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.SessionID, &r.TurnID, &typ, &r.Timestamp, &payload); err != nil {
			return nil, err
		}
		r.Type = protocol.Type(typ)

		msg, err := protocol.Decode([]byte(payload))
		if err != nil {
			s.logger.Warn().Err(err).Int64("id", r.ID).Msg("Skipping undecodable history row")
			continue
		}
		r.Message = msg
		out = append(out, r)
	}
	return out, rows.Err()
}
