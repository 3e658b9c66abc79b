package export

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps export records in a single SQLite file. It owns the handle.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and ensures the table exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("export: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS exported_sessions (
  session_id     TEXT PRIMARY KEY,
  session_string TEXT NOT NULL,
  session_name   TEXT NOT NULL,
  number         TEXT NOT NULL,
  created_at     INTEGER NOT NULL,
  exported_at    INTEGER NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create exported_sessions: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	rec = rec.normalize(s.now())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exported_sessions (session_id, session_string, session_name, number, created_at, exported_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   session_string = excluded.session_string,
		   session_name   = excluded.session_name,
		   number         = excluded.number,
		   created_at     = excluded.created_at,
		   exported_at    = excluded.exported_at`,
		rec.SessionID, rec.SessionString, rec.SessionName, rec.Number, toMillis(rec.CreatedAt), toMillis(rec.ExportedAt),
	)
	if err != nil {
		return fmt.Errorf("export: upsert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (Record, error) {
	var rec Record
	var createdAt, exportedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, session_string, session_name, number, created_at, exported_at
		   FROM exported_sessions WHERE session_id = ?`,
		sessionID,
	).Scan(&rec.SessionID, &rec.SessionString, &rec.SessionName, &rec.Number, &createdAt, &exportedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("export: load: %w", err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	rec.ExportedAt = fromMillis(exportedAt)
	return rec, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
