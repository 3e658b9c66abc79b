package export

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps export records in PostgreSQL.
//
// PostgresStore does NOT own the pgx pool. The caller must close the pool,
// Close is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	now    func() time.Time
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "pairgate").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("export: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("export: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "pairgate", now: time.Now}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("export: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and table if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return fmt.Errorf("export: create schema: %w", err)
	}
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+pgIdent(s.schema, "exported_sessions")+` (
  session_id     TEXT PRIMARY KEY,
  session_string TEXT NOT NULL,
  session_name   TEXT NOT NULL,
  number         TEXT NOT NULL,
  created_at     TIMESTAMPTZ NOT NULL,
  exported_at    TIMESTAMPTZ NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("export: create table: %w", err)
	}
	return nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	rec = rec.normalize(s.now())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "exported_sessions")+`
		   (session_id, session_string, session_name, number, created_at, exported_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (session_id) DO UPDATE
		   SET session_string = EXCLUDED.session_string,
		       session_name   = EXCLUDED.session_name,
		       number         = EXCLUDED.number,
		       created_at     = EXCLUDED.created_at,
		       exported_at    = EXCLUDED.exported_at`,
		rec.SessionID, rec.SessionString, rec.SessionName, rec.Number, rec.CreatedAt, rec.ExportedAt,
	)
	if err != nil {
		return fmt.Errorf("export: upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sessionID string) (Record, error) {
	var rec Record
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, session_string, session_name, number, created_at, exported_at
		   FROM `+pgIdent(s.schema, "exported_sessions")+`
		  WHERE session_id = $1`,
		sessionID,
	).Scan(&rec.SessionID, &rec.SessionString, &rec.SessionName, &rec.Number, &rec.CreatedAt, &rec.ExportedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("export: load: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExportedAt = rec.ExportedAt.UTC()
	return rec, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
