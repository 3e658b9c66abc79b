// Package export persists completed sessions so their session string can be
// read back after the in-memory record has been reaped.
//
// Every backend implements Store. Save is an idempotent overwrite keyed by
// session id.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pairgate/cmd/internal/ids"
)

// ErrNotFound is returned by Load for ids that were never exported.
var ErrNotFound = errors.New("export: record not found")

// Record is the durable form of a completed session.
type Record struct {
	SessionID     string    `json:"sessionId"`
	SessionString string    `json:"sessionString"`
	SessionName   string    `json:"sessionName"`
	Number        string    `json:"number"`
	CreatedAt     time.Time `json:"createdAt"`
	ExportedAt    time.Time `json:"exportedAt"`
}

// Store is a durable export backend.
type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, sessionID string) (Record, error)
	Close() error
}

func (r Record) validate() error {
	if !ids.Valid(r.SessionID) {
		return fmt.Errorf("export: invalid session id %q", r.SessionID)
	}
	if strings.TrimSpace(r.SessionString) == "" {
		return errors.New("export: empty session string")
	}
	return nil
}

// normalize fills timestamps and forces UTC.
func (r Record) normalize(now time.Time) Record {
	if r.ExportedAt.IsZero() {
		r.ExportedAt = now
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = r.ExportedAt
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.ExportedAt = r.ExportedAt.UTC()
	return r
}
