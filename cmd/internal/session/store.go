package session

import (
	"context"
	"time"
)

// Store is the process-wide mapping from session id to Session.
//
// Requirements:
//   - Safe under concurrent use by many orchestrators, the reaper and HTTP readers.
//   - Reads never observe a partially applied mutation.
//   - Mutations of an unknown id return ErrNotFound and never recreate the record.
type Store interface {
	Create(ctx context.Context, req CreateRequest) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error

	// ListActive returns sessions with now-createdAt < maxAge.
	ListActive(ctx context.Context, maxAge time.Duration) ([]Session, error)
	// DeleteExpired removes sessions with now-createdAt > maxAge and returns their ids.
	DeleteExpired(ctx context.Context, maxAge time.Duration) ([]string, error)
	// Stats aggregates ListActive(maxAge) by status.
	Stats(ctx context.Context, maxAge time.Duration) (Stats, error)

	// Observe returns a snapshot and a channel closed on the next mutation or deletion of id.
	Observe(ctx context.Context, id string) (Session, <-chan struct{}, error)

	MarkProcessing(ctx context.Context, id string) error
	SetPairingCode(ctx context.Context, id, code string, at time.Time) error
	FailCodeRequest(ctx context.Context, id, detail string) error
	// CompleteExport records the session string exactly once and marks the session completed.
	CompleteExport(ctx context.Context, id, sessionString string) (Session, error)
	IncrementRetry(ctx context.Context, id string) (int, error)
	// Finish moves a non-terminal session to StatusError or StatusTimeout.
	Finish(ctx context.Context, id string, status Status, detail string) error
}
