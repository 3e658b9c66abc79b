package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"pairgate/cmd/internal/ids"

	"github.com/jonboulle/clockwork"
)

// MemoryStore is the in-process Store implementation.
// Every record carries its own change channel; it is closed and replaced on each
// mutation so that observers can wait without polling.
type MemoryStore struct {
	clock      clockwork.Clock
	namePrefix string
	newID      func(now time.Time) (string, error)

	mu      sync.RWMutex
	entries map[string]*memEntry
}

type memEntry struct {
	s       Session
	changed chan struct{}
}

func (e *memEntry) notify() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for createdAt and age checks.
func WithClock(c clockwork.Clock) MemoryOption {
	return func(s *MemoryStore) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithNamePrefix overrides DefaultNamePrefix.
func WithNamePrefix(prefix string) MemoryOption {
	return func(s *MemoryStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.namePrefix = p
		}
	}
}

// WithIDGenerator overrides ULID generation (tests).
func WithIDGenerator(fn func(now time.Time) (string, error)) MemoryOption {
	return func(s *MemoryStore) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		clock:      clockwork.NewRealClock(),
		namePrefix: DefaultNamePrefix,
		newID:      ids.NewULID,
		entries:    make(map[string]*memEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create registers a new session in StatusWaiting.
func (s *MemoryStore) Create(ctx context.Context, req CreateRequest) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	number := strings.TrimSpace(req.Number)
	if number == "" {
		return Session{}, fmt.Errorf("%w: missing number", ErrInvalidInput)
	}

	now := s.clock.Now()
	id, err := s.newID(now)
	if err != nil {
		return Session{}, fmt.Errorf("session id: %w", err)
	}

	rec := Session{
		ID:        id,
		Number:    number,
		Name:      DeriveName(s.namePrefix, id),
		Status:    StatusWaiting,
		CreatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; exists {
		return Session{}, fmt.Errorf("session id collision: %s", id)
	}
	s.entries[id] = &memEntry{s: rec, changed: make(chan struct{})}
	return rec, nil
}

// Get returns a snapshot of the session.
func (s *MemoryStore) Get(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return e.s, nil
}

// Delete removes the session. Deleting an unknown id is a no-op.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok {
		delete(s.entries, id)
		close(e.changed)
	}
	return nil
}

// ListActive returns sessions younger than maxAge ordered by creation time.
func (s *MemoryStore) ListActive(ctx context.Context, maxAge time.Duration) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	s.mu.RLock()
	out := make([]Session, 0, len(s.entries))
	for _, e := range s.entries {
		if maxAge <= 0 || e.s.Age(now) < maxAge {
			out = append(out, e.s)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// DeleteExpired removes every session older than maxAge regardless of status.
func (s *MemoryStore) DeleteExpired(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("%w: non-positive max age", ErrInvalidInput)
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, e := range s.entries {
		if e.s.Age(now) > maxAge {
			delete(s.entries, id)
			close(e.changed)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed, nil
}

// Stats aggregates active sessions by status.
func (s *MemoryStore) Stats(ctx context.Context, maxAge time.Duration) (Stats, error) {
	active, err := s.ListActive(ctx, maxAge)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, rec := range active {
		st.Total++
		if rec.IsConnected {
			st.Connected++
		}
		switch rec.Status {
		case StatusWaiting:
			st.Waiting++
		case StatusProcessing:
			st.Processing++
		case StatusCompleted:
			st.Completed++
		case StatusTimeout:
			st.Timeout++
		case StatusError:
			st.Error++
		}
	}
	return st, nil
}

// Observe returns the current snapshot and the channel signalling its next change.
func (s *MemoryStore) Observe(ctx context.Context, id string) (Session, <-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Session{}, nil, ErrNotFound
	}
	return e.s, e.changed, nil
}

// MarkProcessing moves a waiting session to processing.
func (s *MemoryStore) MarkProcessing(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, id, (*Session).markProcessing)
	return err
}

// SetPairingCode records the pairing code once.
func (s *MemoryStore) SetPairingCode(ctx context.Context, id, code string, at time.Time) error {
	_, err := s.mutate(ctx, id, func(rec *Session) error { return rec.setPairingCode(code, at) })
	return err
}

// FailCodeRequest stores the failure detail in place of a code and marks the session failed.
func (s *MemoryStore) FailCodeRequest(ctx context.Context, id, detail string) error {
	_, err := s.mutate(ctx, id, func(rec *Session) error { return rec.failCodeRequest(detail) })
	return err
}

// CompleteExport records the session string; a second call returns ErrAlreadyExported.
func (s *MemoryStore) CompleteExport(ctx context.Context, id, sessionString string) (Session, error) {
	return s.mutate(ctx, id, func(rec *Session) error { return rec.completeExport(sessionString) })
}

// IncrementRetry bumps the retry counter and returns the new value.
func (s *MemoryStore) IncrementRetry(ctx context.Context, id string) (int, error) {
	rec, err := s.mutate(ctx, id, func(rec *Session) error {
		rec.RetryCount++
		return nil
	})
	return rec.RetryCount, err
}

// Finish moves a non-terminal session into a failure status.
func (s *MemoryStore) Finish(ctx context.Context, id string, status Status, detail string) error {
	_, err := s.mutate(ctx, id, func(rec *Session) error { return rec.finish(status, detail) })
	return err
}

// mutate applies fn to a copy and commits it only when fn succeeds.
func (s *MemoryStore) mutate(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	next := e.s
	if err := fn(&next); err != nil {
		return e.s, err
	}
	e.s = next
	e.notify()
	return next, nil
}
