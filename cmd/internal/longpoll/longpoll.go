// Package longpoll lets callers wait for a session's pairing code without
// tying up the orchestrator or polling the store in a tight loop.
package longpoll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pairgate/cmd/internal/metrics"
	"pairgate/cmd/internal/session"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrPending means the timeout elapsed before a code was issued. Callers retry.
	ErrPending = errors.New("longpoll: pairing code not yet available")
	// ErrExpired means the session existed when the wait began and vanished during it.
	ErrExpired = errors.New("longpoll: session expired")
	// ErrFailed means the session reached StatusError.
	ErrFailed = errors.New("longpoll: pairing failed")
)

// DefaultInterval is the fallback re-check period when no change is signalled.
const DefaultInterval = time.Second

// Result is what a successful wait reports.
type Result struct {
	SessionID     string
	SessionName   string
	Code          string
	IsConnected   bool
	SessionString string
	Status        session.Status
}

func resultOf(s session.Session) Result {
	return Result{
		SessionID:     s.ID,
		SessionName:   s.Name,
		Code:          s.PairingCode,
		IsConnected:   s.IsConnected,
		SessionString: s.SessionString,
		Status:        s.Status,
	}
}

// Coordinator serves AwaitCode.
type Coordinator struct {
	log      *slog.Logger
	store    session.Store
	clock    clockwork.Clock
	interval time.Duration
	metrics  *metrics.Metrics
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithClock(c clockwork.Clock) Option {
	return func(co *Coordinator) {
		if c != nil {
			co.clock = c
		}
	}
}

// WithInterval sets the fallback re-check period.
func WithInterval(d time.Duration) Option {
	return func(co *Coordinator) {
		if d > 0 {
			co.interval = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// New constructs a Coordinator over store.
func New(log *slog.Logger, store session.Store, opts ...Option) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		log:      log,
		store:    store,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AwaitCode returns as soon as session id has a pairing code.
//
// Errors: session.ErrNotFound when id is unknown at call time, ErrExpired when
// it disappears mid-wait, ErrFailed when the session errored, ErrPending when
// timeout elapses first, or ctx's error.
func (c *Coordinator) AwaitCode(ctx context.Context, id string, timeout time.Duration) (Result, error) {
	snap, changed, err := c.store.Observe(ctx, id)
	if err != nil {
		c.metrics.LongPollWait("not_found")
		return Result{}, err
	}
	if res, done, err := c.evaluate(snap); done {
		return res, err
	}

	timer := c.clock.NewTimer(timeout)
	defer timer.Stop()
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.metrics.LongPollWait("canceled")
			return Result{}, ctx.Err()
		case <-timer.Chan():
			c.metrics.LongPollWait("pending")
			return resultOf(snap), ErrPending
		case <-changed:
		case <-ticker.Chan():
		}

		snap, changed, err = c.store.Observe(ctx, id)
		if errors.Is(err, session.ErrNotFound) {
			c.metrics.LongPollWait("expired")
			c.log.Debug("longpoll.expired", "session_id", id)
			return Result{}, ErrExpired
		}
		if err != nil {
			return Result{}, err
		}
		if res, done, err := c.evaluate(snap); done {
			return res, err
		}
	}
}

// evaluate reports done=true when the wait is over. A usable code wins over an error status.
func (c *Coordinator) evaluate(s session.Session) (Result, bool, error) {
	if s.HasPairingCode() {
		c.metrics.LongPollWait("code")
		return resultOf(s), true, nil
	}
	if s.Status == session.StatusError {
		c.metrics.LongPollWait("failed")
		detail := s.LastError
		if detail == "" {
			detail = "unknown error"
		}
		return resultOf(s), true, fmt.Errorf("%w: %s", ErrFailed, detail)
	}
	return Result{}, false, nil
}
