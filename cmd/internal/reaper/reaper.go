// Package reaper removes sessions older than the retention window.
//
// Reaping does not stop a session's orchestrator; it only detaches the record
// from external visibility. Later writes by that orchestrator are no-ops.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pairgate/cmd/internal/metrics"
	"pairgate/cmd/internal/session"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultInterval  = 60 * time.Second
	DefaultRetention = 10 * time.Minute
)

// Reaper periodically deletes expired sessions.
type Reaper struct {
	log       *slog.Logger
	store     session.Store
	clock     clockwork.Clock
	interval  time.Duration
	retention time.Duration
	metrics   *metrics.Metrics
}

// Option customizes a Reaper.
type Option func(*Reaper)

func WithClock(c clockwork.Clock) Option {
	return func(r *Reaper) {
		if c != nil {
			r.clock = c
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reaper) { r.metrics = m }
}

// New constructs a Reaper. Non-positive durations fall back to the defaults.
func New(log *slog.Logger, store session.Store, interval, retention time.Duration, opts ...Option) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	r := &Reaper{
		log:       log,
		store:     store,
		clock:     clockwork.NewRealClock(),
		interval:  interval,
		retention: retention,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run sweeps every interval until ctx is done. It always returns nil on shutdown.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("reaper.start", "interval", r.interval.String(), "retention", r.retention.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper.stop")
			return nil
		case <-ticker.Chan():
			if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warn("reaper.sweep.failed", "err", err)
			}
		}
	}
}

// Sweep deletes every session older than the retention window, regardless of status.
func (r *Reaper) Sweep(ctx context.Context) ([]string, error) {
	removed, err := r.store.DeleteExpired(ctx, r.retention)
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		r.metrics.SessionsReaped(len(removed))
		r.log.Info("reaper.sweep", "removed", len(removed))
		for _, id := range removed {
			r.log.Debug("reaper.session.removed", "session_id", id)
		}
	}
	return removed, nil
}
