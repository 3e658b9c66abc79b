package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pairgate/cmd/internal/connlib"
	"pairgate/cmd/internal/export"
	"pairgate/cmd/internal/metrics"
	"pairgate/cmd/internal/session"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
)

// Scopes creates and destroys per-session credential scopes.
type Scopes interface {
	Prepare(sessionID string) (connlib.Scope, error)
	Destroy(scope connlib.Scope) error
}

// Exporter persists a completed session durably.
type Exporter interface {
	Save(ctx context.Context, rec export.Record) error
}

// Orchestrator launches and tracks one run per session id.
type Orchestrator struct {
	log      *slog.Logger
	cfg      Config
	store    session.Store
	driver   connlib.Driver
	scopes   Scopes
	exporter Exporter
	clock    clockwork.Clock
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the real clock (tests use a fake clock).
func WithClock(c clockwork.Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithExporter enables durable export of completed sessions.
func WithExporter(e Exporter) Option {
	return func(o *Orchestrator) { o.exporter = e }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New constructs an Orchestrator. Runs outlive the caller's request; they stop
// on their own exit paths or on Shutdown.
func New(log *slog.Logger, cfg Config, store session.Store, driver connlib.Driver, scopes Scopes, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || driver == nil || scopes == nil {
		return nil, errors.New("pairing: store, driver and scopes are required")
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		log:    log,
		cfg:    cfg,
		store:  store,
		driver: driver,
		scopes: scopes,
		clock:  clockwork.NewRealClock(),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Start launches the run for session id. At most one run per id is active.
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	sess, err := o.store.Get(ctx, id)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShuttingDown
	}
	if _, ok := o.active[id]; ok {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.active[id] = struct{}{}
	o.wg.Add(1)
	o.mu.Unlock()

	o.metrics.OrchestratorStarted()
	r := &run{
		o:        o,
		log:      o.log.With("session_id", id),
		sess:     sess,
		restarts: backoff.WithMaxRetries(backoff.NewConstantBackOff(o.cfg.RestartBackoff), uint64(o.cfg.MaxRestarts)),
		started:  o.clock.Now(),
	}
	go func() {
		defer o.wg.Done()
		defer o.release(id)
		r.run(o.ctx)
	}()
	return nil
}

// Running reports whether session id has an active run.
func (o *Orchestrator) Running(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[id]
	return ok
}

// Active returns the number of active runs.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
	o.metrics.OrchestratorStopped()
}

// Shutdown stops accepting runs, cancels active ones and waits for them to
// close their connections.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the state of one session's orchestration. Only its goroutine touches it.
type run struct {
	o       *Orchestrator
	log     *slog.Logger
	sess    session.Session
	started time.Time

	state    State
	done     bool
	scope    connlib.Scope
	hasScope bool
	conn     connlib.Conn
	events   <-chan connlib.Event

	restarts backoff.BackOff
	retries  int
	deadline time.Time
	exported bool
	// observed is the last non-fatal failure; it turns an exhausted budget into Error.
	observed error
	detached bool

	settle, window, restart, flush clockwork.Timer
}

func timerC(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func stopTimer(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (r *run) run(ctx context.Context) {
	// Record writes must land even while shutting down.
	wctx := context.WithoutCancel(ctx)
	defer r.teardown()

	r.setState(StateConnecting)
	r.storeErr("mark_processing", r.o.store.MarkProcessing(wctx, r.sess.ID))

	scope, err := r.o.scopes.Prepare(r.sess.ID)
	if err != nil {
		r.fail(wctx, session.StatusError, failure(UnexpectedFailure, fmt.Errorf("prepare credential scope: %w", err)))
		return
	}
	r.scope, r.hasScope = scope, true

	if err := r.open(ctx); err != nil {
		r.fail(wctx, session.StatusError, failure(UnexpectedFailure, err))
		return
	}
	r.settle = r.o.clock.NewTimer(r.o.cfg.SettleDelay)

	for !r.done {
		select {
		case <-ctx.Done():
			r.log.Info("pairing.shutdown", "state", r.state.String())
			return

		case ev, ok := <-r.events:
			if !ok {
				r.events = nil
				r.onClosed(wctx, connlib.Event{
					Kind: connlib.EventClosed,
					Err:  connlib.DisconnectError{Msg: "event stream ended"},
				})
				continue
			}
			r.onEvent(ctx, wctx, ev)

		case <-timerC(r.settle):
			r.settle = nil
			r.requestCode(ctx, wctx)

		case <-timerC(r.window):
			r.window = nil
			r.fail(wctx, session.StatusTimeout, failure(PairingTimeout, errors.New("pairing window elapsed")))

		case <-timerC(r.restart):
			r.restart = nil
			r.reconnect(ctx, wctx)

		case <-timerC(r.flush):
			r.flush = nil
			r.done = true
		}
	}
}

func (r *run) setState(s State) {
	if r.state == s {
		return
	}
	r.log.Debug("pairing.state", "from", r.state.String(), "to", s.String())
	r.state = s
}

func (r *run) open(ctx context.Context) error {
	conn, err := r.o.driver.Open(ctx, r.scope, connlib.OpenOptions{
		Version: r.o.cfg.LibraryVersion,
		Browser: r.o.cfg.Browser,
	})
	if err != nil {
		return fmt.Errorf("open connection: %w", err)
	}
	r.conn, r.events = conn, conn.Events()
	r.log.Info("pairing.connection.opened", "attempt", r.retries+1)
	return nil
}

func (r *run) dropConn() {
	if r.conn == nil {
		return
	}
	if err := r.conn.Close(); err != nil {
		r.log.Debug("pairing.connection.close_failed", "err", err)
	}
	r.conn, r.events = nil, nil
}

func (r *run) requestCode(ctx, wctx context.Context) {
	if r.state != StateConnecting || r.conn == nil {
		return
	}
	r.setState(StateCodeRequested)

	cctx, cancel := context.WithTimeout(ctx, r.o.cfg.CodeRequestTimeout)
	code, err := r.conn.RequestPairingCode(cctx, r.sess.Number)
	cancel()
	if err != nil {
		r.o.metrics.PairingCode("failed")
		r.fail(wctx, session.StatusError, failure(CodeRequestFailed, err))
		return
	}
	r.o.metrics.PairingCode("issued")

	now := r.o.clock.Now()
	r.storeErr("set_pairing_code", r.o.store.SetPairingCode(wctx, r.sess.ID, code, now))
	r.deadline = now.Add(r.o.cfg.Window)
	r.window = r.o.clock.NewTimer(r.o.cfg.Window)
	r.setState(StateAwaitingLink)
	r.log.Info("pairing.code.issued", "window", r.o.cfg.Window.String())
}

func (r *run) onEvent(ctx, wctx context.Context, ev connlib.Event) {
	switch ev.Kind {
	case connlib.EventOpened:
		if !ev.Registered {
			r.log.Info("pairing.connection.open", "registered", false, "state", r.state.String())
			return
		}
		r.complete(ctx, wctx, ev)
	case connlib.EventCredentialsUpdated:
		r.log.Debug("pairing.creds.updated")
	case connlib.EventClosed:
		r.onClosed(wctx, ev)
	}
}

func (r *run) complete(ctx, wctx context.Context, ev connlib.Event) {
	if r.exported {
		r.log.Debug("pairing.link.duplicate")
		return
	}

	creds := r.conn.Credentials()
	if ev.Credentials != nil {
		creds = *ev.Credentials
	}
	creds.Registered = true

	str, err := connlib.EncodeSessionString(creds)
	if err != nil {
		r.fail(wctx, session.StatusError, failure(UnexpectedFailure, fmt.Errorf("export credentials: %w", err)))
		return
	}
	r.exported = true
	stopTimer(&r.settle)
	stopTimer(&r.window)
	stopTimer(&r.restart)

	_, err = r.o.store.CompleteExport(wctx, r.sess.ID, str)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrAlreadyExported):
		r.log.Info("pairing.link.already_exported")
	default:
		r.storeErr("complete_export", err)
	}
	r.setState(StateCompleted)
	r.log.Info("pairing.linked", "retries", r.retries)

	r.persist(wctx, str)
	r.confirm(ctx, creds)

	r.flush = r.o.clock.NewTimer(r.o.cfg.FlushDelay)
}

// persist writes the durable record. It runs even when the in-memory record was reaped.
func (r *run) persist(ctx context.Context, sessionString string) {
	if r.o.exporter == nil {
		return
	}
	err := r.o.exporter.Save(ctx, export.Record{
		SessionID:     r.sess.ID,
		SessionString: sessionString,
		SessionName:   r.sess.Name,
		Number:        r.sess.Number,
		CreatedAt:     r.sess.CreatedAt,
		ExportedAt:    r.o.clock.Now(),
	})
	if err != nil {
		r.o.metrics.ExportWrite("error")
		r.log.Error("pairing.export.failed", "err", err)
		return
	}
	r.o.metrics.ExportWrite("ok")
	r.log.Info("pairing.export.saved")
}

func (r *run) confirm(ctx context.Context, creds connlib.Credentials) {
	to := r.conn.SelfID()
	if to == "" && creds.Me != nil {
		to = creds.Me.ID
	}
	if to == "" {
		r.log.Warn("pairing.confirm.skipped", "reason", "unknown self id")
		return
	}

	cctx, cancel := context.WithTimeout(ctx, r.o.cfg.CodeRequestTimeout)
	defer cancel()
	if _, err := r.conn.SendMessage(cctx, to, connlib.Message{
		Text: confirmationText(r.sess.Name, r.sess.Number, r.sess.ID),
	}); err != nil {
		r.log.Warn("pairing.confirm.failed", "err", err)
		return
	}
	r.log.Info("pairing.confirm.sent")
}

func (r *run) onClosed(wctx context.Context, ev connlib.Event) {
	r.dropConn()

	if r.exported {
		r.log.Info("pairing.connection.closed", "reason", ev.Reason.String(), "state", r.state.String())
		r.done = true
		return
	}

	cause := ev.Err
	if cause == nil {
		cause = connlib.DisconnectError{Reason: ev.Reason}
	}

	switch {
	case ev.Reason.Terminal():
		r.fail(wctx, session.StatusError, failure(TerminalDisconnect, cause))
	case r.state == StateConnecting || r.state == StateCodeRequested:
		r.fail(wctx, session.StatusError, failure(UnexpectedFailure, fmt.Errorf("closed before pairing code: %w", cause)))
	case ev.Reason.Recoverable():
		r.log.Info("pairing.restart.required", "retry", r.retries)
		r.scheduleRestart(wctx)
	default:
		r.observed = cause
		r.log.Warn("pairing.connection.closed", "reason", ev.Reason.String(), "err", cause)
	}
}

// scheduleRestart consumes one unit of the restart budget.
// The pairing window takes precedence over the budget.
func (r *run) scheduleRestart(wctx context.Context) {
	if !r.o.clock.Now().Before(r.deadline) {
		r.fail(wctx, session.StatusTimeout, failure(PairingTimeout, errors.New("pairing window elapsed")))
		return
	}

	wait := r.restarts.NextBackOff()
	if wait == backoff.Stop {
		exhausted := fmt.Errorf("restart budget of %d exhausted", r.o.cfg.MaxRestarts)
		if r.observed != nil {
			r.fail(wctx, session.StatusError, failure(RecoverableDisconnect, fmt.Errorf("%w: %w", exhausted, r.observed)))
			return
		}
		r.fail(wctx, session.StatusTimeout, failure(RecoverableDisconnect, exhausted))
		return
	}

	r.retries++
	if _, err := r.o.store.IncrementRetry(wctx, r.sess.ID); err != nil {
		r.storeErr("increment_retry", err)
	}
	r.o.metrics.PairingRestarted()
	r.setState(StateRestarting)
	r.restart = r.o.clock.NewTimer(wait)
	r.log.Info("pairing.restart.scheduled", "retry", r.retries, "max", r.o.cfg.MaxRestarts, "backoff", wait.String())
}

// reconnect reuses the scope and does not request a new code.
func (r *run) reconnect(ctx, wctx context.Context) {
	if r.state != StateRestarting {
		return
	}
	if !r.o.clock.Now().Before(r.deadline) {
		r.fail(wctx, session.StatusTimeout, failure(PairingTimeout, errors.New("pairing window elapsed")))
		return
	}
	if err := r.open(ctx); err != nil {
		r.observed = err
		r.log.Warn("pairing.restart.open_failed", "retry", r.retries, "err", err)
		r.scheduleRestart(wctx)
		return
	}
	r.setState(StateAwaitingLink)
}

func (r *run) fail(wctx context.Context, status session.Status, f *Failure) {
	if r.state.Final() {
		return
	}

	var err error
	if f.Kind == CodeRequestFailed {
		err = r.o.store.FailCodeRequest(wctx, r.sess.ID, f.Detail())
	} else {
		err = r.o.store.Finish(wctx, r.sess.ID, status, f.Detail())
	}
	r.storeErr("finish", err)

	if status == session.StatusTimeout {
		r.setState(StateTimedOut)
	} else {
		r.setState(StateError)
	}
	r.done = true
	r.log.Warn("pairing.failed", "kind", f.Kind.String(), "status", string(status), "err", f.Err)
}

// storeErr logs a failed record write. Writes to a reaped record are expected.
func (r *run) storeErr(op string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		if !r.detached {
			r.detached = true
			r.log.Info("pairing.record.detached", "op", op)
		}
	default:
		r.log.Warn("pairing.record.write_failed", "op", op, "err", err)
	}
}

func (r *run) teardown() {
	stopTimer(&r.settle)
	stopTimer(&r.window)
	stopTimer(&r.restart)
	stopTimer(&r.flush)
	r.dropConn()

	if r.hasScope && r.state != StateCompleted {
		if err := r.o.scopes.Destroy(r.scope); err != nil {
			r.log.Warn("pairing.scope.destroy_failed", "err", err)
		}
	}

	outcome := "aborted"
	switch r.state {
	case StateCompleted:
		outcome = string(session.StatusCompleted)
	case StateError:
		outcome = string(session.StatusError)
	case StateTimedOut:
		outcome = string(session.StatusTimeout)
	}
	r.o.metrics.PairingFinished(outcome)
	r.log.Info("pairing.finished",
		"outcome", outcome,
		"retries", r.retries,
		"duration", r.o.clock.Since(r.started).String(),
	)
}
