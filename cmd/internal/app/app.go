// Package app wires the pairgate runtime: config, logging, the export backend,
// the pairing orchestrator, the reaper and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pairgate/cmd/internal/api"
	"pairgate/cmd/internal/connlib"
	"pairgate/cmd/internal/longpoll"
	"pairgate/cmd/internal/metrics"
	"pairgate/cmd/internal/pairing"
	"pairgate/cmd/internal/reaper"
	"pairgate/cmd/internal/session"

	"golang.org/x/sync/errgroup"
)

// App is the pairgate server runtime.
type App struct {
	cfg Config
	log Logger

	metrics *metrics.Metrics
	backend *exportBackend

	store  session.Store
	orch   *pairing.Orchestrator
	reaper *reaper.Reaper
	api    *api.Handler
}

// Option customizes App construction. Tests use it to swap the Connection Library.
type Option func(*options)

type options struct {
	driver  connlib.Driver
	metrics *metrics.Metrics
}

// WithDriver replaces the WebSocket bridge driver.
func WithDriver(d connlib.Driver) Option {
	return func(o *options) { o.driver = d }
}

// WithMetrics replaces the process-wide metrics registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger, opts ...Option) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogColor)
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	m := o.metrics
	if m == nil {
		m = metrics.New()
	}

	driver := o.driver
	if driver == nil {
		bridge, err := connlib.NewBridgeDriver(log, cfg.BridgeURL,
			connlib.WithDialTimeout(cfg.BridgeDialTimeout),
			connlib.WithWriteTimeout(cfg.BridgeWriteTimeout),
		)
		if err != nil {
			return nil, err
		}
		driver = bridge
	}

	scopes, err := connlib.NewScopeManager(cfg.ScopeDir)
	if err != nil {
		return nil, err
	}

	backend, err := openExportBackend(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	store := session.NewMemoryStore(session.WithNamePrefix(cfg.SessionNamePrefix))

	orch, err := pairing.New(log, pairingConfig(cfg), store, driver, scopes,
		pairing.WithExporter(backend.store),
		pairing.WithMetrics(m),
	)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	waiter := longpoll.New(log, store,
		longpoll.WithInterval(cfg.PollInterval),
		longpoll.WithMetrics(m),
	)

	handler, err := api.NewHandler(log, apiConfig(cfg), store, orch, waiter,
		api.WithExportReader(backend.store),
		api.WithMetrics(m),
	)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return &App{
		cfg:     cfg,
		log:     log,
		metrics: m,
		backend: backend,
		store:   store,
		orch:    orch,
		reaper:  reaper.New(log, store, cfg.ReapInterval, cfg.SessionRetention, reaper.WithMetrics(m)),
		api:     handler,
	}, nil
}

func pairingConfig(cfg Config) pairing.Config {
	pc := pairing.Config{
		SettleDelay:        cfg.SettleDelay,
		Window:             cfg.PairingWindow,
		MaxRestarts:        cfg.MaxRestarts,
		RestartBackoff:     cfg.RestartBackoff,
		FlushDelay:         cfg.FlushDelay,
		CodeRequestTimeout: cfg.CodeRequestTimeout,
		LibraryVersion:     cfg.LibraryVersion,
		Browser:            pairing.DefaultConfig().Browser,
	}
	if len(cfg.Browser) == 3 {
		copy(pc.Browser[:], cfg.Browser)
	}
	return pc
}

func apiConfig(cfg Config) api.Config {
	return api.Config{
		TrustProxy:   cfg.TrustProxy,
		MaxBodyBytes: cfg.MaxBodyBytes,
		CreateLimit:  cfg.CreateRateLimit,
		CreateWindow: cfg.CreateRateWindow,
		PollDefault:  cfg.PollDefault,
		PollMax:      cfg.PollMax,
		Retention:    cfg.SessionRetention,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.backend.Ready, a.metrics, a.api)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log, a.metrics)
}

// Run serves HTTP and sweeps expired sessions until ctx is canceled or the
// server fails, then drains requests and orchestrators and closes the backend.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 150*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"export_backend", a.cfg.ExportBackend,
		"bridge_url", a.cfg.BridgeURL,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.reaper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			errs = append(errs, err)
		}
		if err := a.orch.Shutdown(shutdownCtx); err != nil {
			a.log.Error("pairing.shutdown.fail", "err", err, "active", a.orch.Active())
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	err := g.Wait()

	if cerr := a.backend.Close(); cerr != nil {
		a.log.Error("export.backend.close.fail", "err", cerr)
	}

	if err != nil {
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
