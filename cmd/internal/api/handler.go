// Package api serves the inbound HTTP surface: session creation, pairing-code
// long-poll, status, stats and exported session data.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pairgate/cmd/internal/export"
	"pairgate/cmd/internal/ids"
	"pairgate/cmd/internal/longpoll"
	"pairgate/cmd/internal/metrics"
	"pairgate/cmd/internal/pairing"
	"pairgate/cmd/internal/session"

	"github.com/jonboulle/clockwork"
)

// Starter launches the pairing flow for a stored session.
type Starter interface {
	Start(ctx context.Context, id string) error
}

// CodeWaiter blocks until a session's pairing code is known.
type CodeWaiter interface {
	AwaitCode(ctx context.Context, id string, timeout time.Duration) (longpoll.Result, error)
}

// ExportReader reads durable export records.
type ExportReader interface {
	Load(ctx context.Context, sessionID string) (export.Record, error)
}

// Handler wires HTTP endpoints to the session store, orchestrator and long-poll coordinator.
type Handler struct {
	log *slog.Logger
	cfg Config

	store   session.Store
	starter Starter
	waiter  CodeWaiter
	exports ExportReader
	metrics *metrics.Metrics
	clock   clockwork.Clock

	limiter *keyedLimiter
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

// WithExportReader enables the durable fallback of GET /api/session-data.
func WithExportReader(r ExportReader) HandlerOption {
	return func(h *Handler) {
		if h == nil || r == nil {
			return
		}
		h.exports = r
	}
}

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.metrics = m
	}
}

func WithClock(c clockwork.Clock) HandlerOption {
	return func(h *Handler) {
		if h == nil || c == nil {
			return
		}
		h.clock = c
	}
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, store session.Store, starter Starter, waiter CodeWaiter, opts ...HandlerOption) (*Handler, error) {
	if store == nil {
		return nil, errors.New("api: session store is required")
	}
	if starter == nil {
		return nil, errors.New("api: starter is required")
	}
	if waiter == nil {
		return nil, errors.New("api: code waiter is required")
	}
	if log == nil {
		log = slog.Default()
	}

	cfg = cfg.withDefaults()
	h := &Handler{
		log:     log,
		cfg:     cfg,
		store:   store,
		starter: starter,
		waiter:  waiter,
		clock:   clockwork.NewRealClock(),
		limiter: newKeyedLimiter(cfg.CreateLimit, cfg.CreateWindow),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/number", h.handleCreate)
	mux.HandleFunc("GET /api/pairing-code/{sessionId}", h.handlePairingCode)
	mux.HandleFunc("GET /api/session/{sessionId}", h.handleStatus)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	mux.HandleFunc("GET /api/session-data/{sessionId}", h.handleSessionData)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	now := h.clock.Now()

	key := "unknown"
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		key = ip.String()
	}
	if ok, retry := h.limiter.Allow(key, now); !ok {
		h.log.Warn("session.create.rate_limited", "ip", key)
		writeRateLimited(w, retry)
		return
	}

	var req createSessionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		writeError(w, http.StatusBadRequest, "number_required", "number is required")
		return
	}
	number, err := normalizeNumber(req.Number)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_number", err.Error())
		return
	}

	s, err := h.store.Create(r.Context(), session.CreateRequest{Number: number})
	if err != nil {
		h.log.Error("session.create.failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not create session")
		return
	}
	h.metrics.SessionCreated()

	if err := h.starter.Start(r.Context(), s.ID); err != nil {
		_ = h.store.Delete(context.WithoutCancel(r.Context()), s.ID)
		if errors.Is(err, pairing.ErrShuttingDown) {
			writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
			return
		}
		h.log.Error("session.start.failed", "session_id", s.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not start pairing")
		return
	}

	h.log.Info("session.created", "session_id", s.ID, "session_name", s.Name, "ip", key)
	writeJSON(w, http.StatusOK, createSessionResponse{
		Success:     true,
		Message:     "Number received successfully",
		SessionID:   s.ID,
		SessionName: s.Name,
	})
}

func (h *Handler) handlePairingCode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	timeout, err := h.pollTimeout(r.URL.Query().Get("timeout"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_timeout", "timeout must be a duration or a number of seconds")
		return
	}

	res, err := h.waiter.AwaitCode(r.Context(), id, timeout)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, pairingCodeResponse{
			Code:          res.Code,
			Available:     true,
			SessionID:     res.SessionID,
			SessionName:   res.SessionName,
			IsConnected:   res.IsConnected,
			SessionString: res.SessionString,
		})
	case errors.Is(err, longpoll.ErrPending):
		writeJSON(w, http.StatusOK, pairingCodeResponse{Available: false, Message: "No code available yet"})
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "session not found or expired")
	case errors.Is(err, longpoll.ErrExpired):
		writeError(w, http.StatusNotFound, "expired", "session expired")
	case errors.Is(err, longpoll.ErrFailed):
		writeError(w, http.StatusNotFound, "pairing_failed", "failed to generate pairing code")
	case r.Context().Err() != nil:
		// Client went away; nothing useful to write.
		h.log.Debug("pairing.poll.abandoned", "session_id", id)
	default:
		h.log.Error("pairing.poll.failed", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not read pairing code")
	}
}

// pollTimeout accepts "30s" style durations or bare seconds, clamped to PollMax.
func (h *Handler) pollTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return h.cfg.PollDefault, nil
	}
	var d time.Duration
	if n, err := strconv.Atoi(raw); err == nil {
		d = time.Duration(n) * time.Second
	} else {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return 0, perr
		}
		d = parsed
	}
	if d <= 0 {
		return h.cfg.PollDefault, nil
	}
	if d > h.cfg.PollMax {
		d = h.cfg.PollMax
	}
	return d, nil
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.store.Get(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.log.Error("session.status.failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not read session")
		return
	}

	writeJSON(w, http.StatusOK, sessionStatusResponse{
		Number:           s.Number,
		SessionName:      s.Name,
		CreatedAt:        s.CreatedAt.UnixMilli(),
		HasPairingCode:   s.HasPairingCode(),
		IsProcessed:      s.Status != session.StatusWaiting,
		IsConnected:      s.IsConnected,
		HasSessionString: s.HasSessionString(),
		Status:           string(s.Status),
		RetryCount:       s.RetryCount,
		LastError:        s.LastError,
		Age:              s.Age(h.clock.Now()).Milliseconds(),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.Stats(r.Context(), h.cfg.Retention)
	if err != nil {
		h.log.Error("session.stats.failed", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not compute stats")
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalActiveSessions: st.Total,
		WaitingSessions:     st.Waiting,
		ProcessingSessions:  st.Processing,
		ConnectedSessions:   st.Connected,
		CompletedSessions:   st.Completed,
		TimeoutSessions:     st.Timeout,
		ErrorSessions:       st.Error,
	})
}

func (h *Handler) handleSessionData(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	if !ids.Valid(id) {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}

	s, err := h.store.Get(r.Context(), id)
	switch {
	case err == nil:
		if !s.HasSessionString() {
			writeError(w, http.StatusBadRequest, "not_connected", "session not connected yet")
			return
		}
		writeJSON(w, http.StatusOK, sessionDataResponse{
			SessionID:     s.ID,
			SessionName:   s.Name,
			Number:        s.Number,
			SessionString: s.SessionString,
			Source:        "memory",
		})
		return
	case !errors.Is(err, session.ErrNotFound):
		h.log.Error("session.data.failed", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not read session")
		return
	}

	if h.exports == nil {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	rec, err := h.exports.Load(r.Context(), id)
	if err != nil {
		if errors.Is(err, export.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.log.Error("export.load.failed", "session_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not read exported session")
		return
	}
	writeJSON(w, http.StatusOK, sessionDataResponse{
		SessionID:     rec.SessionID,
		SessionName:   rec.SessionName,
		Number:        rec.Number,
		SessionString: rec.SessionString,
		Source:        "export",
	})
}
