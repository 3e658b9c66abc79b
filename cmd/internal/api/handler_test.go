package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pairgate/cmd/internal/export"
	"pairgate/cmd/internal/ids"
	"pairgate/cmd/internal/longpoll"
	"pairgate/cmd/internal/pairing"
	"pairgate/cmd/internal/session"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStarter struct {
	mu      sync.Mutex
	started []string
	err     error
}

func (s *stubStarter) Start(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.started = append(s.started, id)
	return nil
}

func (s *stubStarter) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

type waiterFunc func(ctx context.Context, id string, timeout time.Duration) (longpoll.Result, error)

func (f waiterFunc) AwaitCode(ctx context.Context, id string, timeout time.Duration) (longpoll.Result, error) {
	return f(ctx, id, timeout)
}

type mapExports map[string]export.Record

func (m mapExports) Load(_ context.Context, id string) (export.Record, error) {
	rec, ok := m[id]
	if !ok {
		return export.Record{}, export.ErrNotFound
	}
	return rec, nil
}

type testEnv struct {
	clock   *clockwork.FakeClock
	store   *session.MemoryStore
	starter *stubStarter
	handler *Handler
	mux     *http.ServeMux
}

func newTestEnv(t *testing.T, cfg Config, waiter CodeWaiter, opts ...HandlerOption) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	store := session.NewMemoryStore(session.WithClock(clock))
	if waiter == nil {
		waiter = longpoll.New(nil, store, longpoll.WithClock(clock))
	}
	env := &testEnv{clock: clock, store: store, starter: &stubStarter{}}

	opts = append([]HandlerOption{WithClock(clock)}, opts...)
	h, err := NewHandler(nil, cfg, store, env.starter, waiter, opts...)
	require.NoError(t, err)
	env.handler = h
	env.mux = http.NewServeMux()
	h.Register(env.mux)
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, m := range mutate {
		m(req)
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[errorResponse](t, rr).Error.Code
}

func TestCreateSession_NormalizesNumberAndStarts(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rr := env.do(t, http.MethodPost, "/api/number", `{"number":"+1 (555) 123-4567"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decodeBody[createSessionResponse](t, rr)
	assert.True(t, resp.Success)
	assert.True(t, ids.Valid(resp.SessionID))
	assert.Equal(t, session.DeriveName(session.DefaultNamePrefix, resp.SessionID), resp.SessionName)
	assert.Equal(t, []string{resp.SessionID}, env.starter.ids())

	s, err := env.store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "15551234567", s.Number)
	assert.Equal(t, session.StatusWaiting, s.Status)
}

func TestCreateSession_RejectsBadInput(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"malformed", `{"number":`, "invalid_json"},
		{"unknown field", `{"number":"15551234567","extra":1}`, "invalid_json"},
		{"trailing data", `{"number":"15551234567"}{}`, "invalid_json"},
		{"missing", `{"number":"  "}`, "number_required"},
		{"letters", `{"number":"1555abc4567"}`, "invalid_number"},
		{"too short", `{"number":"12345"}`, "invalid_number"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/number", tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tc.code, errorCode(t, rr))
		})
	}
	assert.Empty(t, env.starter.ids())
}

func TestCreateSession_RateLimitedPerIP(t *testing.T) {
	env := newTestEnv(t, Config{CreateLimit: 2, CreateWindow: time.Minute}, nil)
	body := `{"number":"15551234567"}`
	fromIP := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.RemoteAddr = ip + ":40000" }
	}

	for i := 0; i < 2; i++ {
		rr := env.do(t, http.MethodPost, "/api/number", body, fromIP("203.0.113.7"))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/api/number", body, fromIP("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", errorCode(t, rr))

	rr = env.do(t, http.MethodPost, "/api/number", body, fromIP("203.0.113.8"))
	assert.Equal(t, http.StatusOK, rr.Code, "other clients are unaffected")

	env.clock.Advance(time.Minute + time.Second)
	rr = env.do(t, http.MethodPost, "/api/number", body, fromIP("203.0.113.7"))
	assert.Equal(t, http.StatusOK, rr.Code, "window slides")
}

func TestCreateSession_ShuttingDownDropsRecord(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	env.starter.err = pairing.ErrShuttingDown

	rr := env.do(t, http.MethodPost, "/api/number", `{"number":"15551234567"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "shutting_down", errorCode(t, rr))

	st, err := env.store.Stats(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, st.Total)
}

func TestPairingCode_ReturnsIssuedCode(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	s, err := env.store.Create(ctx, session.CreateRequest{Number: "15551234567"})
	require.NoError(t, err)
	require.NoError(t, env.store.SetPairingCode(ctx, s.ID, "ABCD1234", env.clock.Now()))

	rr := env.do(t, http.MethodGet, "/api/pairing-code/"+s.ID, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	resp := decodeBody[pairingCodeResponse](t, rr)
	assert.True(t, resp.Available)
	assert.Equal(t, "ABCD1234", resp.Code)
	assert.Equal(t, s.ID, resp.SessionID)
	assert.Equal(t, s.Name, resp.SessionName)
	assert.False(t, resp.IsConnected)
	assert.Empty(t, resp.SessionString)
}

func TestPairingCode_Outcomes(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown", session.ErrNotFound, http.StatusNotFound, "not_found"},
		{"expired", longpoll.ErrExpired, http.StatusNotFound, "expired"},
		{"failed", fmt.Errorf("%w: rate limited", longpoll.ErrFailed), http.StatusNotFound, "pairing_failed"},
		{"internal", fmt.Errorf("boom"), http.StatusInternalServerError, "server_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, Config{}, waiterFunc(func(context.Context, string, time.Duration) (longpoll.Result, error) {
				return longpoll.Result{}, tc.err
			}))
			rr := env.do(t, http.MethodGet, "/api/pairing-code/01J0000000000000000000000", "")
			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.code, errorCode(t, rr))
		})
	}
}

func TestPairingCode_PendingIsNotAnError(t *testing.T) {
	env := newTestEnv(t, Config{}, waiterFunc(func(context.Context, string, time.Duration) (longpoll.Result, error) {
		return longpoll.Result{}, longpoll.ErrPending
	}))

	rr := env.do(t, http.MethodGet, "/api/pairing-code/x", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[pairingCodeResponse](t, rr)
	assert.False(t, resp.Available)
	assert.Equal(t, "No code available yet", resp.Message)
}

func TestPairingCode_TimeoutParameter(t *testing.T) {
	var got time.Duration
	env := newTestEnv(t, Config{PollDefault: 45 * time.Second, PollMax: 90 * time.Second},
		waiterFunc(func(_ context.Context, _ string, timeout time.Duration) (longpoll.Result, error) {
			got = timeout
			return longpoll.Result{}, longpoll.ErrPending
		}))

	cases := []struct {
		query string
		want  time.Duration
	}{
		{"", 45 * time.Second},
		{"?timeout=10", 10 * time.Second},
		{"?timeout=1500ms", 1500 * time.Millisecond},
		{"?timeout=10m", 90 * time.Second},
		{"?timeout=0", 45 * time.Second},
	}
	for _, tc := range cases {
		rr := env.do(t, http.MethodGet, "/api/pairing-code/x"+tc.query, "")
		require.Equal(t, http.StatusOK, rr.Code, tc.query)
		assert.Equal(t, tc.want, got, tc.query)
	}

	rr := env.do(t, http.MethodGet, "/api/pairing-code/x?timeout=soon", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_timeout", errorCode(t, rr))
}

func TestSessionStatus(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	ctx := context.Background()

	s, err := env.store.Create(ctx, session.CreateRequest{Number: "15551234567"})
	require.NoError(t, err)
	require.NoError(t, env.store.SetPairingCode(ctx, s.ID, "ABCD1234", env.clock.Now()))
	_, err = env.store.IncrementRetry(ctx, s.ID)
	require.NoError(t, err)
	env.clock.Advance(5 * time.Second)

	rr := env.do(t, http.MethodGet, "/api/session/"+s.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	resp := decodeBody[sessionStatusResponse](t, rr)
	assert.Equal(t, "15551234567", resp.Number)
	assert.Equal(t, s.Name, resp.SessionName)
	assert.Equal(t, s.CreatedAt.UnixMilli(), resp.CreatedAt)
	assert.True(t, resp.HasPairingCode)
	assert.True(t, resp.IsProcessed)
	assert.False(t, resp.IsConnected)
	assert.False(t, resp.HasSessionString)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, 1, resp.RetryCount)
	assert.Equal(t, int64(5000), resp.Age)

	rr = env.do(t, http.MethodGet, "/api/session/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, Config{Retention: 10 * time.Minute}, nil)
	ctx := context.Background()

	a, err := env.store.Create(ctx, session.CreateRequest{Number: "15550000001"})
	require.NoError(t, err)
	b, err := env.store.Create(ctx, session.CreateRequest{Number: "15550000002"})
	require.NoError(t, err)
	c, err := env.store.Create(ctx, session.CreateRequest{Number: "15550000003"})
	require.NoError(t, err)
	_, err = env.store.Create(ctx, session.CreateRequest{Number: "15550000004"})
	require.NoError(t, err)

	require.NoError(t, env.store.MarkProcessing(ctx, a.ID))
	require.NoError(t, env.store.FailCodeRequest(ctx, b.ID, "rate limited"))
	_, err = env.store.CompleteExport(ctx, c.ID, "c2Vzc2lvbg==")
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[statsResponse](t, rr)
	assert.Equal(t, statsResponse{
		TotalActiveSessions: 4,
		WaitingSessions:     1,
		ProcessingSessions:  1,
		ConnectedSessions:   1,
		CompletedSessions:   1,
		ErrorSessions:       1,
	}, resp)
}

func TestSessionData(t *testing.T) {
	ctx := context.Background()
	reapedID, err := ids.NewULID(time.Now())
	require.NoError(t, err)
	exports := mapExports{
		reapedID: {SessionID: reapedID, SessionString: "ZXhwb3J0ZWQ=", SessionName: "PAIR_X", Number: "15559999999"},
	}
	env := newTestEnv(t, Config{}, nil, WithExportReader(exports))

	pending, err := env.store.Create(ctx, session.CreateRequest{Number: "15551234567"})
	require.NoError(t, err)
	done, err := env.store.Create(ctx, session.CreateRequest{Number: "15557654321"})
	require.NoError(t, err)
	_, err = env.store.CompleteExport(ctx, done.ID, "bWVtb3J5")
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/api/session-data/"+pending.ID, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "not_connected", errorCode(t, rr))

	rr = env.do(t, http.MethodGet, "/api/session-data/"+done.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decodeBody[sessionDataResponse](t, rr)
	assert.Equal(t, "bWVtb3J5", resp.SessionString)
	assert.Equal(t, "memory", resp.Source)

	rr = env.do(t, http.MethodGet, "/api/session-data/"+reapedID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp = decodeBody[sessionDataResponse](t, rr)
	assert.Equal(t, "ZXhwb3J0ZWQ=", resp.SessionString)
	assert.Equal(t, "PAIR_X", resp.SessionName)
	assert.Equal(t, "export", resp.Source)

	unknown, err := ids.NewULID(time.Now())
	require.NoError(t, err)
	rr = env.do(t, http.MethodGet, "/api/session-data/"+unknown, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/session-data/not-a-ulid", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoutesRejectWrongMethod(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rr := env.do(t, http.MethodGet, "/api/number", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/stats", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestNewHandler_RequiresDependencies(t *testing.T) {
	store := session.NewMemoryStore()
	waiter := longpoll.New(nil, store)

	_, err := NewHandler(nil, Config{}, nil, &stubStarter{}, waiter)
	assert.Error(t, err)
	_, err = NewHandler(nil, Config{}, store, nil, waiter)
	assert.Error(t, err)
	_, err = NewHandler(nil, Config{}, store, &stubStarter{}, nil)
	assert.Error(t, err)
}
