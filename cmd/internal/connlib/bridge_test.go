package connlib

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v1 "pairgate/shared/contracts/bridge/v1"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bridgeScript func(ctx context.Context, t *testing.T, conn *websocket.Conn)

func startFakeBridge(t *testing.T, script bridgeScript) *httptest.Server {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols: []string{v1.Subprotocol},
		})
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

		open, err := readEnvelope(r.Context(), conn)
		if err != nil {
			t.Errorf("read open: %v", err)
			return
		}
		var p v1.OpenPayload
		if open.Type != v1.TypeOpen || open.DecodePayload(&p) != nil || p.Scope == "" {
			t.Errorf("unexpected open envelope: %+v", open)
			return
		}
		script(r.Context(), t, conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func serverSend(ctx context.Context, t *testing.T, conn *websocket.Conn, typ, id string, payload any) {
	t.Helper()
	env, err := v1.NewEnvelope(typ, id, time.Now(), payload)
	if err != nil {
		t.Errorf("envelope: %v", err)
		return
	}
	if err := writeEnvelope(ctx, conn, env, time.Second); err != nil {
		t.Errorf("write %s: %v", typ, err)
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func nextEvent(t *testing.T, c Conn) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		return ev, ok
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for event")
		return Event{}, false
	}
}

func TestBridgeDriver_PairingCodeThenRestart(t *testing.T) {
	t.Parallel()

	ts := startFakeBridge(t, func(ctx context.Context, t *testing.T, conn *websocket.Conn) {
		attempts := 0
		for {
			env, err := readEnvelope(ctx, conn)
			if err != nil {
				return
			}
			if env.Type != v1.TypePairingCodeRequest {
				continue
			}
			attempts++
			if attempts == 1 {
				serverSend(ctx, t, conn, v1.TypeResult, env.ID, v1.ResultPayload{OK: false, Error: "rate limited"})
				continue
			}
			serverSend(ctx, t, conn, v1.TypeResult, env.ID, v1.ResultPayload{OK: true, Code: "ABCD-1234"})
			serverSend(ctx, t, conn, v1.TypeConnectionUpdate, "", v1.ConnectionUpdatePayload{
				Connection: v1.ConnectionClose,
				Reason:     int(ReasonRestartRequired),
				Message:    "restart required",
			})
			return
		}
	})

	drv, err := NewBridgeDriver(nil, wsURL(ts.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := drv.Open(ctx, Scope{SessionID: "s1", Dir: t.TempDir()}, OpenOptions{Browser: [3]string{"Ubuntu", "Chrome", "20.0.04"}})
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	_, err = conn.RequestPairingCode(ctx, "15551234567")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	code, err := conn.RequestPairingCode(ctx, "15551234567")
	require.NoError(t, err)
	assert.Equal(t, "ABCD-1234", code)

	ev, ok := nextEvent(t, conn)
	require.True(t, ok)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, ReasonRestartRequired, ev.Reason)
	assert.True(t, ev.Reason.Recoverable())

	var de DisconnectError
	require.ErrorAs(t, ev.Err, &de)
	assert.Equal(t, "restart required", de.Msg)

	_, ok = nextEvent(t, conn)
	assert.False(t, ok, "events must be closed after the library connection closes")

	_, err = conn.RequestPairingCode(ctx, "15551234567")
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestBridgeDriver_RegisteredOpenCarriesCredentials(t *testing.T) {
	t.Parallel()

	creds, err := json.Marshal(Credentials{
		ClientID:   "client-1",
		EncKey:     []byte{1, 2, 3},
		Me:         &Contact{ID: "15551234567:4@s.whatsapp.net", Name: "Pat"},
		Registered: true,
	})
	require.NoError(t, err)

	sent := make(chan v1.MessageSendPayload, 1)
	ts := startFakeBridge(t, func(ctx context.Context, t *testing.T, conn *websocket.Conn) {
		serverSend(ctx, t, conn, v1.TypeConnectionUpdate, "", v1.ConnectionUpdatePayload{
			Connection: v1.ConnectionOpen,
			Registered: true,
			Creds:      creds,
		})
		for {
			env, err := readEnvelope(ctx, conn)
			if err != nil {
				return
			}
			switch env.Type {
			case v1.TypeMessageSend:
				var p v1.MessageSendPayload
				_ = env.DecodePayload(&p)
				sent <- p
				serverSend(ctx, t, conn, v1.TypeResult, env.ID, v1.ResultPayload{OK: true, KeyID: "KEY1", RemoteID: p.To})
			case v1.TypeClose:
				return
			}
		}
	})

	drv, err := NewBridgeDriver(nil, wsURL(ts.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := drv.Open(ctx, Scope{SessionID: "s2", Dir: t.TempDir()}, OpenOptions{})
	require.NoError(t, err)

	ev, ok := nextEvent(t, conn)
	require.True(t, ok)
	assert.Equal(t, EventOpened, ev.Kind)
	assert.True(t, ev.Registered)
	require.NotNil(t, ev.Credentials)
	assert.Equal(t, "client-1", ev.Credentials.ClientID)
	assert.Equal(t, []byte{1, 2, 3}, ev.Credentials.EncKey)
	assert.Equal(t, "15551234567:4@s.whatsapp.net", conn.SelfID())

	key, err := conn.SendMessage(ctx, conn.SelfID(), Message{Text: "linked"})
	require.NoError(t, err)
	assert.Equal(t, "KEY1", key.ID)

	got := <-sent
	assert.Equal(t, "linked", got.Text)
	assert.Equal(t, "15551234567:4@s.whatsapp.net", got.To)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, ok = nextEvent(t, conn)
	assert.False(t, ok)
}

func TestNewBridgeDriver_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewBridgeDriver(nil, "  ")
	require.Error(t, err)
}
