package connlib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	v1 "pairgate/shared/contracts/bridge/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const (
	bridgeDefaultDialTimeout  = 10 * time.Second
	bridgeDefaultWriteTimeout = 5 * time.Second
	bridgeCloseGrace          = 1 * time.Second
	bridgeEventQueue          = 32
	bridgeMaxFrameBytes       = 1 << 20
)

// ErrConnClosed is returned by requests issued on, or interrupted by, a closed connection.
var ErrConnClosed = errors.New("connlib: connection closed")

// BridgeDriver opens connections through a bridge process that hosts the
// Connection Library and speaks the pairgate bridge v1 protocol.
type BridgeDriver struct {
	log *slog.Logger
	url string

	dialTimeout  time.Duration
	writeTimeout time.Duration
}

// BridgeOption customizes a BridgeDriver.
type BridgeOption func(*BridgeDriver)

// WithDialTimeout bounds the WebSocket handshake plus the open envelope.
func WithDialTimeout(d time.Duration) BridgeOption {
	return func(b *BridgeDriver) {
		if d > 0 {
			b.dialTimeout = d
		}
	}
}

// WithWriteTimeout bounds every envelope write.
func WithWriteTimeout(d time.Duration) BridgeOption {
	return func(b *BridgeDriver) {
		if d > 0 {
			b.writeTimeout = d
		}
	}
}

// NewBridgeDriver constructs a driver dialing url (ws://, wss://, http:// or https://).
func NewBridgeDriver(log *slog.Logger, url string, opts ...BridgeOption) (*BridgeDriver, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("connlib: empty bridge url")
	}
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	d := &BridgeDriver{
		log:          log,
		url:          url,
		dialTimeout:  bridgeDefaultDialTimeout,
		writeTimeout: bridgeDefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Open dials the bridge and asks it to open a library connection against scope.
// The returned Conn outlives ctx; ctx only bounds the handshake.
func (d *BridgeDriver) Open(ctx context.Context, scope Scope, opts OpenOptions) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	ws, resp, err := websocket.Dial(dialCtx, d.url, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("connlib: dial bridge: %w", err)
	}
	if sp := ws.Subprotocol(); sp != v1.Subprotocol {
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("connlib: bridge subprotocol %q", sp)
	}
	ws.SetReadLimit(bridgeMaxFrameBytes)

	connCtx, connCancel := context.WithCancel(context.Background())
	c := &bridgeConn{
		log:          d.log.With("session_id", scope.SessionID),
		ws:           ws,
		writeTimeout: d.writeTimeout,
		events:       make(chan Event, bridgeEventQueue),
		pending:      make(map[string]chan v1.ResultPayload),
		ctx:          connCtx,
		cancel:       connCancel,
		readDone:     make(chan struct{}),
	}

	open, err := v1.NewEnvelope(v1.TypeOpen, uuid.NewString(), time.Now(), v1.OpenPayload{
		Scope:   scope.Dir,
		Version: opts.Version,
		Browser: opts.Browser,
	})
	if err != nil {
		c.abort()
		return nil, err
	}
	if err := writeEnvelope(dialCtx, ws, open, d.writeTimeout); err != nil {
		c.abort()
		return nil, fmt.Errorf("connlib: send open: %w", err)
	}

	go c.readLoop()
	return c, nil
}

type bridgeConn struct {
	log          *slog.Logger
	ws           *websocket.Conn
	writeTimeout time.Duration

	events chan Event

	mu      sync.Mutex
	pending map[string]chan v1.ResultPayload
	creds   Credentials
	selfID  string
	closing bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	readDone  chan struct{}
}

func (c *bridgeConn) Events() <-chan Event { return c.events }

func (c *bridgeConn) Credentials() Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

func (c *bridgeConn) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *bridgeConn) RequestPairingCode(ctx context.Context, number string) (string, error) {
	res, err := c.request(ctx, v1.TypePairingCodeRequest, v1.PairingCodeRequestPayload{Number: number})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(res.Code) == "" {
		return "", errors.New("connlib: bridge returned empty pairing code")
	}
	return res.Code, nil
}

func (c *bridgeConn) SendMessage(ctx context.Context, to string, msg Message) (MessageKey, error) {
	res, err := c.request(ctx, v1.TypeMessageSend, v1.MessageSendPayload{To: to, Text: msg.Text})
	if err != nil {
		return MessageKey{}, err
	}
	return MessageKey{ID: res.KeyID, RemoteID: res.RemoteID}, nil
}

// Close asks the bridge to close the library connection, then drops the socket.
func (c *bridgeConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()

		if env, err := v1.NewEnvelope(v1.TypeClose, "", time.Now(), nil); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), bridgeCloseGrace)
			_ = writeEnvelope(ctx, c.ws, env, c.writeTimeout)
			cancel()
		}
		_ = c.ws.Close(websocket.StatusNormalClosure, "bye")
		c.cancel()
	})
	<-c.readDone
	return nil
}

func (c *bridgeConn) abort() {
	c.closeOnce.Do(func() {
		_ = c.ws.Close(websocket.StatusInternalError, "open failed")
		c.cancel()
		close(c.readDone)
		close(c.events)
	})
}

func (c *bridgeConn) request(ctx context.Context, typ string, payload any) (v1.ResultPayload, error) {
	id := uuid.NewString()
	env, err := v1.NewEnvelope(typ, id, time.Now(), payload)
	if err != nil {
		return v1.ResultPayload{}, err
	}

	reply := make(chan v1.ResultPayload, 1)
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return v1.ResultPayload{}, ErrConnClosed
	}
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := writeEnvelope(ctx, c.ws, env, c.writeTimeout); err != nil {
		return v1.ResultPayload{}, fmt.Errorf("connlib: send %s: %w", typ, err)
	}

	select {
	case res := <-reply:
		if !res.OK {
			msg := res.Error
			if msg == "" {
				msg = "request rejected"
			}
			return res, fmt.Errorf("connlib: %s: %s", typ, msg)
		}
		return res, nil
	case <-c.readDone:
		return v1.ResultPayload{}, ErrConnClosed
	case <-ctx.Done():
		return v1.ResultPayload{}, ctx.Err()
	}
}

func (c *bridgeConn) readLoop() {
	sawClose := false
	defer func() {
		c.mu.Lock()
		closing := c.closing
		c.closing = true
		c.mu.Unlock()

		if !sawClose && !closing {
			c.emit(Event{Kind: EventClosed, Reason: ReasonUnknown, Err: DisconnectError{Msg: "bridge went away"}})
		}
		close(c.events)
		close(c.readDone)
		c.cancel()
	}()

	for {
		env, err := readEnvelope(c.ctx, c.ws)
		if err != nil {
			if c.ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				c.log.Info("bridge.read.fail", "err", err)
			}
			return
		}
		if err := env.Validate(); err != nil {
			c.log.Info("bridge.envelope.invalid", "type", env.Type, "err", err)
			continue
		}

		switch env.Type {
		case v1.TypeResult:
			var res v1.ResultPayload
			if err := env.DecodePayload(&res); err != nil {
				c.log.Info("bridge.result.invalid", "err", err)
				continue
			}
			c.mu.Lock()
			reply, ok := c.pending[env.ID]
			c.mu.Unlock()
			if ok {
				select {
				case reply <- res:
				default:
				}
			}

		case v1.TypeCredsUpdate:
			var p v1.CredsUpdatePayload
			if err := env.DecodePayload(&p); err != nil {
				c.log.Info("bridge.creds.invalid", "err", err)
				continue
			}
			creds, err := decodeCreds(p.Creds)
			if err != nil {
				c.log.Info("bridge.creds.invalid", "err", err)
				continue
			}
			c.mu.Lock()
			c.creds = creds
			c.mu.Unlock()
			c.emit(Event{Kind: EventCredentialsUpdated, Credentials: &creds})

		case v1.TypeConnectionUpdate:
			var p v1.ConnectionUpdatePayload
			if err := env.DecodePayload(&p); err != nil {
				c.log.Info("bridge.update.invalid", "err", err)
				continue
			}
			if c.handleUpdate(p) {
				sawClose = true
				return
			}

		default:
			c.log.Debug("bridge.envelope.ignored", "type", env.Type)
		}
	}
}

// handleUpdate reports true once the library connection is closed.
func (c *bridgeConn) handleUpdate(p v1.ConnectionUpdatePayload) bool {
	switch p.Connection {
	case v1.ConnectionOpen:
		ev := Event{Kind: EventOpened, Registered: p.Registered}
		c.mu.Lock()
		if len(p.Creds) > 0 {
			if creds, err := decodeCreds(p.Creds); err == nil {
				c.creds = creds
			} else {
				c.log.Info("bridge.creds.invalid", "err", err)
			}
		}
		if p.SelfID != "" {
			c.selfID = p.SelfID
		} else if c.creds.Me != nil {
			c.selfID = c.creds.Me.ID
		}
		creds := c.creds
		c.mu.Unlock()
		if p.Registered {
			creds.Registered = true
			ev.Credentials = &creds
		}
		c.emit(ev)
		return false

	case v1.ConnectionClose:
		reason := ReasonCode(p.Reason)
		c.emit(Event{Kind: EventClosed, Reason: reason, Err: DisconnectError{Reason: reason, Msg: p.Message}})
		return true

	default:
		return false
	}
}

func (c *bridgeConn) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func decodeCreds(raw json.RawMessage) (Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, fmt.Errorf("decode creds: %w", err)
	}
	return creds, nil
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
