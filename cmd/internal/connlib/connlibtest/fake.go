// Package connlibtest provides a scripted connlib.Driver for tests.
package connlibtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pairgate/cmd/internal/connlib"
)

// Driver hands out scripted Conns. Each Open produces a fresh Conn that is
// published on the driver so a test can drive its event stream.
type Driver struct {
	mu      sync.Mutex
	opens   int
	scopes  []connlib.Scope
	openErr error
	conns   []*Conn

	// Configure is applied to every Conn before Open returns.
	Configure func(n int, c *Conn)

	opened chan *Conn
}

// NewDriver constructs a Driver.
func NewDriver() *Driver {
	return &Driver{opened: make(chan *Conn, 16)}
}

// FailOpens makes every subsequent Open fail with err (nil restores success).
func (d *Driver) FailOpens(err error) {
	d.mu.Lock()
	d.openErr = err
	d.mu.Unlock()
}

func (d *Driver) Open(ctx context.Context, scope connlib.Scope, _ connlib.OpenOptions) (connlib.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	if d.openErr != nil {
		err := d.openErr
		d.mu.Unlock()
		return nil, err
	}
	d.opens++
	n := d.opens
	d.scopes = append(d.scopes, scope)
	c := newConn()
	d.conns = append(d.conns, c)
	configure := d.Configure
	d.mu.Unlock()

	if configure != nil {
		configure(n, c)
	}
	d.opened <- c
	return c, nil
}

// Opens reports how many connections were opened.
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Scopes returns the scopes passed to Open, in order.
func (d *Driver) Scopes() []connlib.Scope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]connlib.Scope(nil), d.scopes...)
}

// NextConn waits for the next opened Conn.
func (d *Driver) NextConn(t testing.TB, timeout time.Duration) *Conn {
	t.Helper()
	select {
	case c := <-d.opened:
		return c
	case <-time.After(timeout):
		t.Fatalf("connlibtest: no connection opened within %s", timeout)
		return nil
	}
}

// Conn is a scripted connlib.Conn.
type Conn struct {
	events chan connlib.Event

	mu           sync.Mutex
	code         string
	codeErr      error
	sendErr      error
	codeRequests []string
	sent         []SentMessage
	creds        connlib.Credentials
	selfID       string
	closed       bool
	closeCount   int
}

// SentMessage records one SendMessage call.
type SentMessage struct {
	To   string
	Text string
}

func newConn() *Conn {
	return &Conn{events: make(chan connlib.Event, 16), code: "ABCD1234"}
}

// SetCode sets the pairing code (or error) returned by RequestPairingCode.
func (c *Conn) SetCode(code string, err error) {
	c.mu.Lock()
	c.code, c.codeErr = code, err
	c.mu.Unlock()
}

// SetSendError makes SendMessage fail.
func (c *Conn) SetSendError(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// SetCredentials sets the state returned by Credentials and SelfID.
func (c *Conn) SetCredentials(creds connlib.Credentials, selfID string) {
	c.mu.Lock()
	c.creds, c.selfID = creds, selfID
	c.mu.Unlock()
}

// Emit delivers ev unless the Conn is closed.
func (c *Conn) Emit(ev connlib.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// EmitOpen delivers an open event. Registered opens carry the current credentials.
func (c *Conn) EmitOpen(registered bool) {
	ev := connlib.Event{Kind: connlib.EventOpened, Registered: registered}
	if registered {
		c.mu.Lock()
		creds := c.creds
		c.mu.Unlock()
		creds.Registered = true
		ev.Credentials = &creds
	}
	c.Emit(ev)
}

// EmitClose delivers a close event with reason, then ends the stream.
func (c *Conn) EmitClose(reason connlib.ReasonCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- connlib.Event{
		Kind:   connlib.EventClosed,
		Reason: reason,
		Err:    connlib.DisconnectError{Reason: reason},
	}
	c.closed = true
	close(c.events)
}

func (c *Conn) Events() <-chan connlib.Event { return c.events }

func (c *Conn) RequestPairingCode(ctx context.Context, number string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codeRequests = append(c.codeRequests, number)
	if c.closed {
		return "", errors.New("connlibtest: connection closed")
	}
	if c.codeErr != nil {
		return "", c.codeErr
	}
	return c.code, nil
}

func (c *Conn) SendMessage(_ context.Context, to string, msg connlib.Message) (connlib.MessageKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return connlib.MessageKey{}, c.sendErr
	}
	c.sent = append(c.sent, SentMessage{To: to, Text: msg.Text})
	return connlib.MessageKey{ID: "fake-key", RemoteID: to}, nil
}

func (c *Conn) Credentials() connlib.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

func (c *Conn) SelfID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// CodeRequests returns the numbers passed to RequestPairingCode.
func (c *Conn) CodeRequests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.codeRequests...)
}

// Sent returns the messages passed to SendMessage.
func (c *Conn) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.sent...)
}

// Closed reports whether Close was called or the stream ended.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCalls reports how many times Close was called.
func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}
