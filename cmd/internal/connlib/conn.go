package connlib

import (
	"context"
	"fmt"
)

// ReasonCode is the status code attached to a connection close.
type ReasonCode int

const (
	// ReasonUnknown is used when the library did not report a status code.
	ReasonUnknown ReasonCode = 0
	// ReasonLoggedOut means the credential was invalidated server-side. Terminal.
	ReasonLoggedOut ReasonCode = 401
	// ReasonConnectionReplaced means another client took over the credential.
	ReasonConnectionReplaced ReasonCode = 440
	// ReasonRestartRequired is the server-mandated reconnect after code issuance. Recoverable.
	ReasonRestartRequired ReasonCode = 515
)

// Recoverable reports whether the close is the expected reconnect cycle.
func (r ReasonCode) Recoverable() bool { return r == ReasonRestartRequired }

// Terminal reports whether the close invalidated the credential.
func (r ReasonCode) Terminal() bool { return r == ReasonLoggedOut }

func (r ReasonCode) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonConnectionReplaced:
		return "connection_replaced"
	case ReasonRestartRequired:
		return "restart_required"
	case ReasonUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("code_%d", int(r))
	}
}

// DisconnectError describes a connection close.
type DisconnectError struct {
	Reason ReasonCode
	Msg    string
}

func (e DisconnectError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("connection closed: %s", e.Reason)
	}
	return fmt.Sprintf("connection closed: %s: %s", e.Reason, e.Msg)
}

// EventKind enumerates connection events.
type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventCredentialsUpdated
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventCredentialsUpdated:
		return "credentials_updated"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one input from the connection's event stream.
type Event struct {
	Kind EventKind

	// Registered is set on EventOpened when the library's auth state is registered.
	Registered bool
	// Credentials is the auth state carried by EventOpened/EventCredentialsUpdated, if any.
	Credentials *Credentials
	// Reason is set on EventClosed.
	Reason ReasonCode
	// Err is an optional library error attached to EventClosed.
	Err error
}

// Message is an outbound text message.
type Message struct {
	Text string
}

// MessageKey identifies a sent message.
type MessageKey struct {
	ID       string
	RemoteID string
}

// OpenOptions carries library parameters for one connection attempt.
type OpenOptions struct {
	Version string
	Browser [3]string
}

// Driver opens connections.
type Driver interface {
	Open(ctx context.Context, scope Scope, opts OpenOptions) (Conn, error)
}

// Conn is one underlying connection attempt.
//
// Events is closed by the implementation once the connection is gone and no
// further events will be delivered. Close is idempotent.
type Conn interface {
	Events() <-chan Event
	RequestPairingCode(ctx context.Context, number string) (string, error)
	SendMessage(ctx context.Context, to string, msg Message) (MessageKey, error)
	// Credentials returns the latest known auth state.
	Credentials() Credentials
	// SelfID returns the device's own address once registered.
	SelfID() string
	Close() error
}
