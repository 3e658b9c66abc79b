// Package v1 defines the pairgate bridge protocol v1.
//
// The bridge is a sidecar process that hosts the messaging Connection Library.
// pairgate dials it over WebSocket (subprotocol "pairgate.bridge.v1") once per
// connection attempt and exchanges JSON envelopes.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "pairgate.bridge.v1"

// Type constants (wire-stable).
const (
	// TypeOpen opens a library connection against a credential scope (client -> bridge).
	TypeOpen = "open"
	// TypePairingCodeRequest asks for a pairing code (client -> bridge, answered by TypeResult).
	TypePairingCodeRequest = "pairing_code.request"
	// TypeMessageSend sends a text message (client -> bridge, answered by TypeResult).
	TypeMessageSend = "message.send"
	// TypeClose closes the library connection (client -> bridge).
	TypeClose = "close"

	// TypeConnectionUpdate reports open/close transitions (bridge -> client).
	TypeConnectionUpdate = "connection.update"
	// TypeCredsUpdate reports a credential change (bridge -> client).
	TypeCredsUpdate = "creds.update"
	// TypeResult answers a request envelope with the same id (bridge -> client).
	TypeResult = "result"
)

// Connection states carried by ConnectionUpdatePayload.
const (
	ConnectionOpen       = "open"
	ConnectionConnecting = "connecting"
	ConnectionClose      = "close"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeOpen, TypePairingCodeRequest, TypeMessageSend, TypeClose,
		TypeConnectionUpdate, TypeCredsUpdate, TypeResult:
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unsupported type: %q", e.Type)
	}
	if e.Type == TypeResult && e.ID == "" {
		return errors.New("result without id")
	}
	return nil
}

// NewEnvelope marshals payload into an Envelope.
func NewEnvelope(typ, id string, now time.Time, payload any) (Envelope, error) {
	env := Envelope{V: Version, Type: typ, ID: id, TS: now.UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Payload = b
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: missing payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Type, err)
	}
	return nil
}

// OpenPayload is the TypeOpen payload.
type OpenPayload struct {
	Scope   string    `json:"scope"`
	Version string    `json:"version,omitempty"`
	Browser [3]string `json:"browser"`
}

// PairingCodeRequestPayload is the TypePairingCodeRequest payload.
type PairingCodeRequestPayload struct {
	Number string `json:"number"`
}

// MessageSendPayload is the TypeMessageSend payload.
type MessageSendPayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// ConnectionUpdatePayload is the TypeConnectionUpdate payload.
type ConnectionUpdatePayload struct {
	Connection string          `json:"connection"`
	Registered bool            `json:"registered,omitempty"`
	Reason     int             `json:"reason,omitempty"`
	Message    string          `json:"message,omitempty"`
	SelfID     string          `json:"self_id,omitempty"`
	Creds      json.RawMessage `json:"creds,omitempty"`
}

// CredsUpdatePayload is the TypeCredsUpdate payload.
type CredsUpdatePayload struct {
	Creds json.RawMessage `json:"creds"`
}

// ResultPayload is the TypeResult payload.
type ResultPayload struct {
	OK       bool   `json:"ok"`
	Code     string `json:"code,omitempty"`
	KeyID    string `json:"key_id,omitempty"`
	RemoteID string `json:"remote_id,omitempty"`
	Error    string `json:"error,omitempty"`
}
