package connlib

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Contact is the account identity reported by the library after registration.
type Contact struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	LID  string `json:"lid,omitempty"`
}

// Credentials is the registered credential bundle.
// Account and Registration are library-defined and kept opaque.
type Credentials struct {
	ClientID     string          `json:"clientID,omitempty"`
	ServerToken  string          `json:"serverToken,omitempty"`
	ClientToken  string          `json:"clientToken,omitempty"`
	EncKey       []byte          `json:"encKey,omitempty"`
	MacKey       []byte          `json:"macKey,omitempty"`
	PairingCode  string          `json:"pairingCode,omitempty"`
	Me           *Contact        `json:"me,omitempty"`
	Account      json.RawMessage `json:"account,omitempty"`
	Registration json.RawMessage `json:"registration,omitempty"`
	Registered   bool            `json:"registered"`
}

// sessionBundle is the serialized form inside a session string.
// encKey/macKey are base64 strings; []byte fields marshal that way already.
type sessionBundle struct {
	ClientID     string          `json:"clientID"`
	ServerToken  string          `json:"serverToken"`
	ClientToken  string          `json:"clientToken"`
	EncKey       []byte          `json:"encKey"`
	MacKey       []byte          `json:"macKey"`
	PairingCode  string          `json:"pairingCode"`
	Me           *Contact        `json:"me"`
	Account      json.RawMessage `json:"account"`
	Registration json.RawMessage `json:"registration"`
}

// ErrNotRegistered is returned when exporting credentials that were never registered.
var ErrNotRegistered = errors.New("credentials not registered")

// EncodeSessionString serializes registered credentials as base64(JSON).
func EncodeSessionString(c Credentials) (string, error) {
	if !c.Registered {
		return "", ErrNotRegistered
	}
	b, err := json.Marshal(sessionBundle{
		ClientID:     c.ClientID,
		ServerToken:  c.ServerToken,
		ClientToken:  c.ClientToken,
		EncKey:       c.EncKey,
		MacKey:       c.MacKey,
		PairingCode:  c.PairingCode,
		Me:           c.Me,
		Account:      nullIfEmpty(c.Account),
		Registration: nullIfEmpty(c.Registration),
	})
	if err != nil {
		return "", fmt.Errorf("encode session string: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeSessionString reverses EncodeSessionString.
func DecodeSessionString(s string) (Credentials, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Credentials{}, fmt.Errorf("decode session string: %w", err)
	}
	var b sessionBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return Credentials{}, fmt.Errorf("decode session string: %w", err)
	}
	return Credentials{
		ClientID:     b.ClientID,
		ServerToken:  b.ServerToken,
		ClientToken:  b.ClientToken,
		EncKey:       b.EncKey,
		MacKey:       b.MacKey,
		PairingCode:  b.PairingCode,
		Me:           b.Me,
		Account:      emptyIfNull(b.Account),
		Registration: emptyIfNull(b.Registration),
		Registered:   true,
	}, nil
}

func nullIfEmpty(m json.RawMessage) json.RawMessage {
	if len(m) == 0 {
		return json.RawMessage("null")
	}
	return m
}

func emptyIfNull(m json.RawMessage) json.RawMessage {
	if len(m) == 0 || string(m) == "null" {
		return nil
	}
	return m
}
