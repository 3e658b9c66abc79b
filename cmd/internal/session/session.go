package session

import (
	"fmt"
	"strings"
	"time"
)

// Status is the externally visible phase of a pairing session.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusTimeout    Status = "timeout"
	StatusError      Status = "error"
)

// Terminal reports whether no further status transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusTimeout, StatusError:
		return true
	default:
		return false
	}
}

// CodeErrorPrefix marks a pairing code field that carries a failure detail instead of a code.
const CodeErrorPrefix = "ERROR: "

// DefaultNamePrefix is prepended to the derived session name.
const DefaultNamePrefix = "PAIR_"

// Session is one pairing attempt as seen by callers.
//
// Empty strings mean "not set" for PairingCode, SessionString and LastError.
// Values returned by a Store are copies; mutating them has no effect on the store.
type Session struct {
	ID     string
	Number string
	Name   string

	Status          Status
	PairingCode     string
	CodeGeneratedAt time.Time
	SessionString   string
	IsConnected     bool

	CreatedAt  time.Time
	RetryCount int
	LastError  string
}

// HasPairingCode reports whether a usable pairing code was issued.
func (s Session) HasPairingCode() bool {
	return s.PairingCode != "" && !s.CodeFailed()
}

// CodeFailed reports whether the pairing code field carries a failure marker.
func (s Session) CodeFailed() bool {
	return strings.HasPrefix(s.PairingCode, CodeErrorPrefix)
}

// HasSessionString reports whether the credential bundle was exported.
func (s Session) HasSessionString() bool {
	return s.SessionString != ""
}

// Age returns the session age relative to now.
func (s Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// CreateRequest describes a new pairing session.
type CreateRequest struct {
	Number string
}

// Stats aggregates active sessions by status.
type Stats struct {
	Total      int
	Waiting    int
	Processing int
	Connected  int
	Completed  int
	Timeout    int
	Error      int
}

// DeriveName derives the display name for a session id.
// The last 8 chars are used because the leading chars of a ULID are the timestamp.
func DeriveName(prefix, id string) string {
	tail := id
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}
	return prefix + strings.ToUpper(tail)
}

func (s *Session) markProcessing() error {
	if s.Status.Terminal() {
		return ErrTerminal
	}
	s.Status = StatusProcessing
	return nil
}

func (s *Session) setPairingCode(code string, at time.Time) error {
	if s.PairingCode != "" {
		return ErrCodeAlreadySet
	}
	if s.Status.Terminal() {
		return ErrTerminal
	}
	s.PairingCode = code
	s.CodeGeneratedAt = at
	if s.Status == StatusWaiting {
		s.Status = StatusProcessing
	}
	return nil
}

func (s *Session) failCodeRequest(detail string) error {
	if s.Status.Terminal() {
		return ErrTerminal
	}
	s.PairingCode = CodeErrorPrefix + detail
	s.Status = StatusError
	s.LastError = detail
	return nil
}

// completeExport is the only path that writes SessionString.
func (s *Session) completeExport(sessionString string) error {
	if s.SessionString != "" {
		return ErrAlreadyExported
	}
	if sessionString == "" {
		return fmt.Errorf("%w: empty session string", ErrInvalidInput)
	}
	if s.Status == StatusError || s.Status == StatusTimeout {
		return ErrTerminal
	}
	s.SessionString = sessionString
	s.IsConnected = true
	s.Status = StatusCompleted
	return nil
}

func (s *Session) finish(status Status, detail string) error {
	if status != StatusError && status != StatusTimeout {
		return fmt.Errorf("%w: finish status %q", ErrInvalidInput, status)
	}
	if s.Status.Terminal() {
		return ErrTerminal
	}
	s.Status = status
	if detail != "" {
		s.LastError = detail
	}
	return nil
}
