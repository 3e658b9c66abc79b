package pairing

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned by Start when the session already has a run.
var ErrAlreadyRunning = errors.New("pairing: session already has an active orchestrator")

// ErrShuttingDown is returned by Start after Shutdown was called.
var ErrShuttingDown = errors.New("pairing: orchestrator shutting down")

// FailureKind classifies why a run left the happy path.
type FailureKind int

const (
	CodeRequestFailed FailureKind = iota + 1
	RecoverableDisconnect
	TerminalDisconnect
	PairingTimeout
	UnexpectedFailure
)

func (k FailureKind) String() string {
	switch k {
	case CodeRequestFailed:
		return "code_request_failed"
	case RecoverableDisconnect:
		return "recoverable_disconnect"
	case TerminalDisconnect:
		return "terminal_disconnect"
	case PairingTimeout:
		return "pairing_timeout"
	case UnexpectedFailure:
		return "unexpected_failure"
	default:
		return "unknown"
	}
}

// Failure is the typed error recorded for a failed run.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Detail is the message stored on the session record.
func (f *Failure) Detail() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return f.Err.Error()
}

func failure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}
