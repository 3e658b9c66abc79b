package session

import "errors"

var (
	// ErrNotFound is returned for ids unknown to the store. A reaped session and
	// one that never existed are indistinguishable.
	ErrNotFound = errors.New("session not found")

	// ErrAlreadyExported is returned when a session string was already recorded.
	ErrAlreadyExported = errors.New("session already exported")

	// ErrCodeAlreadySet is returned when a pairing code was already recorded.
	ErrCodeAlreadySet = errors.New("pairing code already set")

	// ErrTerminal is returned when a mutation targets a session in a terminal status.
	ErrTerminal = errors.New("session in terminal status")

	// ErrInvalidInput is returned for malformed create requests.
	ErrInvalidInput = errors.New("invalid input")
)
