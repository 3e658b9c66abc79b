// Package ids provides the identifier primitives used for pairing sessions.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// The leading 10 chars encode the millisecond timestamp, the trailing 16 are random.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s is a canonical ULID string.
// Callers use it before turning an id into a file name or a storage key.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
