package pairing

import (
	"errors"
	"time"
)

// Config holds the timings of one pairing run.
type Config struct {
	// SettleDelay is waited after opening before the code is requested.
	SettleDelay time.Duration
	// Window bounds the wait for the link, counted from code issuance.
	Window time.Duration
	// MaxRestarts is the reconnect budget for restart-required closes.
	MaxRestarts int
	// RestartBackoff is waited before each reconnect.
	RestartBackoff time.Duration
	// FlushDelay is waited after the confirmation send before disconnecting.
	FlushDelay time.Duration
	// CodeRequestTimeout bounds RequestPairingCode and SendMessage calls.
	CodeRequestTimeout time.Duration

	// LibraryVersion and Browser are passed to the Connection Library on open.
	LibraryVersion string
	Browser        [3]string
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		SettleDelay:        3 * time.Second,
		Window:             3 * time.Minute,
		MaxRestarts:        3,
		RestartBackoff:     2 * time.Second,
		FlushDelay:         3 * time.Second,
		CodeRequestTimeout: 30 * time.Second,
		Browser:            [3]string{"Ubuntu", "Chrome", "20.04"},
	}
}

// Validate rejects configurations that would make a run spin or never end.
func (c Config) Validate() error {
	switch {
	case c.SettleDelay < 0:
		return errors.New("pairing: negative settle delay")
	case c.Window <= 0:
		return errors.New("pairing: window must be positive")
	case c.MaxRestarts < 0:
		return errors.New("pairing: negative restart budget")
	case c.RestartBackoff < 0:
		return errors.New("pairing: negative restart backoff")
	case c.FlushDelay < 0:
		return errors.New("pairing: negative flush delay")
	case c.CodeRequestTimeout <= 0:
		return errors.New("pairing: code request timeout must be positive")
	}
	return nil
}
