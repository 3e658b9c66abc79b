package app

import (
	"errors"

	"pairgate/cmd/security/seal"
)

// minExportKeyBytes is the minimum secret length accepted for sealing exports.
const minExportKeyBytes = 32

// ValidateSecurityConfig enforces the export sealing policy at startup.
//
// A configured key is always held to the minimum length, required or not:
// a short key silently weakens every record sealed with it.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireExportKey && !seal.Enabled() {
		return nil
	}

	if _, err := seal.KeyFromEnv(minExportKeyBytes); err != nil {
		switch {
		case errors.Is(err, seal.ErrKeyMissing):
			return errors.New("security policy: PAIRGATE_REQUIRE_EXPORT_KEY=true but PAIRGATE_EXPORT_KEY is missing")
		case errors.Is(err, seal.ErrKeyTooShort):
			return errors.New("security policy: PAIRGATE_EXPORT_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}
	return nil
}

// exportSealer returns the sealer for the configured key, or nil when sealing is off.
func exportSealer() (*seal.Sealer, error) {
	if !seal.Enabled() {
		return nil, nil
	}
	key, err := seal.KeyFromEnv(minExportKeyBytes)
	if err != nil {
		return nil, err
	}
	return seal.NewSealer(key)
}
