package seal

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("export key missing")
	ErrKeyTooShort = errors.New("export key too short")
	ErrMalformed   = errors.New("sealed value malformed")
)
