package api

import (
	"errors"
	"strings"
)

var errInvalidNumber = errors.New("number must contain 6 to 15 digits")

const (
	minNumberDigits = 6
	maxNumberDigits = 15
)

// normalizeNumber strips common phone formatting and validates the digit count.
func normalizeNumber(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "+")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '.', r == '(', r == ')':
		default:
			return "", errInvalidNumber
		}
	}
	out := b.String()
	if len(out) < minNumberDigits || len(out) > maxNumberDigits {
		return "", errInvalidNumber
	}
	return out, nil
}
