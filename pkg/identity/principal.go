package identity

import (
	"errors"
	"strings"
)

// ErrEmptyPrincipal is returned when a principal identifier is blank
var ErrEmptyPrincipal = errors.New("principal identifier cannot be empty")

// Principal is an opaque, already-authenticated caller identifier.
// Comparison is exact and case-sensitive.
type Principal string

// Parse trims surrounding whitespace and rejects blank identifiers
func Parse(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrEmptyPrincipal
	}
	return Principal(s), nil
}

// IsZero reports whether the principal is unset
func (p Principal) IsZero() bool {
	return strings.TrimSpace(string(p)) == ""
}

func (p Principal) String() string {
	return string(p)
}
