package protocol

import (
	"errors"
	"strings"
)

const HashLen = 40

var ErrInvalidHash = errors.New("invalid site hash")

// Sanitize drops every non-hex character and lowercases the rest.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f':
			b.WriteByte(c)
		case c >= 'A' && c <= 'F':
			b.WriteByte(c + ('a' - 'A'))
		}
	}
	return b.String()
}

func IsValidHash(s string) bool {
	if len(s) != HashLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// ParseHash returns the canonical lowercase form of s.
func ParseHash(s string) (string, error) {
	h := Sanitize(s)
	if !IsValidHash(h) {
		return "", ErrInvalidHash
	}
	return h, nil
}
