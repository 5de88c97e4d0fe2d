// Package validation provides shared validation utilities for sender implementations.
package validation

import (
	"net/mail"
	"strings"
)

// IsValidURL checks if a string is a valid HTTP/HTTPS URL.
func IsValidURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// IsValidEmail reports whether s is a bare RFC 5322 address (no display name)
// with a dotted domain.
func IsValidEmail(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Name != "" || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	domain := s[at+1:]
	return strings.Contains(domain, ".") && !strings.HasSuffix(domain, ".")
}

// IsValidChatUsername reports whether s looks like a chat handle: 5-32
// characters of letters, digits and underscores, optionally prefixed with @.
func IsValidChatUsername(s string) bool {
	s = strings.TrimPrefix(s, "@")
	if len(s) < 5 || len(s) > 32 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return false
		}
	}
	return true
}
