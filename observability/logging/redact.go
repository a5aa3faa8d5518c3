package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive request fields in log lines.
const RedactedValue = "[REDACTED]"

// Keys the gateway may log verbatim. Borrower and owner addresses are public
// chain identifiers, so they stay readable; anything else request-derived is
// masked.
var allowlisted = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"module":    {},
	"route":     {},
	"method":    {},
	"status":    {},
	"asset":     {},
	"borrower":  {},
	"owner":     {},
}

// MaskField returns a slog.Attr carrying the value verbatim when the key is
// allowlisted or the value is empty, and RedactedValue otherwise. Key casing
// is preserved.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	if _, ok := allowlisted[strings.ToLower(strings.TrimSpace(key))]; ok {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
