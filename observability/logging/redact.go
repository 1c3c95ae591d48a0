package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces the value of sensitive attributes.
const RedactedValue = "[REDACTED]"

// sensitiveMarkers flag attribute keys whose values never reach a log line.
// Borrower profiles are only ever stored as digests.
var sensitiveMarkers = []string{"secret", "token", "password", "authorization", "profile"}

// Sensitive reports whether values logged under key are masked.
func Sensitive(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "profile_id" || key == "profile_digest" {
		return false
	}
	for _, marker := range sensitiveMarkers {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

func redact(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !Sensitive(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && strings.TrimSpace(attr.Value.String()) == "" {
		return attr
	}
	return slog.String(attr.Key, RedactedValue)
}
