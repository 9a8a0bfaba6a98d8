package log

import (
	"strings"
)

// sensitiveKeywords mark field keys whose values must never be logged verbatim.
var sensitiveKeywords = []string{
	"password", "passwd",
	"api_key", "apikey", "api-key",
	"token", "secret",
	"authorization", "credential",
	"private_key",
}

// SanitizeField masks the value when the key names a secret.
func SanitizeField(key, value string) string {
	if value == "" {
		return value
	}

	lowerKey := strings.ToLower(key)
	// *_masked fields are already safe
	if strings.HasSuffix(lowerKey, "_masked") {
		return value
	}

	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return MaskSecret(value)
		}
	}

	return value
}

// MaskSecret keeps the first 4 and last 4 characters of long values and
// masks short ones almost entirely.
//
//	MaskSecret("sk-1234567890abcdef") == "sk-1***********cdef"
func MaskSecret(value string) string {
	switch {
	case len(value) <= 2:
		return strings.Repeat("*", len(value))
	case len(value) <= 8:
		return value[:1] + strings.Repeat("*", len(value)-2) + value[len(value)-1:]
	default:
		return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
	}
}
