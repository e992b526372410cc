// Package security masks credentials before they reach logs.
package security

import (
	"net/http"
	"strings"
)

// MaskSecret keeps the first prefixLen characters of secret and replaces
// the rest with "...". Secrets no longer than prefixLen become "***".
//
//	MaskSecret("sk_test_abc123", 4) -> "sk_t..."
//	MaskSecret("short", 5)          -> "***"
func MaskSecret(secret string, prefixLen int) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= prefixLen {
		return "***"
	}
	return secret[:prefixLen] + "..."
}

// MaskAPIKey masks a provider API key or master key
func MaskAPIKey(key string) string {
	return MaskSecret(key, 4)
}

// MaskDatabaseURL hides the password of a connection string.
// Everything up to the last '@' of the authority counts as user info, so
// passwords containing '@' are masked whole.
//
//	postgres://meter:secret@db:5432/usage -> postgres://meter:***@db:5432/usage
func MaskDatabaseURL(dbURL string) string {
	schemeEnd := strings.Index(dbURL, "://")
	if schemeEnd == -1 {
		return dbURL
	}

	rest := dbURL[schemeEnd+3:]
	authority := rest
	if slash := strings.Index(rest, "/"); slash != -1 {
		authority = rest[:slash]
	}

	atIdx := strings.LastIndex(authority, "@")
	if atIdx == -1 {
		return dbURL
	}

	userInfo := authority[:atIdx]
	colonIdx := strings.Index(userInfo, ":")
	if colonIdx == -1 {
		return dbURL
	}

	return dbURL[:schemeEnd+3] + userInfo[:colonIdx] + ":***" + rest[atIdx:]
}

// sensitiveHeaders are masked by MaskSensitiveHeaders (canonical form)
var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"X-Api-Key":           true,
	"X-Goog-Api-Key":      true,
	"Cookie":              true,
}

// MaskSensitiveHeaders returns a copy of headers with credential headers masked.
// Other headers pass through unchanged.
func MaskSensitiveHeaders(headers http.Header) http.Header {
	masked := make(http.Header, len(headers))

	for key, values := range headers {
		if len(values) == 0 {
			continue
		}

		canonical := http.CanonicalHeaderKey(key)
		if !sensitiveHeaders[canonical] {
			masked[canonical] = append([]string(nil), values...)
			continue
		}

		value := values[0]
		switch {
		case canonical == "Cookie":
			masked.Set(canonical, "***cookie***")
		case strings.HasPrefix(value, "Bearer "):
			masked.Set(canonical, "Bearer "+MaskAPIKey(strings.TrimPrefix(value, "Bearer ")))
		default:
			masked.Set(canonical, MaskAPIKey(value))
		}
	}

	return masked
}
