package observability

import (
	"strings"
	"unicode"
)

// sanitizeString strips control characters and caps length so caller-supplied
// values cannot inject structure into log lines.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute bounds route patterns before they reach logs or span names.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeMethod bounds HTTP method strings.
func SanitizeMethod(method string) string {
	return sanitizeString(method, 10)
}

// SanitizeCallerID limits caller identifiers (staff subjects, internal
// service accounts) to reduce PII leakage in logs. Guest tracking tokens must
// never be logged at all, so there is deliberately no helper for them.
func SanitizeCallerID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, 64)
}
