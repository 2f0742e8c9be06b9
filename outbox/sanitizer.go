package outbox

import (
	"regexp"
	"strings"
)

// Error messages are persisted in the store's error_message column, so they
// are redacted and bounded before storage.
const (
	maxErrorLength       = 512
	errorTruncatedSuffix = "... (truncated)"
	redactedValue        = "[REDACTED]"
)

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

var redactionRules = []redactionRule{
	{
		pattern:     regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`),
		replacement: `$1:` + redactedValue + `@`,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*`),
		replacement: "Bearer " + redactedValue,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(password|secret|api[-_ ]?key|access[-_ ]?token)\s*[:=]\s*([^\s,;]+)`),
		replacement: `$1=` + redactedValue,
	},
}

func sanitizeErrorForStorage(err error) string {
	if err == nil {
		return ""
	}

	return SanitizeErrorMessage(err.Error())
}

// SanitizeErrorMessage redacts credential-shaped substrings and enforces a
// bounded length.
func SanitizeErrorMessage(msg string) string {
	redacted := strings.TrimSpace(msg)
	for _, rule := range redactionRules {
		redacted = rule.pattern.ReplaceAllString(redacted, rule.replacement)
	}

	runes := []rune(redacted)
	if len(runes) <= maxErrorLength {
		return redacted
	}

	suffix := []rune(errorTruncatedSuffix)

	return string(runes[:maxErrorLength-len(suffix)]) + errorTruncatedSuffix
}
