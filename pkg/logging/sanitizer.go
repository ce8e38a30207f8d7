// Package logging holds sanitizers applied to anything that leaves the
// process through a log line or a persisted error message.
package logging

import "regexp"

const (
	// MaxTranscriptLogLength caps transcript text in log output.
	MaxTranscriptLogLength = 80
	// RedactedText replaces credentials and secrets.
	RedactedText = "[REDACTED]"
)

// rewrite pairs a pattern with its redacted form.
type rewrite struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	passwordRewrite = rewrite{
		regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`),
		"${1}=" + RedactedText,
	}
	credentialURLRewrite = rewrite{
		regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`),
		"://" + RedactedText + "@" + RedactedText,
	}
	bearerRewrite = rewrite{
		regexp.MustCompile(`Bearer\s+[A-Za-z0-9-_]+\.[A-Za-z0-9-_]+\.[A-Za-z0-9-_]*`),
		"Bearer " + RedactedText,
	}
	apiKeyRewrite = rewrite{
		regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`),
		"${1}=" + RedactedText,
	}
)

func apply(s string, rewrites ...rewrite) string {
	for _, rw := range rewrites {
		s = rw.pattern.ReplaceAllString(s, rw.replacement)
	}
	return s
}

// SanitizeConnectionString strips passwords and inline credentials from a
// DSN before it reaches a log line.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return apply(connStr, passwordRewrite, credentialURLRewrite)
}

// SanitizeError scrubs provider error text. Provider errors can echo the
// request back, including auth headers and keys.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return apply(err.Error(), passwordRewrite, bearerRewrite, apiKeyRewrite, credentialURLRewrite)
}

// TruncateTranscript shortens transcript text for logging. Transcripts
// hold patient health information, so only a short prefix ever reaches
// logs.
func TruncateTranscript(s string) string {
	return TruncateString(s, MaxTranscriptLogLength)
}

// TruncateString cuts s at maxLen with an ellipsis marker.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
