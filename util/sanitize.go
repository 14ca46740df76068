package util

import (
	"regexp"
	"strings"
)

// MaxSanitizeLength bounds the input inspected by SanitizeString
const MaxSanitizeLength = 64 * 1024

// Redacted replaces secret values
const Redacted = "REDACTED"

var sensitivePatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)(password|passwd|pwd|token|secret|api[_-]?key)=[^\s&"]+`), "$1=" + Redacted},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`), "bearer " + Redacted},
	// Slack and Discord carry their credentials in the webhook path
	{regexp.MustCompile(`(hooks\.slack\.com/services|discord(?:app)?\.com/api/webhooks)/[^\s"]+`), "$1/" + Redacted},
	// Telegram bot API paths embed the bot token
	{regexp.MustCompile(`/bot[0-9]+:[A-Za-z0-9_\-]+`), "/bot" + Redacted},
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"token":         true,
	"bot_token":     true,
	"secret":        true,
	"api_key":       true,
	"authorization": true,
	"webhook_url":   true,
	"smtp_password": true,
}

// SanitizeError renders err with credentials removed
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString removes credentials from free text such as transport errors
// that echo request URLs
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) > MaxSanitizeLength {
		s = s[:MaxSanitizeLength] + "... [truncated]"
	}
	for _, p := range sensitivePatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}

// SanitizeMap returns a copy of a destination config with secret values
// replaced. Nested maps are sanitized recursively.
func SanitizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}

	result := make(map[string]interface{}, len(m))
	for k, v := range m {
		if sensitiveKeys[strings.ToLower(k)] {
			if s, ok := v.(string); ok && s == "" {
				result[k] = ""
				continue
			}
			result[k] = Redacted
			continue
		}
		switch nested := v.(type) {
		case map[string]interface{}:
			result[k] = SanitizeMap(nested)
		case string:
			result[k] = SanitizeString(nested)
		default:
			result[k] = v
		}
	}
	return result
}
