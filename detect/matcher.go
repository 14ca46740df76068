package detect

import "strings"

// FieldMessageType is the derived logger:message_key field. It is the only
// field compared with wildcard/list semantics.
const FieldMessageType = "message_type"

// MatchMessageType matches a message_type value against a pattern.
//
//	"Logger:*"      any value starting with "Logger:"
//	"Logger:a,b,c"  exactly "Logger:a", "Logger:b" or "Logger:c"
//	anything else   exact equality
func MatchMessageType(pattern, value string) bool {
	if strings.HasSuffix(pattern, ":*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}

	idx := strings.Index(pattern, ":")
	if idx < 0 || !strings.Contains(pattern[idx+1:], ",") {
		return pattern == value
	}

	prefix := pattern[:idx+1]
	for _, key := range strings.Split(pattern[idx+1:], ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if value == prefix+key {
			return true
		}
	}
	return false
}

// MatchAnyMessageType reports whether value matches any of the patterns
func MatchAnyMessageType(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if MatchMessageType(pattern, value) {
			return true
		}
	}
	return false
}
