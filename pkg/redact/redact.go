// Package redact removes secret values from payload trees and HTTP
// headers before they reach logs or event payloads. Redaction is keyed
// on field names, not values: any key matching one of the secret-name
// patterns has its value replaced with the redaction placeholder.
// Input data is never mutated; callers always get a deep copy.
package redact

import (
	"regexp"
)

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

// secretKeyPatterns are matched case-insensitively against map keys.
// The set is fixed; tenant packs cannot widen or narrow it.
var secretKeyPatterns = []string{
	`password`,
	`passwd`,
	`secret`,
	`api[_-]?key`,
	`token`,
	`auth[_-]?token`,
	`access[_-]?token`,
	`refresh[_-]?token`,
	`credential`,
	`private[_-]?key`,
	`client[_-]?secret`,
	`bearer`,
	`authorization`,
	`x-api-key`,
	`x-auth-token`,
}

var secretKeyRegex = compileSecretKeyRegex()

func compileSecretKeyRegex() *regexp.Regexp {
	pattern := `(?i)(`
	for i, p := range secretKeyPatterns {
		if i > 0 {
			pattern += `|`
		}
		pattern += p
	}
	pattern += `)`
	return regexp.MustCompile(pattern)
}

// IsSecretKey reports whether a field name matches any secret pattern.
func IsSecretKey(key string) bool {
	return secretKeyRegex.MatchString(key)
}

// Map returns a deep copy of data with every value under a secret key
// replaced by the placeholder. Nested maps and lists are traversed;
// scalar values under non-secret keys are copied as-is.
func Map(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		if IsSecretKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = value(v)
	}
	return out
}

// value deep-copies a payload tree node, redacting nested maps.
func value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Map(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = value(item)
		}
		return out
	default:
		return v
	}
}

// Headers returns a copy of HTTP headers safe for logging. Secret-named
// headers keep their presence but lose their value, so operators can see
// that auth was attached without seeing the credential.
func Headers(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSecretKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = v
	}
	return out
}
