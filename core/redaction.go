package core

import (
	"regexp"
	"strings"
)

const RedactedValue = "[REDACTED]"

// Keys containing any of these fragments carry secrets. "code" covers the
// OAuth authorization code.
var secretKeyFragments = []string{
	"password", "secret", "token", "authorization", "api_key", "apikey",
	"access_key", "refresh", "credential", "code",
}

// visibleKeys match a secret fragment but only ever hold identifiers.
var visibleKeys = map[string]struct{}{
	"realm_id":              {},
	"project_code":          {},
	"known_codes":           {},
	"project_id":            {},
	"status_code":           {},
	"text_code":             {},
	"error_text_code":       {},
	"idempotency_key":       {},
	"token_type":            {},
	"token_file":            {},
	"refresh_token_present": {},
	"request_id":            {},
	"intuit_tid":            {},
}

// Authorization header values that leak into error strings.
var credentialPattern = regexp.MustCompile(`(?i)\b(bearer|basic)\s+[A-Za-z0-9._~+/=-]+`)

// RedactToken keeps a short prefix of a secret so log lines can be correlated
// without exposing the value.
func RedactToken(token string) string {
	token = strings.TrimSpace(token)
	switch {
	case token == "":
		return ""
	case len(token) <= 8:
		return RedactedValue
	default:
		return token[:4] + "..." + RedactedValue
	}
}

// RedactSensitiveMap returns a copy of metadata with secret keys replaced and
// inline Bearer/Basic credentials masked, recursing into maps and slices.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if isSecretKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

// RedactCredentials masks Bearer and Basic credentials inside free text.
func RedactCredentials(text string) string {
	return credentialPattern.ReplaceAllString(text, "$1 "+RedactedValue)
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return RedactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = redactValue(item)
		}
		return out
	case string:
		return RedactCredentials(typed)
	default:
		return value
	}
}

func isSecretKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	if _, ok := visibleKeys[key]; ok {
		return false
	}
	for _, fragment := range secretKeyFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
