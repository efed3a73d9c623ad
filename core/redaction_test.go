package core

import "testing"

func TestRedactSensitiveMapPreservesTraceabilityMetadata(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"realm_id":      "realm_1",
		"project_code":  "P-100",
		"access_token":  "secret-token",
		"client_secret": "shh",
		"code":          "auth-code",
		"nested":        map[string]any{"refresh_token": "refresh", "realm_id": "realm_nested"},
		"events":        []any{map[string]any{"authorization": "Basic abc"}, map[string]any{"entity": "Project"}},
	})

	if redacted["realm_id"] != "realm_1" || redacted["project_code"] != "P-100" {
		t.Fatalf("expected traceability keys visible, got %#v", redacted)
	}
	for _, key := range []string{"access_token", "client_secret", "code"} {
		if redacted[key] != RedactedValue {
			t.Fatalf("expected %s redacted, got %#v", key, redacted[key])
		}
	}
	nested, ok := redacted["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested redacted map")
	}
	if nested["refresh_token"] != RedactedValue || nested["realm_id"] != "realm_nested" {
		t.Fatalf("unexpected nested redaction: %#v", nested)
	}
	events := redacted["events"].([]any)
	if events[0].(map[string]any)["authorization"] != RedactedValue {
		t.Fatalf("expected authorization inside list redacted")
	}
}

func TestRedactToken(t *testing.T) {
	if got := RedactToken(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := RedactToken("short"); got != RedactedValue {
		t.Fatalf("expected short token fully redacted, got %q", got)
	}
	if got := RedactToken("eyJhbGciOiJSUzI1NiJ9.payload"); got != "eyJh..."+RedactedValue {
		t.Fatalf("unexpected prefix redaction %q", got)
	}
}

func TestRedactSensitiveMapMasksInlineCredentials(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"error":       "request failed: Authorization: Bearer eyJabc.def-ghi rejected",
		"known_codes": []any{"P-1", "P-2"},
		"intuit_tid":  "tid-1",
	})
	if got := redacted["error"]; got != "request failed: Authorization: Bearer "+RedactedValue+" rejected" {
		t.Fatalf("expected bearer masked, got %q", got)
	}
	codes := redacted["known_codes"].([]any)
	if codes[0] != "P-1" || redacted["intuit_tid"] != "tid-1" {
		t.Fatalf("expected identifiers kept, got %#v", redacted)
	}
}
