package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvConfigLoader_MapsBindings(t *testing.T) {
	env := map[string]string{
		"QUICKBOOKS_CLIENT_ID":   "cid",
		"QUICKBOOKS_ENVIRONMENT": "production",
		"QUICKBOOKS_TOKEN_FILE":  "/tmp/token.json",
		"QBEXPORT_AUTH_TIMEOUT":  "45s",
		"QBEXPORT_OUTPUT_DIR":    " ",
	}
	loader := EnvConfigLoader{Lookup: func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}}
	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	oauth := raw["oauth"].(map[string]any)
	if oauth["client_id"] != "cid" || oauth["timeout"] != 45*time.Second {
		t.Fatalf("unexpected oauth section: %#v", oauth)
	}
	if raw["api"].(map[string]any)["environment"] != "production" {
		t.Fatalf("unexpected api section: %#v", raw["api"])
	}
	if _, ok := raw["export"]; ok {
		t.Fatalf("expected blank values skipped")
	}
}

func TestEnvConfigLoader_RejectsBadDuration(t *testing.T) {
	loader := EnvConfigLoader{Lookup: func(key string) (string, bool) {
		if key == "QBEXPORT_AUTH_TIMEOUT" {
			return "soon", true
		}
		return "", false
	}}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestYAMLFileLoader_ParsesAndNormalizesDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qbexport.yaml")
	content := "oauth:\n  client_id: yaml-client\n  poll_interval: 150ms\ncache:\n  project_ttl: 1m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := YAMLFileLoader{Path: path}.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	oauth := raw["oauth"].(map[string]any)
	if oauth["client_id"] != "yaml-client" || oauth["poll_interval"] != 150*time.Millisecond {
		t.Fatalf("unexpected oauth section: %#v", oauth)
	}
	if raw["cache"].(map[string]any)["project_ttl"] != time.Minute {
		t.Fatalf("unexpected cache section: %#v", raw["cache"])
	}
}

func TestYAMLFileLoader_MissingFileIsEmpty(t *testing.T) {
	raw, err := YAMLFileLoader{Path: filepath.Join(t.TempDir(), "absent.yaml")}.LoadRaw(context.Background())
	if err != nil || len(raw) != 0 {
		t.Fatalf("expected empty tree, got %#v %v", raw, err)
	}
}

func TestMergedConfigLoader_LaterLoadersWin(t *testing.T) {
	merged := MergedConfigLoader{
		StaticConfigLoader(map[string]any{"oauth": map[string]any{"client_id": "file", "client_secret": "file-secret"}}),
		StaticConfigLoader(map[string]any{"oauth": map[string]any{"client_id": "env"}}),
	}
	raw, err := merged.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	oauth := raw["oauth"].(map[string]any)
	if oauth["client_id"] != "env" || oauth["client_secret"] != "file-secret" {
		t.Fatalf("unexpected merge result: %#v", oauth)
	}
}
