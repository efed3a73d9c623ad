package qbexport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-qbexport/core"
)

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestLoadConfig_PrecedenceEnvFileRuntime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qbexport.yaml")
	contents := "api:\n  environment: production\nexport:\n  format: csv\n  output_dir: from-file\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(context.Background(), RuntimeOptions{
		ConfigFile: path,
		LookupEnv: envLookup(map[string]string{
			"QUICKBOOKS_CLIENT_ID":   "client",
			"QUICKBOOKS_ENVIRONMENT": "sandbox",
			"QBEXPORT_OUTPUT_DIR":    "from-env",
		}),
		Runtime: Config{Export: DefaultConfig().Export},
	})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.OAuth.ClientID != "client" {
		t.Fatalf("expected client id from env, got %q", cfg.OAuth.ClientID)
	}
	if cfg.API.Environment != "production" {
		t.Fatalf("expected file to override env, got %q", cfg.API.Environment)
	}
	if cfg.Export.OutputDir != "exports" || cfg.Export.Format != "json" {
		t.Fatalf("expected runtime export settings to win, got %+v", cfg.Export)
	}
}

func TestBuild_RequiresClientCredentials(t *testing.T) {
	_, err := Build(context.Background(), RuntimeOptions{
		LookupEnv: envLookup(map[string]string{}),
		Runtime:   Config{Storage: core.StorageConfig{TokenFile: filepath.Join(t.TempDir(), "tokens.json")}},
	})
	if err == nil {
		t.Fatalf("expected missing client credentials to fail")
	}
}

func TestBuild_ComposesPipelineWithSnapshots(t *testing.T) {
	dir := t.TempDir()
	dsn := fmt.Sprintf("file:qbexport-runtime-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())

	rt, err := Build(context.Background(), RuntimeOptions{
		LookupEnv: envLookup(map[string]string{
			"QUICKBOOKS_CLIENT_ID":      "client",
			"QUICKBOOKS_CLIENT_SECRET":  "secret",
			"QUICKBOOKS_TOKEN_FILE":     filepath.Join(dir, "tokens.json"),
			"QBEXPORT_OUTPUT_DIR":       filepath.Join(dir, "exports"),
			"QBEXPORT_SNAPSHOT_DSN":     dsn,
			"QBEXPORT_SNAPSHOT_DIALECT": "sqlite",
		}),
		Output: os.Stderr,
		Bus:    true,
	})
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	if rt.Service == nil || rt.Facade == nil || rt.Jobs == nil || rt.Writer == nil {
		t.Fatalf("expected service pipeline to be composed: %+v", rt)
	}
	if rt.Snapshots == nil {
		t.Fatalf("expected snapshot store when a dsn is configured")
	}
	if rt.Bus == nil {
		t.Fatalf("expected dispatcher bus")
	}
	if rt.Writer.Dir() != filepath.Join(dir, "exports") {
		t.Fatalf("unexpected writer dir %q", rt.Writer.Dir())
	}
	deps := rt.Service.Dependencies()
	if deps.MetricsRecorder != rt.Metrics {
		t.Fatalf("expected prometheus recorder wired into the service")
	}

	_, err = rt.Service.Credential(context.Background())
	if err == nil {
		t.Fatalf("expected no credential before authentication")
	}
}

func TestRunBatch_DeadLettersWithoutCredentials(t *testing.T) {
	dir := t.TempDir()
	rt, err := Build(context.Background(), RuntimeOptions{
		LookupEnv: envLookup(map[string]string{
			"QUICKBOOKS_CLIENT_ID":     "client",
			"QUICKBOOKS_CLIENT_SECRET": "secret",
			"QUICKBOOKS_TOKEN_FILE":    filepath.Join(dir, "tokens.json"),
			"QBEXPORT_OUTPUT_DIR":      filepath.Join(dir, "exports"),
		}),
		Output: os.Stderr,
	})
	if err != nil {
		t.Fatalf("build runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	result, err := rt.RunBatch(context.Background(), []core.ReportRequest{{ProjectCode: "P-1"}, {ProjectCode: "P-2"}})
	if err != nil {
		t.Fatalf("run batch: %v", err)
	}
	if result.Queued != 2 || result.Completed != 0 {
		t.Fatalf("unexpected batch result %+v", result)
	}
	if len(result.DeadLetters) != 2 {
		t.Fatalf("expected auth failures dead-lettered without retry, got %+v", result.DeadLetters)
	}
	if rt.Queue.Len() != 0 {
		t.Fatalf("expected queue drained")
	}
}
