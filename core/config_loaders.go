package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigLoader maps the process environment onto the raw config tree.
type EnvConfigLoader struct {
	// Lookup defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

var envBindings = []struct {
	env  string
	path []string
}{
	{"QUICKBOOKS_CLIENT_ID", []string{"oauth", "client_id"}},
	{"QUICKBOOKS_CLIENT_SECRET", []string{"oauth", "client_secret"}},
	{"QUICKBOOKS_REDIRECT_URI", []string{"oauth", "redirect_uri"}},
	{"QUICKBOOKS_ENVIRONMENT", []string{"api", "environment"}},
	{"QUICKBOOKS_API_BASE_URL", []string{"api", "base_url"}},
	{"QUICKBOOKS_TOKEN_FILE", []string{"storage", "token_file"}},
	{"QBEXPORT_TOKEN_KEY", []string{"storage", "token_key"}},
	{"QBEXPORT_SNAPSHOT_DSN", []string{"storage", "snapshot_dsn"}},
	{"QBEXPORT_SNAPSHOT_DIALECT", []string{"storage", "snapshot_dialect"}},
	{"QBEXPORT_OUTPUT_DIR", []string{"export", "output_dir"}},
	{"QBEXPORT_FORMAT", []string{"export", "format"}},
	{"QBEXPORT_S3_BUCKET", []string{"export", "s3_bucket"}},
	{"QBEXPORT_S3_PREFIX", []string{"export", "s3_prefix"}},
	{"QBEXPORT_S3_ENDPOINT", []string{"export", "s3_endpoint"}},
	{"QBEXPORT_S3_REGION", []string{"export", "s3_region"}},
	{"QBEXPORT_S3_ACCESS_KEY", []string{"export", "s3_access_key"}},
	{"QBEXPORT_S3_SECRET_KEY", []string{"export", "s3_secret_key"}},
}

func (l EnvConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	raw := map[string]any{}
	for _, binding := range envBindings {
		value, ok := lookup(binding.env)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		setPath(raw, binding.path, strings.TrimSpace(value))
	}
	if value, ok := lookup("QBEXPORT_AUTH_TIMEOUT"); ok && strings.TrimSpace(value) != "" {
		timeout, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("core: QBEXPORT_AUTH_TIMEOUT is invalid: %w", err)
		}
		setPath(raw, []string{"oauth", "timeout"}, timeout)
	}
	return raw, nil
}

// YAMLFileLoader reads an optional YAML config file. A missing file yields an
// empty tree.
type YAMLFileLoader struct {
	Path string
}

var durationKeys = map[string]struct{}{
	"timeout":         {},
	"poll_interval":   {},
	"request_timeout": {},
	"project_ttl":     {},
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file %q: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config file %q: %w", path, err)
	}
	if err := normalizeDurations(raw); err != nil {
		return nil, fmt.Errorf("core: config file %q: %w", path, err)
	}
	return raw, nil
}

// MergedConfigLoader deep-merges loaders in order; later loaders win.
type MergedConfigLoader []RawConfigLoader

func (m MergedConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	for _, loader := range m {
		if loader == nil {
			continue
		}
		raw, err := loader.LoadRaw(ctx)
		if err != nil {
			return nil, err
		}
		mergeRaw(out, raw)
	}
	return out, nil
}

func setPath(target map[string]any, path []string, value any) {
	current := target
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

func mergeRaw(target map[string]any, source map[string]any) {
	for key, value := range source {
		sourceMap, sourceIsMap := value.(map[string]any)
		targetMap, targetIsMap := target[key].(map[string]any)
		if sourceIsMap && targetIsMap {
			mergeRaw(targetMap, sourceMap)
			continue
		}
		if sourceIsMap {
			copied := map[string]any{}
			mergeRaw(copied, sourceMap)
			target[key] = copied
			continue
		}
		target[key] = value
	}
}

func normalizeDurations(raw map[string]any) error {
	for key, value := range raw {
		switch typed := value.(type) {
		case map[string]any:
			if err := normalizeDurations(typed); err != nil {
				return err
			}
		case string:
			if _, ok := durationKeys[key]; !ok {
				continue
			}
			parsed, err := time.ParseDuration(strings.TrimSpace(typed))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			raw[key] = parsed
		}
	}
	return nil
}
