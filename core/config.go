package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAuthURL        = "https://appcenter.intuit.com/connect/oauth2"
	DefaultTokenURL       = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	DefaultRedirectURI    = "http://localhost:8080/callback"
	DefaultScope          = "com.intuit.quickbooks.accounting"
	SandboxAPIBaseURL     = "https://sandbox-quickbooks.api.intuit.com"
	ProductionAPIBaseURL  = "https://quickbooks.api.intuit.com"
	DefaultMinorVersion   = 65
	MaxPageSize           = 1000
	DefaultTokenFile      = ".secrets/quickbooks_token.json"
	DefaultOutputDir      = "exports"
	DefaultAuthTimeout    = 300 * time.Second
	DefaultPollInterval   = 300 * time.Millisecond
	DefaultRequestTimeout = 30 * time.Second
)

type OAuthConfig struct {
	ClientID     string        `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret string        `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURI  string        `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Scopes       []string      `koanf:"scopes" mapstructure:"scopes"`
	AuthURL      string        `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL     string        `koanf:"token_url" mapstructure:"token_url"`
	Timeout      time.Duration `koanf:"timeout" mapstructure:"timeout"`
	PollInterval time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	NoBrowser    bool          `koanf:"no_browser" mapstructure:"no_browser"`
}

type APIConfig struct {
	Environment    string        `koanf:"environment" mapstructure:"environment"`
	BaseURL        string        `koanf:"base_url" mapstructure:"base_url"`
	MinorVersion   int           `koanf:"minor_version" mapstructure:"minor_version"`
	PageSize       int           `koanf:"page_size" mapstructure:"page_size"`
	RequestTimeout time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
}

// ResolvedBaseURL returns the explicit base url or the environment default.
func (c APIConfig) ResolvedBaseURL() string {
	if base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"); base != "" {
		return base
	}
	if Environment(strings.ToLower(strings.TrimSpace(c.Environment))) == EnvironmentProduction {
		return ProductionAPIBaseURL
	}
	return SandboxAPIBaseURL
}

// StorageConfig locates durable state. A non-empty TokenKey seals the
// credential file.
type StorageConfig struct {
	TokenFile       string `koanf:"token_file" mapstructure:"token_file"`
	SnapshotDSN     string `koanf:"snapshot_dsn" mapstructure:"snapshot_dsn"`
	SnapshotDialect string `koanf:"snapshot_dialect" mapstructure:"snapshot_dialect"`
	TokenKey        string `koanf:"token_key" mapstructure:"token_key"`
}

type ExportConfig struct {
	OutputDir   string `koanf:"output_dir" mapstructure:"output_dir"`
	Format      string `koanf:"format" mapstructure:"format"`
	S3Bucket    string `koanf:"s3_bucket" mapstructure:"s3_bucket"`
	S3Prefix    string `koanf:"s3_prefix" mapstructure:"s3_prefix"`
	S3Endpoint  string `koanf:"s3_endpoint" mapstructure:"s3_endpoint"`
	S3Region    string `koanf:"s3_region" mapstructure:"s3_region"`
	S3AccessKey string `koanf:"s3_access_key" mapstructure:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key" mapstructure:"s3_secret_key"`
}

type CacheConfig struct {
	ProjectTTL time.Duration `koanf:"project_ttl" mapstructure:"project_ttl"`
}

type MetricsConfig struct {
	Namespace string `koanf:"namespace" mapstructure:"namespace"`
}

type Config struct {
	ServiceName string        `koanf:"service_name" mapstructure:"service_name"`
	OAuth       OAuthConfig   `koanf:"oauth" mapstructure:"oauth"`
	API         APIConfig     `koanf:"api" mapstructure:"api"`
	Storage     StorageConfig `koanf:"storage" mapstructure:"storage"`
	Export      ExportConfig  `koanf:"export" mapstructure:"export"`
	Cache       CacheConfig   `koanf:"cache" mapstructure:"cache"`
	Metrics     MetricsConfig `koanf:"metrics" mapstructure:"metrics"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "qbexport",
		OAuth: OAuthConfig{
			RedirectURI:  DefaultRedirectURI,
			Scopes:       []string{DefaultScope},
			AuthURL:      DefaultAuthURL,
			TokenURL:     DefaultTokenURL,
			Timeout:      DefaultAuthTimeout,
			PollInterval: DefaultPollInterval,
		},
		API: APIConfig{
			Environment:    string(EnvironmentSandbox),
			MinorVersion:   DefaultMinorVersion,
			PageSize:       MaxPageSize,
			RequestTimeout: DefaultRequestTimeout,
		},
		Storage: StorageConfig{
			TokenFile:       DefaultTokenFile,
			SnapshotDialect: "sqlite",
		},
		Export: ExportConfig{
			OutputDir: DefaultOutputDir,
			Format:    "json",
			S3Region:  "us-east-1",
		},
		Cache: CacheConfig{
			ProjectTTL: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Namespace: "qbexport",
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if redirect := strings.TrimSpace(c.OAuth.RedirectURI); redirect != "" {
		parsed, err := url.Parse(redirect)
		if err != nil {
			return fmt.Errorf("core: oauth.redirect_uri is invalid: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("core: oauth.redirect_uri scheme must be http or https")
		}
	}
	if c.OAuth.Timeout < 0 || c.OAuth.PollInterval < 0 {
		return fmt.Errorf("core: oauth timeout and poll_interval must not be negative")
	}
	if env := strings.TrimSpace(c.API.Environment); env != "" && !Environment(strings.ToLower(env)).Valid() {
		return fmt.Errorf("core: api.environment %q is invalid, expected sandbox or production", env)
	}
	if c.API.PageSize < 0 || c.API.PageSize > MaxPageSize {
		return fmt.Errorf("core: api.page_size must be between 1 and %d", MaxPageSize)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.SnapshotDialect)) {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: storage.snapshot_dialect %q is invalid", c.Storage.SnapshotDialect)
	}
	switch strings.ToLower(strings.TrimSpace(c.Export.Format)) {
	case "", "json", "csv":
	default:
		return fmt.Errorf("core: export.format %q is invalid", c.Export.Format)
	}
	return nil
}

// RequireClientCredentials is checked lazily so commands that never reach
// the token endpoint do not need secrets configured.
func (c Config) RequireClientCredentials() error {
	if strings.TrimSpace(c.OAuth.ClientID) == "" || strings.TrimSpace(c.OAuth.ClientSecret) == "" {
		return fmt.Errorf("core: oauth client_id and client_secret are required (set QUICKBOOKS_CLIENT_ID and QUICKBOOKS_CLIENT_SECRET)")
	}
	return nil
}
