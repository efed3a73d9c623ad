package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	credentialStore CredentialStore
	tokenManager    *TokenManager
	tokenEndpoint   TokenEndpoint
	authorizer      Authorizer
	querier         RecordQuerier
	projects        ProjectSource
	transactions    TransactionSource
	snapshotStore   SnapshotStore
	now             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

// WithTokenManager shares an existing manager, so record sources built
// around it refresh the same credential as the service.
func WithTokenManager(manager *TokenManager) Option {
	return func(b *serviceBuilder) {
		b.tokenManager = manager
	}
}

func WithTokenEndpoint(endpoint TokenEndpoint) Option {
	return func(b *serviceBuilder) {
		b.tokenEndpoint = endpoint
	}
}

func WithAuthorizer(authorizer Authorizer) Option {
	return func(b *serviceBuilder) {
		b.authorizer = authorizer
	}
}

func WithRecordQuerier(querier RecordQuerier) Option {
	return func(b *serviceBuilder) {
		b.querier = querier
	}
}

func WithProjectSource(source ProjectSource) Option {
	return func(b *serviceBuilder) {
		b.projects = source
	}
}

func WithTransactionSource(source TransactionSource) Option {
	return func(b *serviceBuilder) {
		b.transactions = source
	}
}

func WithSnapshotStore(store SnapshotStore) Option {
	return func(b *serviceBuilder) {
		b.snapshotStore = store
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("qbexport", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// StaticConfigLoader returns a loader that always yields a copy of values.
func StaticConfigLoader(values map[string]any) RawConfigLoader {
	return staticRawConfigLoader{Values: values}
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// ResolveConfig runs the provider then the resolver the same way NewService
// does, for callers that need the final config before building a service.
func ResolveConfig(ctx context.Context, runtime Config, provider ConfigProvider, resolver OptionsResolver) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setDuration := func(target map[string]any, key string, value time.Duration) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}
	setInt := func(target map[string]any, key string, value int) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}

	setString(layer, "service_name", cfg.ServiceName)

	oauth := map[string]any{}
	setString(oauth, "client_id", cfg.OAuth.ClientID)
	setString(oauth, "client_secret", cfg.OAuth.ClientSecret)
	setString(oauth, "redirect_uri", cfg.OAuth.RedirectURI)
	setString(oauth, "auth_url", cfg.OAuth.AuthURL)
	setString(oauth, "token_url", cfg.OAuth.TokenURL)
	if includeZero || len(cfg.OAuth.Scopes) > 0 {
		oauth["scopes"] = append([]string(nil), cfg.OAuth.Scopes...)
	}
	setDuration(oauth, "timeout", cfg.OAuth.Timeout)
	setDuration(oauth, "poll_interval", cfg.OAuth.PollInterval)
	if includeZero || cfg.OAuth.NoBrowser {
		oauth["no_browser"] = cfg.OAuth.NoBrowser
	}
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}

	api := map[string]any{}
	setString(api, "environment", cfg.API.Environment)
	setString(api, "base_url", cfg.API.BaseURL)
	setInt(api, "minor_version", cfg.API.MinorVersion)
	setInt(api, "page_size", cfg.API.PageSize)
	setDuration(api, "request_timeout", cfg.API.RequestTimeout)
	if len(api) > 0 {
		layer["api"] = api
	}

	storage := map[string]any{}
	setString(storage, "token_file", cfg.Storage.TokenFile)
	setString(storage, "snapshot_dsn", cfg.Storage.SnapshotDSN)
	setString(storage, "snapshot_dialect", cfg.Storage.SnapshotDialect)
	setString(storage, "token_key", cfg.Storage.TokenKey)
	if len(storage) > 0 {
		layer["storage"] = storage
	}

	export := map[string]any{}
	setString(export, "output_dir", cfg.Export.OutputDir)
	setString(export, "format", cfg.Export.Format)
	setString(export, "s3_bucket", cfg.Export.S3Bucket)
	setString(export, "s3_prefix", cfg.Export.S3Prefix)
	setString(export, "s3_endpoint", cfg.Export.S3Endpoint)
	setString(export, "s3_region", cfg.Export.S3Region)
	setString(export, "s3_access_key", cfg.Export.S3AccessKey)
	setString(export, "s3_secret_key", cfg.Export.S3SecretKey)
	if len(export) > 0 {
		layer["export"] = export
	}

	cache := map[string]any{}
	setDuration(cache, "project_ttl", cfg.Cache.ProjectTTL)
	if len(cache) > 0 {
		layer["cache"] = cache
	}

	metrics := map[string]any{}
	setString(metrics, "namespace", cfg.Metrics.Namespace)
	if len(metrics) > 0 {
		layer["metrics"] = metrics
	}
	return layer
}
