package qbexport

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"

	"github.com/goliatone/go-qbexport/adapters/gocommand"
	"github.com/goliatone/go-qbexport/adapters/gojob"
	"github.com/goliatone/go-qbexport/adapters/gologger"
	"github.com/goliatone/go-qbexport/adapters/prommetrics"
	"github.com/goliatone/go-qbexport/auth"
	"github.com/goliatone/go-qbexport/core"
	"github.com/goliatone/go-qbexport/export"
	"github.com/goliatone/go-qbexport/pagination"
	"github.com/goliatone/go-qbexport/providers"
	"github.com/goliatone/go-qbexport/providers/quickbooks"
	"github.com/goliatone/go-qbexport/ratelimit"
	"github.com/goliatone/go-qbexport/security"
	"github.com/goliatone/go-qbexport/store/cache"
	"github.com/goliatone/go-qbexport/store/file"
	sqlstore "github.com/goliatone/go-qbexport/store/sql"
	"github.com/goliatone/go-qbexport/transport"
)

// RuntimeOptions controls how Build assembles the export pipeline. Runtime
// values override the config file, which overrides the environment.
type RuntimeOptions struct {
	ConfigFile     string
	Runtime        Config
	LookupEnv      func(key string) (string, bool)
	Logger         core.Logger
	LoggerProvider core.LoggerProvider
	Output         io.Writer
	Opener         auth.BrowserOpener
	HTTPClient     providers.HTTPDoer
	Now            func() time.Time
	// RetryPolicy bounds batch job retries; zero uses gojob.DefaultRetryPolicy.
	RetryPolicy gojob.RetryPolicy
	RetryDelay  time.Duration
	// Bus subscribes the command and query handlers on the go-command
	// dispatcher.
	Bus bool
}

// Runtime is the composed pipeline. Close releases the snapshot database
// and dispatcher subscriptions.
type Runtime struct {
	Config    Config
	Service   *Service
	Facade    *Facade
	Writer    *export.Writer
	Metrics   *prommetrics.Recorder
	Projects  *cache.ProjectSource
	Snapshots *sqlstore.SnapshotStore
	Jobs      *core.JobRunner
	Queue     *gojob.MemoryQueue
	Enqueuer  *gojob.EnqueuerAdapter
	Dequeuer  *gojob.DequeuerAdapter
	Bus       *gocommand.Bus

	persistence *persistence.Client
}

// LoadConfig resolves defaults, environment, the optional YAML file and
// runtime overrides, in that order of precedence.
func LoadConfig(ctx context.Context, opts RuntimeOptions) (Config, error) {
	loader := core.MergedConfigLoader{
		core.EnvConfigLoader{Lookup: opts.LookupEnv},
		core.YAMLFileLoader{Path: opts.ConfigFile},
	}
	return core.ResolveConfig(ctx, opts.Runtime, core.NewCfgxConfigProvider(loader), core.GoOptionsResolver{})
}

func Build(ctx context.Context, opts RuntimeOptions) (_ *Runtime, err error) {
	cfg, err := LoadConfig(ctx, opts)
	if err != nil {
		return nil, err
	}

	loggers := gologger.NewComponents(opts.LoggerProvider, opts.Logger)
	logger := loggers.Root()
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	qbCfg := quickbooks.ConfigFromCore(cfg)
	qbCfg.HTTPClient = opts.HTTPClient
	endpoint, err := quickbooks.New(qbCfg)
	if err != nil {
		return nil, err
	}

	storeOpts := []file.Option{}
	if key := strings.TrimSpace(cfg.Storage.TokenKey); key != "" {
		codec, codecErr := security.NewSealedCodec(key)
		if codecErr != nil {
			return nil, codecErr
		}
		storeOpts = append(storeOpts, file.WithCodec(codec))
	}
	credentials, err := file.NewCredentialStore(cfg.Storage.TokenFile, storeOpts...)
	if err != nil {
		return nil, err
	}
	tokens, err := core.NewTokenManager(core.TokenManagerConfig{
		Endpoint:    endpoint,
		Store:       credentials,
		RedirectURI: cfg.OAuth.RedirectURI,
		Logger:      loggers.For(gologger.ComponentTokens),
		Now:         opts.Now,
	})
	if err != nil {
		return nil, err
	}

	client, err := transport.NewQuickBooksClient(transport.QuickBooksClientConfig{
		BaseURL:        cfg.API.ResolvedBaseURL(),
		MinorVersion:   cfg.API.MinorVersion,
		RequestTimeout: cfg.API.RequestTimeout,
		HTTPClient:     opts.HTTPClient,
		Throttle:       ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
	})
	if err != nil {
		return nil, err
	}
	fetcher, err := pagination.New(pagination.Config{
		Querier:  client,
		Tokens:   tokens,
		PageSize: cfg.API.PageSize,
		Logger:   loggers.For(gologger.ComponentPagination),
	})
	if err != nil {
		return nil, err
	}

	cacheService, err := cache.NewCacheService(cfg.Cache)
	if err != nil {
		return nil, err
	}
	projects, err := cache.NewProjectSource(fetcher, cacheService, func(ctx context.Context) (string, error) {
		record, err := tokens.Current(ctx)
		if err != nil {
			return "", err
		}
		return record.RealmID, nil
	})
	if err != nil {
		return nil, err
	}

	opener := opts.Opener
	if opener == nil && !cfg.OAuth.NoBrowser {
		opener = auth.SystemBrowser{}
	}
	coordinator, err := auth.NewCoordinator(auth.CoordinatorConfig{
		Consent:      endpoint,
		RedirectURI:  cfg.OAuth.RedirectURI,
		PollInterval: cfg.OAuth.PollInterval,
		Timeout:      cfg.OAuth.Timeout,
		Opener:       opener,
		Output:       output,
		Logger:       loggers.For(gologger.ComponentAuth),
	})
	if err != nil {
		return nil, err
	}

	rt := &Runtime{Config: cfg, Projects: projects}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if dsn := strings.TrimSpace(cfg.Storage.SnapshotDSN); dsn != "" {
		rt.persistence, err = sqlstore.Open(ctx, cfg.Storage.SnapshotDialect, dsn)
		if err != nil {
			return nil, err
		}
		factory, factoryErr := sqlstore.NewRepositoryFactoryFromPersistence(rt.persistence)
		if factoryErr != nil {
			err = factoryErr
			return nil, err
		}
		rt.Snapshots = factory.SnapshotStore()
	}

	rt.Metrics = prommetrics.NewRecorder(cfg.Metrics.Namespace)

	writerCfg := export.WriterConfig{
		OutputDir: cfg.Export.OutputDir,
		Format:    cfg.Export.Format,
		Logger:    loggers.For(gologger.ComponentExport),
		Now:       opts.Now,
	}
	uploader, err := export.NewS3Uploader(cfg.Export)
	if err != nil {
		return nil, err
	}
	if uploader != nil {
		writerCfg.Uploader = uploader
	}
	rt.Writer, err = export.NewWriter(writerCfg)
	if err != nil {
		return nil, err
	}

	serviceOpts := []Option{
		WithLogger(logger),
		WithLoggerProvider(loggers.Provider()),
		WithMetricsRecorder(rt.Metrics),
		WithTokenManager(tokens),
		WithAuthorizer(coordinator),
		WithRecordQuerier(client),
		WithProjectSource(projects),
		WithTransactionSource(fetcher),
		WithClock(opts.Now),
	}
	if rt.Snapshots != nil {
		serviceOpts = append(serviceOpts, WithSnapshotStore(rt.Snapshots))
	}
	rt.Service, err = NewService(cfg, serviceOpts...)
	if err != nil {
		return nil, err
	}

	rt.Facade, err = NewFacade(rt.Service, WithReportSink(rt.Writer))
	if err != nil {
		return nil, err
	}
	jobOpts := []core.JobRunnerOption{
		core.WithReportSink(rt.Writer),
		core.WithJobWorkerHook(gojob.NewLoggingHook(loggers.For(gologger.ComponentJobs))),
	}
	if opts.RetryDelay > 0 {
		jobOpts = append(jobOpts, core.WithJobRetryDelay(opts.RetryDelay))
	}
	rt.Jobs, err = core.NewJobRunner(rt.Service, jobOpts...)
	if err != nil {
		return nil, err
	}
	policy := opts.RetryPolicy
	if policy == (gojob.RetryPolicy{}) {
		policy = gojob.DefaultRetryPolicy()
	}
	rt.Queue = gojob.NewMemoryQueue()
	rt.Enqueuer = gojob.NewEnqueuerAdapter(rt.Queue)
	rt.Dequeuer = gojob.NewDequeuerAdapter(rt.Queue, policy)
	if opts.Bus {
		rt.Bus, err = gocommand.NewBus(gocommand.BusConfig{Service: rt.Service, Sink: rt.Writer})
		if err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// BatchResult summarises a RunBatch call.
type BatchResult struct {
	Queued      int
	Completed   int
	DeadLetters []gojob.DeadLetter
}

// RunBatch queues one export job per request and runs them to completion.
// Failing jobs are retried per the runtime's retry policy; auth failures are
// dead-lettered straight away.
func (r *Runtime) RunBatch(ctx context.Context, reqs []core.ReportRequest) (BatchResult, error) {
	result := BatchResult{}
	if r == nil || r.Jobs == nil || r.Queue == nil {
		return result, fmt.Errorf("qbexport: runtime is not built")
	}
	for _, req := range reqs {
		if _, err := r.Enqueuer.EnqueueExport(ctx, req); err != nil {
			return result, err
		}
		result.Queued++
	}
	completedBefore, deadBefore := r.Queue.Completed(), len(r.Queue.DeadLetters())
	err := gojob.Drain(ctx, r.Queue, r.Jobs, r.Dequeuer)
	result.Completed = r.Queue.Completed() - completedBefore
	result.DeadLetters = r.Queue.DeadLetters()[deadBefore:]
	return result, err
}

func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.Bus != nil {
		r.Bus.Close()
		r.Bus = nil
	}
	if r.persistence != nil {
		err := r.persistence.Close()
		r.persistence = nil
		if err != nil {
			return fmt.Errorf("qbexport: close snapshot store: %w", err)
		}
	}
	return nil
}
