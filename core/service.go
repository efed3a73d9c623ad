package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

var (
	ErrAuthorizerNotConfigured = errors.New("core: authorizer is not configured")
	ErrSourceNotConfigured     = errors.New("core: record source is not configured")
)

type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	tokens          *TokenManager
	authorizer      Authorizer
	querier         RecordQuerier
	projects        ProjectSource
	transactions    TransactionSource
	snapshotStore   SnapshotStore
	now             func() time.Time
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	TokenManager    *TokenManager
	Authorizer      Authorizer
	RecordQuerier   RecordQuerier
	ProjectSource   ProjectSource
	TransactionSrc  TransactionSource
	SnapshotStore   SnapshotStore
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("qbexport", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("qbexport"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.now == nil {
		builder.now = func() time.Time {
			return time.Now().UTC()
		}
	}

	finalConfig, err := ResolveConfig(context.Background(), builder.runtimeConfig, builder.configProvider, builder.optionsResolver)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	tokens := builder.tokenManager
	if tokens == nil {
		if builder.tokenEndpoint == nil || builder.credentialStore == nil {
			return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: token endpoint and credential store are required"))
		}
		tokens, err = NewTokenManager(TokenManagerConfig{
			Endpoint:    builder.tokenEndpoint,
			Store:       builder.credentialStore,
			RedirectURI: finalConfig.OAuth.RedirectURI,
			Logger:      logger,
			Now:         builder.now,
		})
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		tokens:          tokens,
		authorizer:      builder.authorizer,
		querier:         builder.querier,
		projects:        builder.projects,
		transactions:    builder.transactions,
		snapshotStore:   builder.snapshotStore,
		now:             builder.now,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) TokenManager() *TokenManager {
	if s == nil {
		return nil
	}
	return s.tokens
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		TokenManager:    s.tokens,
		Authorizer:      s.authorizer,
		RecordQuerier:   s.querier,
		ProjectSource:   s.projects,
		TransactionSrc:  s.transactions,
		SnapshotStore:   s.snapshotStore,
	}
}

// MapError converts err with the configured mapper. Service methods return
// typed errors; the command, query and CLI surfaces call this at the edge.
func (s *Service) MapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

// Authenticate runs the consent flow and persists the exchanged credential.
// A non-positive timeout uses oauth.timeout.
func (s *Service) Authenticate(ctx context.Context, timeout time.Duration) (record CredentialRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["realm_id"] = record.RealmID
		s.observeOperation(ctx, startedAt, "authenticate", err, fields)
	}()

	if s == nil || s.authorizer == nil {
		return CredentialRecord{}, ErrAuthorizerNotConfigured
	}
	if timeout <= 0 {
		timeout = s.config.OAuth.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}
	fields["timeout"] = timeout.String()

	grant, err := s.authorizer.Authorize(ctx, timeout)
	if err != nil {
		return CredentialRecord{}, err
	}
	return s.tokens.Exchange(ctx, grant)
}

func (s *Service) RefreshCredential(ctx context.Context) (record CredentialRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["realm_id"] = record.RealmID
		s.observeOperation(ctx, startedAt, "refresh_credential", err, fields)
	}()
	if s == nil || s.tokens == nil {
		return CredentialRecord{}, fmt.Errorf("core: token manager is required")
	}
	return s.tokens.Refresh(ctx)
}

// Credential returns the persisted credential without touching the network.
func (s *Service) Credential(ctx context.Context) (CredentialRecord, error) {
	if s == nil || s.tokens == nil {
		return CredentialRecord{}, fmt.Errorf("core: token manager is required")
	}
	return s.tokens.Current(ctx)
}

// TestConnection fetches the company profile, refreshing once on a 401.
func (s *Service) TestConnection(ctx context.Context) (info CompanyInfo, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		fields["realm_id"] = info.RealmID
		s.observeOperation(ctx, startedAt, "test_connection", err, fields)
	}()
	if s == nil || s.querier == nil {
		return CompanyInfo{}, fmt.Errorf("%w: record querier", ErrSourceNotConfigured)
	}
	return WithValidCredential(ctx, s.tokens, s.querier.CompanyInfo)
}

// ProjectHierarchy lists every project and links them into a hierarchy. A
// truncated listing still yields the hierarchy of what was read.
func (s *Service) ProjectHierarchy(ctx context.Context) (hierarchy Hierarchy, report FetchReport, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"entity": "Project"}
	defer func() {
		fields["projects"] = hierarchy.Len()
		fields["truncated"] = report.Truncated
		s.observeOperation(ctx, startedAt, "project_hierarchy", err, fields)
	}()
	if s == nil || s.projects == nil {
		return Hierarchy{}, FetchReport{}, fmt.Errorf("%w: projects", ErrSourceNotConfigured)
	}

	projects, report, err := s.projects.ListProjects(ctx)
	if err != nil {
		return Hierarchy{}, report, err
	}
	if report.Truncated {
		s.countTruncation(ctx, "Project")
		s.logWarn(ctx, "project listing truncated", map[string]any{
			"entity":  "Project",
			"records": report.Records,
			"error":   errorString(report.Err),
		})
	}
	hierarchy = BuildHierarchy(projects)
	if skipped := countSkippedProjects(projects, hierarchy); skipped > 0 {
		s.logWarn(ctx, "skipped duplicate or unidentified projects", map[string]any{"skipped": skipped})
	}
	return hierarchy, report, nil
}

// BuildReport resolves the target project, collects its subtree and the
// purchases of every project in it, and summarizes them per project.
func (s *Service) BuildReport(ctx context.Context, req ReportRequest) (report Report, err error) {
	startedAt := time.Now().UTC()
	req = normalizeReportRequest(req)
	fields := map[string]any{
		"project_code": req.ProjectCode,
		"start_date":   req.StartDate,
		"end_date":     req.EndDate,
	}
	defer func() {
		fields["projects"] = len(report.ProjectIDs)
		fields["expenses"] = len(report.Expenses)
		fields["truncations"] = len(report.Truncations)
		if report.ID != "" {
			fields["report_id"] = report.ID
		}
		s.observeOperation(ctx, startedAt, "build_report", err, fields)
	}()

	if req.ProjectCode == "" {
		return Report{}, fmt.Errorf("%w: project code is required", ErrInvalidReportRequest)
	}
	if s == nil || s.transactions == nil {
		return Report{}, fmt.Errorf("%w: transactions", ErrSourceNotConfigured)
	}

	hierarchy, listing, err := s.ProjectHierarchy(ctx)
	if err != nil {
		return Report{}, err
	}
	report = Report{
		Summary:     map[string]ExpenseSummary{},
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		GeneratedAt: s.now().UTC(),
	}
	if truncation, ok := listing.Truncation(""); ok {
		report.Truncations = append(report.Truncations, truncation)
	}

	target, err := FindByCode(hierarchy, req.ProjectCode)
	if err != nil {
		var notFound *ProjectNotFoundError
		if listing.Truncated && errors.As(err, &notFound) {
			notFound.Cause = listingTruncation(listing)
		}
		return Report{}, err
	}
	report.Target = target
	report.ProjectIDs = DescendantsAndSelf(hierarchy, target.ID)
	report.Hierarchy = FilterHierarchy(hierarchy, report.ProjectIDs)

	if !req.ProjectsOnly {
		for _, projectID := range report.ProjectIDs {
			expenses, fetch, fetchErr := s.transactions.ListTransactions(ctx, TransactionQuery{
				ProjectID: projectID,
				StartDate: req.StartDate,
				EndDate:   req.EndDate,
			})
			if fetchErr != nil {
				return Report{}, fetchErr
			}
			if truncation, ok := fetch.Truncation(projectID); ok {
				report.Truncations = append(report.Truncations, truncation)
				s.countTruncation(ctx, "Purchase")
				s.logWarn(ctx, "purchase listing truncated", map[string]any{
					"project_id": projectID,
					"records":    fetch.Records,
					"error":      errorString(fetch.Err),
				})
			}
			report.Expenses = append(report.Expenses, expenses...)
		}
	}
	report.Summary = SummarizeExpenses(report.Expenses)
	report.Totals = ComputeTotals(report.Summary)

	if s.snapshotStore != nil {
		id, saveErr := s.snapshotStore.SaveReport(ctx, report)
		if saveErr != nil {
			s.recordCounter(ctx, MetricSnapshotFailed, 1, map[string]string{})
			s.logWarn(ctx, "report snapshot not saved", map[string]any{"error": saveErr.Error()})
		} else {
			report.ID = id
		}
	}
	s.observeReportSize(ctx, report)
	return report, nil
}

// listingTruncation returns the typed truncation error behind a partial listing.
func listingTruncation(listing FetchReport) error {
	var truncated *RecordFetchTruncatedError
	if errors.As(listing.Err, &truncated) {
		return truncated
	}
	tr, _ := listing.Truncation("")
	return &RecordFetchTruncatedError{Entity: tr.Entity, Page: tr.Page, StartPosition: tr.StartPosition, Cause: listing.Err}
}

func normalizeReportRequest(req ReportRequest) ReportRequest {
	return ReportRequest{
		ProjectCode:  strings.TrimSpace(req.ProjectCode),
		StartDate:    strings.TrimSpace(req.StartDate),
		EndDate:      strings.TrimSpace(req.EndDate),
		ProjectsOnly: req.ProjectsOnly,
	}
}

func countSkippedProjects(projects []Project, hierarchy Hierarchy) int {
	return len(projects) - hierarchy.Len()
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
