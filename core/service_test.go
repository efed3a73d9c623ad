package core

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

type serviceFixture struct {
	store        *memoryCredentialStore
	endpoint     *stubTokenEndpoint
	authorizer   *stubAuthorizer
	querier      *stubQuerier
	projects     *stubProjectSource
	transactions *stubTransactionSource
	snapshots    *stubSnapshotStore
	svc          *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:      newMemoryCredentialStore(storedCredential()),
		endpoint:   &stubTokenEndpoint{refreshResult: TokenResponse{AccessToken: "access-new"}},
		authorizer: &stubAuthorizer{grant: Grant{Code: "code-1", RealmID: "realm-2"}},
		querier:    &stubQuerier{info: CompanyInfo{CompanyName: "Acme Builders"}},
		projects:   &stubProjectSource{projects: threeLevelProjects()},
		transactions: &stubTransactionSource{byProject: map[string][]Transaction{
			"1": {purchase("t1", "1", "Root", 10)},
			"2": {purchase("t2", "2", "Child A", 20), purchase("t3", "2", "Child A", 5)},
			"4": {purchase("t4", "4", "Grandchild", 7.5)},
		}},
		snapshots: &stubSnapshotStore{},
	}
	f.endpoint.exchangeResult = TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "bearer"}
	svc, err := NewService(DefaultConfig(),
		WithLogger(stubLogger{}),
		WithCredentialStore(f.store),
		WithTokenEndpoint(f.endpoint),
		WithAuthorizer(f.authorizer),
		WithRecordQuerier(f.querier),
		WithProjectSource(f.projects),
		WithTransactionSource(f.transactions),
		WithSnapshotStore(f.snapshots),
		WithClock(func() time.Time { return time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC) }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.svc = svc
	return f
}

func TestService_AuthenticateExchangesAndPersists(t *testing.T) {
	f := newServiceFixture(t)
	record, err := f.svc.Authenticate(context.Background(), 0)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if f.authorizer.lastTimeout != DefaultAuthTimeout {
		t.Fatalf("expected configured timeout, got %s", f.authorizer.lastTimeout)
	}
	if record.RealmID != "realm-2" || f.store.current().AccessToken != "access-1" {
		t.Fatalf("expected exchanged credential persisted, got %+v", f.store.current())
	}
}

func TestService_AuthenticateDeniedSkipsExchange(t *testing.T) {
	f := newServiceFixture(t)
	f.authorizer.err = &AuthorizationDeniedError{Reason: "state mismatch"}

	_, err := f.svc.Authenticate(context.Background(), time.Second)
	var denied *AuthorizationDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected denial, got %v", err)
	}
	if f.endpoint.exchangeCalls != 0 {
		t.Fatalf("expected no code exchange after denial")
	}
}

func TestService_TestConnectionRetriesAfterExpiry(t *testing.T) {
	f := newServiceFixture(t)
	f.querier.failFirst = &CredentialExpiredError{Status: 401}

	info, err := f.svc.TestConnection(context.Background())
	if err != nil {
		t.Fatalf("test connection: %v", err)
	}
	if info.CompanyName != "Acme Builders" || info.RealmID != "realm-1" {
		t.Fatalf("unexpected company info: %+v", info)
	}
	if f.endpoint.refreshCount() != 1 || !reflect.DeepEqual(f.querier.tokens, []string{"access-old", "access-new"}) {
		t.Fatalf("expected one refresh and retry, got refreshes=%d tokens=%v", f.endpoint.refreshCount(), f.querier.tokens)
	}
}

func TestService_BuildReportSummarizesSubtree(t *testing.T) {
	f := newServiceFixture(t)
	report, err := f.svc.BuildReport(context.Background(), ReportRequest{
		ProjectCode: "C-A",
		StartDate:   "2026-01-01",
		EndDate:     "2026-01-31",
	})
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if report.Target == nil || report.Target.ID != "2" {
		t.Fatalf("unexpected target: %+v", report.Target)
	}
	if !reflect.DeepEqual(report.ProjectIDs, []string{"2", "4"}) {
		t.Fatalf("unexpected project ids: %v", report.ProjectIDs)
	}
	if !reflect.DeepEqual(report.Hierarchy.Roots, []string{"2"}) {
		t.Fatalf("expected filtered hierarchy rooted at target, got %v", report.Hierarchy.Roots)
	}
	if len(f.transactions.queries) != 2 {
		t.Fatalf("expected one fetch per project, got %d", len(f.transactions.queries))
	}
	if q := f.transactions.queries[0]; q.StartDate != "2026-01-01" || q.EndDate != "2026-01-31" {
		t.Fatalf("expected dates forwarded, got %+v", q)
	}
	if report.Summary["2"].Count != 2 || report.Summary["2"].Total != 25 {
		t.Fatalf("unexpected summary for child: %+v", report.Summary["2"])
	}
	if report.Totals.Count != 3 || report.Totals.Total != 32.5 {
		t.Fatalf("unexpected totals: %+v", report.Totals)
	}
	if report.ID != "snap-1" || len(f.snapshots.saved) != 1 {
		t.Fatalf("expected snapshot saved, got id=%q", report.ID)
	}
	if report.Truncated() {
		t.Fatalf("expected complete report")
	}
}

func TestService_BuildReportRecordsTruncation(t *testing.T) {
	f := newServiceFixture(t)
	f.transactions.reports = map[string]FetchReport{
		"4": {
			Entity:    "Purchase",
			Pages:     1,
			Truncated: true,
			Err:       &RecordFetchTruncatedError{Entity: "Purchase", Page: 2, StartPosition: 1001, Cause: errors.New("reset")},
		},
	}
	report, err := f.svc.BuildReport(context.Background(), ReportRequest{ProjectCode: "C-A"})
	if err != nil {
		t.Fatalf("truncation must not fail the report: %v", err)
	}
	if !report.Truncated() || len(report.Truncations) != 1 {
		t.Fatalf("expected one truncation, got %+v", report.Truncations)
	}
	if tr := report.Truncations[0]; tr.ProjectID != "4" || tr.Page != 2 {
		t.Fatalf("unexpected truncation: %+v", tr)
	}
	if report.Totals.Count != 3 {
		t.Fatalf("expected partial records kept, got %+v", report.Totals)
	}
}

func TestService_BuildReportProjectNotFound(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.BuildReport(context.Background(), ReportRequest{ProjectCode: "ZZZ"})
	var notFound *ProjectNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected project not found, got %v", err)
	}
	if len(notFound.KnownCodes) != 4 {
		t.Fatalf("expected known codes listed, got %v", notFound.KnownCodes)
	}
	if len(f.transactions.queries) != 0 {
		t.Fatalf("expected no purchase fetches")
	}
}

func TestService_BuildReportTruncatedListingKeepsCause(t *testing.T) {
	f := newServiceFixture(t)
	f.projects.projects = nil
	f.projects.report = FetchReport{
		Truncated: true,
		Err:       &RecordFetchTruncatedError{Entity: "Project", Page: 1, StartPosition: 1, Cause: errors.New("connection refused")},
	}
	_, err := f.svc.BuildReport(context.Background(), ReportRequest{ProjectCode: "C-A"})

	var notFound *ProjectNotFoundError
	if !errors.As(err, &notFound) || !notFound.ListingTruncated() {
		t.Fatalf("expected not found caused by truncation, got %v", err)
	}
	var truncated *RecordFetchTruncatedError
	if !errors.As(err, &truncated) || truncated.Page != 1 {
		t.Fatalf("expected truncation in the chain, got %v", err)
	}
	if IsPermanentFailure(err) {
		t.Fatalf("a miss on a partial listing must stay retryable")
	}
	mapped := MapError(err)
	if mapped.TextCode != ErrorProjectNotFound || mapped.Metadata["listing_truncated"] != true {
		t.Fatalf("expected truncation flagged in envelope, got %#v", mapped.Metadata)
	}
}

func TestService_BuildReportProjectsOnly(t *testing.T) {
	f := newServiceFixture(t)
	report, err := f.svc.BuildReport(context.Background(), ReportRequest{ProjectCode: "R-1", ProjectsOnly: true})
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if len(report.ProjectIDs) != 4 || len(f.transactions.queries) != 0 || len(report.Summary) != 0 {
		t.Fatalf("expected hierarchy only, got ids=%v queries=%d", report.ProjectIDs, len(f.transactions.queries))
	}
}

func TestService_BuildReportStopsOnAuthFailure(t *testing.T) {
	f := newServiceFixture(t)
	f.transactions.err = &RefreshError{Status: 400, Body: "invalid_grant"}
	_, err := f.svc.BuildReport(context.Background(), ReportRequest{ProjectCode: "R-1"})
	if !IsAuthFailure(err) {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestService_SnapshotFailureKeepsReport(t *testing.T) {
	f := newServiceFixture(t)
	f.snapshots.err = errors.New("disk full")
	report, err := f.svc.BuildReport(context.Background(), ReportRequest{ProjectCode: "R-1"})
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if report.ID != "" || report.Totals.Count != 4 {
		t.Fatalf("expected report without id, got %+v", report.Totals)
	}
}
