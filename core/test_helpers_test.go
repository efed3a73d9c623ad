package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memoryCredentialStore struct {
	mu      sync.Mutex
	record  *CredentialRecord
	saves   int
	loadErr error
}

func newMemoryCredentialStore(record *CredentialRecord) *memoryCredentialStore {
	return &memoryCredentialStore{record: record}
}

func (s *memoryCredentialStore) Load(context.Context) (CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return CredentialRecord{}, s.loadErr
	}
	if s.record == nil {
		return CredentialRecord{}, ErrNotAuthenticated
	}
	return *s.record, nil
}

func (s *memoryCredentialStore) Save(_ context.Context, record CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := record
	s.record = &copied
	s.saves++
	return nil
}

func (s *memoryCredentialStore) current() CredentialRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return CredentialRecord{}
	}
	return *s.record
}

type stubTokenEndpoint struct {
	mu             sync.Mutex
	exchangeCalls  int
	refreshCalls   int
	lastCode       string
	lastRedirect   string
	lastRefresh    string
	exchangeResult TokenResponse
	exchangeErr    error
	refreshResult  TokenResponse
	refreshErr     error
	refreshDelay   time.Duration
}

func (e *stubTokenEndpoint) ExchangeCode(_ context.Context, code string, redirectURI string) (TokenResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exchangeCalls++
	e.lastCode = code
	e.lastRedirect = redirectURI
	return e.exchangeResult, e.exchangeErr
}

func (e *stubTokenEndpoint) RefreshToken(_ context.Context, refreshToken string) (TokenResponse, error) {
	if e.refreshDelay > 0 {
		time.Sleep(e.refreshDelay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshCalls++
	e.lastRefresh = refreshToken
	return e.refreshResult, e.refreshErr
}

func (e *stubTokenEndpoint) refreshCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshCalls
}

type stubAuthorizer struct {
	grant       Grant
	err         error
	lastTimeout time.Duration
}

func (a *stubAuthorizer) Authorize(_ context.Context, timeout time.Duration) (Grant, error) {
	a.lastTimeout = timeout
	return a.grant, a.err
}

type stubQuerier struct {
	info      CompanyInfo
	failFirst error
	calls     int
	tokens    []string
}

func (q *stubQuerier) QueryPage(context.Context, CredentialRecord, string, string, int, int) (QueryPage, error) {
	return QueryPage{}, fmt.Errorf("not used")
}

func (q *stubQuerier) CompanyInfo(_ context.Context, cred CredentialRecord) (CompanyInfo, error) {
	q.calls++
	q.tokens = append(q.tokens, cred.AccessToken)
	if q.calls == 1 && q.failFirst != nil {
		return CompanyInfo{}, q.failFirst
	}
	info := q.info
	info.RealmID = cred.RealmID
	return info, nil
}

type stubProjectSource struct {
	projects []Project
	report   FetchReport
	err      error
	calls    int
}

func (s *stubProjectSource) ListProjects(context.Context) ([]Project, FetchReport, error) {
	s.calls++
	report := s.report
	if report.Entity == "" {
		report.Entity = "Project"
	}
	if !report.Truncated && report.Records == 0 {
		report.Records = len(s.projects)
	}
	return append([]Project(nil), s.projects...), report, s.err
}

type stubTransactionSource struct {
	byProject map[string][]Transaction
	reports   map[string]FetchReport
	err       error
	queries   []TransactionQuery
}

func (s *stubTransactionSource) ListTransactions(_ context.Context, query TransactionQuery) ([]Transaction, FetchReport, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, FetchReport{}, s.err
	}
	report := FetchReport{Entity: "Purchase", Pages: 1}
	if custom, ok := s.reports[query.ProjectID]; ok {
		report = custom
	}
	records := append([]Transaction(nil), s.byProject[query.ProjectID]...)
	report.Records = len(records)
	return records, report, nil
}

type stubSnapshotStore struct {
	saved []Report
	err   error
}

func (s *stubSnapshotStore) SaveReport(_ context.Context, report Report) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, report)
	return fmt.Sprintf("snap-%d", len(s.saved)), nil
}

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type mapRawLoader struct {
	values map[string]any
	err    error
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.values, nil
}

func project(id string, name string, code string, parent string) Project {
	p := Project{ID: id, Name: name, ProjectCode: code}
	if parent != "" {
		p.ParentRef = &Ref{Value: parent}
	}
	return p
}

func purchase(id string, projectID string, projectName string, amount float64) Transaction {
	txn := Transaction{ID: id, TotalAmt: amount, TxnDate: "2026-01-15"}
	if projectID != "" {
		txn.ProjectRef = &Ref{Value: projectID, Name: projectName}
	}
	txn.Raw = json.RawMessage(fmt.Sprintf(`{"Id":%q,"TotalAmt":%v}`, id, amount))
	return txn
}

func storedCredential() *CredentialRecord {
	issued := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &CredentialRecord{
		AccessToken:  "access-old",
		RefreshToken: "refresh-old",
		RealmID:      "realm-1",
		TokenType:    "bearer",
		ExpiresIn:    3600,
		IssuedAt:     &issued,
	}
}
