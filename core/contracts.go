package core

import (
	"context"
	"encoding/json"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// CredentialStore persists the single CredentialRecord. Load must return
// ErrNotAuthenticated when nothing usable is stored.
type CredentialStore interface {
	Load(ctx context.Context) (CredentialRecord, error)
	Save(ctx context.Context, record CredentialRecord) error
}

type CredentialCodec interface {
	Format() string
	Encode(record CredentialRecord) ([]byte, error)
	Decode(raw []byte) (CredentialRecord, error)
}

// TokenResponse is the normalized token endpoint payload.
type TokenResponse struct {
	AccessToken           string
	RefreshToken          string
	TokenType             string
	ExpiresIn             int64
	RefreshTokenExpiresIn int64
	RealmID               string
}

// TokenEndpoint performs the two grant requests against the provider.
type TokenEndpoint interface {
	ExchangeCode(ctx context.Context, code string, redirectURI string) (TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (TokenResponse, error)
}

// Authorizer runs the interactive consent flow and yields the captured grant.
type Authorizer interface {
	Authorize(ctx context.Context, timeout time.Duration) (Grant, error)
}

type QueryPage struct {
	Records []json.RawMessage
	// Present is false when the response envelope lacks the entity key.
	Present bool
}

// RecordQuerier executes one page of a provider query with the supplied
// credential.
type RecordQuerier interface {
	QueryPage(ctx context.Context, cred CredentialRecord, entity string, query string, startPosition int, maxResults int) (QueryPage, error)
	CompanyInfo(ctx context.Context, cred CredentialRecord) (CompanyInfo, error)
}

type FetchRequest struct {
	Entity   string
	Query    string
	PageSize int
}

// RecordFetcher walks every page of a query. A failed page ends the walk and
// is reported through FetchReport rather than returned as an error.
type RecordFetcher interface {
	FetchAll(ctx context.Context, req FetchRequest) ([]json.RawMessage, FetchReport)
}

type ProjectSource interface {
	ListProjects(ctx context.Context) ([]Project, FetchReport, error)
}

type TransactionQuery struct {
	ProjectID string
	StartDate string
	EndDate   string
}

type TransactionSource interface {
	ListTransactions(ctx context.Context, query TransactionQuery) ([]Transaction, FetchReport, error)
}

type SnapshotStore interface {
	SaveReport(ctx context.Context, report Report) (string, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

type JobDelivery interface {
	Message() *JobExecutionMessage
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
