package qbexport

import "github.com/goliatone/go-qbexport/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type CredentialRecord = core.CredentialRecord
type CompanyInfo = core.CompanyInfo
type Project = core.Project
type Hierarchy = core.Hierarchy
type Transaction = core.Transaction
type ExpenseSummary = core.ExpenseSummary
type FetchReport = core.FetchReport
type Truncation = core.Truncation

type ReportRequest = core.ReportRequest
type Report = core.Report
type ReportSink = core.ReportSink

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithCredentialStore   = core.WithCredentialStore
	WithTokenManager      = core.WithTokenManager
	WithTokenEndpoint     = core.WithTokenEndpoint
	WithAuthorizer        = core.WithAuthorizer
	WithRecordQuerier     = core.WithRecordQuerier
	WithProjectSource     = core.WithProjectSource
	WithTransactionSource = core.WithTransactionSource
	WithSnapshotStore     = core.WithSnapshotStore
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
