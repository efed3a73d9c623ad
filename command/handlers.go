package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-qbexport/core"
)

type MutatingService interface {
	Authenticate(ctx context.Context, timeout time.Duration) (core.CredentialRecord, error)
	RefreshCredential(ctx context.Context) (core.CredentialRecord, error)
	BuildReport(ctx context.Context, req core.ReportRequest) (core.Report, error)
	MapError(err error) error
}

// CredentialResult is what commands publish about a credential; tokens stay
// inside the token manager.
type CredentialResult struct {
	RealmID     string
	TokenType   string
	ExpiresAt   time.Time
	Refreshable bool
}

func credentialResult(record core.CredentialRecord) CredentialResult {
	out := CredentialResult{
		RealmID:     record.RealmID,
		TokenType:   record.TokenType,
		Refreshable: record.Refreshable(),
	}
	if expiresAt, ok := record.ExpiresAt(); ok {
		out.ExpiresAt = expiresAt
	}
	return out
}

type AuthenticateCommand struct {
	service MutatingService
}

func NewAuthenticateCommand(service MutatingService) *AuthenticateCommand {
	return &AuthenticateCommand{service: service}
}

func (c *AuthenticateCommand) Execute(ctx context.Context, msg AuthenticateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authenticate service is required")
	}
	record, err := c.service.Authenticate(ctx, msg.Timeout)
	if err != nil {
		return c.service.MapError(err)
	}
	storeResult(ctx, credentialResult(record))
	return nil
}

type RefreshCommand struct {
	service MutatingService
}

func NewRefreshCommand(service MutatingService) *RefreshCommand {
	return &RefreshCommand{service: service}
}

func (c *RefreshCommand) Execute(ctx context.Context, _ RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	record, err := c.service.RefreshCredential(ctx)
	if err != nil {
		return c.service.MapError(err)
	}
	storeResult(ctx, credentialResult(record))
	return nil
}

// ExportReportCommand builds a report and hands it to the sink, if any.
type ExportReportCommand struct {
	service MutatingService
	sink    core.ReportSink
}

func NewExportReportCommand(service MutatingService, sink core.ReportSink) *ExportReportCommand {
	return &ExportReportCommand{service: service, sink: sink}
}

func (c *ExportReportCommand) Execute(ctx context.Context, msg ExportReportMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: export service is required")
	}
	report, err := c.service.BuildReport(ctx, msg.Request())
	if err != nil {
		return c.service.MapError(err)
	}
	if c.sink != nil {
		if err := c.sink.Deliver(ctx, report); err != nil {
			return c.service.MapError(err)
		}
	}
	storeResult(ctx, report)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
