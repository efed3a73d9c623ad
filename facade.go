package qbexport

import (
	"fmt"

	qbcommand "github.com/goliatone/go-qbexport/command"
	"github.com/goliatone/go-qbexport/core"
	qbquery "github.com/goliatone/go-qbexport/query"
)

type CommandQueryService interface {
	qbcommand.MutatingService
	qbquery.ReadService
}

type Commands struct {
	Authenticate *qbcommand.AuthenticateCommand
	Refresh      *qbcommand.RefreshCommand
	ExportReport *qbcommand.ExportReportCommand
}

type Queries struct {
	CompanyInfo      *qbquery.CompanyInfoQuery
	ProjectHierarchy *qbquery.ProjectHierarchyQuery
	ExpenseSummary   *qbquery.ExpenseSummaryQuery
}

// Facade exposes the command and query handlers bound to one service.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	sink core.ReportSink
}

// WithReportSink routes reports built by the export command to sink.
func WithReportSink(sink core.ReportSink) FacadeOption {
	return func(options *facadeOptions) {
		options.sink = sink
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("qbexport: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Authenticate: qbcommand.NewAuthenticateCommand(service),
		Refresh:      qbcommand.NewRefreshCommand(service),
		ExportReport: qbcommand.NewExportReportCommand(service, cfg.sink),
	}
	facade.queries = Queries{
		CompanyInfo:      qbquery.NewCompanyInfoQuery(service),
		ProjectHierarchy: qbquery.NewProjectHierarchyQuery(service),
		ExpenseSummary:   qbquery.NewExpenseSummaryQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
