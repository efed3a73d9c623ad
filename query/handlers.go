package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-qbexport/core"
)

type ReadService interface {
	TestConnection(ctx context.Context) (core.CompanyInfo, error)
	ProjectHierarchy(ctx context.Context) (core.Hierarchy, core.FetchReport, error)
	BuildReport(ctx context.Context, req core.ReportRequest) (core.Report, error)
	MapError(err error) error
}

type CompanyInfoQuery struct {
	service ReadService
}

func NewCompanyInfoQuery(service ReadService) *CompanyInfoQuery {
	return &CompanyInfoQuery{service: service}
}

func (q *CompanyInfoQuery) Query(ctx context.Context, _ CompanyInfoMessage) (core.CompanyInfo, error) {
	if q == nil || q.service == nil {
		return core.CompanyInfo{}, queryDependencyError("query: company info service is required")
	}
	info, err := q.service.TestConnection(ctx)
	if err != nil {
		return core.CompanyInfo{}, q.service.MapError(err)
	}
	return info, nil
}

// HierarchyResult pairs the hierarchy with how its listing ended.
type HierarchyResult struct {
	Hierarchy  core.Hierarchy
	Truncation *core.Truncation
}

type ProjectHierarchyQuery struct {
	service ReadService
}

func NewProjectHierarchyQuery(service ReadService) *ProjectHierarchyQuery {
	return &ProjectHierarchyQuery{service: service}
}

func (q *ProjectHierarchyQuery) Query(ctx context.Context, _ ProjectHierarchyMessage) (HierarchyResult, error) {
	if q == nil || q.service == nil {
		return HierarchyResult{}, queryDependencyError("query: hierarchy service is required")
	}
	hierarchy, report, err := q.service.ProjectHierarchy(ctx)
	if err != nil {
		return HierarchyResult{}, q.service.MapError(err)
	}
	out := HierarchyResult{Hierarchy: hierarchy}
	if truncation, ok := report.Truncation(""); ok {
		out.Truncation = &truncation
	}
	return out, nil
}

// ExpenseSummaryResult is the per-project summary of a subtree.
type ExpenseSummaryResult struct {
	Target      *core.ProjectNode
	Summary     map[string]core.ExpenseSummary
	Totals      core.SummaryTotals
	Truncations []core.Truncation
}

type ExpenseSummaryQuery struct {
	service ReadService
}

func NewExpenseSummaryQuery(service ReadService) *ExpenseSummaryQuery {
	return &ExpenseSummaryQuery{service: service}
}

func (q *ExpenseSummaryQuery) Query(ctx context.Context, msg ExpenseSummaryMessage) (ExpenseSummaryResult, error) {
	if q == nil || q.service == nil {
		return ExpenseSummaryResult{}, queryDependencyError("query: expense summary service is required")
	}
	report, err := q.service.BuildReport(ctx, core.ReportRequest{
		ProjectCode: strings.TrimSpace(msg.ProjectCode),
		StartDate:   strings.TrimSpace(msg.StartDate),
		EndDate:     strings.TrimSpace(msg.EndDate),
	})
	if err != nil {
		return ExpenseSummaryResult{}, q.service.MapError(err)
	}
	return ExpenseSummaryResult{
		Target:      report.Target,
		Summary:     report.Summary,
		Totals:      report.Totals,
		Truncations: report.Truncations,
	}, nil
}
