package query

import (
	"strings"
	"time"
)

const (
	TypeCompanyInfo      = "qbexport.query.company_info"
	TypeProjectHierarchy = "qbexport.query.project_hierarchy"
	TypeExpenseSummary   = "qbexport.query.expense_summary"
)

type CompanyInfoMessage struct{}

func (CompanyInfoMessage) Type() string { return TypeCompanyInfo }

func (CompanyInfoMessage) Validate() error { return nil }

type ProjectHierarchyMessage struct{}

func (ProjectHierarchyMessage) Type() string { return TypeProjectHierarchy }

func (ProjectHierarchyMessage) Validate() error { return nil }

type ExpenseSummaryMessage struct {
	ProjectCode string
	StartDate   string
	EndDate     string
}

func (ExpenseSummaryMessage) Type() string { return TypeExpenseSummary }

func (m ExpenseSummaryMessage) Validate() error {
	if strings.TrimSpace(m.ProjectCode) == "" {
		return queryValidationError("project_code", "is required")
	}
	for field, value := range map[string]string{"start_date": m.StartDate, "end_date": m.EndDate} {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return queryValidationError(field, "must be a date formatted as 2006-01-02")
		}
	}
	return nil
}
