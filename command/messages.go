package command

import (
	"strings"
	"time"

	"github.com/goliatone/go-qbexport/core"
)

const (
	TypeAuthenticate = "qbexport.command.authenticate"
	TypeRefresh      = "qbexport.command.refresh"
	TypeExportReport = "qbexport.command.report.export"

	dateLayout = "2006-01-02"
)

// AuthenticateMessage starts the consent flow. A zero Timeout uses the
// configured oauth timeout.
type AuthenticateMessage struct {
	Timeout time.Duration `validate:"gte=0"`
}

func (AuthenticateMessage) Type() string { return TypeAuthenticate }

func (m AuthenticateMessage) Validate() error {
	return validateStruct(m)
}

type RefreshMessage struct{}

func (RefreshMessage) Type() string { return TypeRefresh }

func (RefreshMessage) Validate() error { return nil }

type ExportReportMessage struct {
	ProjectCode  string `validate:"required"`
	StartDate    string `validate:"omitempty,datetime=2006-01-02"`
	EndDate      string `validate:"omitempty,datetime=2006-01-02"`
	ProjectsOnly bool
}

func (ExportReportMessage) Type() string { return TypeExportReport }

func (m ExportReportMessage) Validate() error {
	m.ProjectCode = strings.TrimSpace(m.ProjectCode)
	m.StartDate = strings.TrimSpace(m.StartDate)
	m.EndDate = strings.TrimSpace(m.EndDate)
	if err := validateStruct(m); err != nil {
		return err
	}
	if m.StartDate != "" && m.EndDate != "" {
		start, _ := time.Parse(dateLayout, m.StartDate)
		end, _ := time.Parse(dateLayout, m.EndDate)
		if end.Before(start) {
			return commandValidationError("end_date", "must not be before start_date")
		}
	}
	return nil
}

func (m ExportReportMessage) Request() core.ReportRequest {
	return core.ReportRequest{
		ProjectCode:  strings.TrimSpace(m.ProjectCode),
		StartDate:    strings.TrimSpace(m.StartDate),
		EndDate:      strings.TrimSpace(m.EndDate),
		ProjectsOnly: m.ProjectsOnly,
	}
}
