package quickbooks

import "strings"

const (
	EntityProject     = "Project"
	EntityPurchase    = "Purchase"
	EntityCompanyInfo = "CompanyInfo"
)

// PurchaseFilter narrows a Purchase query. Empty fields add no clause.
type PurchaseFilter struct {
	ProjectID string
	StartDate string
	EndDate   string
}

// PurchaseQuery builds the Purchase query for the filter, newest first.
func PurchaseQuery(filter PurchaseFilter) string {
	clauses := make([]string, 0, 3)
	if id := strings.TrimSpace(filter.ProjectID); id != "" {
		clauses = append(clauses, "ProjectRef = "+quote(id))
	}
	if start := strings.TrimSpace(filter.StartDate); start != "" {
		clauses = append(clauses, "TxnDate >= "+quote(start))
	}
	if end := strings.TrimSpace(filter.EndDate); end != "" {
		clauses = append(clauses, "TxnDate <= "+quote(end))
	}
	return Select(EntityPurchase, clauses, "TxnDate DESC")
}

func ProjectQuery() string {
	return Select(EntityProject, nil, "Name")
}

// Select assembles `SELECT * FROM entity [WHERE a AND b] [ORDER BY order]`.
func Select(entity string, clauses []string, orderBy string) string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(entity)
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	if orderBy = strings.TrimSpace(orderBy); orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	return b.String()
}

func quote(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}
