package export

import (
	"time"

	"github.com/goliatone/go-qbexport/core"
)

// hierarchyNode is the nested rendering of a project and its subtree.
type hierarchyNode struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Code        string          `json:"code,omitempty"`
	Description string          `json:"description"`
	ParentRef   string          `json:"parent_ref,omitempty"`
	Children    []hierarchyNode `json:"children"`
}

type hierarchyDoc struct {
	RootProjects  []hierarchyNode `json:"root_projects"`
	TotalProjects int             `json:"total_projects"`
}

type summaryRow struct {
	ProjectID    string  `json:"project_id"`
	ProjectName  string  `json:"project_name"`
	ExpenseCount int     `json:"expense_count"`
	TotalAmount  float64 `json:"total_amount"`
}

type summaryDocument struct {
	Projects []summaryRow       `json:"projects"`
	Totals   core.SummaryTotals `json:"totals"`
}

type reportDocument struct {
	ExportTimestamp  time.Time          `json:"export_timestamp"`
	GeneratedAt      time.Time          `json:"generated_at"`
	Target           *core.ProjectNode  `json:"target,omitempty"`
	ProjectIDs       []string           `json:"project_ids"`
	StartDate        string             `json:"start_date,omitempty"`
	EndDate          string             `json:"end_date,omitempty"`
	ProjectHierarchy hierarchyDoc       `json:"project_hierarchy"`
	ExpensesSummary  []summaryRow       `json:"expenses_summary"`
	Totals           core.SummaryTotals `json:"totals"`
	Truncated        bool               `json:"truncated"`
	Truncations      []core.Truncation  `json:"truncations,omitempty"`
}

func newSummaryRow(key string, entry core.ExpenseSummary) summaryRow {
	return summaryRow{
		ProjectID:    key,
		ProjectName:  entry.ProjectName,
		ExpenseCount: entry.Count,
		TotalAmount:  entry.Total,
	}
}

func hierarchyDocument(h core.Hierarchy) hierarchyDoc {
	visited := map[string]struct{}{}
	roots := make([]hierarchyNode, 0, len(h.Roots))
	for _, id := range h.Roots {
		if node, ok := buildNode(h, id, visited); ok {
			roots = append(roots, node)
		}
	}
	return hierarchyDoc{RootProjects: roots, TotalProjects: h.Len()}
}

func buildNode(h core.Hierarchy, id string, visited map[string]struct{}) (hierarchyNode, bool) {
	if _, seen := visited[id]; seen {
		return hierarchyNode{}, false
	}
	node, ok := h.Node(id)
	if !ok {
		return hierarchyNode{}, false
	}
	visited[id] = struct{}{}
	out := hierarchyNode{
		ID:          node.ID,
		Name:        node.Name,
		Code:        node.Code,
		Description: node.Description,
		ParentRef:   node.ParentID,
		Children:    make([]hierarchyNode, 0, len(node.Children)),
	}
	for _, childID := range node.Children {
		if child, ok := buildNode(h, childID, visited); ok {
			out.Children = append(out.Children, child)
		}
	}
	return out, true
}
