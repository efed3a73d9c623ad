package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-qbexport/core"
)

var (
	_ gocmd.Querier[CompanyInfoMessage, core.CompanyInfo]        = (*CompanyInfoQuery)(nil)
	_ gocmd.Querier[ProjectHierarchyMessage, HierarchyResult]    = (*ProjectHierarchyQuery)(nil)
	_ gocmd.Querier[ExpenseSummaryMessage, ExpenseSummaryResult] = (*ExpenseSummaryQuery)(nil)
)
