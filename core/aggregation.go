package core

import (
	"sort"
	"strings"
)

type SummaryTotals struct {
	Count int     `json:"count"`
	Total float64 `json:"total"`
}

// SummarizeExpenses groups transactions by their project reference value.
// Transactions without one fall under UnknownProjectKey. The first name seen
// for a key wins.
func SummarizeExpenses(expenses []Transaction) map[string]ExpenseSummary {
	summary := map[string]ExpenseSummary{}
	for _, txn := range expenses {
		key := UnknownProjectKey
		name := UnknownProjectName
		if txn.ProjectRef != nil {
			if value := strings.TrimSpace(txn.ProjectRef.Value); value != "" {
				key = value
			}
			if refName := strings.TrimSpace(txn.ProjectRef.Name); refName != "" {
				name = refName
			}
		}
		entry, ok := summary[key]
		if !ok {
			entry = ExpenseSummary{ProjectName: name}
		}
		entry.Count++
		entry.Total += txn.TotalAmt
		entry.Expenses = append(entry.Expenses, txn)
		summary[key] = entry
	}
	return summary
}

func ComputeTotals(summary map[string]ExpenseSummary) SummaryTotals {
	totals := SummaryTotals{}
	for _, key := range SortedSummaryKeys(summary) {
		totals.Count += summary[key].Count
		totals.Total += summary[key].Total
	}
	return totals
}

// SortedSummaryKeys orders keys by descending total, then key.
func SortedSummaryKeys(summary map[string]ExpenseSummary) []string {
	keys := make([]string, 0, len(summary))
	for key := range summary {
		keys = append(keys, key)
	}
	sort.SliceStable(keys, func(i, j int) bool {
		left, right := summary[keys[i]], summary[keys[j]]
		if left.Total != right.Total {
			return left.Total > right.Total
		}
		return keys[i] < keys[j]
	})
	return keys
}
