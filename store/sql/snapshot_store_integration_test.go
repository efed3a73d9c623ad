package sqlstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"

	"github.com/goliatone/go-qbexport/core"
	sqlstore "github.com/goliatone/go-qbexport/store/sql"
)

func newSQLiteClient(t *testing.T) *persistence.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:qbexport-test-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	client, err := sqlstore.Open(context.Background(), "sqlite", dsn)
	if err != nil {
		t.Fatalf("open snapshot db: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func sampleReport() core.Report {
	return core.Report{
		Target:     &core.ProjectNode{ID: "2", Name: "Alpha", Code: "C-A"},
		ProjectIDs: []string{"2", "4"},
		Hierarchy: core.Hierarchy{
			Roots: []string{"2"},
			Nodes: map[string]*core.ProjectNode{
				"2": {ID: "2", Name: "Alpha", Code: "C-A", Children: []string{"4"}},
				"4": {ID: "4", Name: "Alpha Phase 1", ParentID: "2"},
			},
			Order: []string{"2", "4"},
		},
		Summary: map[string]core.ExpenseSummary{
			"2": {ProjectName: "Alpha", Count: 2, Total: 30},
			"4": {ProjectName: "Alpha Phase 1", Count: 1, Total: 2.5},
		},
		Totals:      core.SummaryTotals{Count: 3, Total: 32.5},
		StartDate:   "2026-01-01",
		EndDate:     "2026-01-31",
		Truncations: []core.Truncation{{Entity: "Purchase", ProjectID: "4", Page: 2, StartPosition: 1001, Records: 1000, Reason: "connection reset"}},
		GeneratedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestSnapshotStore_SaveAndReadBack(t *testing.T) {
	ctx := context.Background()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(newSQLiteClient(t))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.SnapshotStore()
	if store == nil {
		t.Fatalf("expected snapshot store from factory")
	}

	id, err := store.SaveReport(ctx, sampleReport())
	if err != nil {
		t.Fatalf("save report: %v", err)
	}
	if id == "" {
		t.Fatalf("expected snapshot id")
	}

	report, err := store.GetReport(ctx, id)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	if report.ID != id || report.Target == nil || report.Target.Code != "C-A" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Totals.Total != 32.5 || len(report.Summary) != 2 || len(report.Hierarchy.Nodes) != 2 {
		t.Fatalf("unexpected report contents %+v", report)
	}

	rows, err := store.SummaryRows(ctx, id)
	if err != nil {
		t.Fatalf("summary rows: %v", err)
	}
	if len(rows) != 2 || rows[0].ProjectKey != "2" || rows[1].Total != 2.5 {
		t.Fatalf("expected rows ordered by total, got %+v", rows)
	}

	listed, err := store.ListSnapshots(ctx, "C-A", 5)
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(listed) != 1 || !listed[0].Truncated || len(listed[0].Truncations) != 1 || listed[0].TransactionCount != 3 {
		t.Fatalf("unexpected listing %+v", listed)
	}
	if listed[0].Truncations[0].StartPosition != 1001 {
		t.Fatalf("expected truncation detail preserved, got %+v", listed[0].Truncations[0])
	}

	other, err := store.ListSnapshots(ctx, "C-B", 5)
	if err != nil {
		t.Fatalf("list other snapshots: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no snapshots for other code, got %d", len(other))
	}
}

func TestSnapshotStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.NewSnapshotStore(newSQLiteClient(t).DB())
	if err != nil {
		t.Fatalf("new snapshot store: %v", err)
	}

	first := sampleReport()
	second := sampleReport()
	second.GeneratedAt = first.GeneratedAt.Add(time.Hour)
	second.Truncations = nil

	if _, err := store.SaveReport(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	secondID, err := store.SaveReport(ctx, second)
	if err != nil {
		t.Fatalf("save second: %v", err)
	}

	listed, err := store.ListSnapshots(ctx, "", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != secondID || listed[0].Truncated {
		t.Fatalf("expected newest untruncated snapshot first, got %+v", listed)
	}
}

func TestOpen_RejectsUnknownDialect(t *testing.T) {
	if _, err := sqlstore.Open(context.Background(), "mysql", "dsn"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
}
