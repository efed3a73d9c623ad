package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/goliatone/go-qbexport/core"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
}

func sampleReport() core.Report {
	projects := []core.Project{
		{ID: "1", Name: "Root", ProjectCode: "P-1"},
		{ID: "2", Name: "Child", ParentRef: &core.Ref{Value: "1"}},
		{ID: "3", Name: "Grandchild", ParentRef: &core.Ref{Value: "2"}},
	}
	hierarchy := core.BuildHierarchy(projects)
	expenses := []core.Transaction{
		{ID: "t1", TxnDate: "2026-01-03", TotalAmt: 10, ProjectRef: &core.Ref{Value: "1", Name: "Root"},
			Line: []core.TransactionLine{{Description: "paint", Amount: 4}, {Description: "brushes", Amount: 6}}},
		{ID: "t2", TxnDate: "2026-01-04", TotalAmt: 25.5, ProjectRef: &core.Ref{Value: "3", Name: "Grandchild"},
			Raw: json.RawMessage(`{"Id":"t2","TotalAmt":25.5,"Custom":"kept"}`)},
	}
	summary := core.SummarizeExpenses(expenses)
	target, _ := hierarchy.Node("1")
	return core.Report{
		Target:      target,
		ProjectIDs:  []string{"1", "2", "3"},
		Hierarchy:   hierarchy,
		Expenses:    expenses,
		Summary:     summary,
		Totals:      core.ComputeTotals(summary),
		GeneratedAt: fixedNow(),
	}
}

func newTestWriter(t *testing.T, format string, uploader Uploader) *Writer {
	t.Helper()
	w, err := NewWriter(WriterConfig{OutputDir: t.TempDir(), Format: format, Uploader: uploader, Now: fixedNow})
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return w
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestWriter_ExportCSVWritesAllFiles(t *testing.T) {
	w := newTestWriter(t, FormatCSV, nil)
	files, err := w.Export(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(files.Paths()) != 4 {
		t.Fatalf("expected four files, got %v", files.Paths())
	}
	if filepath.Base(files.Hierarchy) != "project_hierarchy_20260302_103000.csv" {
		t.Fatalf("unexpected hierarchy file name %q", files.Hierarchy)
	}
	if filepath.Ext(files.Report) != ".json" {
		t.Fatalf("expected combined report as json, got %q", files.Report)
	}

	hierarchy := readCSV(t, files.Hierarchy)
	if len(hierarchy) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(hierarchy))
	}
	if hierarchy[3][0] != "2" || hierarchy[3][6] != "Root/Child/Grandchild" {
		t.Fatalf("unexpected grandchild row %v", hierarchy[3])
	}

	expenses := readCSV(t, files.Expenses)
	if len(expenses) != 4 {
		t.Fatalf("expected one row per line item plus header, got %d", len(expenses))
	}
	if expenses[1][5] != "paint" || expenses[1][6] != "4.00" || expenses[1][9] != "10.00" {
		t.Fatalf("unexpected expense row %v", expenses[1])
	}

	summary := readCSV(t, files.Summary)
	if len(summary) != 3 || summary[1][0] != "3" || summary[1][3] != "25.50" {
		t.Fatalf("expected largest total first, got %v", summary)
	}
}

func TestWriter_JSONKeepsRawPayloadAndNestsHierarchy(t *testing.T) {
	w := newTestWriter(t, FormatJSON, nil)
	report := sampleReport()

	expensesPath, err := w.WriteExpenses(report.Expenses)
	if err != nil {
		t.Fatalf("write expenses: %v", err)
	}
	raw, _ := os.ReadFile(expensesPath)
	var docs []map[string]any
	if err := json.Unmarshal(raw, &docs); err != nil {
		t.Fatalf("decode expenses: %v", err)
	}
	if len(docs) != 2 || docs[1]["Custom"] != "kept" {
		t.Fatalf("expected raw provider payload preserved, got %v", docs)
	}

	reportPath, err := w.WriteReport(report)
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	raw, _ = os.ReadFile(reportPath)
	var doc reportDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(doc.ProjectHierarchy.RootProjects) != 1 {
		t.Fatalf("expected one root, got %d", len(doc.ProjectHierarchy.RootProjects))
	}
	child := doc.ProjectHierarchy.RootProjects[0].Children[0]
	if child.Name != "Child" || len(child.Children) != 1 || child.Children[0].Name != "Grandchild" {
		t.Fatalf("unexpected nesting %#v", child)
	}
	if doc.Totals.Count != 2 || doc.Totals.Total != 35.5 || doc.Truncated {
		t.Fatalf("unexpected totals %#v truncated=%v", doc.Totals, doc.Truncated)
	}
}

func TestWriter_ProjectsOnlyReportWritesHierarchyOnly(t *testing.T) {
	w := newTestWriter(t, FormatJSON, nil)
	report := sampleReport()
	report.Expenses = nil
	report.Summary = nil

	files, err := w.Export(context.Background(), report)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if files.Hierarchy == "" || files.Expenses != "" || files.Report != "" {
		t.Fatalf("expected hierarchy only, got %#v", files)
	}
}

func TestNewWriter_RejectsUnknownFormat(t *testing.T) {
	if _, err := NewWriter(WriterConfig{Format: "excel"}); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

type stubPutObject struct {
	keys    []string
	bodies  []string
	failKey string
}

func (s *stubPutObject) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := *params.Key
	if key == s.failKey {
		return nil, errors.New("access denied")
	}
	body, _ := io.ReadAll(params.Body)
	s.keys = append(s.keys, key)
	s.bodies = append(s.bodies, string(body))
	return &s3.PutObjectOutput{}, nil
}

func TestWriter_UploadsEveryFile(t *testing.T) {
	client := &stubPutObject{}
	uploader, err := NewS3UploaderWithClient(client, "reports", "/qbexport/")
	if err != nil {
		t.Fatalf("new uploader: %v", err)
	}
	w := newTestWriter(t, FormatJSON, uploader)

	files, err := w.Export(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(files.Uploaded) != 4 || len(client.keys) != 4 {
		t.Fatalf("expected four uploads, got %v", files.Uploaded)
	}
	if client.keys[0] != "qbexport/project_hierarchy_20260302_103000.json" {
		t.Fatalf("unexpected key %q", client.keys[0])
	}
	if files.Uploaded[0] != "s3://reports/qbexport/project_hierarchy_20260302_103000.json" {
		t.Fatalf("unexpected location %q", files.Uploaded[0])
	}
	if !strings.Contains(client.bodies[0], "root_projects") {
		t.Fatalf("expected file contents uploaded")
	}
}

func TestWriter_UploadFailureIsReturned(t *testing.T) {
	client := &stubPutObject{failKey: "project_hierarchy_20260302_103000.json"}
	uploader, _ := NewS3UploaderWithClient(client, "reports", "")
	w := newTestWriter(t, FormatJSON, uploader)

	if _, err := w.Export(context.Background(), sampleReport()); err == nil {
		t.Fatalf("expected upload failure")
	}
}

func TestNewS3Uploader_Config(t *testing.T) {
	uploader, err := NewS3Uploader(core.ExportConfig{})
	if err != nil || uploader != nil {
		t.Fatalf("expected disabled uploader without bucket, got %v %v", uploader, err)
	}
	if _, err := NewS3Uploader(core.ExportConfig{S3Bucket: "b", S3AccessKey: "only-key"}); err == nil {
		t.Fatalf("expected half-configured credentials rejected")
	}
	uploader, err = NewS3Uploader(core.ExportConfig{S3Bucket: "b", S3Endpoint: "http://localhost:9000", S3AccessKey: "k", S3SecretKey: "s"})
	if err != nil || uploader == nil {
		t.Fatalf("expected uploader, got %v", err)
	}
}
