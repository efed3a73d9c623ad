package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-qbexport/core"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"

	timestampLayout = "20060102_150405"
)

// Uploader copies a written export somewhere else and returns its location.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

type WriterConfig struct {
	OutputDir string
	Format    string
	Uploader  Uploader
	Logger    core.Logger
	Now       func() time.Time
}

// Writer renders hierarchies, expenses and summaries into timestamped files
// under one directory.
type Writer struct {
	dir      string
	format   string
	uploader Uploader
	logger   core.Logger
	now      func() time.Time
}

// Files lists what one report export produced.
type Files struct {
	Hierarchy string
	Expenses  string
	Summary   string
	Report    string
	Uploaded  []string
}

func (f Files) Paths() []string {
	out := make([]string, 0, 4)
	for _, path := range []string{f.Hierarchy, f.Expenses, f.Summary, f.Report} {
		if path != "" {
			out = append(out, path)
		}
	}
	return out
}

func NewWriter(cfg WriterConfig) (*Writer, error) {
	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		return nil, fmt.Errorf("export: unsupported format %q", cfg.Format)
	}
	dir := strings.TrimSpace(cfg.OutputDir)
	if dir == "" {
		dir = "exports"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Writer{
		dir:      dir,
		format:   format,
		uploader: cfg.Uploader,
		logger:   glog.Ensure(cfg.Logger),
		now:      now,
	}, nil
}

func (w *Writer) Dir() string    { return w.dir }
func (w *Writer) Format() string { return w.format }

// Export writes the hierarchy and, when the report carries expenses, the
// expense rows, the per-project summary and the combined report. The combined
// report is always JSON.
func (w *Writer) Export(ctx context.Context, report core.Report) (Files, error) {
	var files Files
	var err error
	if files.Hierarchy, err = w.WriteHierarchy(report.Hierarchy); err != nil {
		return files, err
	}
	if len(report.Expenses) > 0 {
		if files.Expenses, err = w.WriteExpenses(report.Expenses); err != nil {
			return files, err
		}
		if files.Summary, err = w.WriteSummary(report.Summary); err != nil {
			return files, err
		}
		if files.Report, err = w.WriteReport(report); err != nil {
			return files, err
		}
	}
	if w.uploader == nil {
		return files, nil
	}
	for _, path := range files.Paths() {
		location, uploadErr := w.uploader.Upload(ctx, path)
		if uploadErr != nil {
			return files, fmt.Errorf("export: upload %s: %w", filepath.Base(path), uploadErr)
		}
		w.logger.Info("export uploaded", "file", filepath.Base(path), "location", location)
		files.Uploaded = append(files.Uploaded, location)
	}
	return files, nil
}

// Deliver lets the writer act as a report sink for jobs and commands.
func (w *Writer) Deliver(ctx context.Context, report core.Report) error {
	_, err := w.Export(ctx, report)
	return err
}

func (w *Writer) WriteHierarchy(h core.Hierarchy) (string, error) {
	if w.format == FormatJSON {
		return w.writeJSON("project_hierarchy", hierarchyDocument(h))
	}
	return w.writeCSV("project_hierarchy", func(cw *csv.Writer) error {
		if err := cw.Write([]string{"Level", "Project_ID", "Project_Name", "Project_Code", "Description", "Parent_Project_ID", "Full_Path", "Child_Count"}); err != nil {
			return err
		}
		var writeErr error
		core.Walk(h, func(entry core.WalkEntry) {
			if writeErr != nil {
				return
			}
			node := entry.Node
			writeErr = cw.Write([]string{
				strconv.Itoa(entry.Level),
				node.ID,
				node.Name,
				node.Code,
				node.Description,
				node.ParentID,
				strings.Join(entry.Path, "/"),
				strconv.Itoa(len(node.Children)),
			})
		})
		return writeErr
	})
}

func (w *Writer) WriteExpenses(expenses []core.Transaction) (string, error) {
	if w.format == FormatJSON {
		docs := make([]json.RawMessage, 0, len(expenses))
		for _, txn := range expenses {
			raw := txn.Raw
			if len(raw) == 0 {
				encoded, err := json.Marshal(txn)
				if err != nil {
					return "", fmt.Errorf("export: encode expense %s: %w", txn.ID, err)
				}
				raw = encoded
			}
			docs = append(docs, raw)
		}
		return w.writeJSON("expenses", docs)
	}
	return w.writeCSV("expenses", func(cw *csv.Writer) error {
		if err := cw.Write([]string{"Expense_ID", "Date", "Doc_Number", "Payee_ID", "Payee_Name", "Description", "Amount", "Project_ID", "Project_Name", "Total_Amount", "Created_Date", "Last_Modified"}); err != nil {
			return err
		}
		for _, txn := range expenses {
			lines := txn.Line
			if len(lines) == 0 {
				lines = []core.TransactionLine{{}}
			}
			for _, line := range lines {
				if err := cw.Write([]string{
					txn.ID,
					txn.TxnDate,
					txn.DocNumber,
					refValue(txn.EntityRef),
					refName(txn.EntityRef),
					line.Description,
					formatAmount(line.Amount),
					refValue(txn.ProjectRef),
					refName(txn.ProjectRef),
					formatAmount(txn.TotalAmt),
					txn.MetaData.CreateTime,
					txn.MetaData.LastUpdatedTime,
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (w *Writer) WriteSummary(summary map[string]core.ExpenseSummary) (string, error) {
	keys := core.SortedSummaryKeys(summary)
	if w.format == FormatJSON {
		rows := make([]summaryRow, 0, len(keys))
		for _, key := range keys {
			rows = append(rows, newSummaryRow(key, summary[key]))
		}
		return w.writeJSON("expenses_summary", summaryDocument{
			Projects: rows,
			Totals:   core.ComputeTotals(summary),
		})
	}
	return w.writeCSV("expenses_summary", func(cw *csv.Writer) error {
		if err := cw.Write([]string{"Project_ID", "Project_Name", "Expense_Count", "Total_Amount"}); err != nil {
			return err
		}
		for _, key := range keys {
			entry := summary[key]
			if err := cw.Write([]string{key, entry.ProjectName, strconv.Itoa(entry.Count), formatAmount(entry.Total)}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *Writer) WriteReport(report core.Report) (string, error) {
	keys := core.SortedSummaryKeys(report.Summary)
	rows := make([]summaryRow, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, newSummaryRow(key, report.Summary[key]))
	}
	doc := reportDocument{
		ExportTimestamp:  w.now().UTC(),
		GeneratedAt:      report.GeneratedAt,
		Target:           report.Target,
		ProjectIDs:       report.ProjectIDs,
		StartDate:        report.StartDate,
		EndDate:          report.EndDate,
		ProjectHierarchy: hierarchyDocument(report.Hierarchy),
		ExpensesSummary:  rows,
		Totals:           report.Totals,
		Truncated:        report.Truncated(),
		Truncations:      report.Truncations,
	}
	return w.writeJSON("comprehensive_report", doc)
}

func (w *Writer) writeJSON(prefix string, value any) (string, error) {
	return w.write(prefix, FormatJSON, func(out io.Writer) error {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(value)
	})
}

func (w *Writer) writeCSV(prefix string, fill func(*csv.Writer) error) (string, error) {
	return w.write(prefix, FormatCSV, func(out io.Writer) error {
		cw := csv.NewWriter(out)
		if err := fill(cw); err != nil {
			return err
		}
		cw.Flush()
		return cw.Error()
	})
}

func (w *Writer) write(prefix string, ext string, fill func(io.Writer) error) (path string, err error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create output dir: %w", err)
	}
	path = filepath.Join(w.dir, prefix+"_"+w.now().Format(timestampLayout)+"."+ext)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("export: close %s: %w", filepath.Base(path), closeErr)
		}
	}()
	if err := fill(file); err != nil {
		return "", fmt.Errorf("export: write %s: %w", filepath.Base(path), err)
	}
	w.logger.Debug("export written", "file", path)
	return path, nil
}

func refValue(ref *core.Ref) string {
	if ref == nil {
		return ""
	}
	return ref.Value
}

func refName(ref *core.Ref) string {
	if ref == nil {
		return ""
	}
	return ref.Name
}

func formatAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}

var _ core.ReportSink = (*Writer)(nil)
