package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	goerrors "github.com/goliatone/go-errors"

	qbexport "github.com/goliatone/go-qbexport"
	"github.com/goliatone/go-qbexport/adapters/gocommand"
	"github.com/goliatone/go-qbexport/adapters/gojob"
	"github.com/goliatone/go-qbexport/adapters/gologger"
	qbcommand "github.com/goliatone/go-qbexport/command"
	"github.com/goliatone/go-qbexport/core"
	"github.com/goliatone/go-qbexport/export"
	qbquery "github.com/goliatone/go-qbexport/query"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitUsage     = 2
	exitTruncated = 3
)

// commonFlags are accepted by every subcommand.
type commonFlags struct {
	config  string
	verbose bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", "qbexport.yaml", "Optional YAML config file")
	fs.BoolVar(&c.verbose, "verbose", false, "Verbose output, including error envelopes")
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(exitUsage)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1], os.Args[2:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, name string, args []string, stdout io.Writer, stderr io.Writer) int {
	switch name {
	case "authenticate":
		return runAuthenticate(ctx, args, stdout, stderr)
	case "refresh":
		return runRefresh(ctx, args, stdout, stderr)
	case "test":
		return runTest(ctx, args, stdout, stderr)
	case "hierarchy":
		return runHierarchy(ctx, args, stdout, stderr)
	case "export":
		return runExport(ctx, args, stdout, stderr)
	case "batch":
		return runBatch(ctx, args, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", name)
		printUsage(stderr)
		return exitUsage
	}
}

// session is a built runtime plus a dispatcher bus whose export sink keeps
// the files it wrote.
type session struct {
	runtime *qbexport.Runtime
	bus     *gocommand.Bus
	files   export.Files
}

func open(ctx context.Context, common commonFlags, opts qbexport.RuntimeOptions, stdout io.Writer, stderr io.Writer) (*session, error) {
	level := "warn"
	if common.verbose {
		level = "debug"
	}
	root := gologger.NewZerologLogger(stderr, level)

	opts.ConfigFile = common.config
	opts.Logger = root
	opts.LoggerProvider = gologger.NewZerologProvider(root)
	opts.Output = stdout
	rt, err := qbexport.Build(ctx, opts)
	if err != nil {
		return nil, err
	}

	s := &session{runtime: rt}
	sink := core.ReportSinkFunc(func(ctx context.Context, report core.Report) error {
		files, err := rt.Writer.Export(ctx, report)
		s.files = files
		return err
	})
	s.bus, err = gocommand.NewBus(gocommand.BusConfig{Service: rt.Service, Sink: sink})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	if s == nil {
		return
	}
	s.bus.Close()
	_ = s.runtime.Close()
}

func runAuthenticate(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("authenticate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	timeout := fs.Duration("timeout", core.DefaultAuthTimeout, "How long to wait for the browser consent")
	noBrowser := fs.Bool("no-browser", false, "Print the consent URL instead of opening a browser")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	runtimeCfg := qbexport.Config{}
	runtimeCfg.OAuth.NoBrowser = *noBrowser
	s, err := open(ctx, common, qbexport.RuntimeOptions{Runtime: runtimeCfg}, stdout, stderr)
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	defer s.Close()

	result, _, err := gocommand.Dispatch[qbcommand.AuthenticateMessage, qbcommand.CredentialResult](
		ctx,
		qbcommand.AuthenticateMessage{Timeout: *timeout},
	)
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	fmt.Fprintln(stdout, "Authentication completed successfully.")
	printCredential(stdout, result)
	fmt.Fprintf(stdout, "Tokens saved to: %s\n", s.runtime.Config.Storage.TokenFile)
	return exitOK
}

func runRefresh(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	s, err := open(ctx, common, qbexport.RuntimeOptions{}, stdout, stderr)
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	defer s.Close()

	result, _, err := gocommand.Dispatch[qbcommand.RefreshMessage, qbcommand.CredentialResult](ctx, qbcommand.RefreshMessage{})
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	fmt.Fprintln(stdout, "Tokens refreshed.")
	printCredential(stdout, result)
	return exitOK
}

func runTest(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	s, err := open(ctx, common, qbexport.RuntimeOptions{}, stdout, stderr)
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	defer s.Close()

	info, err := gocommand.Query[qbquery.CompanyInfoMessage, core.CompanyInfo](ctx, qbquery.CompanyInfoMessage{})
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	fmt.Fprintf(stdout, "CompanyInfo OK: %s (realm %s)\n", info.CompanyName, info.RealmID)
	if info.LegalName != "" && info.LegalName != info.CompanyName {
		fmt.Fprintf(stdout, "Legal name: %s\n", info.LegalName)
	}
	if info.Country != "" {
		fmt.Fprintf(stdout, "Country: %s\n", info.Country)
	}
	return exitOK
}

func runHierarchy(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("hierarchy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	strict := fs.Bool("strict", false, "Exit non-zero when the project listing was truncated")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	s, err := open(ctx, common, qbexport.RuntimeOptions{}, stdout, stderr)
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	defer s.Close()

	result, err := gocommand.Query[qbquery.ProjectHierarchyMessage, qbquery.HierarchyResult](ctx, qbquery.ProjectHierarchyMessage{})
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	printTree(stdout, result.Hierarchy)
	fmt.Fprintf(stdout, "%d projects\n", result.Hierarchy.Len())
	if result.Truncation != nil {
		return warnTruncated(stderr, []core.Truncation{*result.Truncation}, *strict)
	}
	return exitOK
}

func runExport(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	projectCode := fs.String("project-code", "", "Project code to retrieve expenses for (required)")
	startDate := fs.String("start-date", "", "Start date for expenses (YYYY-MM-DD)")
	endDate := fs.String("end-date", "", "End date for expenses (YYYY-MM-DD)")
	format := fs.String("format", "", "Export format: json or csv (default from config)")
	outputDir := fs.String("output-dir", "", "Output directory for exported files (default from config)")
	projectsOnly := fs.Bool("projects-only", false, "Only export the project hierarchy, skip expenses")
	strict := fs.Bool("strict", false, "Exit non-zero when any listing was truncated")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	msg := qbcommand.ExportReportMessage{
		ProjectCode:  strings.TrimSpace(*projectCode),
		StartDate:    strings.TrimSpace(*startDate),
		EndDate:      strings.TrimSpace(*endDate),
		ProjectsOnly: *projectsOnly,
	}
	if err := gocommand.ValidateMessageContract(msg); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", readableMessage(err))
		fs.Usage()
		return exitUsage
	}

	runtimeCfg := qbexport.Config{}
	runtimeCfg.Export.Format = strings.TrimSpace(*format)
	runtimeCfg.Export.OutputDir = strings.TrimSpace(*outputDir)
	s, err := open(ctx, common, qbexport.RuntimeOptions{Runtime: runtimeCfg}, stdout, stderr)
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	defer s.Close()

	fmt.Fprintf(stdout, "Starting QuickBooks data extraction for project: %s\n", msg.ProjectCode)
	if msg.StartDate != "" || msg.EndDate != "" {
		end := msg.EndDate
		if end == "" {
			end = "present"
		}
		fmt.Fprintf(stdout, "Date range: %s to %s\n", orDefault(msg.StartDate, "beginning"), end)
	}
	fmt.Fprintf(stdout, "Export format: %s\n", s.runtime.Writer.Format())
	fmt.Fprintf(stdout, "Output directory: %s\n", s.runtime.Writer.Dir())

	startedAt := time.Now()
	report, _, err := gocommand.Dispatch[qbcommand.ExportReportMessage, core.Report](ctx, msg)
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}

	if report.Target != nil {
		fmt.Fprintf(stdout, "Found project: %s (ID: %s)\n", report.Target.Name, report.Target.ID)
	}
	fmt.Fprintf(stdout, "Retrieved data for %d projects (including subprojects)\n", len(report.ProjectIDs))
	if !msg.ProjectsOnly {
		printSummary(stdout, report)
	}
	fmt.Fprintln(stdout, "Files:")
	for _, path := range s.files.Paths() {
		fmt.Fprintf(stdout, "  %s\n", path)
	}
	for _, key := range s.files.Uploaded {
		fmt.Fprintf(stdout, "  uploaded %s\n", key)
	}
	fmt.Fprintf(stdout, "Data extraction completed in %s.\n", time.Since(startedAt).Round(time.Millisecond))

	if report.Truncated() {
		return warnTruncated(stderr, report.Truncations, *strict)
	}
	return exitOK
}

func runBatch(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	codes := fs.String("project-codes", "", "Comma separated project codes to export (required)")
	startDate := fs.String("start-date", "", "Start date for expenses (YYYY-MM-DD)")
	endDate := fs.String("end-date", "", "End date for expenses (YYYY-MM-DD)")
	format := fs.String("format", "", "Export format: json or csv (default from config)")
	outputDir := fs.String("output-dir", "", "Output directory for exported files (default from config)")
	projectsOnly := fs.Bool("projects-only", false, "Only export project hierarchies, skip expenses")
	maxAttempts := fs.Int("max-attempts", gojob.DefaultRetryPolicy().MaxAttempts, "Attempts per project before giving up")
	retryDelay := fs.Duration("retry-delay", 10*time.Second, "Delay before retrying a failed export")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	reqs := []core.ReportRequest{}
	for _, code := range strings.Split(*codes, ",") {
		msg := qbcommand.ExportReportMessage{
			ProjectCode:  strings.TrimSpace(code),
			StartDate:    strings.TrimSpace(*startDate),
			EndDate:      strings.TrimSpace(*endDate),
			ProjectsOnly: *projectsOnly,
		}
		if msg.ProjectCode == "" {
			continue
		}
		if err := msg.Validate(); err != nil {
			fmt.Fprintf(stderr, "Error: %s\n", readableMessage(err))
			return exitUsage
		}
		reqs = append(reqs, msg.Request())
	}
	if len(reqs) == 0 {
		fmt.Fprintln(stderr, "Error: -project-codes is required")
		fs.Usage()
		return exitUsage
	}

	opts := qbexport.RuntimeOptions{
		RetryPolicy: gojob.RetryPolicy{MaxAttempts: *maxAttempts, MaxDelay: 10 * time.Minute, DeadLetterOnMax: true},
		RetryDelay:  *retryDelay,
	}
	opts.Runtime.Export.Format = strings.TrimSpace(*format)
	opts.Runtime.Export.OutputDir = strings.TrimSpace(*outputDir)
	s, err := open(ctx, common, opts, stdout, stderr)
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	defer s.Close()

	fmt.Fprintf(stdout, "Queued %d project exports to %s\n", len(reqs), s.runtime.Writer.Dir())
	result, err := s.runtime.RunBatch(ctx, reqs)
	if err != nil {
		return reportError(stderr, err, common.verbose)
	}
	fmt.Fprintf(stdout, "Completed %d of %d exports.\n", result.Completed, result.Queued)
	if len(result.DeadLetters) == 0 {
		return exitOK
	}
	for _, dead := range result.DeadLetters {
		code := ""
		if dead.Message != nil {
			code = fmt.Sprint(dead.Message.Parameters["project_code"])
		}
		fmt.Fprintf(stderr, "Failed: %s: %s\n", code, dead.Reason)
	}
	return exitFailure
}

func printCredential(w io.Writer, result qbcommand.CredentialResult) {
	fmt.Fprintf(w, "Realm: %s\n", result.RealmID)
	if !result.ExpiresAt.IsZero() {
		fmt.Fprintf(w, "Access token expires: %s\n", result.ExpiresAt.Local().Format(time.RFC1123))
	}
	if !result.Refreshable {
		fmt.Fprintln(w, "No refresh token was issued; re-authenticate when the access token expires.")
	}
}

func printTree(w io.Writer, h core.Hierarchy) {
	core.Walk(h, func(entry core.WalkEntry) {
		indent := strings.Repeat("  ", entry.Level)
		code := entry.Node.Code
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(w, "%s%s: %s\n", indent, code, entry.Node.Name)
	})
}

func printSummary(w io.Writer, report core.Report) {
	if report.Totals.Count == 0 {
		fmt.Fprintln(w, "No expenses found for the specified project and subprojects.")
		return
	}
	fmt.Fprintln(w, "Expenses by project:")
	for _, key := range core.SortedSummaryKeys(report.Summary) {
		summary := report.Summary[key]
		fmt.Fprintf(w, "  %-40s %5d  %12.2f\n", summary.ProjectName, summary.Count, summary.Total)
	}
	fmt.Fprintf(w, "Total expenses found: %d (%.2f)\n", report.Totals.Count, report.Totals.Total)
}

func warnTruncated(w io.Writer, truncations []core.Truncation, strict bool) int {
	for _, t := range truncations {
		scope := t.Entity
		if t.ProjectID != "" {
			scope = fmt.Sprintf("%s for project %s", t.Entity, t.ProjectID)
		}
		fmt.Fprintf(w, "Warning: %s listing stopped at page %d after %d records: %s\n", scope, t.Page, t.Records, t.Reason)
	}
	if strict {
		fmt.Fprintln(w, "Error: results are incomplete (-strict)")
		return exitTruncated
	}
	fmt.Fprintln(w, "Warning: results are incomplete; rerun to fetch the remaining records.")
	return exitOK
}

func reportError(w io.Writer, err error, verbose bool) int {
	mapped := core.MapError(err)
	switch {
	case mapped != nil && mapped.TextCode == core.ErrorProjectNotFound:
		code, _ := mapped.Metadata["code"].(string)
		fmt.Fprintf(w, "Error: Project with code '%s' not found.\n", code)
		if truncated, _ := mapped.Metadata["listing_truncated"].(bool); truncated {
			reason, _ := mapped.Metadata["truncation"].(string)
			fmt.Fprintf(w, "Warning: the project listing was incomplete (%s); the project may exist.\n", reason)
		}
		if known := knownCodes(err, mapped); len(known) > 0 {
			fmt.Fprintln(w, "Available project codes:")
			for _, code := range known {
				fmt.Fprintf(w, "  %s\n", code)
			}
		}
	case errors.Is(err, core.ErrNotAuthenticated) || (mapped != nil && mapped.TextCode == core.ErrorNotAuthenticated):
		fmt.Fprintln(w, "Error: Not authenticated with QuickBooks.")
		fmt.Fprintln(w, "Please run 'qbexport authenticate' first.")
	default:
		fmt.Fprintf(w, "Error: %s\n", readableMessage(err))
	}

	if verbose {
		printEnvelope(w, mapped)
	}
	return exitFailure
}

func knownCodes(err error, mapped *goerrors.Error) []string {
	var notFound *core.ProjectNotFoundError
	if errors.As(err, &notFound) {
		return notFound.KnownCodes
	}
	switch codes := mapped.Metadata["known_codes"].(type) {
	case []string:
		return codes
	case []any:
		out := make([]string, 0, len(codes))
		for _, code := range codes {
			out = append(out, fmt.Sprint(code))
		}
		return out
	}
	return nil
}

func readableMessage(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if fields := rich.AllValidationErrors(); len(fields) > 0 {
			parts := make([]string, 0, len(fields))
			for _, field := range fields {
				parts = append(parts, fmt.Sprintf("%s %s", field.Field, field.Message))
			}
			return strings.Join(parts, "; ")
		}
		return rich.Message
	}
	return err.Error()
}

func printEnvelope(w io.Writer, mapped *goerrors.Error) {
	if mapped == nil {
		return
	}
	fmt.Fprintf(w, "  category: %s\n  code: %d\n  text_code: %s\n", mapped.Category, mapped.Code, mapped.TextCode)
	keys := make([]string, 0, len(mapped.Metadata))
	for key := range mapped.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	redacted := core.RedactSensitiveMap(mapped.Metadata)
	for _, key := range keys {
		fmt.Fprintf(w, "  %s: %v\n", key, redacted[key])
	}
}

func orDefault(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage:
  qbexport authenticate [-timeout 5m] [-no-browser]
  qbexport refresh
  qbexport test
  qbexport hierarchy [-strict]
  qbexport export -project-code <code> [-start-date YYYY-MM-DD] [-end-date YYYY-MM-DD]
                  [-format json|csv] [-output-dir dir] [-projects-only] [-strict]
  qbexport batch -project-codes A,B,C [-start-date ...] [-end-date ...] [-max-attempts 5] [-retry-delay 10s]

Commands:
  authenticate   Run the browser consent flow and save tokens
  refresh        Exchange the saved refresh token for a new access token
  test           Call CompanyInfo with the saved tokens, refreshing once on expiry
  hierarchy      Print the project tree with project codes
  export         Export the hierarchy and expenses for a project and its subprojects
  batch          Queue exports for several projects and retry transient failures

Common flags:
  -config string   Optional YAML config file (default: qbexport.yaml)
  -verbose         Debug logging and error envelope details

Environment:
  QUICKBOOKS_CLIENT_ID, QUICKBOOKS_CLIENT_SECRET, QUICKBOOKS_REDIRECT_URI,
  QUICKBOOKS_ENVIRONMENT, QUICKBOOKS_TOKEN_FILE, QBEXPORT_OUTPUT_DIR, QBEXPORT_FORMAT,
  QBEXPORT_TOKEN_KEY, QBEXPORT_SNAPSHOT_DSN, QBEXPORT_S3_BUCKET`)
}
