package core

import (
	"context"
	"sync"
	"testing"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFieldMap(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFieldMap(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFieldMap(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func cloneFieldMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

func newObservedService(t *testing.T, metrics MetricsRecorder, logger *captureLogger, opts ...Option) *Service {
	t.Helper()
	base := []Option{
		WithMetricsRecorder(metrics),
		WithLoggerProvider(stubLoggerProvider{logger: logger}),
		WithLogger(logger),
		WithCredentialStore(newMemoryCredentialStore(storedCredential())),
		WithTokenEndpoint(&stubTokenEndpoint{refreshResult: TokenResponse{AccessToken: "access-new"}}),
	}
	svc, err := NewService(DefaultConfig(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestServiceObservability_RefreshSuccess(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc := newObservedService(t, metrics, logger)

	if _, err := svc.RefreshCredential(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !hasCounter(metrics.counters, "qbexport.refresh_credential.total", "success") {
		t.Fatalf("expected qbexport.refresh_credential.total success counter")
	}
	if !hasHistogram(metrics.histograms, "qbexport.refresh_credential.duration_ms", "success") {
		t.Fatalf("expected refresh duration histogram")
	}
	if !hasLog(logger.snapshot(), "info", "refresh_credential succeeded", "refresh_credential") {
		t.Fatalf("expected refresh_credential succeeded structured log")
	}
}

func TestServiceObservability_FailureCarriesErrorCodes(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc := newObservedService(t, metrics, logger,
		WithProjectSource(&stubProjectSource{projects: []Project{project("1", "Root", "R-1", "")}}),
		WithTransactionSource(&stubTransactionSource{}),
	)

	_, err := svc.BuildReport(context.Background(), ReportRequest{ProjectCode: "missing"})
	if err == nil {
		t.Fatalf("expected project not found")
	}
	if !hasCounter(metrics.counters, "qbexport.build_report.total", "failure") {
		t.Fatalf("expected build_report failure counter")
	}
	records := logger.snapshot()
	last := records[len(records)-1]
	if last.level != "error" || last.msg != "build_report failed" {
		t.Fatalf("expected failure log, got %+v", last)
	}
	if last.fields["error_text_code"] != ErrorProjectNotFound {
		t.Fatalf("expected project not found text code, got %#v", last.fields["error_text_code"])
	}
	if last.fields["project_code"] != "missing" {
		t.Fatalf("expected project_code kept visible, got %#v", last.fields["project_code"])
	}
}

func hasCounter(counters []capturedCounter, name string, status string) bool {
	for _, counter := range counters {
		if counter.name == name && counter.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasHistogram(histograms []capturedHistogram, name string, status string) bool {
	for _, histogram := range histograms {
		if histogram.name == name && histogram.tags["status"] == status {
			return true
		}
	}
	return false
}

func hasLog(records []capturedLog, level string, message string, eventType string) bool {
	for _, record := range records {
		if record.level == level && record.msg == message && record.fields["event_type"] == eventType {
			return true
		}
	}
	return false
}

func TestServiceObservability_TruncationAndReportSize(t *testing.T) {
	metrics := &captureMetricsRecorder{}
	logger := newCaptureLogger()
	svc := newObservedService(t, metrics, logger,
		WithProjectSource(&stubProjectSource{
			projects: []Project{project("1", "Root", "R-1", ""), project("2", "Child", "C-1", "1")},
			report:   FetchReport{Entity: "Project", Pages: 2, Records: 2, Truncated: true},
		}),
		WithTransactionSource(&stubTransactionSource{}),
	)

	report, err := svc.BuildReport(context.Background(), ReportRequest{ProjectCode: "R-1"})
	if err != nil {
		t.Fatalf("build report: %v", err)
	}
	if !report.Truncated() {
		t.Fatalf("expected truncated report")
	}

	truncations := 0
	for _, counter := range metrics.counters {
		if counter.name == MetricListingTruncated && counter.tags["entity"] == "Project" {
			truncations++
		}
	}
	if truncations != 1 {
		t.Fatalf("expected one project truncation counter, got %d", truncations)
	}

	var projects float64 = -1
	for _, histogram := range metrics.histograms {
		if histogram.name == MetricReportProjects {
			projects = histogram.value
		}
	}
	if projects != 2 {
		t.Fatalf("expected report project histogram of 2, got %v", projects)
	}
	if !hasWarn(logger.snapshot(), "project listing truncated") {
		t.Fatalf("expected truncation warning")
	}
}

func hasWarn(records []capturedLog, message string) bool {
	for _, record := range records {
		if record.level == "warn" && record.msg == message {
			return true
		}
	}
	return false
}
