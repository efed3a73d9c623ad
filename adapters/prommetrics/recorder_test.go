package prommetrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func findFamily(t *testing.T, r *Recorder, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() == name {
			return family
		}
	}
	t.Fatalf("metric %q not registered", name)
	return nil
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}

func TestRecorder_CountsOperationsWithFixedLabels(t *testing.T) {
	r := NewRecorder("qbexport")
	ctx := context.Background()

	tags := map[string]string{"operation": "export_report", "status": "success", "project_code": "P-1", "ignored": "x"}
	r.IncCounter(ctx, "qbexport.export_report.total", 1, tags)
	r.IncCounter(ctx, "qbexport.export_report.total", 2, tags)

	family := findFamily(t, r, "qbexport_export_report_total")
	if len(family.GetMetric()) != 1 {
		t.Fatalf("expected one series, got %d", len(family.GetMetric()))
	}
	metric := family.GetMetric()[0]
	if metric.GetCounter().GetValue() != 3 {
		t.Fatalf("expected counter 3, got %v", metric.GetCounter().GetValue())
	}
	if labelValue(metric, "project_code") != "P-1" || labelValue(metric, "realm_id") != "" {
		t.Fatalf("unexpected labels %v", metric.GetLabel())
	}
}

func TestRecorder_ObservesHistogramsAndPrefixesNamespace(t *testing.T) {
	r := NewRecorder("qbexport")
	r.ObserveHistogram(context.Background(), "fetch.duration_ms", 42, map[string]string{"entity": "Purchase"})

	family := findFamily(t, r, "qbexport_fetch_duration_ms")
	hist := family.GetMetric()[0].GetHistogram()
	if hist.GetSampleCount() != 1 || hist.GetSampleSum() != 42 {
		t.Fatalf("unexpected histogram %v", hist)
	}
}

func TestRecorder_HandlerExposesMetrics(t *testing.T) {
	r := NewRecorder("qbexport")
	r.IncCounter(context.Background(), "qbexport.refresh_credential.total", 1, map[string]string{"status": "error"})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `qbexport_refresh_credential_total{entity="",operation="",project_code="",realm_id="",status="error"} 1`) {
		t.Fatalf("unexpected exposition:\n%s", body)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"qbexport.test_connection.total": "qbexport_test_connection_total",
		"9lives":                         "_9lives",
		" a-b ":                          "a_b",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Fatalf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}
