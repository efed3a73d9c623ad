package core

import (
	"context"
	"fmt"
	"strings"
)

const metricPrefix = "qbexport"

// Domain series recorded next to the per-operation ones.
const (
	MetricListingTruncated = metricPrefix + ".listing.truncated"
	MetricReportExpenses   = metricPrefix + ".report.expenses"
	MetricReportProjects   = metricPrefix + ".report.projects"
	MetricSnapshotFailed   = metricPrefix + ".snapshot.failed"
)

// operationMetric names a per-operation series, e.g. qbexport.build_report.total.
func operationMetric(operation string, suffix string) string {
	return metricPrefix + "." + operation + "." + suffix
}

// labelFields are the only operation fields promoted to metric labels.
var labelFields = []string{"realm_id", "entity", "project_code"}

func operationTags(operation string, status string, fields map[string]any) map[string]string {
	tags := map[string]string{"operation": operation, "status": status}
	for _, key := range labelFields {
		value, ok := fields[key]
		if !ok || value == nil {
			continue
		}
		if text := strings.TrimSpace(fmt.Sprint(value)); text != "" {
			tags[key] = text
		}
	}
	return tags
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (s *Service) countTruncation(ctx context.Context, entity string) {
	s.recordCounter(ctx, MetricListingTruncated, 1, map[string]string{"entity": entity})
}

func (s *Service) observeReportSize(ctx context.Context, report Report) {
	tags := map[string]string{}
	if report.Target != nil && report.Target.Code != "" {
		tags["project_code"] = report.Target.Code
	}
	s.recordHistogram(ctx, MetricReportProjects, float64(len(report.ProjectIDs)), tags)
	s.recordHistogram(ctx, MetricReportExpenses, float64(len(report.Expenses)), tags)
}

func (s *Service) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.IncCounter(ctx, name, value, cloneTags(tags))
}

func (s *Service) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if s == nil || s.metricsRecorder == nil {
		return
	}
	s.metricsRecorder.ObserveHistogram(ctx, name, value, cloneTags(tags))
}

func cloneTags(tags map[string]string) map[string]string {
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
