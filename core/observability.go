package core

import (
	"context"
	"sort"
	"strings"
	"time"
)

type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelWarn
	levelError
)

// observeOperation logs and meters one finished service operation. Every
// operation emits <name>.total and <name>.duration_ms tagged with its status.
func (s *Service) observeOperation(ctx context.Context, startedAt time.Time, operation string, err error, fields map[string]any) {
	if s == nil {
		return
	}
	operation = normalizeOperation(operation)
	elapsed := time.Since(startedAt)

	status, level, verb := "success", levelInfo, "succeeded"
	if err != nil {
		status, level, verb = "failure", levelError, "failed"
	}

	entry := cloneFields(fields)
	entry["event_type"] = operation
	entry["status"] = status
	entry["duration_ms"] = elapsed.Milliseconds()
	if err != nil {
		entry["error"] = err.Error()
		if mapped := MapError(err); mapped != nil {
			entry["error_category"] = string(mapped.Category)
			entry["error_text_code"] = mapped.TextCode
		}
	}

	tags := operationTags(operation, status, entry)
	s.recordCounter(ctx, operationMetric(operation, "total"), 1, tags)
	s.recordHistogram(ctx, operationMetric(operation, "duration_ms"), float64(elapsed.Milliseconds()), tags)
	s.log(ctx, level, operation+" "+verb, entry)
}

func (s *Service) logWarn(ctx context.Context, message string, fields map[string]any) {
	s.log(ctx, levelWarn, message, fields)
}

// log redacts fields before they reach the logger. Loggers that accept
// structured fields get them attached as well as flattened into args.
func (s *Service) log(ctx context.Context, level logLevel, message string, fields map[string]any) {
	if s == nil || s.logger == nil {
		return
	}
	logger := s.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	fields = RedactSensitiveMap(fields)
	if structured, ok := logger.(FieldsLogger); ok {
		logger = structured.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch level {
	case levelDebug:
		logger.Debug(message, args...)
	case levelWarn:
		logger.Warn(message, args...)
	case levelError:
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields)+4)
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

// flattenFields turns fields into sorted key/value args.
func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2*len(keys))
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.ToLower(strings.TrimSpace(operation))
	operation = strings.NewReplacer(" ", "_", "-", "_").Replace(operation)
	if operation == "" {
		return "unknown"
	}
	return operation
}
