package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobIDCredentialRefresh = "qbexport.credential.refresh"
	JobIDReportExport      = "qbexport.report.export"

	defaultJobRetryDelay = 30 * time.Second
)

// ReportSink receives reports built by export jobs.
type ReportSink interface {
	Deliver(ctx context.Context, report Report) error
}

type ReportSinkFunc func(ctx context.Context, report Report) error

func (f ReportSinkFunc) Deliver(ctx context.Context, report Report) error {
	return f(ctx, report)
}

// JobRunner executes queued refresh and export messages against a Service.
type JobRunner struct {
	service    *Service
	sink       ReportSink
	hook       JobWorkerHook
	retryDelay time.Duration
}

type JobRunnerOption func(*JobRunner)

func WithReportSink(sink ReportSink) JobRunnerOption {
	return func(r *JobRunner) {
		r.sink = sink
	}
}

func WithJobWorkerHook(hook JobWorkerHook) JobRunnerOption {
	return func(r *JobRunner) {
		r.hook = hook
	}
}

func WithJobRetryDelay(delay time.Duration) JobRunnerOption {
	return func(r *JobRunner) {
		r.retryDelay = delay
	}
}

func NewJobRunner(service *Service, opts ...JobRunnerOption) (*JobRunner, error) {
	if service == nil {
		return nil, fmt.Errorf("core: service is required")
	}
	runner := &JobRunner{service: service, retryDelay: defaultJobRetryDelay}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

// ReportJobMessage builds the execution message for an export job.
func ReportJobMessage(req ReportRequest, idempotencyKey string) *JobExecutionMessage {
	return &JobExecutionMessage{
		JobID: JobIDReportExport,
		Parameters: map[string]any{
			"project_code":  strings.TrimSpace(req.ProjectCode),
			"start_date":    strings.TrimSpace(req.StartDate),
			"end_date":      strings.TrimSpace(req.EndDate),
			"projects_only": req.ProjectsOnly,
		},
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

func RefreshJobMessage(idempotencyKey string) *JobExecutionMessage {
	return &JobExecutionMessage{
		JobID:          JobIDCredentialRefresh,
		Parameters:     map[string]any{},
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

// RunOnce dequeues a single delivery, executes it and settles it. Auth
// failures, invalid requests and unknown project codes are dead-lettered;
// everything else is requeued after the retry delay.
func (r *JobRunner) RunOnce(ctx context.Context, dequeuer JobDequeuer) error {
	if r == nil || dequeuer == nil {
		return fmt.Errorf("core: job runner and dequeuer are required")
	}
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	message := delivery.Message()
	event := JobWorkerEvent{Message: message, Attempt: deliveryAttempt(delivery), StartedAt: time.Now().UTC()}
	r.onStart(ctx, event)

	execErr := r.Execute(ctx, message)
	event.Duration = time.Since(event.StartedAt)
	if execErr == nil {
		r.onSuccess(ctx, event)
		return delivery.Ack(ctx)
	}

	event.Err = execErr
	nack := JobNackOptions{Requeue: true, Delay: r.retryDelay, Reason: execErr.Error()}
	if IsPermanentFailure(execErr) {
		nack = JobNackOptions{DeadLetter: true, Reason: deadLetterReason(execErr)}
		r.onFailure(ctx, event)
	} else {
		event.Delay = nack.Delay
		r.onRetry(ctx, event)
	}
	if err := delivery.Nack(ctx, nack); err != nil {
		return fmt.Errorf("core: nack job %s: %w", jobID(message), err)
	}
	return execErr
}

func (r *JobRunner) Execute(ctx context.Context, message *JobExecutionMessage) error {
	if message == nil {
		return fmt.Errorf("core: job message is required")
	}
	switch strings.TrimSpace(message.JobID) {
	case JobIDCredentialRefresh:
		_, err := r.service.RefreshCredential(ctx)
		return err
	case JobIDReportExport:
		req, err := reportRequestFromParameters(message.Parameters)
		if err != nil {
			return err
		}
		report, err := r.service.BuildReport(ctx, req)
		if err != nil {
			return err
		}
		if r.sink == nil {
			return nil
		}
		return r.sink.Deliver(ctx, report)
	default:
		return fmt.Errorf("core: unsupported job id %q", message.JobID)
	}
}

func reportRequestFromParameters(params map[string]any) (ReportRequest, error) {
	req := ReportRequest{
		ProjectCode: stringParam(params, "project_code"),
		StartDate:   stringParam(params, "start_date"),
		EndDate:     stringParam(params, "end_date"),
	}
	if value, ok := params["projects_only"].(bool); ok {
		req.ProjectsOnly = value
	}
	if req.ProjectCode == "" {
		return ReportRequest{}, fmt.Errorf("%w: job parameter project_code is required", ErrInvalidReportRequest)
	}
	return req, nil
}

func deadLetterReason(err error) string {
	var notFound *ProjectNotFoundError
	if errors.As(err, &notFound) && len(notFound.KnownCodes) > 0 {
		return fmt.Sprintf("%s (known codes: %s)", err.Error(), strings.Join(notFound.KnownCodes, ", "))
	}
	return err.Error()
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func deliveryAttempt(delivery JobDelivery) int {
	if counted, ok := delivery.(interface{ Attempt() int }); ok && counted.Attempt() > 0 {
		return counted.Attempt()
	}
	return 1
}

func jobID(message *JobExecutionMessage) string {
	if message == nil {
		return ""
	}
	return message.JobID
}

func (r *JobRunner) onStart(ctx context.Context, event JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnStart(ctx, event)
	}
}

func (r *JobRunner) onSuccess(ctx context.Context, event JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnSuccess(ctx, event)
	}
}

func (r *JobRunner) onFailure(ctx context.Context, event JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnFailure(ctx, event)
	}
}

func (r *JobRunner) onRetry(ctx context.Context, event JobWorkerEvent) {
	if r.hook != nil {
		r.hook.OnRetry(ctx, event)
	}
}
