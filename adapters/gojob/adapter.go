package gojob

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-qbexport/core"
)

const (
	JobIDRefresh = core.JobIDCredentialRefresh
	JobIDExport  = core.JobIDReportExport
)

// RetryPolicy bounds how often a failing export or refresh is requeued.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, MaxDelay: 10 * time.Minute, DeadLetterOnMax: true}
}

// NormalizeAttempt applies the policy to a nack for the given attempt. A
// nack either requeues or dead-letters, never both and never neither.
func (p RetryPolicy) NormalizeAttempt(opts core.JobNackOptions, attempt int) core.JobNackOptions {
	delay := max(opts.Delay, 0)
	if p.MaxDelay > 0 {
		delay = min(delay, p.MaxDelay)
	}
	exhausted := p.MaxAttempts > 0 && attempt >= p.MaxAttempts
	deadLetter := opts.DeadLetter || (exhausted && p.DeadLetterOnMax)
	return core.JobNackOptions{
		Delay:      delay,
		Requeue:    !deadLetter,
		DeadLetter: deadLetter,
		Reason:     strings.TrimSpace(opts.Reason),
	}
}

func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    job.DeduplicationPolicy(strings.TrimSpace(msg.DedupPolicy)),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		ScriptPath:     strings.TrimSpace(msg.ScriptPath),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
		DedupPolicy:    strings.TrimSpace(string(msg.DedupPolicy)),
	}
}

func ToNackOptions(opts core.JobNackOptions) queue.NackOptions {
	return queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	}
}

type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
	newKey   func() string
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer, newKey: uuid.NewString}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

// EnqueueRefresh schedules a credential refresh with a fresh idempotency key.
func (a *EnqueuerAdapter) EnqueueRefresh(ctx context.Context) (string, error) {
	key := a.idempotencyKey()
	return key, a.Enqueue(ctx, core.RefreshJobMessage(key))
}

// EnqueueExport schedules a report export with a fresh idempotency key.
func (a *EnqueuerAdapter) EnqueueExport(ctx context.Context, req core.ReportRequest) (string, error) {
	if strings.TrimSpace(req.ProjectCode) == "" {
		return "", fmt.Errorf("gojob: project code is required")
	}
	key := a.idempotencyKey()
	return key, a.Enqueue(ctx, core.ReportJobMessage(req, key))
}

func (a *EnqueuerAdapter) idempotencyKey() string {
	if a == nil || a.newKey == nil {
		return uuid.NewString()
	}
	return a.newKey()
}

// DeliveryAdapter exposes a go-job delivery as a core.JobDelivery. Nack
// applies the retry policy for the delivery's attempt number.
type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
	attempt  int
	settled  func(requeued bool)
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy}
}

func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

func (d *DeliveryAdapter) Attempt() int {
	if d == nil {
		return 0
	}
	return d.attempt
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	if err := d.delivery.Ack(ctx); err != nil {
		return err
	}
	d.settle(false)
	return nil
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.JobNackOptions) error {
	return d.NackForAttempt(ctx, opts, d.attempt)
}

func (d *DeliveryAdapter) NackForAttempt(ctx context.Context, opts core.JobNackOptions, attempt int) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, attempt)
	if err := d.delivery.Nack(ctx, ToNackOptions(normalized)); err != nil {
		return err
	}
	d.settle(normalized.Requeue)
	return nil
}

func (d *DeliveryAdapter) settle(requeued bool) {
	if d.settled != nil {
		d.settled(requeued)
	}
}

// DequeuerAdapter counts deliveries per idempotency key so redeliveries of
// the same job carry increasing attempt numbers.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy

	mu       sync.Mutex
	attempts map[string]int
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy, attempts: map[string]int{}}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, nil
	}
	adapter := NewDeliveryAdapter(delivery, a.policy)
	key := deliveryKey(delivery.Message())
	adapter.attempt = a.nextAttempt(key)
	adapter.settled = func(requeued bool) {
		if !requeued {
			a.forget(key)
		}
	}
	return adapter, nil
}

func (a *DequeuerAdapter) nextAttempt(key string) int {
	if key == "" {
		return 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts[key]++
	return a.attempts[key]
}

func (a *DequeuerAdapter) forget(key string) {
	if key == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attempts, key)
}

func deliveryKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key == "" {
		return ""
	}
	return strings.TrimSpace(msg.JobID) + "::" + key
}

// WorkerHookAdapter lets a go-job worker report lifecycle events to a
// core.JobWorkerHook such as LoggingHook.
type WorkerHookAdapter struct {
	hook core.JobWorkerHook
}

func NewWorkerHookAdapter(hook core.JobWorkerHook) *WorkerHookAdapter {
	return &WorkerHookAdapter{hook: hook}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnStart)
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnSuccess)
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnFailure)
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	a.forward(ctx, event, core.JobWorkerHook.OnRetry)
}

func (a *WorkerHookAdapter) forward(ctx context.Context, event worker.Event, fn func(core.JobWorkerHook, context.Context, core.JobWorkerEvent)) {
	if a == nil || a.hook == nil {
		return
	}
	fn(a.hook, ctx, mapWorkerEvent(event))
}

func mapWorkerEvent(event worker.Event) core.JobWorkerEvent {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	return core.JobWorkerEvent{
		Message:   FromExecutionMessage(message),
		Attempt:   event.Attempt,
		Delay:     event.Delay,
		Err:       event.Err,
		StartedAt: event.StartedAt,
		Duration:  event.Duration,
	}
}

// LoggingHook reports job lifecycle events through a logger.
type LoggingHook struct {
	logger core.Logger
}

func NewLoggingHook(logger core.Logger) *LoggingHook {
	return &LoggingHook{logger: logger}
}

func (h *LoggingHook) OnStart(_ context.Context, event core.JobWorkerEvent) {
	h.log("debug", "job started", event)
}

func (h *LoggingHook) OnSuccess(_ context.Context, event core.JobWorkerEvent) {
	h.log("info", "job succeeded", event)
}

func (h *LoggingHook) OnFailure(_ context.Context, event core.JobWorkerEvent) {
	h.log("error", "job dead-lettered", event)
}

func (h *LoggingHook) OnRetry(_ context.Context, event core.JobWorkerEvent) {
	h.log("warn", "job will retry", event)
}

func (h *LoggingHook) log(level string, msg string, event core.JobWorkerEvent) {
	if h == nil || h.logger == nil {
		return
	}
	args := []any{"attempt", event.Attempt, "duration", event.Duration.String()}
	if event.Message != nil {
		args = append(args, "job_id", event.Message.JobID, "idempotency_key", event.Message.IdempotencyKey)
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	if event.Delay > 0 {
		args = append(args, "delay", event.Delay.String())
	}
	switch level {
	case "debug":
		h.logger.Debug(msg, args...)
	case "warn":
		h.logger.Warn(msg, args...)
	case "error":
		h.logger.Error(msg, args...)
	default:
		h.logger.Info(msg, args...)
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	out := maps.Clone(in)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

var (
	_ core.JobEnqueuer   = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery   = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer   = (*DequeuerAdapter)(nil)
	_ core.JobWorkerHook = (*LoggingHook)(nil)
	_ worker.Hook        = (*WorkerHookAdapter)(nil)
)
