package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	qbcommand "github.com/goliatone/go-qbexport/command"
	"github.com/goliatone/go-qbexport/core"
	qbquery "github.com/goliatone/go-qbexport/query"
)

// Service is everything the registered commands and queries call.
type Service interface {
	qbcommand.MutatingService
	qbquery.ReadService
}

// ValidateMessageContract enforces Type() plus the optional Validate().
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) register(handler any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(handler)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so the export and refresh commands can also run from a worker.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// Bus owns the dispatcher subscriptions of the qbexport commands and
// queries. Subscriptions are process global; Close releases them.
type Bus struct {
	adapter       *RegistryAdapter
	subscriptions []commanddispatcher.Subscription
}

type BusConfig struct {
	Service       Service
	Sink          core.ReportSink
	QueueRegistry *jobqueuecommand.Registry
	RunnerOptions []runner.Option
}

func NewBus(cfg BusConfig) (*Bus, error) {
	if cfg.Service == nil {
		return nil, fmt.Errorf("gocommand: service is required")
	}
	bus := &Bus{adapter: NewRegistryAdapter(nil)}
	if cfg.QueueRegistry != nil {
		if err := bus.adapter.AddQueueResolver("queue", cfg.QueueRegistry); err != nil {
			return nil, err
		}
	}

	steps := []func() error{
		func() error {
			return registerCommand(bus, qbcommand.NewAuthenticateCommand(cfg.Service), cfg.RunnerOptions...)
		},
		func() error {
			return registerCommand(bus, qbcommand.NewRefreshCommand(cfg.Service), cfg.RunnerOptions...)
		},
		func() error {
			return registerCommand(bus, qbcommand.NewExportReportCommand(cfg.Service, cfg.Sink), cfg.RunnerOptions...)
		},
		func() error {
			return registerQuery(bus, qbquery.NewCompanyInfoQuery(cfg.Service), cfg.RunnerOptions...)
		},
		func() error {
			return registerQuery(bus, qbquery.NewProjectHierarchyQuery(cfg.Service), cfg.RunnerOptions...)
		},
		func() error {
			return registerQuery(bus, qbquery.NewExpenseSummaryQuery(cfg.Service), cfg.RunnerOptions...)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			bus.Close()
			return nil, err
		}
	}
	if err := bus.adapter.Initialize(); err != nil {
		bus.Close()
		return nil, err
	}
	return bus, nil
}

func (b *Bus) Registry() *RegistryAdapter {
	if b == nil {
		return nil
	}
	return b.adapter
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	for _, subscription := range b.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func registerCommand[T any](bus *Bus, cmd command.Commander[T], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := bus.adapter.register(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	bus.subscriptions = append(bus.subscriptions, subscription)
	return nil
}

func registerQuery[T any, R any](bus *Bus, qry command.Querier[T, R], runnerOpts ...runner.Option) error {
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := bus.adapter.register(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return err
	}
	bus.subscriptions = append(bus.subscriptions, subscription)
	return nil
}

// Dispatch validates msg and runs its command. When the command publishes a
// result of type R it is returned.
func Dispatch[T any, R any](ctx context.Context, msg T) (R, bool, error) {
	var zero R
	if err := ValidateMessageContract(msg); err != nil {
		return zero, false, err
	}
	collector := command.NewResult[R]()
	ctx = command.ContextWithResult(ctx, collector)
	if err := commanddispatcher.Dispatch(ctx, msg); err != nil {
		return zero, false, err
	}
	out, ok := collector.Load()
	return out, ok, nil
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}
