package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driprun/driprun/pkg/eventbus"
	"github.com/driprun/driprun/pkg/events"
	"github.com/driprun/driprun/pkg/otelhelper"
	"github.com/driprun/driprun/pkg/persistence"
	"github.com/driprun/driprun/pkg/sender"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultMaxAttempts bounds delivery retries per queue item.
const DefaultMaxAttempts = 5

// Config holds engine tuning knobs.
type Config struct {
	MaxAttempts int `validate:"required,min=1"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}

	return nil
}

// Summary reports what a single tick did.
type Summary struct {
	RunsProcessed int      `json:"runs_processed"`
	RunsAdvanced  int      `json:"runs_advanced"`
	RunsErrored   int      `json:"runs_errored"`
	ItemsClaimed  int      `json:"items_claimed"`
	ItemsSent     int      `json:"items_sent"`
	ItemsFailed   int      `json:"items_failed"`
	Errors        []string `json:"errors,omitempty"`
}

// Engine runs the two tick phases in order: advance runs, then dispatch the
// send queue. It holds no cross-tick state; every tick reads the world fresh,
// so concurrent and repeated ticks converge instead of conflicting.
type Engine struct {
	advancer   *Advancer
	dispatcher *Dispatcher
	eventBus   eventbus.EventBus
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewEngine wires an engine from its dependencies. A nil tracer disables
// tracing.
func NewEngine(p persistence.Persistence, s sender.Sender, bus eventbus.EventBus, tracer trace.Tracer, logger *slog.Logger, config Config) (*Engine, error) {
	err := config.Validate()
	if err != nil {
		return nil, err
	}

	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("driprun-engine")
	}

	return &Engine{
		advancer:   NewAdvancer(p, bus, logger),
		dispatcher: NewDispatcher(p, s, bus, logger, config.MaxAttempts),
		eventBus:   bus,
		tracer:     tracer,
		logger:     logger.With("module", "engine"),
	}, nil
}

// Tick executes one full engine pass. It always returns a summary; the error
// slice inside records per-run and per-item failures that did not abort the
// pass.
func (e *Engine) Tick(ctx context.Context) (*Summary, error) {
	started := time.Now().UTC()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.tick")
	defer span.End()

	advanceStats := e.advancer.Advance(ctx, started)
	dispatchStats := e.dispatcher.Dispatch(ctx)

	summary := &Summary{
		RunsProcessed: advanceStats.Processed,
		RunsAdvanced:  advanceStats.Advanced,
		RunsErrored:   advanceStats.Errored,
		ItemsClaimed:  dispatchStats.Claimed,
		ItemsSent:     dispatchStats.Sent,
		ItemsFailed:   dispatchStats.Failed,
	}
	summary.Errors = append(summary.Errors, advanceStats.Errors...)
	summary.Errors = append(summary.Errors, dispatchStats.Errors...)

	duration := time.Since(started)

	span.SetAttributes(
		attribute.Int("driprun.tick.runs_processed", summary.RunsProcessed),
		attribute.Int("driprun.tick.runs_advanced", summary.RunsAdvanced),
		attribute.Int("driprun.tick.runs_errored", summary.RunsErrored),
		attribute.Int("driprun.tick.items_claimed", summary.ItemsClaimed),
		attribute.Int("driprun.tick.items_sent", summary.ItemsSent),
		attribute.Int("driprun.tick.items_failed", summary.ItemsFailed),
	)

	if len(summary.Errors) > 0 {
		otelhelper.SetError(span, fmt.Errorf("tick finished with %d errors", len(summary.Errors)),
			attribute.Int("driprun.tick.errors", len(summary.Errors)),
		)
	}

	e.logger.InfoContext(ctx, "tick completed",
		"duration", duration,
		"runs_processed", summary.RunsProcessed,
		"runs_advanced", summary.RunsAdvanced,
		"runs_errored", summary.RunsErrored,
		"items_claimed", summary.ItemsClaimed,
		"items_sent", summary.ItemsSent,
		"items_failed", summary.ItemsFailed,
		"errors", len(summary.Errors),
	)

	e.publishTickCompleted(ctx, summary, duration)

	return summary, nil
}

func (e *Engine) publishTickCompleted(ctx context.Context, summary *Summary, duration time.Duration) {
	event := events.TickCompleted{
		BaseEvent:     events.NewBaseEvent(events.TickCompletedEvent),
		RunsProcessed: summary.RunsProcessed,
		RunsAdvanced:  summary.RunsAdvanced,
		RunsErrored:   summary.RunsErrored,
		ItemsClaimed:  summary.ItemsClaimed,
		ItemsSent:     summary.ItemsSent,
		ItemsFailed:   summary.ItemsFailed,
		Duration:      duration,
	}

	err := e.eventBus.Publish(ctx, event.ID, event)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
