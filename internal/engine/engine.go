// Package engine runs the control loop that dispatches inbound events to the
// account registry. It replaces host-driven lifecycle callbacks with one
// explicit loop: the registry and every account state are mutated only from
// here.
package engine

import (
	"context"
	"log"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/candlelabs/portsync/internal/account"
	"github.com/candlelabs/portsync/internal/bus/eventbus"
	"github.com/candlelabs/portsync/internal/schema"
)

// Engine consumes the event bus and drives the registry.
type Engine struct {
	registry *account.Registry
	bus      eventbus.Bus
	logger   *log.Logger

	reloadTaskID uint64
	updateTaskID uint64

	eventsHandled metric.Int64Counter
}

// Config wires the engine collaborators and the scheduler task ids it reacts
// to.
type Config struct {
	Registry     *account.Registry
	Bus          eventbus.Bus
	Logger       *log.Logger
	ReloadTaskID uint64
	UpdateTaskID uint64
}

// New constructs the engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "engine ", log.LstdFlags|log.Lmicroseconds)
	}
	e := &Engine{
		registry:      cfg.Registry,
		bus:           cfg.Bus,
		logger:        cfg.Logger,
		reloadTaskID:  cfg.ReloadTaskID,
		updateTaskID:  cfg.UpdateTaskID,
		eventsHandled: nil,
	}
	meter := otel.Meter("engine")
	e.eventsHandled, _ = meter.Int64Counter("engine.events.handled",
		metric.WithDescription("Number of events dispatched by the control loop"),
		metric.WithUnit("{event}"))
	return e
}

// Run subscribes to every event kind and dispatches serially until the
// context ends.
func (e *Engine) Run(ctx context.Context) error {
	types := []schema.EventType{
		schema.EventTypeTick,
		schema.EventTypeFeedStatus,
		schema.EventTypeOrders,
		schema.EventTypeBalancesPositions,
		schema.EventTypePrediction,
	}

	merged := make(chan *schema.Event, len(types))
	for _, typ := range types {
		id, ch, err := e.bus.Subscribe(ctx, typ)
		if err != nil {
			return err
		}
		defer e.bus.Unsubscribe(id)

		go func() {
			for evt := range ch {
				select {
				case merged <- evt:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	e.logger.Printf("control loop started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Printf("control loop stopped: %v", ctx.Err())
			return nil
		case evt := <-merged:
			e.dispatch(ctx, evt)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, evt *schema.Event) {
	if evt == nil {
		return
	}
	if e.eventsHandled != nil {
		e.eventsHandled.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", string(evt.Type))))
	}

	switch evt.Type {
	case schema.EventTypeTick:
		e.handleTick(ctx, evt)
	case schema.EventTypeFeedStatus:
		e.registry.HandleFeedStatus(ctx, evt)
	case schema.EventTypeOrders:
		e.registry.HandleOrders(ctx, evt)
	case schema.EventTypeBalancesPositions:
		e.registry.HandleBalancesPositions(ctx, evt)
	case schema.EventTypePrediction:
		e.registry.ReconcileAll(ctx)
	default:
		e.logger.Printf("unsupported event type %q ignored", evt.Type)
	}
}

func (e *Engine) handleTick(ctx context.Context, evt *schema.Event) {
	switch evt.TaskID {
	case e.reloadTaskID:
		if err := e.registry.Reload(ctx); err != nil {
			e.logger.Printf("roster reload failed: %v; cycle skipped", err)
		}
	case e.updateTaskID:
		e.registry.UpdateAll(ctx)
	default:
		// Ticks for tasks this engine does not own are not an error.
	}
}
