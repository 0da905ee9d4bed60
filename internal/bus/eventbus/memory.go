package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/schema"
)

// MemoryBus is an in-memory implementation of the event bus.
type MemoryBus struct {
	cfg MemoryConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	subscribers  map[schema.EventType]map[SubscriptionID]*subscriber
	shutdownOnce sync.Once
	nextID       uint64

	eventsPublishedCounter metric.Int64Counter
	subscriberGauge        metric.Int64UpDownCounter
	deliveryBlockedCounter metric.Int64Counter
}

type subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan *schema.Event
	once   sync.Once
}

// NewMemoryBus constructs a memory-backed event bus.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	bus := new(MemoryBus)
	bus.cfg = cfg
	bus.ctx = ctx
	bus.cancel = cancel
	bus.subscribers = make(map[schema.EventType]map[SubscriptionID]*subscriber)

	meter := otel.Meter("eventbus")
	bus.eventsPublishedCounter, _ = meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of events published to the bus"),
		metric.WithUnit("{event}"))
	bus.subscriberGauge, _ = meter.Int64UpDownCounter("eventbus.subscribers",
		metric.WithDescription("Number of active subscribers"),
		metric.WithUnit("{subscriber}"))
	bus.deliveryBlockedCounter, _ = meter.Int64Counter("eventbus.delivery.blocked",
		metric.WithDescription("Number of deliveries dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))

	return bus
}

// Publish fans the event out to all subscribers of its type. Subscribers
// with full buffers are skipped rather than blocking the publisher.
func (b *MemoryBus) Publish(ctx context.Context, evt *schema.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt == nil {
		return nil
	}
	if evt.Type == "" {
		return errs.New("eventbus/publish", errs.CodeInvalid, errs.WithMessage("event type required"))
	}

	b.mu.RLock()
	subMap := b.subscribers[evt.Type]
	subs := make([]*subscriber, 0, len(subMap))
	for _, sub := range subMap {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	p := concpool.New().WithMaxGoroutines(b.cfg.FanoutWorkers)
	for _, sub := range subs {
		sub := sub
		p.Go(func() {
			if sub.ctx.Err() != nil {
				return
			}
			select {
			case sub.ch <- evt:
			default:
				if b.deliveryBlockedCounter != nil {
					b.deliveryBlockedCounter.Add(ctx, 1, metric.WithAttributes(
						attribute.String("event_type", string(evt.Type))))
				}
			}
		})
	}
	p.Wait()

	if b.eventsPublishedCounter != nil {
		b.eventsPublishedCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event_type", string(evt.Type))))
	}
	return nil
}

// Subscribe registers for events of the given type and returns a
// subscription id and delivery channel.
func (b *MemoryBus) Subscribe(ctx context.Context, typ schema.EventType) (SubscriptionID, <-chan *schema.Event, error) {
	if typ == "" {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithMessage("event type required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	subCtx, cancel := context.WithCancel(ctx)

	sub := new(subscriber)
	sub.ctx = subCtx
	sub.cancel = cancel
	sub.ch = make(chan *schema.Event, b.cfg.BufferSize)

	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddUint64(&b.nextID, 1)))

	b.mu.Lock()
	if _, ok := b.subscribers[typ]; !ok {
		b.subscribers[typ] = make(map[SubscriptionID]*subscriber)
	}
	b.subscribers[typ][id] = sub
	b.mu.Unlock()

	if b.subscriberGauge != nil {
		b.subscriberGauge.Add(subCtx, 1, metric.WithAttributes(attribute.String("event_type", string(typ))))
	}
	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	for typ, subs := range b.subscribers {
		if sub, ok := subs[id]; ok {
			sub.cancel()
			sub.once.Do(func() { close(sub.ch) })
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, typ)
			}
			if b.subscriberGauge != nil {
				b.subscriberGauge.Add(context.Background(), -1,
					metric.WithAttributes(attribute.String("event_type", string(typ))))
			}
			break
		}
	}
	b.mu.Unlock()
}

// Close tears down every subscription.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		for typ, subs := range b.subscribers {
			for id, sub := range subs {
				sub.cancel()
				sub.once.Do(func() { close(sub.ch) })
				delete(subs, id)
			}
			delete(b.subscribers, typ)
		}
		b.mu.Unlock()
	})
}
