// Package eventbus delivers inbound envelopes to the engine and any other
// interested consumers.
package eventbus

import (
	"context"

	"github.com/candlelabs/portsync/internal/schema"
)

// SubscriptionID uniquely identifies a bus subscription.
type SubscriptionID string

// Bus fans inbound events out to subscribers by event type.
type Bus interface {
	Publish(ctx context.Context, evt *schema.Event) error
	Subscribe(ctx context.Context, typ schema.EventType) (SubscriptionID, <-chan *schema.Event, error)
	Unsubscribe(id SubscriptionID)
	Close()
}

// MemoryConfig configures the in-memory bus buffers.
type MemoryConfig struct {
	BufferSize    int
	FanoutWorkers int
}

func (c MemoryConfig) normalize() MemoryConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = 64
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 4
	}
	return c
}
