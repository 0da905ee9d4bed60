package schema

// EventType tags the payload carried by an inbound event envelope.
type EventType string

const (
	// EventTypeTick marks scheduler tick events.
	EventTypeTick EventType = "TICK"
	// EventTypeFeedStatus marks feed lifecycle status events.
	EventTypeFeedStatus EventType = "FEED_STATUS"
	// EventTypeOrders marks order update batches.
	EventTypeOrders EventType = "ORDERS"
	// EventTypeBalancesPositions marks balance/position update batches.
	EventTypeBalancesPositions EventType = "BALANCES_POSITIONS"
	// EventTypePrediction marks external model prediction events.
	EventTypePrediction EventType = "PREDICTION"
)

// FeedStatus describes a feed lifecycle transition observed by the transport.
type FeedStatus string

const (
	// FeedStatusProvisioned indicates the feed task exists and awaits a handshake.
	FeedStatusProvisioned FeedStatus = "provisioned"
	// FeedStatusDisconnected indicates the feed connection dropped.
	FeedStatusDisconnected FeedStatus = "disconnected"
)

// FeedStatusEvent reports a feed transition for a task.
type FeedStatusEvent struct {
	Venue   Venue       `json:"venue"`
	Channel FeedChannel `json:"channel"`
	Status  FeedStatus  `json:"status"`
}

// TickEvent is emitted by the interval scheduler.
type TickEvent struct {
	IntervalSec int64 `json:"interval_sec"`
	Sequence    uint64
}

// Event is the tagged inbound envelope dispatched by the engine loop. Exactly
// one payload field is set, selected by Type. TaskID resolves the owning
// account through the registry's task index.
type Event struct {
	TaskID uint64
	Type   EventType

	Tick       *TickEvent
	FeedStatus *FeedStatusEvent
	Orders     []OrderUpdate
	BalPos     []BalancePositionUpdate
}
