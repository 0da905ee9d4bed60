// Package schema defines the canonical domain types shared across portsync.
package schema

import (
	"strings"

	"github.com/candlelabs/portsync/errs"
)

// Venue names a supported exchange integration.
type Venue string

const (
	// VenueOKX represents OKX perpetual swaps.
	VenueOKX Venue = "okx"
	// VenueBinanceUM represents Binance USD-M futures.
	VenueBinanceUM Venue = "binance_um"
)

// ParseVenue normalises a configured venue identifier.
func ParseVenue(input string) (Venue, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case string(VenueOKX):
		return VenueOKX, nil
	case string(VenueBinanceUM):
		return VenueBinanceUM, nil
	default:
		return Venue(""), errs.New("schema/venue", errs.CodeInvalid,
			errs.WithMessage("unknown venue "+strings.TrimSpace(input)))
	}
}

// Valid reports whether the venue is recognised.
func (v Venue) Valid() bool {
	switch v {
	case VenueOKX, VenueBinanceUM:
		return true
	default:
		return false
	}
}

// InstrumentType identifies the market structure for an instrument.
type InstrumentType string

const (
	// InstrumentTypePerpetual represents perpetual swap markets.
	InstrumentTypePerpetual InstrumentType = "perpetual"
)

// TradeSide identifies the direction of an order.
type TradeSide string

const (
	// TradeSideBuy marks buy orders.
	TradeSideBuy TradeSide = "BUY"
	// TradeSideSell marks sell orders.
	TradeSideSell TradeSide = "SELL"
)

// OrderType identifies the execution style of an order.
type OrderType string

const (
	// OrderTypeMarket marks market orders.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit marks limit orders.
	OrderTypeLimit OrderType = "LIMIT"
)

// MarginMode selects the margin treatment for contract venues.
type MarginMode string

const (
	// MarginModeIsolated isolates margin per position.
	MarginModeIsolated MarginMode = "isolated"
	// MarginModeCross shares margin across positions.
	MarginModeCross MarginMode = "cross"
)

// FeedChannel names a private feed carried over a long-lived task.
type FeedChannel string

const (
	// FeedChannelOrders carries order update events.
	FeedChannelOrders FeedChannel = "orders"
	// FeedChannelBalancePosition carries balance and position events.
	FeedChannelBalancePosition FeedChannel = "balance_and_position"
)

// Balance reports a single asset balance on an account.
type Balance struct {
	Asset string  `json:"asset"`
	Total float64 `json:"total"`
}

// Position reports one open position on an account.
type Position struct {
	Symbol    string  `json:"symbol"`
	Size      float64 `json:"size"`
	MarkPrice float64 `json:"mark_price"`
	AvgPrice  float64 `json:"avg_price"`
}

// OrderRequest is a venue-agnostic order submission. Size is the venue's
// textual representation: a decimal string whose precision is implied by the
// instrument's lot size.
type OrderRequest struct {
	ClientOrderID string     `json:"client_order_id"`
	Symbol        string     `json:"symbol"`
	Side          TradeSide  `json:"side"`
	Type          OrderType  `json:"type"`
	Size          string     `json:"size"`
	MarginMode    MarginMode `json:"margin_mode,omitempty"`
}

// OrderUpdate is an inbound private-feed order event.
type OrderUpdate struct {
	Symbol     string  `json:"symbol"`
	Venue      Venue   `json:"venue"`
	OrderID    string  `json:"order_id"`
	Status     string  `json:"status"`
	FilledSize float64 `json:"filled_size"`
	AvgPrice   float64 `json:"avg_price"`
}

// PositionUpdate is one position element of an inbound balance/position event.
type PositionUpdate struct {
	Symbol   string  `json:"symbol"`
	Size     float64 `json:"size"`
	AvgPrice float64 `json:"avg_price"`
}

// BalancePositionUpdate is an inbound private-feed balance/position event.
type BalancePositionUpdate struct {
	Venue     Venue            `json:"venue"`
	Positions []PositionUpdate `json:"positions"`
}
