// Package account implements the reconciliation core: per-account state,
// weight-delta reconciliation, and the hot-reloadable account registry.
package account

import (
	"context"
	"log"
	"math"
	"strings"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/catalog"
	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/venue"
	"github.com/candlelabs/portsync/internal/weights"
)

// quoteCurrency is the settlement asset whose balance defines account equity.
const quoteCurrency = "USDT"

const (
	// actionableDiffThreshold is the strict weight-diff cutoff below which no
	// corrective order is placed.
	actionableDiffThreshold = 0.01
	// equityEpsilon guards the division when an account reports no equity.
	equityEpsilon = 2.220446049250313e-16
)

// State is the mutable record for one trading account. It is owned by the
// registry and mutated serially from the engine loop: REST refreshes, feed
// event folding and post-order optimistic updates all run on that one owner.
type State struct {
	AccountID string
	Client    venue.Client

	// Weights holds the current fraction of equity per instrument.
	Weights map[string]float64
	// MarkPrices holds the last observed mark price per instrument.
	MarkPrices  map[string]float64
	TotalEquity float64

	OrderFeedTaskID   uint64
	BalanceFeedTaskID uint64
}

// NewState builds a fresh account state from a roster entry and its venue
// client. Weights and prices start empty and are filled by the first REST
// refresh.
func NewState(entry RosterEntry, client venue.Client) *State {
	return &State{
		AccountID:         entry.AccountID,
		Client:            client,
		Weights:           make(map[string]float64),
		MarkPrices:        make(map[string]float64),
		TotalEquity:       0,
		OrderFeedTaskID:   entry.OrderFeedTaskID,
		BalanceFeedTaskID: entry.BalanceFeedTaskID,
	}
}

// TaskIDFor resolves the feed task identifier for the channel.
func (s *State) TaskIDFor(channel schema.FeedChannel) (uint64, bool) {
	switch channel {
	case schema.FeedChannelOrders:
		return s.OrderFeedTaskID, true
	case schema.FeedChannelBalancePosition:
		return s.BalanceFeedTaskID, true
	default:
		return 0, false
	}
}

// configChanged reports whether the identity fields differ between the two
// versions of an account. Credentials are deliberately not compared; see the
// hot-reload notes in DESIGN.md.
func (s *State) configChanged(other *State) bool {
	return s.AccountID != other.AccountID ||
		s.OrderFeedTaskID != other.OrderFeedTaskID ||
		s.BalanceFeedTaskID != other.BalanceFeedTaskID
}

// ApplyOrderUpdate folds an inbound order event. Order events are currently
// observational only; fill-based weight correction would hook in here.
func (s *State) ApplyOrderUpdate(logger *log.Logger, upd schema.OrderUpdate) {
	if logger != nil {
		logger.Printf("order update: account=%s symbol=%s status=%s filled=%v avg_price=%v",
			s.AccountID, upd.Symbol, upd.Status, upd.FilledSize, upd.AvgPrice)
	}
}

// ApplyPositionUpdate folds one inbound position event into the weight map.
// The mark price recorded for the instrument is preferred; the event's
// average price is the fallback.
func (s *State) ApplyPositionUpdate(pos schema.PositionUpdate, info schema.Instrument) {
	mark, ok := s.MarkPrices[pos.Symbol]
	if !ok {
		mark = pos.AvgPrice
	}

	notional := pos.Size * mark
	if s.Client.Name() == schema.VenueOKX {
		notional *= info.Multiplier()
	}

	weight := 0.0
	if s.TotalEquity > equityEpsilon {
		weight = notional / s.TotalEquity
	}
	s.Weights[pos.Symbol] = weight
}

// RefreshBalance sets total equity from the quote-currency balance fetched
// over REST. A missing quote-currency entry is an error.
func (s *State) RefreshBalance(ctx context.Context) error {
	balances, err := s.Client.Balances(ctx, []string{quoteCurrency})
	if err != nil {
		return err
	}
	for _, bal := range balances {
		if strings.EqualFold(bal.Asset, quoteCurrency) {
			s.TotalEquity = bal.Total
			return nil
		}
	}
	return errs.New(string(s.Client.Name()), errs.CodeVenueData,
		errs.WithMessage("balance refresh: "+quoteCurrency+" balance missing"))
}

// RefreshPositionWeights rebuilds the weight map from a fresh REST position
// snapshot. Every open position contributes to a notional map, weights are
// recomputed from it, and instruments absent from the snapshot are pruned so
// closed positions cannot leave stale weights behind.
func (s *State) RefreshPositionWeights(ctx context.Context, cat *catalog.Catalog) error {
	positions, err := s.Client.Positions(ctx)
	if err != nil {
		return err
	}

	notionals := make(map[string]float64, len(positions))
	for _, pos := range positions {
		notional := 0.0
		switch s.Client.Name() {
		case schema.VenueBinanceUM:
			notional = pos.Size * pos.MarkPrice
		case schema.VenueOKX:
			if info, ok := cat.Lookup(pos.Symbol, schema.VenueOKX); ok {
				notional = pos.Size * pos.MarkPrice * info.Multiplier()
			}
		}

		s.MarkPrices[pos.Symbol] = pos.MarkPrice
		notionals[pos.Symbol] += notional
	}

	for symbol, notional := range notionals {
		weight := 0.0
		if s.TotalEquity > equityEpsilon {
			weight = notional / s.TotalEquity
		}
		s.Weights[symbol] = weight
	}

	for symbol := range s.Weights {
		if _, held := notionals[symbol]; !held {
			delete(s.Weights, symbol)
		}
	}
	return nil
}

// compareWeights walks the target table, records mark prices, and returns the
// per-instrument diffs that exceed the actionable threshold together with the
// equal-split normalised targets. The threshold is strict: a diff of exactly
// 0.01 is not actionable.
func (s *State) compareWeights(targets *weights.Table) (map[string]float64, map[string]float64) {
	diffs := make(map[string]float64)
	computed := make(map[string]float64)

	count := float64(targets.Len())
	if count < 1 {
		count = 1
	}

	targets.Range(func(symbol string, entry weights.Entry) bool {
		s.MarkPrices[symbol] = entry.MarkPrice

		target := entry.RawWeight / count
		computed[symbol] = target

		diff := target - s.Weights[symbol]
		if math.Abs(diff) > actionableDiffThreshold {
			diffs[symbol] = diff
		}
		return true
	})

	return diffs, computed
}
