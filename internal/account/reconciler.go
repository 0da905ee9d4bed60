package account

import (
	"context"
	"log"
	"math"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/candlelabs/portsync/internal/catalog"
	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/sizing"
	"github.com/candlelabs/portsync/internal/weights"
)

// OrderJournal records successfully placed orders for audit. Journal failures
// are logged and never interrupt reconciliation.
type OrderJournal interface {
	Record(ctx context.Context, accountID string, v schema.Venue, req schema.OrderRequest) error
}

// Reconciler drives one account toward the shared target weights by placing
// corrective market orders.
type Reconciler struct {
	logger  *log.Logger
	journal OrderJournal

	ordersPlaced  metric.Int64Counter
	ordersSkipped metric.Int64Counter
}

// NewReconciler constructs a reconciler. The journal is optional.
func NewReconciler(logger *log.Logger, journal OrderJournal) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stdout, "reconciler ", log.LstdFlags|log.Lmicroseconds)
	}
	r := &Reconciler{
		logger:        logger,
		journal:       journal,
		ordersPlaced:  nil,
		ordersSkipped: nil,
	}
	meter := otel.Meter("account")
	r.ordersPlaced, _ = meter.Int64Counter("account.orders.placed",
		metric.WithDescription("Number of corrective orders placed"),
		metric.WithUnit("{order}"))
	r.ordersSkipped, _ = meter.Int64Counter("account.orders.skipped",
		metric.WithDescription("Number of actionable instruments skipped during reconciliation"),
		metric.WithUnit("{order}"))
	return r
}

// Reconcile computes the actionable weight deltas for the account and submits
// one market order per actionable instrument. Each instrument failure is
// logged and skipped; reconciliation of the remaining instruments continues.
// Weights are updated optimistically on placement without waiting for fills.
func (r *Reconciler) Reconcile(ctx context.Context, st *State, targets *weights.Table, cat *catalog.Catalog) error {
	diffs, computed := st.compareWeights(targets)
	if len(diffs) == 0 {
		return nil
	}

	r.logger.Printf("account update: id=%s equity=%v weights=%v targets=%v diffs=%v",
		st.AccountID, st.TotalEquity, st.Weights, computed, diffs)

	v := st.Client.Name()
	for symbol, diff := range diffs {
		mark, ok := st.MarkPrices[symbol]
		if !ok {
			r.skip(ctx, v, "mark price not found for %s on %s; skipping", symbol, st.AccountID)
			continue
		}

		info, ok := cat.Lookup(symbol, v)
		if !ok {
			r.skip(ctx, v, "instrument metadata not found for %s on %s; skipping", symbol, st.AccountID)
			continue
		}

		side := schema.TradeSideSell
		if diff > 0 {
			side = schema.TradeSideBuy
		}
		notional := math.Abs(diff * st.TotalEquity)

		if floor := st.Client.MinOrderNotional(); floor > 0 && notional < floor {
			r.skip(ctx, v, "notional %v below venue floor %v for %s; skipping", notional, floor, symbol)
			continue
		}

		size, err := sizing.Size(mark, notional, info, v)
		if err != nil {
			r.skip(ctx, v, "order sizing failed for %s: %v; skipping", symbol, err)
			continue
		}

		req := schema.OrderRequest{
			ClientOrderID: uuid.NewString(),
			Symbol:        symbol,
			Side:          side,
			Type:          schema.OrderTypeMarket,
			Size:          size,
			MarginMode:    schema.MarginMode(""),
		}
		if v == schema.VenueOKX {
			req.MarginMode = schema.MarginModeIsolated
		}

		if err := st.Client.PlaceOrder(ctx, req); err != nil {
			r.skip(ctx, v, "order placement failed for %s: %v; skipping", symbol, err)
			continue
		}

		st.Weights[symbol] += diff
		r.logger.Printf("order placed: account=%s venue=%s symbol=%s side=%s size=%s",
			st.AccountID, v, symbol, side, size)
		if r.ordersPlaced != nil {
			r.ordersPlaced.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", string(v))))
		}

		if r.journal != nil {
			if err := r.journal.Record(ctx, st.AccountID, v, req); err != nil {
				r.logger.Printf("order journal write failed for %s: %v", symbol, err)
			}
		}
	}

	return nil
}

func (r *Reconciler) skip(ctx context.Context, v schema.Venue, format string, args ...any) {
	r.logger.Printf(format, args...)
	if r.ordersSkipped != nil {
		r.ordersSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", string(v))))
	}
}
