package account

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/candlelabs/portsync/internal/catalog"
	"github.com/candlelabs/portsync/internal/schema"
	"github.com/candlelabs/portsync/internal/weights"
)

type recordingJournal struct {
	records []schema.OrderRequest
	err     error
}

func (j *recordingJournal) Record(_ context.Context, _ string, _ schema.Venue, req schema.OrderRequest) error {
	if j.err != nil {
		return j.err
	}
	j.records = append(j.records, req)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestReconcilePlacesCorrectiveOrder(t *testing.T) {
	client := &fakeClient{name: schema.VenueBinanceUM}
	st := NewState(testEntry("acct", 1, 2), client)
	st.TotalEquity = 10000
	st.Weights["BTCUSDT"] = 0.25

	cat := catalog.New()
	cat.Insert(testInstrument("BTCUSDT", schema.VenueBinanceUM))

	targets := weights.NewTable()
	targets.Insert("BTCUSDT", weights.Entry{MarkPrice: 50, RawWeight: 0.5})

	journal := &recordingJournal{}
	r := NewReconciler(quietLogger(), journal)
	if err := r.Reconcile(context.Background(), st, targets, cat); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if len(client.placed) != 1 {
		t.Fatalf("orders placed = %d, want 1", len(client.placed))
	}
	req := client.placed[0]
	// diff 0.25 over 10000 equity at mark 50 is 50 units.
	if req.Side != schema.TradeSideBuy || req.Size != "50" {
		t.Fatalf("unexpected order %+v", req)
	}
	if req.ClientOrderID == "" || req.Type != schema.OrderTypeMarket {
		t.Fatalf("unexpected order %+v", req)
	}
	if req.MarginMode != schema.MarginMode("") {
		t.Fatalf("margin mode %q set on a non-contract venue", req.MarginMode)
	}

	// Weights update optimistically on placement.
	if st.Weights["BTCUSDT"] != 0.5 {
		t.Fatalf("weight = %v, want 0.5 after optimistic update", st.Weights["BTCUSDT"])
	}
	if len(journal.records) != 1 {
		t.Fatalf("journal records = %d, want 1", len(journal.records))
	}
}

func TestReconcileSellSide(t *testing.T) {
	client := &fakeClient{name: schema.VenueBinanceUM}
	st := NewState(testEntry("acct", 1, 2), client)
	st.TotalEquity = 10000
	st.Weights["BTCUSDT"] = 0.5

	cat := catalog.New()
	cat.Insert(testInstrument("BTCUSDT", schema.VenueBinanceUM))

	targets := weights.NewTable()
	targets.Insert("BTCUSDT", weights.Entry{MarkPrice: 50, RawWeight: 0.25})

	r := NewReconciler(quietLogger(), nil)
	if err := r.Reconcile(context.Background(), st, targets, cat); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(client.placed) != 1 || client.placed[0].Side != schema.TradeSideSell {
		t.Fatalf("unexpected orders %+v", client.placed)
	}
}

func TestReconcileHonoursVenueNotionalFloor(t *testing.T) {
	client := &fakeClient{name: schema.VenueBinanceUM, notionalFloor: 6.0}
	st := NewState(testEntry("acct", 1, 2), client)
	st.TotalEquity = 100

	cat := catalog.New()
	cat.Insert(testInstrument("BTCUSDT", schema.VenueBinanceUM))

	targets := weights.NewTable()
	// 0.05 of 100 equity is 5 USDT, below the 6 USDT floor.
	targets.Insert("BTCUSDT", weights.Entry{MarkPrice: 50, RawWeight: 0.05})

	r := NewReconciler(quietLogger(), nil)
	if err := r.Reconcile(context.Background(), st, targets, cat); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(client.placed) != 0 {
		t.Fatalf("order below the venue floor must be skipped, got %+v", client.placed)
	}
	if st.Weights["BTCUSDT"] != 0 {
		t.Fatal("skipped instrument must not update weights")
	}
}

func TestReconcileWithoutFloorProceeds(t *testing.T) {
	multiplier := 1.0
	inst := testInstrument("BTC-USDT-SWAP", schema.VenueOKX)
	inst.ContractValue = &multiplier

	client := &fakeClient{name: schema.VenueOKX}
	st := NewState(testEntry("acct", 1, 2), client)
	st.TotalEquity = 100

	cat := catalog.New()
	cat.Insert(inst)

	targets := weights.NewTable()
	targets.Insert("BTC-USDT-SWAP", weights.Entry{MarkPrice: 0.5, RawWeight: 0.05})

	r := NewReconciler(quietLogger(), nil)
	if err := r.Reconcile(context.Background(), st, targets, cat); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(client.placed) != 1 {
		t.Fatalf("orders placed = %d, want 1 on a venue without a floor", len(client.placed))
	}
	if client.placed[0].MarginMode != schema.MarginModeIsolated {
		t.Fatalf("margin mode = %q, want isolated", client.placed[0].MarginMode)
	}
}

func TestReconcileIsolatesInstrumentFailures(t *testing.T) {
	client := &fakeClient{
		name:     schema.VenueBinanceUM,
		placeErr: map[string]error{"BTCUSDT": errors.New("rejected")},
	}
	st := NewState(testEntry("acct", 1, 2), client)
	st.TotalEquity = 10000

	cat := catalog.New()
	cat.Insert(testInstrument("BTCUSDT", schema.VenueBinanceUM))
	cat.Insert(testInstrument("ETHUSDT", schema.VenueBinanceUM))

	targets := weights.NewTable()
	targets.Insert("BTCUSDT", weights.Entry{MarkPrice: 50, RawWeight: 0.5})
	targets.Insert("ETHUSDT", weights.Entry{MarkPrice: 25, RawWeight: 0.5})

	r := NewReconciler(quietLogger(), nil)
	if err := r.Reconcile(context.Background(), st, targets, cat); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if len(client.placed) != 1 || client.placed[0].Symbol != "ETHUSDT" {
		t.Fatalf("expected only the healthy instrument to trade, got %+v", client.placed)
	}
	if st.Weights["BTCUSDT"] != 0 {
		t.Fatal("failed placement must not update weights")
	}
}

func TestReconcileSkipsUncataloguedInstrument(t *testing.T) {
	client := &fakeClient{name: schema.VenueBinanceUM}
	st := NewState(testEntry("acct", 1, 2), client)
	st.TotalEquity = 10000

	targets := weights.NewTable()
	targets.Insert("BTCUSDT", weights.Entry{MarkPrice: 50, RawWeight: 0.5})

	r := NewReconciler(quietLogger(), nil)
	if err := r.Reconcile(context.Background(), st, targets, catalog.New()); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(client.placed) != 0 {
		t.Fatalf("uncatalogued instrument must not trade, got %+v", client.placed)
	}
}

func TestReconcileJournalFailureDoesNotAbort(t *testing.T) {
	client := &fakeClient{name: schema.VenueBinanceUM}
	st := NewState(testEntry("acct", 1, 2), client)
	st.TotalEquity = 10000

	cat := catalog.New()
	cat.Insert(testInstrument("BTCUSDT", schema.VenueBinanceUM))

	targets := weights.NewTable()
	targets.Insert("BTCUSDT", weights.Entry{MarkPrice: 50, RawWeight: 0.5})

	r := NewReconciler(quietLogger(), &recordingJournal{err: errors.New("db down")})
	if err := r.Reconcile(context.Background(), st, targets, cat); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(client.placed) != 1 {
		t.Fatal("order must still be placed when the journal write fails")
	}
}
