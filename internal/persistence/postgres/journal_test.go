package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/candlelabs/portsync/internal/account"
	"github.com/candlelabs/portsync/internal/persistence/migrations"
	"github.com/candlelabs/portsync/internal/schema"
)

var _ account.OrderJournal = (*Journal)(nil)

// TestJournalRoundTrip needs a live database; set PORTSYNC_TEST_DATABASE_URL
// to run it.
func TestJournalRoundTrip(t *testing.T) {
	dsn := os.Getenv("PORTSYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PORTSYNC_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := migrations.Apply(ctx, dsn, nil); err != nil {
		t.Fatalf("Apply migrations: %v", err)
	}

	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	defer pool.Close()

	journal := NewJournal(pool)
	req := schema.OrderRequest{
		ClientOrderID: uuid.NewString(),
		Symbol:        "BTC-USDT-SWAP",
		Side:          schema.TradeSideBuy,
		Type:          schema.OrderTypeMarket,
		Size:          "100.3",
		MarginMode:    schema.MarginModeIsolated,
	}
	if err := journal.Record(ctx, "acct-1", schema.VenueOKX, req); err != nil {
		t.Fatalf("Record: %v", err)
	}
	// Replays of the same client order id are ignored, not errors.
	if err := journal.Record(ctx, "acct-1", schema.VenueOKX, req); err != nil {
		t.Fatalf("Record replay: %v", err)
	}

	var count int
	err = pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM order_journal WHERE client_order_id = $1", req.ClientOrderID).Scan(&count)
	if err != nil {
		t.Fatalf("count journal rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("journal rows = %d, want 1", count)
	}
}
