// Package postgres persists the order journal behind a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/candlelabs/portsync/internal/schema"
)

const defaultConnectTimeout = 10 * time.Second

// NewPool opens a pgx connection pool for the DSN and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

const journalInsertSQL = `
INSERT INTO order_journal (
    account_id,
    venue,
    client_order_id,
    symbol,
    side,
    order_type,
    size,
    margin_mode,
    placed_at
)
VALUES (
    @account_id,
    @venue,
    @client_order_id,
    @symbol,
    @side,
    @order_type,
    @size::numeric,
    @margin_mode,
    NOW()
)
ON CONFLICT (client_order_id) DO NOTHING;
`

// Journal writes placed orders to the order_journal table.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal constructs a journal backed by the pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Record inserts one placed order. Replayed client order ids are ignored.
func (j *Journal) Record(ctx context.Context, accountID string, v schema.Venue, req schema.OrderRequest) error {
	var marginMode *string
	if req.MarginMode != schema.MarginMode("") {
		mode := string(req.MarginMode)
		marginMode = &mode
	}

	_, err := j.pool.Exec(ctx, journalInsertSQL, pgx.NamedArgs{
		"account_id":      accountID,
		"venue":           string(v),
		"client_order_id": req.ClientOrderID,
		"symbol":          req.Symbol,
		"side":            string(req.Side),
		"order_type":      string(req.Type),
		"size":            req.Size,
		"margin_mode":     marginMode,
	})
	if err != nil {
		return fmt.Errorf("insert order journal row: %w", err)
	}
	return nil
}
