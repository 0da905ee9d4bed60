// Package venue abstracts the exchange integrations behind one client
// capability surface. The reconciler and connectivity orchestrator depend
// only on this interface; one implementation exists per venue.
package venue

import (
	"context"

	"github.com/candlelabs/portsync/internal/schema"
)

// Credentials carries the API credentials for one account on one venue.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// Client is the per-account exchange handle used by reconciliation and
// connectivity. Implementations are safe for serial use by a single owner.
type Client interface {
	// Name identifies the venue behind the client.
	Name() schema.Venue

	// RequiresLogin reports whether the private feed handshake needs an
	// explicit authentication step after connecting.
	RequiresLogin() bool

	// MinOrderNotional returns the venue's per-order minimum notional floor
	// in quote currency, or 0 when the venue enforces none.
	MinOrderNotional() float64

	// Instruments fetches the venue's trading rules for the instrument type.
	Instruments(ctx context.Context, typ schema.InstrumentType) ([]schema.Instrument, error)

	// Balances fetches account balances, optionally filtered to the listed
	// assets.
	Balances(ctx context.Context, assets []string) ([]schema.Balance, error)

	// Positions fetches all currently open positions.
	Positions(ctx context.Context) ([]schema.Position, error)

	// PlaceOrder submits the order.
	PlaceOrder(ctx context.Context, req schema.OrderRequest) error

	// ConnectMessage returns the websocket URL for the channel's private
	// feed. For venues without a login step the URL already carries the
	// subscription intent.
	ConnectMessage(ctx context.Context, channel schema.FeedChannel) (string, error)

	// LoginMessage builds the signed authentication payload sent after
	// connecting. Only meaningful when RequiresLogin reports true.
	LoginMessage() (string, error)

	// SubscribeMessage builds the channel subscription payload sent after a
	// successful login.
	SubscribeMessage(channel schema.FeedChannel) (string, error)
}
