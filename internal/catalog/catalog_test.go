package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/candlelabs/portsync/internal/schema"
)

type metadataClient struct {
	name        schema.Venue
	instruments []schema.Instrument
	err         error
}

func (c *metadataClient) Name() schema.Venue        { return c.name }
func (c *metadataClient) RequiresLogin() bool       { return false }
func (c *metadataClient) MinOrderNotional() float64 { return 0 }

func (c *metadataClient) Instruments(context.Context, schema.InstrumentType) ([]schema.Instrument, error) {
	return c.instruments, c.err
}

func (c *metadataClient) Balances(context.Context, []string) ([]schema.Balance, error) {
	return nil, nil
}

func (c *metadataClient) Positions(context.Context) ([]schema.Position, error) { return nil, nil }

func (c *metadataClient) PlaceOrder(context.Context, schema.OrderRequest) error { return nil }

func (c *metadataClient) ConnectMessage(context.Context, schema.FeedChannel) (string, error) {
	return "", nil
}

func (c *metadataClient) LoginMessage() (string, error) { return "", nil }

func (c *metadataClient) SubscribeMessage(schema.FeedChannel) (string, error) { return "", nil }

func validInstrument(symbol string, v schema.Venue) schema.Instrument {
	return schema.Instrument{
		Symbol:        symbol,
		Venue:         v,
		Type:          schema.InstrumentTypePerpetual,
		BaseCurrency:  "BTC",
		QuoteCurrency: "USDT",
		LotSize:       0.001,
		MinLimitSize:  0.001,
		MaxLimitSize:  1000,
		MinMarketSize: 0.001,
		MaxMarketSize: 120,
	}
}

func TestLoadIndexesBySymbolAndVenue(t *testing.T) {
	binance := &metadataClient{
		name:        schema.VenueBinanceUM,
		instruments: []schema.Instrument{validInstrument("BTCUSDT", schema.VenueBinanceUM)},
	}
	okx := &metadataClient{
		name:        schema.VenueOKX,
		instruments: []schema.Instrument{validInstrument("BTC-USDT-SWAP", schema.VenueOKX)},
	}

	cat := New()
	if err := cat.Load(context.Background(), nil, binance, okx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("Len = %d, want 2", cat.Len())
	}
	if _, ok := cat.Lookup("BTCUSDT", schema.VenueBinanceUM); !ok {
		t.Fatal("binance instrument missing")
	}
	if _, ok := cat.Lookup("BTCUSDT", schema.VenueOKX); ok {
		t.Fatal("lookup must be venue-scoped")
	}
}

func TestLoadSkipsInvalidInstruments(t *testing.T) {
	broken := validInstrument("BROKEN", schema.VenueBinanceUM)
	broken.LotSize = 0

	client := &metadataClient{
		name: schema.VenueBinanceUM,
		instruments: []schema.Instrument{
			broken,
			validInstrument("BTCUSDT", schema.VenueBinanceUM),
		},
	}
	cat := New()
	if err := cat.Load(context.Background(), nil, client); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != 1 {
		t.Fatalf("Len = %d, want invalid instrument skipped", cat.Len())
	}
}

func TestLoadAbortsOnVenueFailure(t *testing.T) {
	client := &metadataClient{name: schema.VenueOKX, err: errors.New("metadata endpoint down")}
	cat := New()
	if err := cat.Load(context.Background(), nil, client); err == nil {
		t.Fatal("a failed venue fetch must abort the load")
	}
}
