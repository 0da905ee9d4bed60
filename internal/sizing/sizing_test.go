package sizing

import (
	"math"
	"strings"
	"testing"

	"github.com/candlelabs/portsync/internal/schema"
)

func linearInstrument() schema.Instrument {
	return schema.Instrument{
		Symbol:        "BTCUSDT",
		Venue:         schema.VenueBinanceUM,
		LotSize:       0.001,
		MinLimitSize:  0.001,
		MaxLimitSize:  1000,
		MinMarketSize: 0.001,
		MaxMarketSize: 500,
	}
}

func contractInstrument(ctVal float64) schema.Instrument {
	return schema.Instrument{
		Symbol:        "BTC-USDT-SWAP",
		Venue:         schema.VenueOKX,
		LotSize:       0.1,
		MinLimitSize:  0.1,
		MaxLimitSize:  10000,
		MinMarketSize: 0.1,
		MaxMarketSize: 10000,
		ContractValue: &ctVal,
	}
}

func TestSizeLinearVenue(t *testing.T) {
	info := linearInstrument()

	got, err := Size(10, 1000, info, schema.VenueBinanceUM)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if got != "100" {
		t.Fatalf("Size() = %q, want 100", got)
	}
}

func TestSizeClampsToEffectiveBounds(t *testing.T) {
	info := linearInstrument()
	info.MaxLimitSize = 80
	info.MaxMarketSize = 50
	info.LotSize = 0.1

	got, err := Size(10, 1000, info, schema.VenueBinanceUM)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if got != "50" {
		t.Fatalf("Size() = %q, want clamped size 50", got)
	}
}

func TestSizeRoundsDownToLotMultiple(t *testing.T) {
	info := linearInstrument()
	info.LotSize = 0.1

	// 1005/10 = 100.5 raw, within bounds; already a lot multiple.
	got, err := Size(10, 1005, info, schema.VenueBinanceUM)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if got != "100.5" {
		t.Fatalf("Size() = %q, want 100.5", got)
	}

	// 1004/10 = 100.39999… must floor to 100.3, never round up.
	got, err = Size(10, 1003.9, info, schema.VenueBinanceUM)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if got != "100.3" {
		t.Fatalf("Size() = %q, want 100.3", got)
	}
}

func TestSizeContractVenueUsesMultiplier(t *testing.T) {
	info := contractInstrument(0.01)

	// 1000 / (50000 * 0.01) = 2 contracts.
	got, err := Size(50000, 1000, info, schema.VenueOKX)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if got != "2" {
		t.Fatalf("Size() = %q, want 2", got)
	}
}

func TestSizeContractVenueMissingMultiplier(t *testing.T) {
	info := contractInstrument(0.01)
	info.ContractValue = nil

	_, err := Size(50000, 1000, info, schema.VenueOKX)
	if err == nil {
		t.Fatal("expected error for missing contract value")
	}
	if !strings.Contains(err.Error(), "contract value missing") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSizeRejectsBadInputs(t *testing.T) {
	info := linearInstrument()

	cases := []struct {
		name     string
		price    float64
		notional float64
		info     schema.Instrument
	}{
		{"zero price", 0, 100, info},
		{"negative price", -10, 100, info},
		{"nan price", math.NaN(), 100, info},
		{"inf price", math.Inf(1), 100, info},
		{"nan notional", 10, math.NaN(), info},
		{"zero lot size", 10, 100, func() schema.Instrument { i := info; i.LotSize = 0; return i }()},
	}
	for _, tc := range cases {
		if _, err := Size(tc.price, tc.notional, tc.info, schema.VenueBinanceUM); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestSizeRendersLotPrecision(t *testing.T) {
	info := linearInstrument()
	info.LotSize = 0.001

	got, err := Size(64000, 100, info, schema.VenueBinanceUM)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	// 100/64000 = 0.0015625, floored to 0.001.
	if got != "0.001" {
		t.Fatalf("Size() = %q, want 0.001", got)
	}
}
