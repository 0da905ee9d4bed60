package schema

import (
	"math"
	"strings"

	"github.com/candlelabs/portsync/errs"
)

// Instrument describes the trading rules for one (symbol, venue) pair.
// ContractValue is present for contract-based venues and nil for linear ones.
type Instrument struct {
	Symbol        string         `json:"symbol"`
	Venue         Venue          `json:"venue"`
	Type          InstrumentType `json:"type"`
	BaseCurrency  string         `json:"base_currency"`
	QuoteCurrency string         `json:"quote_currency"`
	LotSize       float64        `json:"lot_size"`
	MinLimitSize  float64        `json:"min_limit_size"`
	MaxLimitSize  float64        `json:"max_limit_size"`
	MinMarketSize float64        `json:"min_market_size"`
	MaxMarketSize float64        `json:"max_market_size"`
	ContractValue *float64       `json:"contract_value,omitempty"`
}

// MinOrderSize returns the lower effective order-size bound.
func (i Instrument) MinOrderSize() float64 {
	return math.Max(i.MinLimitSize, i.MinMarketSize)
}

// MaxOrderSize returns the upper effective order-size bound.
func (i Instrument) MaxOrderSize() float64 {
	return math.Min(i.MaxLimitSize, i.MaxMarketSize)
}

// Multiplier returns the contract value, defaulting to 1.0 when absent.
func (i Instrument) Multiplier() float64 {
	if i.ContractValue == nil {
		return 1.0
	}
	return *i.ContractValue
}

// Validate checks that the instrument carries usable trading rules.
func (i Instrument) Validate() error {
	if strings.TrimSpace(i.Symbol) == "" {
		return instrumentError("symbol required")
	}
	if !i.Venue.Valid() {
		return instrumentError("venue required")
	}
	if i.LotSize <= 0 || math.IsInf(i.LotSize, 0) || math.IsNaN(i.LotSize) {
		return instrumentError("lot size must be a positive finite number")
	}
	if i.MaxOrderSize() < i.MinOrderSize() {
		return instrumentError("effective max order size below effective min")
	}
	if i.ContractValue != nil && *i.ContractValue <= 0 {
		return instrumentError("contract value must be positive when present")
	}
	return nil
}

func instrumentError(msg string) error {
	return errs.New("schema/instrument", errs.CodeInvalid, errs.WithMessage(msg))
}
