// Package sizing converts notional order intents into venue-conformant size
// strings under each instrument's rounding and clamping rules.
package sizing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/candlelabs/portsync/errs"
	"github.com/candlelabs/portsync/internal/schema"
)

// Size computes the order quantity for the given notional at the given price
// and renders it in the venue's textual representation. The quantity is
// clamped into the instrument's effective bounds and rounded down to a lot
// size multiple; the rendered precision is implied by the lot size.
func Size(price, notional float64, info schema.Instrument, v schema.Venue) (string, error) {
	if !isFinite(price) || price <= 0 {
		return "", errs.New(string(v), errs.CodeVenueData,
			errs.WithMessage("order sizing requires a positive finite price"))
	}
	if !isFinite(notional) || notional < 0 {
		return "", errs.New(string(v), errs.CodeVenueData,
			errs.WithMessage("order sizing requires a non-negative finite notional"))
	}
	if info.LotSize <= 0 || !isFinite(info.LotSize) {
		return "", errs.New(string(v), errs.CodeVenueData,
			errs.WithMessage("order sizing requires a positive lot size"))
	}

	divisor := price
	if v == schema.VenueOKX {
		// OKX sizes perpetual orders in contracts; the multiplier is part of
		// the venue metadata and must be present.
		if info.ContractValue == nil {
			return "", errs.New(string(v), errs.CodeVenueData,
				errs.WithMessage("contract value missing for contract-sized venue"))
		}
		divisor = price * *info.ContractValue
	}
	if divisor <= 0 || !isFinite(divisor) {
		return "", errs.New(string(v), errs.CodeVenueData,
			errs.WithMessage("order sizing divisor out of range"))
	}

	qty := notional / divisor
	qty = clamp(qty, info.MinOrderSize(), info.MaxOrderSize())

	return render(qty, info.LotSize), nil
}

// render rounds qty down to the nearest lot multiple and formats it with the
// precision the lot size implies.
func render(qty, lotSize float64) string {
	qtyDec := decimal.NewFromFloat(qty)
	lotDec := decimal.NewFromFloat(lotSize)
	steps := qtyDec.Div(lotDec).Floor()
	return steps.Mul(lotDec).String()
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
