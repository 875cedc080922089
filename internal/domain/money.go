// Package domain holds the core trading-engine entities: users, wallets,
// portfolios, tickers, orders and audit events.
package domain

import "github.com/shopspring/decimal"

// DecimalPlaces is the fixed scale every balance, quantity and price is
// normalized to before it crosses a store boundary: eight fractional
// digits. Normalize fixes only the scale; total precision is not capped in
// code, and the store's columns are declared NUMERIC(28, 8).
const DecimalPlaces = 8

// Normalize rounds d to DecimalPlaces, matching the scale every column in
// the wallet/portfolio/order tables is declared with. Call this on any
// decimal computed from a VWAP or other float-adjacent intermediate before
// it is written to the store.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(DecimalPlaces)
}

// DustThreshold is the |quantity| below which a Portfolio row is deleted
// rather than carried forward (I6).
var DustThreshold = decimal.New(1, -8)

// IsDust reports whether qty is small enough that the portfolio row it
// belongs to must be removed.
func IsDust(qty decimal.Decimal) bool {
	return qty.Abs().LessThanOrEqual(DustThreshold)
}

// MaintenanceMarginRate is the fraction of short liability a user's net
// equity must exceed to avoid forced liquidation (§4.5).
var MaintenanceMarginRate = decimal.NewFromFloat(0.05)

// DefaultFeeRate is used when the config store has no explicit
// config:trading_fee_rate entry.
var DefaultFeeRate = decimal.NewFromFloat(0.001)
