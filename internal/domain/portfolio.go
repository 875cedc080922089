package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PortfolioAction tags the shape of a portfolio_history audit row (I2).
type PortfolioAction string

const (
	PortfolioActionInsert PortfolioAction = "insert"
	PortfolioActionUpdate PortfolioAction = "update"
	PortfolioActionDelete PortfolioAction = "delete"
)

// Portfolio is a single (user, ticker) holding. Quantity is signed:
// positive is long (AveragePrice is acquisition cost/unit), negative is
// short (AveragePrice is short-entry credit/unit). A row with
// |Quantity| <= DustThreshold must not exist after commit (I6).
type Portfolio struct {
	UserID       uuid.UUID
	TickerID     string
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
}

// IsLong reports whether this holding is a long position.
func (p Portfolio) IsLong() bool { return p.Quantity.IsPositive() }

// IsShort reports whether this holding is a short position.
func (p Portfolio) IsShort() bool { return p.Quantity.IsNegative() }

// PortfolioHistory is the audit row produced by every portfolio
// create/update/delete (I2).
type PortfolioHistory struct {
	UserID       uuid.UUID
	TickerID     string
	Action       PortfolioAction
	PrevQuantity decimal.Decimal
	NewQuantity  decimal.Decimal
	PrevAvgPrice decimal.Decimal
	NewAvgPrice  decimal.Decimal
	Reason       string
}
