package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WalletReason tags why a wallet balance changed. Every write must carry
// one (I1); AuditSink persists it verbatim on the wallet_tx row.
type WalletReason string

const (
	WalletReasonTradeBuy       WalletReason = "trade:buy"
	WalletReasonTradeSell      WalletReason = "trade:sell"
	WalletReasonLiquidation    WalletReason = "liquidation:close"
	WalletReasonLiquidityReset WalletReason = "liquidation:reset"
	WalletReasonDividendPaid   WalletReason = "dividend:paid"
	WalletReasonDividendWithheld WalletReason = "dividend:withheld"
)

// Wallet is the single cash balance row per user.
type Wallet struct {
	UserID  uuid.UUID
	Balance decimal.Decimal
}

// WalletTx is the audit row produced by every wallet write (I1).
type WalletTx struct {
	UserID  uuid.UUID
	Prev    decimal.Decimal
	New     decimal.Decimal
	Reason  WalletReason
}
