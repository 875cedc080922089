package domain

import "time"

// AuditEventType tags which outbox row kind a drained event carries.
type AuditEventType string

const (
	AuditEventWalletTx           AuditEventType = "wallet_tx"
	AuditEventPortfolioHistory   AuditEventType = "portfolio_history"
	AuditEventOrderStatusHistory AuditEventType = "order_status_history"
)

// AuditEvent is the append-only row staged in the outbox inside the same
// transaction as the state change it describes, and later drained by
// AuditSink (§4.6). Exactly one of WalletTx/PortfolioTx/OrderStatusTx is
// populated, matching Type.
type AuditEvent struct {
	ID        int64
	Type      AuditEventType
	CreatedAt time.Time

	WalletTx      *WalletTx
	PortfolioTx   *PortfolioHistory
	OrderStatusTx *OrderStatusHistory
}
