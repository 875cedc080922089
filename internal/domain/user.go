package domain

import (
	"github.com/google/uuid"
)

// User is the owner of a Wallet and zero or more Portfolio rows. Identity
// keys are opaque 128-bit values; the engine never inspects them beyond
// equality.
type User struct {
	ID            uuid.UUID
	IsActive      bool
	IsBankrupt    bool
	BankruptCount int
	// DividendRate is in [0,1]; a positive realized gain on a SELL routes
	// through the dividend collaborator before crediting the wallet when
	// this user is an active Human-ETF issuer.
	DividendRate float64
}

// IsDividendIssuer reports whether this user's closing gains are subject to
// withholding under §4.2's post-settlement dividend rule.
func (u User) IsDividendIssuer() bool {
	return u.IsActive && u.DividendRate > 0
}
