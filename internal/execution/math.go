package execution

import (
	"github.com/shopspring/decimal"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

// FillResult is one side's outcome of applying §4.2's settlement math at a
// given price/qty — shared by TradeExecutor (MARKET/conditional fills
// against the market) and HumanMatcher (both sides of a P2P cross).
type FillResult struct {
	Wallet       domain.Wallet
	WalletReason domain.WalletReason
	Portfolio    domain.Portfolio
	Fee          decimal.Decimal
	RealizedPnL  *decimal.Decimal
	Failed       bool
	FailReason   string
}

// ApplyFill computes the post-trade wallet/portfolio state for one side of
// a trade at price for qty, following §4.2's BUY/SELL formulas exactly.
// wallet and pf are pre-images; whether pf came from an existing row (the
// caller's insert-vs-update audit action) is tracked by the caller.
func ApplyFill(side domain.OrderSide, qty decimal.Decimal, wallet domain.Wallet, pf domain.Portfolio, feeRate, price decimal.Decimal) FillResult {
	notional := price.Mul(qty)
	fee := notional.Mul(feeRate)
	cur := pf.Quantity
	avg := pf.AveragePrice

	if side == domain.OrderSideBuy {
		required := notional.Add(fee)
		if wallet.Balance.LessThan(required) {
			return FillResult{Failed: true, FailReason: "insufficient funds for buy"}
		}

		var pnl *decimal.Decimal
		if cur.IsNegative() {
			closing := decimal.Min(cur.Abs(), qty)
			allocatedFee := fee.Mul(closing).Div(qty)
			gain := domain.Normalize(avg.Sub(price).Mul(closing).Sub(allocatedFee))
			pnl = &gain
		}

		var newCur, newAvg decimal.Decimal
		switch {
		case cur.GreaterThanOrEqual(decimal.Zero): // extend long
			newAvg = domain.Normalize(cur.Mul(avg).Add(required).Div(cur.Add(qty)))
			newCur = cur.Add(qty)
		case cur.Add(qty).LessThanOrEqual(decimal.Zero): // reduce short, avg unchanged
			newCur = cur.Add(qty)
			newAvg = avg
		default: // switch short -> long
			newCur = cur.Add(qty)
			newAvg = price
		}

		return FillResult{
			Wallet:       domain.Wallet{UserID: wallet.UserID, Balance: domain.Normalize(wallet.Balance.Sub(required))},
			WalletReason: domain.WalletReasonTradeBuy,
			Portfolio:    domain.Portfolio{UserID: pf.UserID, TickerID: pf.TickerID, Quantity: domain.Normalize(newCur), AveragePrice: newAvg},
			Fee:          domain.Normalize(fee),
			RealizedPnL:  pnl,
		}
	}

	// SELL
	netIncome := notional.Sub(fee)
	var pnl *decimal.Decimal
	if cur.IsPositive() {
		closing := decimal.Min(cur, qty)
		allocatedFee := fee.Mul(closing).Div(qty)
		gain := domain.Normalize(price.Sub(avg).Mul(closing).Sub(allocatedFee))
		pnl = &gain
	}

	var newCur, newAvg decimal.Decimal
	switch {
	case cur.IsPositive() && cur.Sub(qty).GreaterThanOrEqual(decimal.Zero): // reduce long
		newCur = cur.Sub(qty)
		newAvg = avg
	case cur.IsPositive(): // switch long -> short
		newCur = cur.Sub(qty)
		newAvg = price
	default: // extend short
		prevVal := cur.Abs().Mul(avg)
		newVal := prevVal.Add(netIncome)
		newAbs := cur.Sub(qty).Abs()
		if newAbs.IsZero() {
			newAvg = decimal.Zero
		} else {
			newAvg = domain.Normalize(newVal.Div(newAbs))
		}
		newCur = cur.Sub(qty)
	}

	return FillResult{
		Wallet:       domain.Wallet{UserID: wallet.UserID, Balance: domain.Normalize(wallet.Balance.Add(netIncome))},
		WalletReason: domain.WalletReasonTradeSell,
		Portfolio:    domain.Portfolio{UserID: pf.UserID, TickerID: pf.TickerID, Quantity: domain.Normalize(newCur), AveragePrice: newAvg},
		Fee:          domain.Normalize(fee),
		RealizedPnL:  pnl,
	}
}

// settledTrade bundles a FillResult with the order it belongs to, for the
// single-order (non-P2P) executor path.
type settledTrade struct {
	wallet       domain.Wallet
	walletReason domain.WalletReason
	portfolio    domain.Portfolio
	order        domain.Order
}

type settleOutcome struct {
	Failed      bool
	FailReason  string
	RealizedPnL *decimal.Decimal
}

// settle is the executor's adapter over ApplyFill: it produces the order's
// post-trade fields (price, fee, realized_pnl) alongside the wallet and
// portfolio post-images.
func settle(order domain.Order, wallet domain.Wallet, pf domain.Portfolio, pfExisted bool, price, feeRate decimal.Decimal) (settledTrade, settleOutcome, error) {
	fr := ApplyFill(order.Side, order.Quantity, wallet, pf, feeRate, price)
	if fr.Failed {
		return settledTrade{order: order}, settleOutcome{Failed: true, FailReason: fr.FailReason}, nil
	}

	order.Price = price
	order.Fee = fr.Fee
	order.RealizedPnL = fr.RealizedPnL

	return settledTrade{
		wallet:       fr.Wallet,
		walletReason: fr.WalletReason,
		portfolio:    fr.Portfolio,
		order:        order,
	}, settleOutcome{RealizedPnL: fr.RealizedPnL}, nil
}
