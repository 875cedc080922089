package execution

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// S1: market long round-trip.
func TestApplyFill_S1_MarketLongRoundTrip(t *testing.T) {
	userID := uuid.New()
	feeRate := dec("0.001")

	wallet := domain.Wallet{UserID: userID, Balance: dec("1000000")}
	pf := domain.Portfolio{UserID: userID, TickerID: "XYZ"}

	buy := ApplyFill(domain.OrderSideBuy, dec("10"), wallet, pf, feeRate, dec("100"))
	require.False(t, buy.Failed)
	assert.True(t, buy.Wallet.Balance.Equal(dec("998999")), "got %s", buy.Wallet.Balance)
	assert.True(t, buy.Portfolio.Quantity.Equal(dec("10")))
	assert.True(t, buy.Portfolio.AveragePrice.Equal(dec("100.1")), "got %s", buy.Portfolio.AveragePrice)
	assert.Nil(t, buy.RealizedPnL)

	sell := ApplyFill(domain.OrderSideSell, dec("10"), buy.Wallet, buy.Portfolio, feeRate, dec("120"))
	require.False(t, sell.Failed)
	require.NotNil(t, sell.RealizedPnL)
	assert.True(t, sell.RealizedPnL.Equal(dec("197.8")), "got %s", sell.RealizedPnL)
	assert.True(t, sell.Wallet.Balance.Equal(dec("1000197.8")), "got %s", sell.Wallet.Balance)
	assert.True(t, domain.IsDust(sell.Portfolio.Quantity))
}

// S2: switch long -> short in one sell, zero fee.
func TestApplyFill_S2_SwitchLongToShort(t *testing.T) {
	userID := uuid.New()
	wallet := domain.Wallet{UserID: userID, Balance: decimal.Zero}
	pf := domain.Portfolio{UserID: userID, TickerID: "XYZ", Quantity: dec("2"), AveragePrice: dec("100")}

	sell := ApplyFill(domain.OrderSideSell, dec("5"), wallet, pf, decimal.Zero, dec("100"))
	require.False(t, sell.Failed)
	require.NotNil(t, sell.RealizedPnL)
	assert.True(t, sell.RealizedPnL.IsZero())
	assert.True(t, sell.Portfolio.Quantity.Equal(dec("-3")))
	assert.True(t, sell.Portfolio.AveragePrice.Equal(dec("100")))
	assert.True(t, sell.Wallet.Balance.Equal(dec("500")))
}

// S7: fee-free liquidation closing a short.
func TestApplyFill_S7_LiquidationClosesShort(t *testing.T) {
	userID := uuid.New()
	wallet := domain.Wallet{UserID: userID, Balance: dec("2000000")}
	pf := domain.Portfolio{UserID: userID, TickerID: "XYZ", Quantity: dec("-100"), AveragePrice: dec("10000")}

	buy := ApplyFill(domain.OrderSideBuy, dec("100"), wallet, pf, decimal.Zero, dec("19500"))
	require.False(t, buy.Failed)
	assert.True(t, buy.Wallet.Balance.Equal(dec("50000")), "got %s", buy.Wallet.Balance)
	assert.True(t, domain.IsDust(buy.Portfolio.Quantity))
}

// P1: for every committed BUY, wallet debits exactly notional*(1+f), the
// portfolio gains exactly q, and fee = p*q*f.
func TestApplyFill_P1_BuyInvariant(t *testing.T) {
	userID := uuid.New()
	feeRate := dec("0.001")
	price := dec("50")
	qty := dec("4")

	wallet := domain.Wallet{UserID: userID, Balance: dec("10000")}
	pf := domain.Portfolio{UserID: userID, TickerID: "XYZ"}

	fr := ApplyFill(domain.OrderSideBuy, qty, wallet, pf, feeRate, price)
	require.False(t, fr.Failed)

	wantFee := domain.Normalize(price.Mul(qty).Mul(feeRate))
	assert.True(t, fr.Fee.Equal(wantFee))

	wantDelta := price.Mul(qty).Mul(decimal.NewFromInt(1).Add(feeRate)).Neg()
	gotDelta := fr.Wallet.Balance.Sub(wallet.Balance)
	assert.True(t, gotDelta.Equal(domain.Normalize(wantDelta)), "got delta %s want %s", gotDelta, wantDelta)

	assert.True(t, fr.Portfolio.Quantity.Sub(pf.Quantity).Equal(qty))
}

// P2: for every committed SELL closing a long with no prior short leg,
// realized_pnl = (p-avg_before)*min(cur,q) - f*p*min(cur,q).
func TestApplyFill_P2_SellClosingLongInvariant(t *testing.T) {
	userID := uuid.New()
	feeRate := dec("0.01")
	price := dec("150")
	avgBefore := dec("100")
	cur := dec("3")
	qty := dec("2")

	wallet := domain.Wallet{UserID: userID, Balance: decimal.Zero}
	pf := domain.Portfolio{UserID: userID, TickerID: "XYZ", Quantity: cur, AveragePrice: avgBefore}

	fr := ApplyFill(domain.OrderSideSell, qty, wallet, pf, feeRate, price)
	require.False(t, fr.Failed)
	require.NotNil(t, fr.RealizedPnL)

	closing := decimal.Min(cur, qty)
	want := domain.Normalize(price.Sub(avgBefore).Mul(closing).Sub(feeRate.Mul(price).Mul(closing)))
	assert.True(t, fr.RealizedPnL.Equal(want), "got %s want %s", fr.RealizedPnL, want)
}

// P4: dust rule — a near-zero resulting quantity must register as dust so
// callers delete the portfolio row rather than carrying a residue forward.
func TestApplyFill_P4_DustRule(t *testing.T) {
	userID := uuid.New()
	wallet := domain.Wallet{UserID: userID, Balance: dec("1000")}
	pf := domain.Portfolio{UserID: userID, TickerID: "XYZ", Quantity: dec("5"), AveragePrice: dec("10")}

	fr := ApplyFill(domain.OrderSideSell, dec("5"), wallet, pf, decimal.Zero, dec("10"))
	require.False(t, fr.Failed)
	assert.True(t, domain.IsDust(fr.Portfolio.Quantity), "got %s", fr.Portfolio.Quantity)
}

func TestApplyFill_BuyInsufficientFunds(t *testing.T) {
	userID := uuid.New()
	wallet := domain.Wallet{UserID: userID, Balance: dec("10")}
	pf := domain.Portfolio{UserID: userID, TickerID: "XYZ"}

	fr := ApplyFill(domain.OrderSideBuy, dec("1"), wallet, pf, dec("0.001"), dec("100"))
	assert.True(t, fr.Failed)
	assert.NotEmpty(t, fr.FailReason)
}

func TestApplyFill_ReduceShortAveragePriceUnchanged(t *testing.T) {
	userID := uuid.New()
	wallet := domain.Wallet{UserID: userID, Balance: dec("100000")}
	pf := domain.Portfolio{UserID: userID, TickerID: "XYZ", Quantity: dec("-10"), AveragePrice: dec("200")}

	fr := ApplyFill(domain.OrderSideBuy, dec("4"), wallet, pf, decimal.Zero, dec("150"))
	require.False(t, fr.Failed)
	assert.True(t, fr.Portfolio.Quantity.Equal(dec("-6")))
	assert.True(t, fr.Portfolio.AveragePrice.Equal(dec("200")))
}

func TestApplyFill_ExtendShortWeightedAverage(t *testing.T) {
	userID := uuid.New()
	wallet := domain.Wallet{UserID: userID, Balance: decimal.Zero}
	pf := domain.Portfolio{UserID: userID, TickerID: "XYZ", Quantity: dec("-2"), AveragePrice: dec("100")}

	fr := ApplyFill(domain.OrderSideSell, dec("3"), wallet, pf, decimal.Zero, dec("110"))
	require.False(t, fr.Failed)
	assert.True(t, fr.Portfolio.Quantity.Equal(dec("-5")))

	wantAvg := dec("2").Mul(dec("100")).Add(dec("3").Mul(dec("110"))).Div(dec("5"))
	assert.True(t, fr.Portfolio.AveragePrice.Equal(domain.Normalize(wantAvg)), "got %s want %s", fr.Portfolio.AveragePrice, wantAvg)
}
