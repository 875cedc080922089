package pricefeed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestGroupFor(t *testing.T) {
	cases := []struct {
		name string
		o    domain.Order
		want Group
	}{
		{"limit buy", domain.Order{Type: domain.OrderTypeLimit, Side: domain.OrderSideBuy}, GroupLimitBuy},
		{"limit sell", domain.Order{Type: domain.OrderTypeLimit, Side: domain.OrderSideSell}, GroupLimitSell},
		{"stop loss buy", domain.Order{Type: domain.OrderTypeStopLoss, Side: domain.OrderSideBuy}, GroupStopBuy},
		{"take profit sell", domain.Order{Type: domain.OrderTypeTakeProfit, Side: domain.OrderSideSell}, GroupStopSell},
		{"stop limit buy", domain.Order{Type: domain.OrderTypeStopLimit, Side: domain.OrderSideBuy}, GroupStopBuy},
		{"trailing stop sell", domain.Order{Type: domain.OrderTypeTrailingStop, Side: domain.OrderSideSell}, GroupStopSell},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, GroupFor(c.o))
		})
	}
}

func TestScore_StopFamilyUsesStopPrice(t *testing.T) {
	o := domain.Order{Type: domain.OrderTypeStopLoss, StopPrice: dec("90"), TargetPrice: dec("89")}
	assert.True(t, score(o).Equal(dec("90")))
}

func TestScore_LimitUsesTargetPrice(t *testing.T) {
	o := domain.Order{Type: domain.OrderTypeLimit, StopPrice: dec("90"), TargetPrice: dec("89")}
	assert.True(t, score(o).Equal(dec("89")))
}

func TestScoreRange_LimitBuyWantsTargetAtOrAboveCurrent(t *testing.T) {
	min, max := scoreRange(GroupLimitBuy, dec("100"))
	assert.Equal(t, "100", min)
	assert.Equal(t, "+inf", max)
}

func TestScoreRange_LimitSellWantsTargetAtOrBelowCurrent(t *testing.T) {
	min, max := scoreRange(GroupLimitSell, dec("100"))
	assert.Equal(t, "-inf", min)
	assert.Equal(t, "100", max)
}
