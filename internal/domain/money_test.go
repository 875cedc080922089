package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormalize_RoundsToEightDecimalPlaces(t *testing.T) {
	d, _ := decimal.NewFromString("1.123456789")
	got := Normalize(d)
	want, _ := decimal.NewFromString("1.12345679")
	assert.True(t, got.Equal(want), "got %s want %s", got, want)
}

// P4: the dust threshold is inclusive at exactly 1e-8.
func TestIsDust_BoundaryInclusive(t *testing.T) {
	assert.True(t, IsDust(decimal.New(1, -8)))
	assert.True(t, IsDust(decimal.New(-1, -8)))
	assert.False(t, IsDust(decimal.New(2, -8)))
	assert.True(t, IsDust(decimal.Zero))
}
