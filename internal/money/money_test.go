package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	t.Run("rounds half up", func(t *testing.T) {
		assert.Equal(t, "10.01", Round(decimal.RequireFromString("10.005")).String())
		assert.Equal(t, "10.00", Round(decimal.RequireFromString("10.004")).String())
		assert.Equal(t, "-10.01", Round(decimal.RequireFromString("-10.005")).String())
	})

	t.Run("leaves two-place amounts unchanged", func(t *testing.T) {
		d := decimal.RequireFromString("123.45")
		assert.True(t, Round(d).Equal(d))
	})
}

func TestIsValidAmount(t *testing.T) {
	assert.True(t, IsValidAmount(decimal.RequireFromString("0.01")))
	assert.True(t, IsValidAmount(decimal.RequireFromString("1000")))
	assert.False(t, IsValidAmount(decimal.Zero))
	assert.False(t, IsValidAmount(decimal.RequireFromString("-5.00")))
	assert.False(t, IsValidAmount(decimal.RequireFromString("1.005")))
}

func TestMonthlyRate(t *testing.T) {
	// 12% annual is exactly 1% monthly.
	r := MonthlyRate(decimal.NewFromInt(12))
	assert.True(t, r.Equal(decimal.RequireFromString("0.01")), "got %s", r)

	assert.True(t, MonthlyRate(decimal.Zero).IsZero())
}
