// Package money fixes the rounding policy for every monetary amount in the
// system. Amounts are shopspring decimals rounded to 2 decimal places using
// round-half-up, applied once at the end of a computation. Rounding
// intermediate results of a multi-step computation is the classic source of
// off-by-one-cent ledger divergence; helpers here round, callers must not
// round again.
package money

import "github.com/shopspring/decimal"

var (
	Zero    = decimal.Zero
	Hundred = decimal.NewFromInt(100)
	Twelve  = decimal.NewFromInt(12)
)

// Round rounds to 2 decimal places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IsValidAmount reports whether d is a positive amount with at most two
// decimal places, i.e. acceptable as user-supplied money.
func IsValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2))
}

// MonthlyRate converts an annual percentage rate to a monthly fractional rate
// (annual / 100 / 12). The result is intentionally not rounded; it feeds
// further arithmetic.
func MonthlyRate(annualRatePercent decimal.Decimal) decimal.Decimal {
	return annualRatePercent.Div(Hundred).Div(Twelve)
}
