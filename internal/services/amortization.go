package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/desibank/backend/internal/money"
)

const (
	minTenureMonths = 3
	maxTenureMonths = 60
)

// AmortizationRow is one installment of a reducing-balance schedule.
type AmortizationRow struct {
	InstallmentNumber  int             `json:"installment_number"`
	DueDate            time.Time       `json:"due_date"`
	Amount             decimal.Decimal `json:"amount"`
	PrincipalComponent decimal.Decimal `json:"principal_component"`
	InterestComponent  decimal.Decimal `json:"interest_component"`
}

// AmortizationResult carries the computed EMI and the full schedule.
type AmortizationResult struct {
	EmiAmount     decimal.Decimal  `json:"emi_amount"`
	TotalInterest decimal.Decimal  `json:"total_interest"`
	TotalPayable  decimal.Decimal  `json:"total_payable"`
	Schedule      []AmortizationRow `json:"schedule"`
}

// ComputeInstallment returns the fixed monthly installment for a
// reducing-balance loan: P*r*(1+r)^n / ((1+r)^n - 1), rounded to two
// places once at the end. A zero rate degenerates to P/n; a
// non-positive tenure yields zero.
func ComputeInstallment(principal, annualRate decimal.Decimal, tenureMonths int) decimal.Decimal {
	if tenureMonths <= 0 {
		return money.Zero
	}
	n := decimal.NewFromInt(int64(tenureMonths))
	if annualRate.IsZero() {
		return money.Round(principal.Div(n))
	}

	r := money.MonthlyRate(annualRate)
	factor := decimal.NewFromInt(1).Add(r).Pow(n)
	emi := principal.Mul(r).Mul(factor).Div(factor.Sub(decimal.NewFromInt(1)))
	return money.Round(emi)
}

// BuildSchedule produces the installment plan for the given terms. Each
// row charges interest on the outstanding principal; the final row's
// principal component is forced to the remaining outstanding so the
// principal components always sum exactly to the loan amount.
func BuildSchedule(principal, annualRate decimal.Decimal, tenureMonths int, firstDue time.Time) (*AmortizationResult, error) {
	if !money.IsValidAmount(principal) {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, principal)
	}
	if tenureMonths < minTenureMonths || tenureMonths > maxTenureMonths {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidTenure, tenureMonths)
	}
	if annualRate.IsNegative() || annualRate.GreaterThan(money.Hundred) {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidRate, annualRate)
	}

	emi := ComputeInstallment(principal, annualRate, tenureMonths)
	r := money.MonthlyRate(annualRate)

	schedule := make([]AmortizationRow, 0, tenureMonths)
	outstanding := principal
	totalInterest := money.Zero

	for i := 1; i <= tenureMonths; i++ {
		interest := money.Round(outstanding.Mul(r))
		principalPart := emi.Sub(interest)
		amount := emi

		if i == tenureMonths {
			// Absorb the rounding residual in the last installment.
			principalPart = outstanding
			amount = principalPart.Add(interest)
		}

		schedule = append(schedule, AmortizationRow{
			InstallmentNumber:  i,
			DueDate:            firstDue.AddDate(0, i-1, 0),
			Amount:             amount,
			PrincipalComponent: principalPart,
			InterestComponent:  interest,
		})

		outstanding = outstanding.Sub(principalPart)
		totalInterest = totalInterest.Add(interest)
	}

	return &AmortizationResult{
		EmiAmount:     emi,
		TotalInterest: totalInterest,
		TotalPayable:  principal.Add(totalInterest),
		Schedule:      schedule,
	}, nil
}
