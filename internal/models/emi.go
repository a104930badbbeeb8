package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EmiPlanStatus string

const (
	EmiPlanStatusActive    EmiPlanStatus = "ACTIVE"
	EmiPlanStatusOverdue   EmiPlanStatus = "OVERDUE"
	EmiPlanStatusCompleted EmiPlanStatus = "COMPLETED"
)

type EmiInstallmentStatus string

const (
	EmiInstallmentStatusPending EmiInstallmentStatus = "PENDING"
	EmiInstallmentStatusPaid    EmiInstallmentStatus = "PAID"
)

// EmiPlan is a fixed-installment loan. EmiAmount is the unique payment such
// that TenureMonths equal payments fully amortize Principal at the annual rate.
// A plan is created atomically with its complete installment schedule and is
// never deleted.
type EmiPlan struct {
	ID                 string          `json:"id" db:"id"`
	UserID             string          `json:"userId" db:"user_id"`
	AccountID          string          `json:"accountId" db:"account_id"`
	ProductName        string          `json:"productName,omitempty" db:"product_name"`
	Principal          decimal.Decimal `json:"principal" db:"principal"`
	InterestRateAnnual decimal.Decimal `json:"interestRateAnnual" db:"interest_rate_annual"`
	TenureMonths       int             `json:"tenureMonths" db:"tenure_months"`
	EmiAmount          decimal.Decimal `json:"emiAmount" db:"emi_amount"`
	Currency           string          `json:"currency" db:"currency"`
	Status             EmiPlanStatus   `json:"status" db:"status"`
	StartDate          time.Time       `json:"startDate" db:"start_date"`
	EndDate            time.Time       `json:"endDate" db:"end_date"`
	NextDueDate        *time.Time      `json:"nextDueDate,omitempty" db:"next_due_date"`
	TotalInterest      decimal.Decimal `json:"totalInterest" db:"total_interest"`
	CreatedAt          time.Time       `json:"createdAt" db:"created_at"`
}

// EmiInstallment is one scheduled payment of a plan. Amount is always
// PrincipalComponent + InterestComponent; the final installment absorbs the
// rounding residual so the plan's principal zeroes out exactly.
type EmiInstallment struct {
	ID                 string               `json:"id" db:"id"`
	EmiPlanID          string               `json:"emiPlanId" db:"emi_plan_id"`
	InstallmentNumber  int                  `json:"installmentNumber" db:"installment_number"`
	DueDate            time.Time            `json:"dueDate" db:"due_date"`
	Amount             decimal.Decimal      `json:"amount" db:"amount"`
	PrincipalComponent decimal.Decimal      `json:"principalComponent" db:"principal_component"`
	InterestComponent  decimal.Decimal      `json:"interestComponent" db:"interest_component"`
	Status             EmiInstallmentStatus `json:"status" db:"status"`
	PaidAt             *time.Time           `json:"paidAt,omitempty" db:"paid_at"`
	PaymentID          *string              `json:"paymentId,omitempty" db:"payment_id"`
}
