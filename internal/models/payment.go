package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeIBFT             PaymentType = "IBFT_TRANSFER"
	PaymentTypeRaast            PaymentType = "RAAST_TRANSFER"
	PaymentTypeInterbank        PaymentType = "INTERBANK_TRANSFER"
	PaymentTypeUtilityBill      PaymentType = "UTILITY_BILL"
	PaymentTypeTelecomBill      PaymentType = "TELECOM_BILL"
	PaymentTypeMobileRecharge   PaymentType = "MOBILE_RECHARGE"
	PaymentTypeCreditCard       PaymentType = "CREDIT_CARD_PAYMENT"
	PaymentTypeEducationFee     PaymentType = "EDUCATION_FEE"
	PaymentTypeTaxPayment       PaymentType = "TAX_PAYMENT"
	PaymentTypeInsurancePremium PaymentType = "INSURANCE_PREMIUM"
	PaymentTypeOther            PaymentType = "OTHER"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

// Payment records money leaving an account toward a counterparty. Every payment
// has a matching Transaction row created in the same atomic unit, so the ledger
// always accounts for the debit.
type Payment struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"userId" db:"user_id"`
	AccountID        string          `json:"accountId" db:"account_id"`
	BeneficiaryID    *string         `json:"beneficiaryId,omitempty" db:"beneficiary_id"`
	PaymentType      PaymentType     `json:"paymentType" db:"payment_type"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus" db:"payment_status"`
	Amount           decimal.Decimal `json:"amount" db:"amount"`
	Fee              decimal.Decimal `json:"fee" db:"fee"`
	TotalAmount      decimal.Decimal `json:"totalAmount" db:"total_amount"`
	Currency         string          `json:"currency" db:"currency"`
	RecipientName    string          `json:"recipientName" db:"recipient_name"`
	RecipientAccount string          `json:"recipientAccount,omitempty" db:"recipient_account"`
	RecipientBank    string          `json:"recipientBank,omitempty" db:"recipient_bank"`
	ConsumerNumber   string          `json:"consumerNumber,omitempty" db:"consumer_number"`
	MobileNumber     string          `json:"mobileNumber,omitempty" db:"mobile_number"`
	MobileOperator   string          `json:"mobileOperator,omitempty" db:"mobile_operator"`
	Description      string          `json:"description" db:"description"`
	Reference        string          `json:"reference" db:"reference"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty" db:"processed_at"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt        time.Time       `json:"createdAt" db:"created_at"`
}
