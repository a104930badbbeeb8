package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypePayment    TransactionType = "PAYMENT"
	TransactionTypeTransfer   TransactionType = "TRANSFER"
	TransactionTypeFee        TransactionType = "FEE"
	TransactionTypeRefund     TransactionType = "REFUND"
	TransactionTypeInterest   TransactionType = "INTEREST"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

type TransactionCategory string

const (
	TransactionCategoryTransfer TransactionCategory = "TRANSFER"
	TransactionCategoryBills    TransactionCategory = "BILLS"
	TransactionCategoryLoan     TransactionCategory = "LOAN"
	TransactionCategoryOther    TransactionCategory = "OTHER"
)

// Transaction is an immutable ledger entry for one account. Amount is signed
// (debits negative, credits positive) and BalanceAfter snapshots the account
// balance immediately after the entry was applied. Rows are append-only.
type Transaction struct {
	ID            string              `json:"id" db:"id"`
	AccountID     string              `json:"accountId" db:"account_id"`
	Type          TransactionType     `json:"type" db:"type"`
	Status        TransactionStatus   `json:"status" db:"status"`
	Category      TransactionCategory `json:"category" db:"category"`
	Amount        decimal.Decimal     `json:"amount" db:"amount"`
	Currency      string              `json:"currency" db:"currency"`
	BalanceAfter  decimal.Decimal     `json:"balanceAfter" db:"balance_after"`
	Description   string              `json:"description" db:"description"`
	Reference     string              `json:"reference" db:"reference"`
	FromAccountID *string             `json:"fromAccountId,omitempty" db:"from_account_id"`
	ToAccountID   *string             `json:"toAccountId,omitempty" db:"to_account_id"`
	CompletedAt   *time.Time          `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt     time.Time           `json:"createdAt" db:"created_at"`
}
