package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountTypeCurrent    AccountType = "CURRENT"
	AccountTypeSavings    AccountType = "SAVINGS"
	AccountTypeCreditCard AccountType = "CREDIT_CARD"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// Account owns a monetary balance in one currency. Balances are mutated only
// through the ledger service; the stored balance is always the value implied by
// replaying the account's transactions in creation order.
type Account struct {
	ID              string           `json:"id" db:"id"`
	UserID          string           `json:"userId" db:"user_id"`
	AccountNumber   string           `json:"accountNumber" db:"account_number"`
	IBAN            string           `json:"iban" db:"iban"`
	RoutingNumber   string           `json:"routingNumber" db:"routing_number"`
	AccountType     AccountType      `json:"accountType" db:"account_type"`
	Nickname        string           `json:"nickname,omitempty" db:"nickname"`
	Status          AccountStatus    `json:"accountStatus" db:"status"`
	Balance         decimal.Decimal  `json:"balance" db:"balance"`
	Currency        string           `json:"currency" db:"currency"`
	CreditLimit     *decimal.Decimal `json:"creditLimit,omitempty" db:"credit_limit"`
	AvailableCredit *decimal.Decimal `json:"availableCredit,omitempty" db:"available_credit"`
	DueDate         *time.Time       `json:"dueDate,omitempty" db:"due_date"`
	Version         int              `json:"-" db:"version"` // optimistic locking
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time        `json:"updatedAt" db:"updated_at"`
	ClosedAt        *time.Time       `json:"closedAt,omitempty" db:"closed_at"`
}

// AllowsNegativeBalance reports whether the account may be driven below zero.
// Credit-card accounts carry a credit limit enforced by a separate policy.
func (a *Account) AllowsNegativeBalance() bool {
	return a.AccountType == AccountTypeCreditCard
}
