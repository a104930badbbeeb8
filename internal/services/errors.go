package services

import (
	"errors"
	"fmt"
)

// Business errors returned by the services layer. Handlers map these to
// HTTP status codes; anything wrapped in ErrStorage maps to 500.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account is not active")
	ErrAccountNotEmpty     = errors.New("account balance must be zero before closing")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSelfTransfer        = errors.New("cannot transfer to the same account")
	ErrCurrencyMismatch    = errors.New("accounts hold different currencies")
	ErrInvalidAmount       = errors.New("amount must be positive with at most two decimal places")
	ErrInvalidTenure       = errors.New("tenure must be between 3 and 60 months")
	ErrInvalidRate         = errors.New("interest rate must be between 0 and 100")
	ErrPlanNotFound        = errors.New("emi plan not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrAlreadyPaid         = errors.New("installment already paid")
	ErrAccountMismatch     = errors.New("account does not belong to this plan")
	ErrPaymentNotFound     = errors.New("payment not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailTaken          = errors.New("email already registered")
	ErrVersionConflict     = errors.New("account was modified concurrently, retry the operation")

	ErrStorage = errors.New("storage error")
)

// storageErr wraps a database failure so callers can distinguish
// infrastructure faults from business rule violations.
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}
