package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/desibank/backend/internal/audit"
	"github.com/desibank/backend/internal/models"
	"github.com/desibank/backend/internal/money"
)

// Mutation describes one balance change to apply through the ledger.
// Amount is always positive; Type decides the direction.
type Mutation struct {
	AccountID     string
	Type          models.TransactionType
	Category      models.TransactionCategory
	Amount        decimal.Decimal
	Description   string
	Reference     string
	FromAccountID *string
	ToAccountID   *string
}

// LedgerService is the single write path for account balances. Every
// deposit, withdrawal, payment, fee and transfer becomes an immutable
// transaction row carrying the balance after the change, inside one
// serializable database transaction.
type LedgerService struct {
	db      *sql.DB
	auditor *audit.Logger
}

func NewLedgerService(db *sql.DB, auditor *audit.Logger) *LedgerService {
	return &LedgerService{
		db:      db,
		auditor: auditor,
	}
}

func creditType(t models.TransactionType) bool {
	switch t {
	case models.TransactionTypeDeposit, models.TransactionTypeRefund, models.TransactionTypeInterest:
		return true
	}
	return false
}

// Apply runs a single-account mutation in its own serializable transaction.
func (s *LedgerService) Apply(ctx context.Context, m Mutation) (*models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, storageErr("begin ledger tx", err)
	}
	defer tx.Rollback()

	txn, err := s.ApplyTx(ctx, tx, m)
	if err != nil {
		s.auditor.LogError(m.Reference, m.AccountID, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr("commit ledger tx", err)
	}

	s.auditor.LogMutation(txn.Reference, txn.AccountID, txn.Amount, string(txn.Type))
	return txn, nil
}

// ApplyTx applies a mutation inside a caller-owned transaction. Callers that
// need additional atomic writes (payments, EMI installments) use this and
// commit themselves.
func (s *LedgerService) ApplyTx(ctx context.Context, tx *sql.Tx, m Mutation) (*models.Transaction, error) {
	if !money.IsValidAmount(m.Amount) {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, m.Amount)
	}

	account, err := s.lockAccount(ctx, tx, m.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != models.AccountStatusActive {
		return nil, fmt.Errorf("%w: account %s is %s", ErrAccountInactive, account.ID, account.Status)
	}

	signed := m.Amount
	if !creditType(m.Type) {
		signed = m.Amount.Neg()
	}

	newBalance := account.Balance.Add(signed)
	if err := checkFloor(account, newBalance); err != nil {
		return nil, err
	}

	reference := m.Reference
	if reference == "" {
		reference = GenerateReference("TXN")
	}

	now := time.Now()
	txn := &models.Transaction{
		ID:            uuid.New().String(),
		AccountID:     account.ID,
		Type:          m.Type,
		Status:        models.TransactionStatusCompleted,
		Category:      m.Category,
		Amount:        signed,
		Currency:      account.Currency,
		BalanceAfter:  newBalance,
		Description:   m.Description,
		Reference:     reference,
		FromAccountID: m.FromAccountID,
		ToAccountID:   m.ToAccountID,
		CompletedAt:   &now,
		CreatedAt:     now,
	}

	if err := s.insertTransaction(ctx, tx, txn); err != nil {
		return nil, err
	}
	if err := s.updateAccountBalance(ctx, tx, account.ID, newBalance, account.Version); err != nil {
		return nil, err
	}

	return txn, nil
}

// Transfer moves amount between two accounts atomically, producing one
// debit row and one credit row that share a reference. Accounts are locked
// in id order so concurrent opposing transfers cannot deadlock.
func (s *LedgerService) Transfer(ctx context.Context, fromAccountID, toAccountID string, amount decimal.Decimal, description string) (*models.Transaction, *models.Transaction, error) {
	if fromAccountID == toAccountID {
		return nil, nil, fmt.Errorf("%w: account %s", ErrSelfTransfer, fromAccountID)
	}
	if !money.IsValidAmount(amount) {
		return nil, nil, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, storageErr("begin transfer tx", err)
	}
	defer tx.Rollback()

	reference := GenerateReference("TRF")

	debit, credit, err := s.transferTx(ctx, tx, fromAccountID, toAccountID, amount, description, reference)
	if err != nil {
		s.auditor.LogTransfer(reference, fromAccountID, toAccountID, amount, "FAILED")
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, storageErr("commit transfer tx", err)
	}

	s.auditor.LogTransfer(reference, fromAccountID, toAccountID, amount, "SUCCESS")
	return debit, credit, nil
}

func (s *LedgerService) transferTx(ctx context.Context, tx *sql.Tx, fromAccountID, toAccountID string, amount decimal.Decimal, description, reference string) (*models.Transaction, *models.Transaction, error) {
	// Lock accounts in consistent order to prevent deadlocks.
	firstLock, secondLock := fromAccountID, toAccountID
	if fromAccountID > toAccountID {
		firstLock, secondLock = toAccountID, fromAccountID
	}

	fromAccount, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, nil, err
	}
	toAccount, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, nil, err
	}
	if firstLock != fromAccountID {
		fromAccount, toAccount = toAccount, fromAccount
	}

	if fromAccount.Status != models.AccountStatusActive {
		return nil, nil, fmt.Errorf("%w: account %s is %s", ErrAccountInactive, fromAccount.ID, fromAccount.Status)
	}
	if toAccount.Status != models.AccountStatusActive {
		return nil, nil, fmt.Errorf("%w: account %s is %s", ErrAccountInactive, toAccount.ID, toAccount.Status)
	}
	if fromAccount.Currency != toAccount.Currency {
		return nil, nil, fmt.Errorf("%w: %s is %s, %s is %s",
			ErrCurrencyMismatch, fromAccount.ID, fromAccount.Currency, toAccount.ID, toAccount.Currency)
	}

	fromBalance := fromAccount.Balance.Sub(amount)
	if err := checkFloor(fromAccount, fromBalance); err != nil {
		return nil, nil, err
	}
	toBalance := toAccount.Balance.Add(amount)

	now := time.Now()
	debit := &models.Transaction{
		ID:            uuid.New().String(),
		AccountID:     fromAccount.ID,
		Type:          models.TransactionTypeTransfer,
		Status:        models.TransactionStatusCompleted,
		Category:      models.TransactionCategoryTransfer,
		Amount:        amount.Neg(),
		Currency:      fromAccount.Currency,
		BalanceAfter:  fromBalance,
		Description:   description,
		Reference:     reference,
		FromAccountID: &fromAccount.ID,
		ToAccountID:   &toAccount.ID,
		CompletedAt:   &now,
		CreatedAt:     now,
	}
	credit := &models.Transaction{
		ID:            uuid.New().String(),
		AccountID:     toAccount.ID,
		Type:          models.TransactionTypeTransfer,
		Status:        models.TransactionStatusCompleted,
		Category:      models.TransactionCategoryTransfer,
		Amount:        amount,
		Currency:      toAccount.Currency,
		BalanceAfter:  toBalance,
		Description:   description,
		Reference:     reference,
		FromAccountID: &fromAccount.ID,
		ToAccountID:   &toAccount.ID,
		CompletedAt:   &now,
		CreatedAt:     now,
	}

	if err := s.insertTransaction(ctx, tx, debit); err != nil {
		return nil, nil, err
	}
	if err := s.insertTransaction(ctx, tx, credit); err != nil {
		return nil, nil, err
	}
	if err := s.updateAccountBalance(ctx, tx, fromAccount.ID, fromBalance, fromAccount.Version); err != nil {
		return nil, nil, err
	}
	if err := s.updateAccountBalance(ctx, tx, toAccount.ID, toBalance, toAccount.Version); err != nil {
		return nil, nil, err
	}

	return debit, credit, nil
}

// checkFloor rejects a balance below the account's floor: zero for deposit
// accounts, minus the credit limit for credit cards.
func checkFloor(account *models.Account, newBalance decimal.Decimal) error {
	floor := money.Zero
	if account.AllowsNegativeBalance() && account.CreditLimit != nil {
		floor = account.CreditLimit.Neg()
	}
	if newBalance.LessThan(floor) {
		return fmt.Errorf("%w: account %s: balance %s would fall to %s, floor is %s",
			ErrInsufficientBalance, account.ID, account.Balance, newBalance, floor)
	}
	return nil
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, account_type, status, balance, currency, credit_limit, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(
		&account.ID, &account.AccountType, &account.Status, &account.Balance,
		&account.Currency, &account.CreditLimit, &account.Version, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, storageErr("lock account", err)
	}
	return &account, nil
}

func (s *LedgerService) insertTransaction(ctx context.Context, tx *sql.Tx, txn *models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, type, status, category, amount, currency, balance_after, description, reference, from_account_id, to_account_id, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		txn.ID, txn.AccountID, txn.Type, txn.Status, txn.Category, txn.Amount,
		txn.Currency, txn.BalanceAfter, txn.Description, txn.Reference,
		txn.FromAccountID, txn.ToAccountID, txn.CompletedAt, txn.CreatedAt)
	if err != nil {
		return storageErr("insert transaction", err)
	}
	return nil
}

// updateAccountBalance writes the new balance under the optimistic version
// check. Credit-card accounts keep available_credit in step: the balance is
// negative while money is owed, so available credit is limit plus balance.
func (s *LedgerService) updateAccountBalance(ctx context.Context, tx *sql.Tx, accountID string, newBalance decimal.Decimal, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1,
			available_credit = CASE WHEN account_type = 'CREDIT_CARD' THEN credit_limit + $1 ELSE available_credit END,
			version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return storageErr("update account balance", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr("update account balance", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: account %s", ErrVersionConflict, accountID)
	}
	return nil
}
