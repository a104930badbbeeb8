package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desibank/backend/internal/audit"
	"github.com/desibank/backend/internal/models"
)

const lockAccountQuery = `SELECT id, account_type, status, balance, currency, credit_limit, version, updated_at FROM accounts WHERE id = \$1 FOR UPDATE`
const updateBalanceQuery = `UPDATE accounts SET balance = \$1, available_credit = CASE WHEN account_type = 'CREDIT_CARD' THEN credit_limit \+ \$1 ELSE available_credit END, version = version \+ 1, updated_at = \$2 WHERE id = \$3 AND version = \$4`

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "account_type", "status", "balance", "currency", "credit_limit", "version", "updated_at"})
}

func TestLedgerService_Apply(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, audit.NewLogger())
	ctx := context.Background()

	t.Run("successful deposit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-1").
			WillReturnRows(accountRows().
				AddRow("acct-1", "CURRENT", "ACTIVE", "5000", "PKR", nil, 1, time.Now()))

		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "acct-1", "DEPOSIT", "COMPLETED", "OTHER",
				decimal.NewFromInt(1000), "PKR", decimal.NewFromInt(6000),
				"salary", sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(decimal.NewFromInt(6000), sqlmock.AnyArg(), "acct-1", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txn, err := service.Apply(ctx, Mutation{
			AccountID:   "acct-1",
			Type:        models.TransactionTypeDeposit,
			Category:    models.TransactionCategoryOther,
			Amount:      decimal.NewFromInt(1000),
			Description: "salary",
		})
		require.NoError(t, err)
		assert.Equal(t, "acct-1", txn.AccountID)
		assert.True(t, txn.Amount.Equal(decimal.NewFromInt(1000)))
		assert.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(6000)))
		assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
		assert.NotEmpty(t, txn.Reference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("withdrawal stores a negative amount", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-1").
			WillReturnRows(accountRows().
				AddRow("acct-1", "CURRENT", "ACTIVE", "5000", "PKR", nil, 3, time.Now()))

		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "acct-1", "WITHDRAWAL", "COMPLETED", "OTHER",
				decimal.NewFromInt(-250), "PKR", decimal.NewFromInt(4750),
				"atm", sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(decimal.NewFromInt(4750), sqlmock.AnyArg(), "acct-1", 3).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txn, err := service.Apply(ctx, Mutation{
			AccountID:   "acct-1",
			Type:        models.TransactionTypeWithdrawal,
			Category:    models.TransactionCategoryOther,
			Amount:      decimal.NewFromInt(250),
			Description: "atm",
		})
		require.NoError(t, err)
		assert.True(t, txn.Amount.Equal(decimal.NewFromInt(-250)))
		assert.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(4750)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-1").
			WillReturnRows(accountRows().
				AddRow("acct-1", "CURRENT", "ACTIVE", "100", "PKR", nil, 1, time.Now()))
		mock.ExpectRollback()

		_, err := service.Apply(ctx, Mutation{
			AccountID: "acct-1",
			Type:      models.TransactionTypeWithdrawal,
			Category:  models.TransactionCategoryOther,
			Amount:    decimal.NewFromInt(500),
		})
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		// The rejection names the account and both balances.
		assert.Contains(t, err.Error(), "acct-1")
		assert.Contains(t, err.Error(), "100")
		assert.Contains(t, err.Error(), "-400")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit card may go below zero up to the limit", func(t *testing.T) {
		limit := "50000"
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("cc-1").
			WillReturnRows(accountRows().
				AddRow("cc-1", "CREDIT_CARD", "ACTIVE", "0", "PKR", limit, 1, time.Now()))

		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(updateBalanceQuery).
			WithArgs(decimal.NewFromInt(-2000), sqlmock.AnyArg(), "cc-1", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		txn, err := service.Apply(ctx, Mutation{
			AccountID: "cc-1",
			Type:      models.TransactionTypePayment,
			Category:  models.TransactionCategoryBills,
			Amount:    decimal.NewFromInt(2000),
		})
		require.NoError(t, err)
		assert.True(t, txn.BalanceAfter.Equal(decimal.NewFromInt(-2000)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit card limit enforced", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("cc-1").
			WillReturnRows(accountRows().
				AddRow("cc-1", "CREDIT_CARD", "ACTIVE", "-49000", "PKR", "50000", 4, time.Now()))
		mock.ExpectRollback()

		_, err := service.Apply(ctx, Mutation{
			AccountID: "cc-1",
			Type:      models.TransactionTypePayment,
			Category:  models.TransactionCategoryBills,
			Amount:    decimal.NewFromInt(2000),
		})
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("frozen account rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-2").
			WillReturnRows(accountRows().
				AddRow("acct-2", "SAVINGS", "FROZEN", "5000", "PKR", nil, 1, time.Now()))
		mock.ExpectRollback()

		_, err := service.Apply(ctx, Mutation{
			AccountID: "acct-2",
			Type:      models.TransactionTypeDeposit,
			Category:  models.TransactionCategoryOther,
			Amount:    decimal.NewFromInt(100),
		})
		assert.ErrorIs(t, err, ErrAccountInactive)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("missing").
			WillReturnRows(accountRows())
		mock.ExpectRollback()

		_, err := service.Apply(ctx, Mutation{
			AccountID: "missing",
			Type:      models.TransactionTypeDeposit,
			Category:  models.TransactionCategoryOther,
			Amount:    decimal.NewFromInt(100),
		})
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects sub-paisa amounts", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		_, err := service.Apply(ctx, Mutation{
			AccountID: "acct-1",
			Type:      models.TransactionTypeDeposit,
			Category:  models.TransactionCategoryOther,
			Amount:    decimal.RequireFromString("10.005"),
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic lock conflict surfaces as version conflict", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-1").
			WillReturnRows(accountRows().
				AddRow("acct-1", "CURRENT", "ACTIVE", "5000", "PKR", nil, 1, time.Now()))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(updateBalanceQuery).
			WithArgs(decimal.NewFromInt(6000), sqlmock.AnyArg(), "acct-1", 1).
			WillReturnResult(sqlmock.NewResult(1, 0)) // no rows affected
		mock.ExpectRollback()

		_, err := service.Apply(ctx, Mutation{
			AccountID: "acct-1",
			Type:      models.TransactionTypeDeposit,
			Category:  models.TransactionCategoryOther,
			Amount:    decimal.NewFromInt(1000),
		})
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_Transfer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db, audit.NewLogger())
	ctx := context.Background()

	t.Run("successful transfer", func(t *testing.T) {
		mock.ExpectBegin()

		// Lower id locks first.
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-a").
			WillReturnRows(accountRows().
				AddRow("acct-a", "CURRENT", "ACTIVE", "5000", "PKR", nil, 1, time.Now()))
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-b").
			WillReturnRows(accountRows().
				AddRow("acct-b", "SAVINGS", "ACTIVE", "2000", "PKR", nil, 2, time.Now()))

		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "acct-a", "TRANSFER", "COMPLETED", "TRANSFER",
				decimal.NewFromInt(-1000), "PKR", decimal.NewFromInt(4000),
				"rent", sqlmock.AnyArg(), "acct-a", "acct-b", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs(sqlmock.AnyArg(), "acct-b", "TRANSFER", "COMPLETED", "TRANSFER",
				decimal.NewFromInt(1000), "PKR", decimal.NewFromInt(3000),
				"rent", sqlmock.AnyArg(), "acct-a", "acct-b", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec(updateBalanceQuery).
			WithArgs(decimal.NewFromInt(4000), sqlmock.AnyArg(), "acct-a", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(updateBalanceQuery).
			WithArgs(decimal.NewFromInt(3000), sqlmock.AnyArg(), "acct-b", 2).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		debit, credit, err := service.Transfer(ctx, "acct-a", "acct-b", decimal.NewFromInt(1000), "rent")
		require.NoError(t, err)
		assert.Equal(t, debit.Reference, credit.Reference)
		assert.True(t, debit.Amount.Equal(decimal.NewFromInt(-1000)))
		assert.True(t, credit.Amount.Equal(decimal.NewFromInt(1000)))
		assert.True(t, debit.BalanceAfter.Equal(decimal.NewFromInt(4000)))
		assert.True(t, credit.BalanceAfter.Equal(decimal.NewFromInt(3000)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locks lower id first when sender sorts higher", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-a").
			WillReturnRows(accountRows().
				AddRow("acct-a", "CURRENT", "ACTIVE", "2000", "PKR", nil, 1, time.Now()))
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-b").
			WillReturnRows(accountRows().
				AddRow("acct-b", "CURRENT", "ACTIVE", "5000", "PKR", nil, 1, time.Now()))

		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(updateBalanceQuery).
			WithArgs(decimal.NewFromInt(4000), sqlmock.AnyArg(), "acct-b", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(updateBalanceQuery).
			WithArgs(decimal.NewFromInt(3000), sqlmock.AnyArg(), "acct-a", 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		debit, credit, err := service.Transfer(ctx, "acct-b", "acct-a", decimal.NewFromInt(1000), "repay")
		require.NoError(t, err)
		assert.Equal(t, "acct-b", debit.AccountID)
		assert.Equal(t, "acct-a", credit.AccountID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-a").
			WillReturnRows(accountRows().
				AddRow("acct-a", "CURRENT", "ACTIVE", "500", "PKR", nil, 1, time.Now()))
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-b").
			WillReturnRows(accountRows().
				AddRow("acct-b", "CURRENT", "ACTIVE", "2000", "PKR", nil, 1, time.Now()))
		mock.ExpectRollback()

		_, _, err := service.Transfer(ctx, "acct-a", "acct-b", decimal.NewFromInt(1000), "rent")
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("self transfer rejected before touching the database", func(t *testing.T) {
		_, _, err := service.Transfer(ctx, "acct-a", "acct-a", decimal.NewFromInt(100), "loop")
		assert.ErrorIs(t, err, ErrSelfTransfer)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("frozen receiver rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-a").
			WillReturnRows(accountRows().
				AddRow("acct-a", "CURRENT", "ACTIVE", "5000", "PKR", nil, 1, time.Now()))
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-b").
			WillReturnRows(accountRows().
				AddRow("acct-b", "CURRENT", "FROZEN", "2000", "PKR", nil, 1, time.Now()))
		mock.ExpectRollback()

		_, _, err := service.Transfer(ctx, "acct-a", "acct-b", decimal.NewFromInt(100), "rent")
		assert.ErrorIs(t, err, ErrAccountInactive)
		assert.Contains(t, err.Error(), "acct-b")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mismatched currencies rejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-a").
			WillReturnRows(accountRows().
				AddRow("acct-a", "CURRENT", "ACTIVE", "5000", "PKR", nil, 1, time.Now()))
		mock.ExpectQuery(lockAccountQuery).
			WithArgs("acct-b").
			WillReturnRows(accountRows().
				AddRow("acct-b", "CURRENT", "ACTIVE", "2000", "USD", nil, 1, time.Now()))
		mock.ExpectRollback()

		_, _, err := service.Transfer(ctx, "acct-a", "acct-b", decimal.NewFromInt(100), "fx")
		assert.ErrorIs(t, err, ErrCurrencyMismatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
