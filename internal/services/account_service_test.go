package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desibank/backend/internal/models"
)

func authedRequest(method, target, body, userID string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	return r.WithContext(context.WithValue(r.Context(), "userID", userID))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx, ok := r.Context().Value(chi.RouteCtxKey).(*chi.Context)
	if !ok || rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestAccountService_CreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("creates a current account", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/accounts", `{"accountType":"CURRENT","nickname":"daily"}`, "user-1")

		service.CreateAccount(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)

		var account models.Account
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
		assert.Equal(t, "user-1", account.UserID)
		assert.Equal(t, models.AccountTypeCurrent, account.AccountType)
		assert.Equal(t, models.AccountStatusActive, account.Status)
		assert.True(t, account.Balance.IsZero())
		assert.True(t, strings.HasPrefix(account.AccountNumber, "01"))
		assert.Len(t, account.AccountNumber, 12)
		assert.True(t, strings.HasPrefix(account.IBAN, "PK36DESI"))
		assert.Nil(t, account.CreditLimit)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit card account gets a limit and due date", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO accounts").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/accounts", `{"accountType":"CREDIT_CARD"}`, "user-1")

		service.CreateAccount(w, r)

		assert.Equal(t, http.StatusCreated, w.Code)

		var account models.Account
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
		assert.Equal(t, models.AccountTypeCreditCard, account.AccountType)
		require.NotNil(t, account.CreditLimit)
		assert.Equal(t, "50000", account.CreditLimit.String())
		assert.NotNil(t, account.DueDate)
		assert.True(t, strings.HasPrefix(account.AccountNumber, "03"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown account type", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/accounts", `{"accountType":"OFFSHORE"}`, "user-1")

		service.CreateAccount(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects unknown json fields", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := authedRequest(http.MethodPost, "/accounts", `{"accountType":"CURRENT","admin":true}`, "user-1")

		service.CreateAccount(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("requires authentication", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/accounts", strings.NewReader(`{"accountType":"CURRENT"}`))

		service.CreateAccount(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAccountService_CloseAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("closes an account at zero balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT balance, status FROM accounts WHERE id = \$1 AND user_id = \$2 FOR UPDATE`).
			WithArgs("acct-1", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "status"}).AddRow("0", "ACTIVE"))
		mock.ExpectExec(`UPDATE accounts SET status = \$1, closed_at = \$2, updated_at = \$2 WHERE id = \$3`).
			WithArgs("CLOSED", sqlmock.AnyArg(), "acct-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		w := httptest.NewRecorder()
		r := withURLParam(authedRequest(http.MethodPost, "/accounts/acct-1/close", "", "user-1"), "accountId", "acct-1")

		service.CloseAccount(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("refuses to close with a remaining balance", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT balance, status FROM accounts WHERE id = \$1 AND user_id = \$2 FOR UPDATE`).
			WithArgs("acct-1", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "status"}).AddRow("12.50", "ACTIVE"))
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		r := withURLParam(authedRequest(http.MethodPost, "/accounts/acct-1/close", "", "user-1"), "accountId", "acct-1")

		service.CloseAccount(w, r)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown account", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT balance, status FROM accounts WHERE id = \$1 AND user_id = \$2 FOR UPDATE`).
			WithArgs("missing", "user-1").
			WillReturnRows(sqlmock.NewRows([]string{"balance", "status"}))
		mock.ExpectRollback()

		w := httptest.NewRecorder()
		r := withURLParam(authedRequest(http.MethodPost, "/accounts/missing/close", "", "user-1"), "accountId", "missing")

		service.CloseAccount(w, r)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_ListAccounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	accountColumns := []string{"id", "user_id", "account_number", "iban", "routing_number", "account_type", "nickname", "status", "balance", "currency", "credit_limit", "available_credit", "due_date", "version", "created_at", "updated_at", "closed_at"}

	t.Run("returns the user's accounts", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM accounts WHERE user_id = \\$1 ORDER BY created_at").
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows(accountColumns).
				AddRow("acct-1", "user-1", "010000000001", "PK36DESI0000010000000001", "071000013", "CURRENT", "daily", "ACTIVE", "1500.25", "PKR", nil, nil, nil, 1, now, now, nil).
				AddRow("acct-2", "user-1", "020000000002", "PK36DESI0000020000000002", "071000013", "SAVINGS", "", "ACTIVE", "90000", "PKR", nil, nil, nil, 1, now, now, nil))

		w := httptest.NewRecorder()
		r := authedRequest(http.MethodGet, "/accounts", "", "user-1")

		service.ListAccounts(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Accounts []models.Account `json:"accounts"`
			Count    int              `json:"count"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, "1500.25", resp.Accounts[0].Balance.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty list for a new user", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM accounts WHERE user_id = \\$1 ORDER BY created_at").
			WithArgs("user-2").
			WillReturnRows(sqlmock.NewRows(accountColumns))

		w := httptest.NewRecorder()
		r := authedRequest(http.MethodGet, "/accounts", "", "user-2")

		service.ListAccounts(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"count":0`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_Dashboard(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	summaryColumns := []string{"account_type", "status", "balance", "credit_limit", "available_credit"}
	recentColumns := []string{"id", "account_id", "type", "status", "category", "amount", "currency", "balance_after", "description", "reference", "from_account_id", "to_account_id", "completed_at", "created_at"}

	t.Run("aggregates balances and credit usage", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`SELECT account_type, status, balance, credit_limit, available_credit FROM accounts WHERE user_id = \$1 AND status <> \$2`).
			WithArgs("user-1", "CLOSED").
			WillReturnRows(sqlmock.NewRows(summaryColumns).
				AddRow("CURRENT", "ACTIVE", "1500.25", nil, nil).
				AddRow("SAVINGS", "FROZEN", "90000", nil, nil).
				AddRow("CREDIT_CARD", "ACTIVE", "-12000", "50000", "38000"))

		mock.ExpectQuery(`SELECT (.+) FROM transactions t JOIN accounts a ON a.id = t.account_id WHERE a.user_id = \$1 ORDER BY t.created_at DESC LIMIT 10`).
			WithArgs("user-1").
			WillReturnRows(sqlmock.NewRows(recentColumns).
				AddRow("txn-2", "acct-1", "WITHDRAWAL", "COMPLETED", "GENERAL", "-250", "PKR", "1500.25", "atm", "WDL-1-AAAAAA", nil, nil, now, now).
				AddRow("txn-1", "acct-1", "DEPOSIT", "COMPLETED", "GENERAL", "1750.25", "PKR", "1750.25", "salary", "DEP-1-AAAAAA", nil, nil, now, now))

		w := httptest.NewRecorder()
		r := authedRequest(http.MethodGet, "/dashboard", "", "user-1")

		service.Dashboard(w, r)

		assert.Equal(t, http.StatusOK, w.Code)

		var summary struct {
			TotalBalance       string               `json:"totalBalance"`
			ActiveAccounts     int                  `json:"activeAccounts"`
			TotalCreditLimit   string               `json:"totalCreditLimit"`
			TotalCreditUsed    string               `json:"totalCreditUsed"`
			RecentTransactions []models.Transaction `json:"recentTransactions"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
		assert.Equal(t, "91500.25", summary.TotalBalance)
		assert.Equal(t, 2, summary.ActiveAccounts)
		assert.Equal(t, "50000", summary.TotalCreditLimit)
		assert.Equal(t, "12000", summary.TotalCreditUsed)
		require.Len(t, summary.RecentTransactions, 2)
		assert.Equal(t, "txn-2", summary.RecentTransactions[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("zero summary for a user with no accounts", func(t *testing.T) {
		mock.ExpectQuery(`SELECT account_type, status, balance, credit_limit, available_credit FROM accounts`).
			WithArgs("user-2", "CLOSED").
			WillReturnRows(sqlmock.NewRows(summaryColumns))
		mock.ExpectQuery(`SELECT (.+) FROM transactions t`).
			WithArgs("user-2").
			WillReturnRows(sqlmock.NewRows(recentColumns))

		w := httptest.NewRecorder()
		r := authedRequest(http.MethodGet, "/dashboard", "", "user-2")

		service.Dashboard(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"totalBalance":"0"`)
		assert.Contains(t, w.Body.String(), `"recentTransactions":[]`)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountService_FreezeAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)

	t.Run("freezes an active account", func(t *testing.T) {
		mock.ExpectExec(`UPDATE accounts SET status = \$1, updated_at = \$2 WHERE id = \$3 AND user_id = \$4 AND status = \$5`).
			WithArgs("FROZEN", sqlmock.AnyArg(), "acct-1", "user-1", "ACTIVE").
			WillReturnResult(sqlmock.NewResult(1, 1))

		w := httptest.NewRecorder()
		r := withURLParam(authedRequest(http.MethodPost, "/accounts/acct-1/freeze", "", "user-1"), "accountId", "acct-1")

		service.FreezeAccount(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "FROZEN")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
