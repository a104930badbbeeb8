package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/desibank/backend/internal/audit"
	"github.com/desibank/backend/internal/models"
)

const statementCacheTTL = 60 * time.Second

// StatementService rebuilds account statements from the transaction ledger.
// The closing balance is always the account's current stored balance, even
// when the requested period ends in the past.
type StatementService struct {
	db    *sql.DB
	cache *redis.Client
	audit *audit.Logger
}

func NewStatementService(db *sql.DB, cache *redis.Client) *StatementService {
	return &StatementService{
		db:    db,
		cache: cache,
		audit: audit.NewLogger(),
	}
}

type Statement struct {
	Reference        string               `json:"reference"`
	AccountID        string               `json:"accountId"`
	Currency         string               `json:"currency"`
	PeriodStart      time.Time            `json:"periodStart"`
	PeriodEnd        time.Time            `json:"periodEnd"`
	OpeningBalance   decimal.Decimal      `json:"openingBalance"`
	ClosingBalance   decimal.Decimal      `json:"closingBalance"`
	TotalDeposits    decimal.Decimal      `json:"totalDeposits"`
	TotalWithdrawals decimal.Decimal      `json:"totalWithdrawals"`
	TransactionCount int                  `json:"transactionCount"`
	GeneratedAt      time.Time            `json:"generatedAt"`
	Transactions     []models.Transaction `json:"transactions"`
}

// GetStatement reconstructs a statement for one account and period
// @Summary Get an account statement
// @Description Opening balance, period totals and the period's transactions
// @Tags statements
// @Produce json
// @Param accountId path string true "Account ID"
// @Param from query string false "Period start (RFC3339), default 30 days ago"
// @Param to query string false "Period end (RFC3339), default now"
// @Success 200 {object} Statement
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/statement [get]
func (ss *StatementService) GetStatement(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID := chi.URLParam(r, "accountId")

	now := time.Now()
	periodEnd := now
	periodStart := now.AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			SendErrorResponse(w, "Invalid 'to' timestamp, expected RFC3339", http.StatusBadRequest, nil)
			return
		}
		periodEnd = t
		periodStart = t.AddDate(0, 0, -30)
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			SendErrorResponse(w, "Invalid 'from' timestamp, expected RFC3339", http.StatusBadRequest, nil)
			return
		}
		periodStart = t
	}
	if periodEnd.Before(periodStart) {
		SendErrorResponse(w, "Period end precedes period start", http.StatusBadRequest, nil)
		return
	}

	var ownerID, currency string
	var balance decimal.Decimal
	err := ss.db.QueryRowContext(r.Context(), `
		SELECT user_id, currency, balance FROM accounts
		WHERE id = $1`, accountID).Scan(&ownerID, &currency, &balance)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && ownerID != userID) {
		SendBusinessError(w, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID))
		return
	}
	if err != nil {
		SendBusinessError(w, storageErr("fetch account", err))
		return
	}

	cacheKey := fmt.Sprintf("statement:%s:%d:%d", accountID, periodStart.Unix(), periodEnd.Unix())
	if ss.cache != nil {
		if cached, err := ss.cache.Get(r.Context(), cacheKey).Bytes(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write(cached)
			return
		}
	}

	statement, err := ss.reconstruct(r, accountID, currency, balance, periodStart, periodEnd)
	if err != nil {
		SendBusinessError(w, err)
		return
	}

	body, err := json.Marshal(statement)
	if err != nil {
		SendErrorResponse(w, "Failed to build statement", http.StatusInternalServerError, nil)
		return
	}
	if ss.cache != nil {
		if err := ss.cache.Set(r.Context(), cacheKey, string(body), statementCacheTTL).Err(); err != nil {
			log.Printf("[STATEMENT] Failed to cache statement for account %s: %v", accountID, err)
		}
	}

	ss.audit.LogOperation(statement.Reference, accountID, "STATEMENT_GENERATED", userID)

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func (ss *StatementService) reconstruct(r *http.Request, accountID, currency string, balance decimal.Decimal, periodStart, periodEnd time.Time) (*Statement, error) {
	rows, err := ss.db.QueryContext(r.Context(), `
		SELECT id, account_id, type, status, category, amount, currency, balance_after, description, reference, from_account_id, to_account_id, completed_at, created_at
		FROM transactions
		WHERE account_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC`, accountID, periodStart, periodEnd)
	if err != nil {
		return nil, storageErr("fetch statement transactions", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var txn models.Transaction
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Type, &txn.Status, &txn.Category,
			&txn.Amount, &txn.Currency, &txn.BalanceAfter, &txn.Description, &txn.Reference,
			&txn.FromAccountID, &txn.ToAccountID, &txn.CompletedAt, &txn.CreatedAt); err != nil {
			return nil, storageErr("scan statement transaction", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate statement transactions", err)
	}

	// Opening balance is rewound from the first entry in the period; an empty
	// period opens at the current balance.
	opening := balance
	if len(transactions) > 0 {
		opening = transactions[0].BalanceAfter.Sub(transactions[0].Amount)
	}

	deposits := decimal.Zero
	withdrawals := decimal.Zero
	for _, txn := range transactions {
		if creditType(txn.Type) {
			deposits = deposits.Add(txn.Amount)
		} else {
			// Debit rows are stored negative, so this total is negative too.
			withdrawals = withdrawals.Add(txn.Amount)
		}
	}

	return &Statement{
		Reference:        GenerateReference("STM"),
		AccountID:        accountID,
		Currency:         currency,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		OpeningBalance:   opening,
		ClosingBalance:   balance,
		TotalDeposits:    deposits,
		TotalWithdrawals: withdrawals,
		TransactionCount: len(transactions),
		GeneratedAt:      time.Now(),
		Transactions:     transactions,
	}, nil
}
