package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/desibank/backend/internal/audit"
	"github.com/desibank/backend/internal/models"
)

const (
	ibanCountryPrefix = "PK36DESI"
	routingNumber     = "071000013"

	defaultCreditLimit = 50000
)

var accountNumberPrefix = map[models.AccountType]string{
	models.AccountTypeCurrent:    "01",
	models.AccountTypeSavings:    "02",
	models.AccountTypeCreditCard: "03",
}

type AccountService struct {
	db        *sql.DB
	validator *ValidationHelper
	audit     *audit.Logger
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		validator: NewValidationHelper(),
		audit:     audit.NewLogger(),
	}
}

type createAccountRequest struct {
	AccountType string `json:"accountType" validate:"required,oneof=CURRENT SAVINGS CREDIT_CARD"`
	Nickname    string `json:"nickname" validate:"omitempty,max=50"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
}

// CreateAccount opens a new account for the authenticated user
// @Summary Open a new account
// @Description Create a current, savings or credit card account for the authenticated user
// @Tags accounts
// @Accept json
// @Produce json
// @Param account body createAccountRequest true "Account details"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /accounts [post]
func (as *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createAccountRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Currency == "" {
		req.Currency = "PKR"
	}

	accountType := models.AccountType(req.AccountType)
	number := generateAccountNumber(accountType)
	now := time.Now()

	account := &models.Account{
		ID:            uuid.New().String(),
		UserID:        userID,
		AccountNumber: number,
		IBAN:          generateIBAN(number),
		RoutingNumber: routingNumber,
		AccountType:   accountType,
		Nickname:      req.Nickname,
		Status:        models.AccountStatusActive,
		Balance:       decimal.Zero,
		Currency:      req.Currency,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if accountType == models.AccountTypeCreditCard {
		limit := decimal.NewFromInt(defaultCreditLimit)
		due := now.AddDate(0, 1, 0)
		account.CreditLimit = &limit
		account.AvailableCredit = &limit
		account.DueDate = &due
	}

	_, err := as.db.ExecContext(r.Context(), `
		INSERT INTO accounts (id, user_id, account_number, iban, routing_number, account_type, nickname, status, balance, currency, credit_limit, available_credit, due_date, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		account.ID, account.UserID, account.AccountNumber, account.IBAN, account.RoutingNumber,
		account.AccountType, account.Nickname, account.Status, account.Balance, account.Currency,
		account.CreditLimit, account.AvailableCredit, account.DueDate, account.Version,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to create account for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	as.audit.LogOperation("", account.ID, "ACCOUNT_OPENED", string(accountType))
	log.Printf("[ACCOUNT] Created %s account %s for user %s", accountType, account.AccountNumber, userID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// ListAccounts returns all accounts owned by the authenticated user
// @Summary List accounts
// @Description Get all accounts belonging to the authenticated user
// @Tags accounts
// @Produce json
// @Success 200 {object} object{accounts=[]models.Account,count=int}
// @Failure 401 {object} ErrorResponse
// @Router /accounts [get]
func (as *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := as.db.QueryContext(r.Context(), `
		SELECT id, user_id, account_number, iban, routing_number, account_type, nickname, status, balance, currency, credit_limit, available_credit, due_date, version, created_at, updated_at, closed_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to list accounts for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.IBAN, &a.RoutingNumber,
			&a.AccountType, &a.Nickname, &a.Status, &a.Balance, &a.Currency,
			&a.CreditLimit, &a.AvailableCredit, &a.DueDate, &a.Version,
			&a.CreatedAt, &a.UpdatedAt, &a.ClosedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// GetAccount returns a single account owned by the authenticated user
// @Summary Get account
// @Description Get one account by id
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId} [get]
func (as *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID := chi.URLParam(r, "accountId")
	account, err := as.fetchOwnedAccount(r, accountID, userID)
	if err != nil {
		SendBusinessError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

type updateNicknameRequest struct {
	Nickname string `json:"nickname" validate:"required,max=50"`
}

// UpdateNickname renames an account
// @Summary Update account nickname
// @Tags accounts
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param body body updateNicknameRequest true "New nickname"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/nickname [put]
func (as *AccountService) UpdateNickname(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req updateNicknameRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	accountID := chi.URLParam(r, "accountId")
	result, err := as.db.ExecContext(r.Context(), `
		UPDATE accounts SET nickname = $1, updated_at = $2
		WHERE id = $3 AND user_id = $4`,
		req.Nickname, time.Now(), accountID, userID)
	if err != nil {
		SendErrorResponse(w, "Failed to update account", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		SendBusinessError(w, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID))
		return
	}

	account, err := as.fetchOwnedAccount(r, accountID, userID)
	if err != nil {
		SendBusinessError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// FreezeAccount suspends all ledger activity on an account
// @Summary Freeze account
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} object{status=string}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/freeze [post]
func (as *AccountService) FreezeAccount(w http.ResponseWriter, r *http.Request) {
	as.setStatus(w, r, models.AccountStatusActive, models.AccountStatusFrozen, "ACCOUNT_FROZEN")
}

// UnfreezeAccount resumes ledger activity on a frozen account
// @Summary Unfreeze account
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} object{status=string}
// @Failure 404 {object} ErrorResponse
// @Router /accounts/{accountId}/unfreeze [post]
func (as *AccountService) UnfreezeAccount(w http.ResponseWriter, r *http.Request) {
	as.setStatus(w, r, models.AccountStatusFrozen, models.AccountStatusActive, "ACCOUNT_UNFROZEN")
}

func (as *AccountService) setStatus(w http.ResponseWriter, r *http.Request, from, to models.AccountStatus, auditOp string) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID := chi.URLParam(r, "accountId")
	result, err := as.db.ExecContext(r.Context(), `
		UPDATE accounts SET status = $1, updated_at = $2
		WHERE id = $3 AND user_id = $4 AND status = $5`,
		to, time.Now(), accountID, userID, from)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to set status %s on account %s: %v", to, accountID, err)
		SendErrorResponse(w, "Failed to update account", http.StatusInternalServerError, nil)
		return
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Either the account does not exist or it is not in the expected state.
		if _, err := as.fetchOwnedAccount(r, accountID, userID); err != nil {
			SendBusinessError(w, err)
			return
		}
		SendBusinessError(w, fmt.Errorf("%w: account %s is not %s", ErrAccountInactive, accountID, from))
		return
	}

	as.audit.LogOperation("", accountID, auditOp, string(to))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(to)})
}

// CloseAccount closes an account. The balance must be exactly zero; funds
// must be transferred out first.
// @Summary Close account
// @Tags accounts
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} object{status=string}
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /accounts/{accountId}/close [post]
func (as *AccountService) CloseAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID := chi.URLParam(r, "accountId")

	tx, err := as.db.BeginTx(r.Context(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		SendErrorResponse(w, "Failed to close account", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	var status models.AccountStatus
	err = tx.QueryRowContext(r.Context(), `
		SELECT balance, status FROM accounts
		WHERE id = $1 AND user_id = $2
		FOR UPDATE`, accountID, userID).Scan(&balance, &status)
	if errors.Is(err, sql.ErrNoRows) {
		SendBusinessError(w, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID))
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to close account", http.StatusInternalServerError, nil)
		return
	}
	if status == models.AccountStatusClosed {
		SendBusinessError(w, fmt.Errorf("%w: account %s is already closed", ErrAccountInactive, accountID))
		return
	}
	if !balance.IsZero() {
		SendBusinessError(w, fmt.Errorf("%w: account %s holds %s", ErrAccountNotEmpty, accountID, balance))
		return
	}

	now := time.Now()
	if _, err := tx.ExecContext(r.Context(), `
		UPDATE accounts SET status = $1, closed_at = $2, updated_at = $2
		WHERE id = $3`, models.AccountStatusClosed, now, accountID); err != nil {
		SendErrorResponse(w, "Failed to close account", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to close account", http.StatusInternalServerError, nil)
		return
	}

	as.audit.LogOperation("", accountID, "ACCOUNT_CLOSED", userID)
	log.Printf("[ACCOUNT] Closed account %s for user %s", accountID, userID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(models.AccountStatusClosed)})
}

type dashboardSummary struct {
	TotalBalance       decimal.Decimal      `json:"totalBalance"`
	ActiveAccounts     int                  `json:"activeAccounts"`
	TotalCreditLimit   decimal.Decimal      `json:"totalCreditLimit"`
	TotalCreditUsed    decimal.Decimal      `json:"totalCreditUsed"`
	RecentTransactions []models.Transaction `json:"recentTransactions"`
}

// Dashboard returns an overview of the authenticated user's finances
// @Summary Dashboard summary
// @Description Aggregated balances, credit usage and the ten most recent transactions
// @Tags accounts
// @Produce json
// @Success 200 {object} dashboardSummary
// @Failure 401 {object} ErrorResponse
// @Router /dashboard [get]
func (as *AccountService) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := as.db.QueryContext(r.Context(), `
		SELECT account_type, status, balance, credit_limit, available_credit
		FROM accounts
		WHERE user_id = $1 AND status <> $2`, userID, models.AccountStatusClosed)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to load dashboard for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to load dashboard", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	summary := dashboardSummary{RecentTransactions: []models.Transaction{}}
	for rows.Next() {
		var (
			accountType models.AccountType
			status      models.AccountStatus
			balance     decimal.Decimal
			creditLimit *decimal.Decimal
			available   *decimal.Decimal
		)
		if err := rows.Scan(&accountType, &status, &balance, &creditLimit, &available); err != nil {
			SendErrorResponse(w, "Failed to load dashboard", http.StatusInternalServerError, nil)
			return
		}
		if status == models.AccountStatusActive {
			summary.ActiveAccounts++
		}
		if accountType == models.AccountTypeCreditCard {
			// Credit card balance is the negative of what is owed.
			if creditLimit != nil {
				summary.TotalCreditLimit = summary.TotalCreditLimit.Add(*creditLimit)
				if available != nil {
					summary.TotalCreditUsed = summary.TotalCreditUsed.Add(creditLimit.Sub(*available))
				}
			}
			continue
		}
		summary.TotalBalance = summary.TotalBalance.Add(balance)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to load dashboard", http.StatusInternalServerError, nil)
		return
	}

	txRows, err := as.db.QueryContext(r.Context(), `
		SELECT t.id, t.account_id, t.type, t.status, t.category, t.amount, t.currency, t.balance_after, t.description, t.reference, t.from_account_id, t.to_account_id, t.completed_at, t.created_at
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.user_id = $1
		ORDER BY t.created_at DESC
		LIMIT 10`, userID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to load recent transactions for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to load dashboard", http.StatusInternalServerError, nil)
		return
	}
	defer txRows.Close()

	for txRows.Next() {
		var txn models.Transaction
		if err := txRows.Scan(&txn.ID, &txn.AccountID, &txn.Type, &txn.Status, &txn.Category,
			&txn.Amount, &txn.Currency, &txn.BalanceAfter, &txn.Description, &txn.Reference,
			&txn.FromAccountID, &txn.ToAccountID, &txn.CompletedAt, &txn.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to load dashboard", http.StatusInternalServerError, nil)
			return
		}
		summary.RecentTransactions = append(summary.RecentTransactions, txn)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

func (as *AccountService) fetchOwnedAccount(r *http.Request, accountID, userID string) (*models.Account, error) {
	var a models.Account
	err := as.db.QueryRowContext(r.Context(), `
		SELECT id, user_id, account_number, iban, routing_number, account_type, nickname, status, balance, currency, credit_limit, available_credit, due_date, version, created_at, updated_at, closed_at
		FROM accounts
		WHERE id = $1 AND user_id = $2`, accountID, userID).Scan(
		&a.ID, &a.UserID, &a.AccountNumber, &a.IBAN, &a.RoutingNumber,
		&a.AccountType, &a.Nickname, &a.Status, &a.Balance, &a.Currency,
		&a.CreditLimit, &a.AvailableCredit, &a.DueDate, &a.Version,
		&a.CreatedAt, &a.UpdatedAt, &a.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, storageErr("fetch account", err)
	}
	return &a, nil
}

func generateAccountNumber(accountType models.AccountType) string {
	prefix, ok := accountNumberPrefix[accountType]
	if !ok {
		prefix = "01"
	}
	return fmt.Sprintf("%s%010d", prefix, rand.Int63n(10_000_000_000))
}

func generateIBAN(accountNumber string) string {
	// Country and bank prefix plus the account number padded to 16 digits.
	return fmt.Sprintf("%s%016s", ibanCountryPrefix, accountNumber)
}
