package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/desibank/backend/internal/audit"
	"github.com/desibank/backend/internal/models"
	"github.com/desibank/backend/internal/notifications"
)

type TransactionService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
	audit     *audit.Logger
	notifier  *notifications.Publisher
}

func NewTransactionService(db *sql.DB, ledger *LedgerService, notifier *notifications.Publisher) *TransactionService {
	return &TransactionService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
		audit:     audit.NewLogger(),
		notifier:  notifier,
	}
}

type mutationRequest struct {
	AccountID   string          `json:"accountId" validate:"required"`
	Amount      decimal.Decimal `json:"amount" validate:"money"`
	Description string          `json:"description" validate:"omitempty,max=200"`
}

type transferRequest struct {
	FromAccountID string          `json:"fromAccountId" validate:"required"`
	ToAccountID   string          `json:"toAccountId" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"money"`
	Description   string          `json:"description" validate:"omitempty,max=200"`
}

// Deposit credits an account through the ledger
// @Summary Deposit funds
// @Description Credit an account; produces an immutable ledger transaction
// @Tags transactions
// @Accept json
// @Produce json
// @Param deposit body mutationRequest true "Deposit details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /transactions/deposit [post]
func (ts *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	ts.applyMutation(w, r, models.TransactionTypeDeposit, "DEP")
}

// Withdraw debits an account through the ledger
// @Summary Withdraw funds
// @Description Debit an account; fails when the balance floor would be crossed
// @Tags transactions
// @Accept json
// @Produce json
// @Param withdrawal body mutationRequest true "Withdrawal details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /transactions/withdraw [post]
func (ts *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	ts.applyMutation(w, r, models.TransactionTypeWithdrawal, "WDL")
}

func (ts *TransactionService) applyMutation(w http.ResponseWriter, r *http.Request, txType models.TransactionType, refPrefix string) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req mutationRequest

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

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := ts.checkOwnership(r, req.AccountID, userID); err != nil {
		SendBusinessError(w, err)
		return
	}

	txn, err := ts.ledger.Apply(r.Context(), Mutation{
		AccountID:   req.AccountID,
		Type:        txType,
		Category:    models.TransactionCategoryOther,
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   GenerateReference(refPrefix),
	})
	if err != nil {
		log.Printf("[TRANSACTION] %s failed on account %s: %v", txType, req.AccountID, err)
		SendBusinessError(w, err)
		return
	}

	go ts.notifier.PublishTransaction(userID, txn)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(txn)
}

// Transfer moves funds between two accounts
// @Summary Transfer funds
// @Description Move funds between accounts in a single atomic ledger operation
// @Tags transactions
// @Accept json
// @Produce json
// @Param transfer body transferRequest true "Transfer details"
// @Success 201 {object} object{debit=models.Transaction,credit=models.Transaction}
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /transactions/transfer [post]
func (ts *TransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req transferRequest

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

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// Only the debit side must belong to the caller.
	if err := ts.checkOwnership(r, req.FromAccountID, userID); err != nil {
		SendBusinessError(w, err)
		return
	}

	debit, credit, err := ts.ledger.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, req.Description)
	if err != nil {
		log.Printf("[TRANSACTION] Transfer failed %s -> %s: %v", req.FromAccountID, req.ToAccountID, err)
		SendBusinessError(w, err)
		return
	}

	go ts.notifier.PublishTransaction(userID, debit)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"debit":  debit,
		"credit": credit,
	})
}

// GetTransaction retrieves a specific transaction
// @Summary Get transaction by ID
// @Tags transactions
// @Produce json
// @Param transactionId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{transactionId} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	txID := chi.URLParam(r, "transactionId")

	txn, err := ts.fetchTransaction(r, txID, userID)
	if err != nil {
		SendBusinessError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// ListTransactions retrieves an account's transactions with optional filters
// @Summary List transactions
// @Description Transaction history for one account, newest first
// @Tags transactions
// @Produce json
// @Param accountId path string true "Account ID"
// @Param type query string false "Filter by transaction type"
// @Param status query string false "Filter by transaction status"
// @Param category query string false "Filter by category"
// @Param from query string false "Start date (RFC 3339)"
// @Param to query string false "End date (RFC 3339)"
// @Param search query string false "Match against description or reference"
// @Param limit query int false "Max rows (default 50, max 200)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /accounts/{accountId}/transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID := chi.URLParam(r, "accountId")
	if err := ts.checkOwnership(r, accountID, userID); err != nil {
		SendBusinessError(w, err)
		return
	}

	conditions := []string{"account_id = $1"}
	args := []interface{}{accountID}
	argIndex := 2

	if txType := r.URL.Query().Get("type"); txType != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, txType)
		argIndex++
	}
	if status := r.URL.Query().Get("status"); status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, status)
		argIndex++
	}
	if category := r.URL.Query().Get("category"); category != "" {
		conditions = append(conditions, fmt.Sprintf("category = $%d", argIndex))
		args = append(args, category)
		argIndex++
	}
	if from := r.URL.Query().Get("from"); from != "" {
		fromTime, err := time.Parse(time.RFC3339, from)
		if err != nil {
			SendErrorResponse(w, "Invalid 'from' date", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, fromTime)
		argIndex++
	}
	if to := r.URL.Query().Get("to"); to != "" {
		toTime, err := time.Parse(time.RFC3339, to)
		if err != nil {
			SendErrorResponse(w, "Invalid 'to' date", http.StatusBadRequest, nil)
			return
		}
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, toTime)
		argIndex++
	}
	if search := r.URL.Query().Get("search"); search != "" {
		conditions = append(conditions, fmt.Sprintf("(description ILIKE $%d OR reference ILIKE $%d)", argIndex, argIndex))
		args = append(args, "%"+search+"%")
		argIndex++
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT id, account_id, type, status, category, amount, currency, balance_after, description, reference, from_account_id, to_account_id, completed_at, created_at
		FROM transactions
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d`, strings.Join(conditions, " AND "), argIndex)

	rows, err := ts.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to list transactions for account %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var txn models.Transaction
		if err := rows.Scan(&txn.ID, &txn.AccountID, &txn.Type, &txn.Status, &txn.Category,
			&txn.Amount, &txn.Currency, &txn.BalanceAfter, &txn.Description, &txn.Reference,
			&txn.FromAccountID, &txn.ToAccountID, &txn.CompletedAt, &txn.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		transactions = append(transactions, txn)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// checkOwnership verifies the account exists and belongs to the user.
func (ts *TransactionService) checkOwnership(r *http.Request, accountID, userID string) error {
	var owner string
	err := ts.db.QueryRowContext(r.Context(), `
		SELECT user_id FROM accounts WHERE id = $1`, accountID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return storageErr("check account ownership", err)
	}
	if owner != userID {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return nil
}

func (ts *TransactionService) fetchTransaction(r *http.Request, txID, userID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := ts.db.QueryRowContext(r.Context(), `
		SELECT t.id, t.account_id, t.type, t.status, t.category, t.amount, t.currency, t.balance_after, t.description, t.reference, t.from_account_id, t.to_account_id, t.completed_at, t.created_at
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE t.id = $1 AND a.user_id = $2`, txID, userID).Scan(
		&txn.ID, &txn.AccountID, &txn.Type, &txn.Status, &txn.Category,
		&txn.Amount, &txn.Currency, &txn.BalanceAfter, &txn.Description, &txn.Reference,
		&txn.FromAccountID, &txn.ToAccountID, &txn.CompletedAt, &txn.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
	}
	if err != nil {
		return nil, storageErr("fetch transaction", err)
	}
	return &txn, nil
}
