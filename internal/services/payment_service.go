package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/desibank/backend/internal/audit"
	"github.com/desibank/backend/internal/config"
	"github.com/desibank/backend/internal/models"
	"github.com/desibank/backend/internal/notifications"
)

type PaymentService struct {
	db         *sql.DB
	ledger     *LedgerService
	settlement *SettlementService
	validator  *ValidationHelper
	audit      *audit.Logger
	notifier   *notifications.Publisher
	cfg        *config.PaymentConfig
}

func NewPaymentService(db *sql.DB, ledger *LedgerService, settlement *SettlementService, notifier *notifications.Publisher, cfg *config.PaymentConfig) *PaymentService {
	return &PaymentService{
		db:         db,
		ledger:     ledger,
		settlement: settlement,
		validator:  NewValidationHelper(),
		audit:      audit.NewLogger(),
		notifier:   notifier,
		cfg:        cfg,
	}
}

type paymentRequest struct {
	AccountID        string          `json:"accountId" validate:"required"`
	PaymentType      string          `json:"paymentType" validate:"required,oneof=IBFT_TRANSFER RAAST_TRANSFER INTERBANK_TRANSFER UTILITY_BILL TELECOM_BILL MOBILE_RECHARGE CREDIT_CARD_PAYMENT EDUCATION_FEE TAX_PAYMENT INSURANCE_PREMIUM OTHER"`
	Amount           decimal.Decimal `json:"amount" validate:"money"`
	RecipientName    string          `json:"recipientName" validate:"required,max=100"`
	RecipientAccount string          `json:"recipientAccount" validate:"omitempty,max=34"`
	RecipientBank    string          `json:"recipientBank" validate:"omitempty,max=11"`
	ConsumerNumber   string          `json:"consumerNumber" validate:"omitempty,max=30"`
	MobileNumber     string          `json:"mobileNumber" validate:"omitempty,e164"`
	MobileOperator   string          `json:"mobileOperator" validate:"omitempty,max=30"`
	Description      string          `json:"description" validate:"omitempty,max=200"`
}

// feeFor returns the flat fee for a payment type. Only IBFT carries a fee.
func (ps *PaymentService) feeFor(paymentType models.PaymentType) decimal.Decimal {
	if paymentType == models.PaymentTypeIBFT {
		return ps.cfg.IBFTFee
	}
	return decimal.Zero
}

func paymentCategory(paymentType models.PaymentType) models.TransactionCategory {
	switch paymentType {
	case models.PaymentTypeIBFT, models.PaymentTypeRaast, models.PaymentTypeInterbank:
		return models.TransactionCategoryTransfer
	case models.PaymentTypeUtilityBill, models.PaymentTypeTelecomBill, models.PaymentTypeMobileRecharge,
		models.PaymentTypeEducationFee, models.PaymentTypeTaxPayment, models.PaymentTypeInsurancePremium:
		return models.TransactionCategoryBills
	case models.PaymentTypeCreditCard:
		return models.TransactionCategoryLoan
	}
	return models.TransactionCategoryOther
}

// CreatePayment debits the account and records the payment atomically
// @Summary Make a payment
// @Description Pay a bill, recharge or interbank transfer. The debit, fee and payment record commit together
// @Tags payments
// @Accept json
// @Produce json
// @Param payment body paymentRequest true "Payment details"
// @Success 201 {object} models.Payment
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /payments [post]
func (ps *PaymentService) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req paymentRequest

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

	if err := ps.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	paymentType := models.PaymentType(req.PaymentType)
	fee := ps.feeFor(paymentType)
	total := req.Amount.Add(fee)
	reference := GenerateReference("PAY")
	now := time.Now()

	payment := &models.Payment{
		ID:               uuid.New().String(),
		UserID:           userID,
		AccountID:        req.AccountID,
		PaymentType:      paymentType,
		PaymentStatus:    models.PaymentStatusCompleted,
		Amount:           req.Amount,
		Fee:              fee,
		TotalAmount:      total,
		Currency:         ps.cfg.DefaultCurrency,
		RecipientName:    req.RecipientName,
		RecipientAccount: req.RecipientAccount,
		RecipientBank:    req.RecipientBank,
		ConsumerNumber:   req.ConsumerNumber,
		MobileNumber:     req.MobileNumber,
		MobileOperator:   req.MobileOperator,
		Description:      req.Description,
		Reference:        reference,
		ProcessedAt:      &now,
		CompletedAt:      &now,
		CreatedAt:        now,
	}

	tx, err := ps.db.BeginTx(r.Context(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Printf("[PAYMENT] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if err := ps.checkOwnershipTx(r, tx, req.AccountID, userID); err != nil {
		SendBusinessError(w, err)
		return
	}

	// The debit for the payment amount.
	if _, err := ps.ledger.ApplyTx(r.Context(), tx, Mutation{
		AccountID:   req.AccountID,
		Type:        models.TransactionTypePayment,
		Category:    paymentCategory(paymentType),
		Amount:      req.Amount,
		Description: req.Description,
		Reference:   reference,
	}); err != nil {
		ps.audit.LogError(reference, req.AccountID, err)
		SendBusinessError(w, err)
		return
	}

	// The fee, if any, as its own ledger row under the same reference.
	if fee.IsPositive() {
		if _, err := ps.ledger.ApplyTx(r.Context(), tx, Mutation{
			AccountID:   req.AccountID,
			Type:        models.TransactionTypeFee,
			Category:    models.TransactionCategoryOther,
			Amount:      fee,
			Description: "Payment fee",
			Reference:   reference,
		}); err != nil {
			ps.audit.LogError(reference, req.AccountID, err)
			SendBusinessError(w, err)
			return
		}
	}

	if err := ps.insertPayment(r, tx, payment); err != nil {
		log.Printf("[PAYMENT] Failed to store payment %s: %v", reference, err)
		SendErrorResponse(w, "Failed to store payment", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[PAYMENT] Failed to commit payment %s: %v", reference, err)
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}

	ps.audit.LogOperation(reference, req.AccountID, "PAYMENT", string(paymentType))

	// Interbank payments go to settlement after commit.
	if ps.settlement != nil && (paymentType == models.PaymentTypeIBFT || paymentType == models.PaymentTypeInterbank) {
		if err := ps.settlement.QueuePayment(r.Context(), payment); err != nil {
			log.Printf("[PAYMENT] Failed to queue payment %s for settlement: %v", reference, err)
		}
	}

	go ps.notifier.PublishPayment(userID, payment)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(payment)
}

// GetPayment retrieves one payment
// @Summary Get payment by ID
// @Tags payments
// @Produce json
// @Param paymentId path string true "Payment ID"
// @Success 200 {object} models.Payment
// @Failure 404 {object} ErrorResponse
// @Router /payments/{paymentId} [get]
func (ps *PaymentService) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	paymentID := chi.URLParam(r, "paymentId")

	payment, err := ps.fetchPayment(r, paymentID, userID)
	if err != nil {
		SendBusinessError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payment)
}

// ListPayments retrieves the user's payments
// @Summary List payments
// @Tags payments
// @Produce json
// @Param type query string false "Filter by payment type"
// @Success 200 {object} object{payments=[]models.Payment,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /payments [get]
func (ps *PaymentService) ListPayments(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	query := `
		SELECT id, user_id, account_id, beneficiary_id, payment_type, payment_status, amount, fee, total_amount, currency, recipient_name, recipient_account, recipient_bank, consumer_number, mobile_number, mobile_operator, description, reference, processed_at, completed_at, created_at
		FROM payments
		WHERE user_id = $1`
	args := []interface{}{userID}

	if paymentType := r.URL.Query().Get("type"); paymentType != "" {
		query += " AND payment_type = $2"
		args = append(args, paymentType)
	}
	query += " ORDER BY created_at DESC LIMIT 100"

	rows, err := ps.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		log.Printf("[PAYMENT] Failed to list payments for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch payments", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		var p models.Payment
		if err := rows.Scan(&p.ID, &p.UserID, &p.AccountID, &p.BeneficiaryID, &p.PaymentType,
			&p.PaymentStatus, &p.Amount, &p.Fee, &p.TotalAmount, &p.Currency,
			&p.RecipientName, &p.RecipientAccount, &p.RecipientBank, &p.ConsumerNumber,
			&p.MobileNumber, &p.MobileOperator, &p.Description, &p.Reference,
			&p.ProcessedAt, &p.CompletedAt, &p.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch payments", http.StatusInternalServerError, nil)
			return
		}
		payments = append(payments, p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"payments": payments,
		"count":    len(payments),
	})
}

func (ps *PaymentService) checkOwnershipTx(r *http.Request, tx *sql.Tx, accountID, userID string) error {
	var owner string
	err := tx.QueryRowContext(r.Context(), `
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

func (ps *PaymentService) insertPayment(r *http.Request, tx *sql.Tx, p *models.Payment) error {
	_, err := tx.ExecContext(r.Context(), `
		INSERT INTO payments (id, user_id, account_id, beneficiary_id, payment_type, payment_status, amount, fee, total_amount, currency, recipient_name, recipient_account, recipient_bank, consumer_number, mobile_number, mobile_operator, description, reference, processed_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		p.ID, p.UserID, p.AccountID, p.BeneficiaryID, p.PaymentType, p.PaymentStatus,
		p.Amount, p.Fee, p.TotalAmount, p.Currency, p.RecipientName, p.RecipientAccount,
		p.RecipientBank, p.ConsumerNumber, p.MobileNumber, p.MobileOperator,
		p.Description, p.Reference, p.ProcessedAt, p.CompletedAt, p.CreatedAt)
	return err
}

func (ps *PaymentService) fetchPayment(r *http.Request, paymentID, userID string) (*models.Payment, error) {
	var p models.Payment
	err := ps.db.QueryRowContext(r.Context(), `
		SELECT id, user_id, account_id, beneficiary_id, payment_type, payment_status, amount, fee, total_amount, currency, recipient_name, recipient_account, recipient_bank, consumer_number, mobile_number, mobile_operator, description, reference, processed_at, completed_at, created_at
		FROM payments
		WHERE id = $1 AND user_id = $2`, paymentID, userID).Scan(
		&p.ID, &p.UserID, &p.AccountID, &p.BeneficiaryID, &p.PaymentType,
		&p.PaymentStatus, &p.Amount, &p.Fee, &p.TotalAmount, &p.Currency,
		&p.RecipientName, &p.RecipientAccount, &p.RecipientBank, &p.ConsumerNumber,
		&p.MobileNumber, &p.MobileOperator, &p.Description, &p.Reference,
		&p.ProcessedAt, &p.CompletedAt, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPaymentNotFound, paymentID)
	}
	if err != nil {
		return nil, storageErr("fetch payment", err)
	}
	return &p, nil
}
