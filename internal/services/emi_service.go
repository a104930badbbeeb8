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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/desibank/backend/internal/audit"
	"github.com/desibank/backend/internal/models"
	"github.com/desibank/backend/internal/notifications"
)

// EmiService manages fixed-installment plans. A plan is created atomically
// with its full schedule; paying an installment debits the linked account
// through the ledger in the same transaction that marks the installment
// paid and advances the plan's next due date.
type EmiService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
	audit     *audit.Logger
	notifier  *notifications.Publisher
}

func NewEmiService(db *sql.DB, ledger *LedgerService, notifier *notifications.Publisher) *EmiService {
	return &EmiService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
		audit:     audit.NewLogger(),
		notifier:  notifier,
	}
}

type createPlanRequest struct {
	AccountID          string          `json:"accountId" validate:"required"`
	ProductName        string          `json:"productName" validate:"omitempty,max=100"`
	Principal          decimal.Decimal `json:"principal" validate:"money"`
	InterestRateAnnual decimal.Decimal `json:"interestRateAnnual"`
	TenureMonths       int             `json:"tenureMonths" validate:"required,min=3,max=60"`
	FirstDueDate       *time.Time      `json:"firstDueDate"`
}

type calculateRequest struct {
	Principal          decimal.Decimal `json:"principal" validate:"money"`
	InterestRateAnnual decimal.Decimal `json:"interestRateAnnual"`
	TenureMonths       int             `json:"tenureMonths" validate:"required,min=3,max=60"`
}

type payInstallmentRequest struct {
	AccountID string `json:"accountId" validate:"omitempty"`
}

// Calculate previews an EMI schedule without persisting anything
// @Summary Calculate an EMI schedule
// @Description Preview installment amount and full amortization schedule
// @Tags emi
// @Accept json
// @Produce json
// @Param terms body calculateRequest true "Loan terms"
// @Success 200 {object} AmortizationResult
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /emi/calculate [post]
func (es *EmiService) Calculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := es.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	firstDue := defaultFirstDueDate(time.Now())
	result, err := BuildSchedule(req.Principal, req.InterestRateAnnual, req.TenureMonths, firstDue)
	if err != nil {
		SendBusinessError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// CreatePlan opens an EMI plan and persists its complete schedule
// @Summary Create an EMI plan
// @Description Create a plan; the schedule is computed and stored in the same transaction
// @Tags emi
// @Accept json
// @Produce json
// @Param plan body createPlanRequest true "Plan terms"
// @Success 201 {object} object{plan=models.EmiPlan,schedule=[]models.EmiInstallment}
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /emi/plans [post]
func (es *EmiService) CreatePlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req createPlanRequest

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

	if err := es.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, err := es.fetchAccount(r, req.AccountID, userID)
	if err != nil {
		SendBusinessError(w, err)
		return
	}
	if account.Status != models.AccountStatusActive {
		SendBusinessError(w, fmt.Errorf("%w: account %s is %s", ErrAccountInactive, account.ID, account.Status))
		return
	}

	firstDue := defaultFirstDueDate(time.Now())
	if req.FirstDueDate != nil {
		firstDue = *req.FirstDueDate
	}

	result, err := BuildSchedule(req.Principal, req.InterestRateAnnual, req.TenureMonths, firstDue)
	if err != nil {
		SendBusinessError(w, err)
		return
	}

	now := time.Now()
	lastDue := result.Schedule[len(result.Schedule)-1].DueDate
	plan := &models.EmiPlan{
		ID:                 uuid.New().String(),
		UserID:             userID,
		AccountID:          req.AccountID,
		ProductName:        req.ProductName,
		Principal:          req.Principal,
		InterestRateAnnual: req.InterestRateAnnual,
		TenureMonths:       req.TenureMonths,
		EmiAmount:          result.EmiAmount,
		Currency:           account.Currency,
		Status:             models.EmiPlanStatusActive,
		StartDate:          now,
		EndDate:            lastDue,
		NextDueDate:        &firstDue,
		TotalInterest:      result.TotalInterest,
		CreatedAt:          now,
	}

	tx, err := es.db.BeginTx(r.Context(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Printf("[EMI] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to create plan", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(r.Context(), `
		INSERT INTO emi_plans (id, user_id, account_id, product_name, principal, interest_rate_annual, tenure_months, emi_amount, currency, status, start_date, end_date, next_due_date, total_interest, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		plan.ID, plan.UserID, plan.AccountID, plan.ProductName, plan.Principal,
		plan.InterestRateAnnual, plan.TenureMonths, plan.EmiAmount, plan.Currency,
		plan.Status, plan.StartDate, plan.EndDate, plan.NextDueDate, plan.TotalInterest,
		plan.CreatedAt); err != nil {
		log.Printf("[EMI] Failed to store plan: %v", err)
		SendErrorResponse(w, "Failed to create plan", http.StatusInternalServerError, nil)
		return
	}

	installments := make([]models.EmiInstallment, 0, len(result.Schedule))
	for _, row := range result.Schedule {
		installment := models.EmiInstallment{
			ID:                 uuid.New().String(),
			EmiPlanID:          plan.ID,
			InstallmentNumber:  row.InstallmentNumber,
			DueDate:            row.DueDate,
			Amount:             row.Amount,
			PrincipalComponent: row.PrincipalComponent,
			InterestComponent:  row.InterestComponent,
			Status:             models.EmiInstallmentStatusPending,
		}
		if _, err := tx.ExecContext(r.Context(), `
			INSERT INTO emi_installments (id, emi_plan_id, installment_number, due_date, amount, principal_component, interest_component, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			installment.ID, installment.EmiPlanID, installment.InstallmentNumber,
			installment.DueDate, installment.Amount, installment.PrincipalComponent,
			installment.InterestComponent, installment.Status); err != nil {
			log.Printf("[EMI] Failed to store installment %d: %v", row.InstallmentNumber, err)
			SendErrorResponse(w, "Failed to create plan", http.StatusInternalServerError, nil)
			return
		}
		installments = append(installments, installment)
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[EMI] Failed to commit plan: %v", err)
		SendErrorResponse(w, "Failed to create plan", http.StatusInternalServerError, nil)
		return
	}

	es.audit.LogOperation("", plan.ID, "EMI_PLAN_CREATED", plan.AccountID)
	go es.notifier.PublishEmiEvent(userID, "created", plan)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"plan":     plan,
		"schedule": installments,
	})
}

// ListPlans returns the user's EMI plans
// @Summary List EMI plans
// @Description Active plans whose next due date has passed are reported as OVERDUE
// @Tags emi
// @Produce json
// @Param status query string false "Filter by plan status (ACTIVE, OVERDUE, COMPLETED)"
// @Param limit query int false "Max rows (default 50, max 200)"
// @Success 200 {object} object{plans=[]models.EmiPlan,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /emi/plans [get]
func (es *EmiService) ListPlans(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	statusFilter := models.EmiPlanStatus(r.URL.Query().Get("status"))

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := es.db.QueryContext(r.Context(), `
		SELECT id, user_id, account_id, product_name, principal, interest_rate_annual, tenure_months, emi_amount, currency, status, start_date, end_date, next_due_date, total_interest, created_at
		FROM emi_plans
		WHERE user_id = $1
		ORDER BY next_due_date ASC NULLS LAST, created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		log.Printf("[EMI] Failed to list plans for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch plans", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	now := time.Now()
	plans := []models.EmiPlan{}
	for rows.Next() {
		var p models.EmiPlan
		if err := rows.Scan(&p.ID, &p.UserID, &p.AccountID, &p.ProductName, &p.Principal,
			&p.InterestRateAnnual, &p.TenureMonths, &p.EmiAmount, &p.Currency, &p.Status,
			&p.StartDate, &p.EndDate, &p.NextDueDate, &p.TotalInterest, &p.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch plans", http.StatusInternalServerError, nil)
			return
		}
		// Overdue is derived, not stored: the stored status flips only on
		// payment or completion. The status filter therefore applies after
		// derivation.
		if p.Status == models.EmiPlanStatusActive && p.NextDueDate != nil && p.NextDueDate.Before(now) {
			p.Status = models.EmiPlanStatusOverdue
		}
		if statusFilter != "" && p.Status != statusFilter {
			continue
		}
		plans = append(plans, p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"plans": plans,
		"count": len(plans),
	})
}

// GetPlan returns one EMI plan
// @Summary Get EMI plan by ID
// @Tags emi
// @Produce json
// @Param planId path string true "Plan ID"
// @Success 200 {object} models.EmiPlan
// @Failure 404 {object} ErrorResponse
// @Router /emi/plans/{planId} [get]
func (es *EmiService) GetPlan(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	plan, err := es.fetchPlan(r, chi.URLParam(r, "planId"), userID)
	if err != nil {
		SendBusinessError(w, err)
		return
	}
	if plan.Status == models.EmiPlanStatusActive && plan.NextDueDate != nil && plan.NextDueDate.Before(time.Now()) {
		plan.Status = models.EmiPlanStatusOverdue
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

// GetSchedule returns the full installment schedule of a plan
// @Summary Get EMI schedule
// @Tags emi
// @Produce json
// @Param planId path string true "Plan ID"
// @Success 200 {object} object{plan=models.EmiPlan,schedule=[]models.EmiInstallment}
// @Failure 404 {object} ErrorResponse
// @Router /emi/plans/{planId}/schedule [get]
func (es *EmiService) GetSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	planID := chi.URLParam(r, "planId")

	plan, err := es.fetchPlan(r, planID, userID)
	if err != nil {
		SendBusinessError(w, err)
		return
	}

	rows, err := es.db.QueryContext(r.Context(), `
		SELECT id, emi_plan_id, installment_number, due_date, amount, principal_component, interest_component, status, paid_at, payment_id
		FROM emi_installments
		WHERE emi_plan_id = $1
		ORDER BY installment_number`, planID)
	if err != nil {
		log.Printf("[EMI] Failed to fetch schedule for plan %s: %v", planID, err)
		SendErrorResponse(w, "Failed to fetch schedule", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	schedule := []models.EmiInstallment{}
	for rows.Next() {
		var inst models.EmiInstallment
		if err := rows.Scan(&inst.ID, &inst.EmiPlanID, &inst.InstallmentNumber, &inst.DueDate,
			&inst.Amount, &inst.PrincipalComponent, &inst.InterestComponent, &inst.Status,
			&inst.PaidAt, &inst.PaymentID); err != nil {
			SendErrorResponse(w, "Failed to fetch schedule", http.StatusInternalServerError, nil)
			return
		}
		schedule = append(schedule, inst)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"plan":     plan,
		"schedule": schedule,
	})
}

// PayInstallment pays one pending installment from the plan's account
// @Summary Pay an EMI installment
// @Description Debits the installment amount, marks it paid and advances the plan, all atomically
// @Tags emi
// @Accept json
// @Produce json
// @Param planId path string true "Plan ID"
// @Param installmentId path string true "Installment ID"
// @Success 200 {object} object{installment=models.EmiInstallment,plan=models.EmiPlan,payment=models.Payment}
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /emi/plans/{planId}/installments/{installmentId}/pay [post]
func (es *EmiService) PayInstallment(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	planID := chi.URLParam(r, "planId")
	installmentID := chi.URLParam(r, "installmentId")

	var req payInstallmentRequest
	if r.Body != nil && r.ContentLength > 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1_048_576))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
	}

	reference := GenerateReference("EMI")

	tx, err := es.db.BeginTx(r.Context(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		log.Printf("[EMI] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	plan, err := es.lockPlan(r, tx, planID, userID)
	if err != nil {
		SendBusinessError(w, err)
		return
	}

	if req.AccountID != "" && req.AccountID != plan.AccountID {
		SendBusinessError(w, fmt.Errorf("%w: plan %s pays from account %s", ErrAccountMismatch, plan.ID, plan.AccountID))
		return
	}

	installment, err := es.lockInstallment(r, tx, installmentID, planID)
	if err != nil {
		SendBusinessError(w, err)
		return
	}
	if installment.Status == models.EmiInstallmentStatusPaid {
		SendBusinessError(w, fmt.Errorf("%w: installment %d of plan %s", ErrAlreadyPaid, installment.InstallmentNumber, plan.ID))
		return
	}

	txn, err := es.ledger.ApplyTx(r.Context(), tx, Mutation{
		AccountID:   plan.AccountID,
		Type:        models.TransactionTypePayment,
		Category:    models.TransactionCategoryLoan,
		Amount:      installment.Amount,
		Description: "EMI installment " + plan.ProductName,
		Reference:   reference,
	})
	if err != nil {
		es.audit.LogError(reference, plan.AccountID, err)
		SendBusinessError(w, err)
		return
	}

	now := time.Now()
	payment := &models.Payment{
		ID:            uuid.New().String(),
		UserID:        userID,
		AccountID:     plan.AccountID,
		PaymentType:   models.PaymentTypeOther,
		PaymentStatus: models.PaymentStatusCompleted,
		Amount:        installment.Amount,
		Fee:           decimal.Zero,
		TotalAmount:   installment.Amount,
		Currency:      plan.Currency,
		RecipientName: "EMI installment",
		Description:   "Installment " + reference,
		Reference:     reference,
		ProcessedAt:   &now,
		CompletedAt:   &now,
		CreatedAt:     now,
	}
	if _, err := tx.ExecContext(r.Context(), `
		INSERT INTO payments (id, user_id, account_id, payment_type, payment_status, amount, fee, total_amount, currency, recipient_name, description, reference, processed_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		payment.ID, payment.UserID, payment.AccountID, payment.PaymentType,
		payment.PaymentStatus, payment.Amount, payment.Fee, payment.TotalAmount,
		payment.Currency, payment.RecipientName, payment.Description, payment.Reference,
		payment.ProcessedAt, payment.CompletedAt, payment.CreatedAt); err != nil {
		log.Printf("[EMI] Failed to store payment for installment %s: %v", installmentID, err)
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}

	if _, err := tx.ExecContext(r.Context(), `
		UPDATE emi_installments SET status = $1, paid_at = $2, payment_id = $3
		WHERE id = $4`,
		models.EmiInstallmentStatusPaid, now, payment.ID, installmentID); err != nil {
		log.Printf("[EMI] Failed to mark installment %s paid: %v", installmentID, err)
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}

	// Advance to the earliest remaining installment; complete the plan when
	// none remain.
	var nextDue sql.NullTime
	if err := tx.QueryRowContext(r.Context(), `
		SELECT MIN(due_date) FROM emi_installments
		WHERE emi_plan_id = $1 AND status = $2 AND id <> $3`,
		planID, models.EmiInstallmentStatusPending, installmentID).Scan(&nextDue); err != nil {
		log.Printf("[EMI] Failed to find next due date for plan %s: %v", planID, err)
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}

	planStatus := models.EmiPlanStatusActive
	var nextDuePtr *time.Time
	if nextDue.Valid {
		nextDuePtr = &nextDue.Time
	} else {
		planStatus = models.EmiPlanStatusCompleted
	}

	if _, err := tx.ExecContext(r.Context(), `
		UPDATE emi_plans SET status = $1, next_due_date = $2
		WHERE id = $3`,
		planStatus, nextDuePtr, planID); err != nil {
		log.Printf("[EMI] Failed to advance plan %s: %v", planID, err)
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[EMI] Failed to commit installment payment: %v", err)
		SendErrorResponse(w, "Failed to process payment", http.StatusInternalServerError, nil)
		return
	}

	installment.Status = models.EmiInstallmentStatusPaid
	installment.PaidAt = &now
	installment.PaymentID = &payment.ID
	plan.Status = planStatus
	plan.NextDueDate = nextDuePtr

	es.audit.LogMutation(reference, plan.AccountID, txn.Amount, "EMI_INSTALLMENT")
	eventKind := "installment_paid"
	if planStatus == models.EmiPlanStatusCompleted {
		eventKind = "completed"
	}
	go es.notifier.PublishEmiEvent(userID, eventKind, plan)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"installment": installment,
		"plan":        plan,
		"payment":     payment,
	})
}

// defaultFirstDueDate is one month out, at midnight.
func defaultFirstDueDate(now time.Time) time.Time {
	due := now.AddDate(0, 1, 0)
	return time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, due.Location())
}

func (es *EmiService) fetchAccount(r *http.Request, accountID, userID string) (*models.Account, error) {
	var a models.Account
	err := es.db.QueryRowContext(r.Context(), `
		SELECT id, user_id, status, currency FROM accounts
		WHERE id = $1 AND user_id = $2`, accountID, userID).Scan(
		&a.ID, &a.UserID, &a.Status, &a.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, storageErr("fetch account", err)
	}
	return &a, nil
}

func (es *EmiService) fetchPlan(r *http.Request, planID, userID string) (*models.EmiPlan, error) {
	var p models.EmiPlan
	err := es.db.QueryRowContext(r.Context(), `
		SELECT id, user_id, account_id, product_name, principal, interest_rate_annual, tenure_months, emi_amount, currency, status, start_date, end_date, next_due_date, total_interest, created_at
		FROM emi_plans
		WHERE id = $1 AND user_id = $2`, planID, userID).Scan(
		&p.ID, &p.UserID, &p.AccountID, &p.ProductName, &p.Principal,
		&p.InterestRateAnnual, &p.TenureMonths, &p.EmiAmount, &p.Currency, &p.Status,
		&p.StartDate, &p.EndDate, &p.NextDueDate, &p.TotalInterest, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err != nil {
		return nil, storageErr("fetch plan", err)
	}
	return &p, nil
}

func (es *EmiService) lockPlan(r *http.Request, tx *sql.Tx, planID, userID string) (*models.EmiPlan, error) {
	var p models.EmiPlan
	err := tx.QueryRowContext(r.Context(), `
		SELECT id, user_id, account_id, product_name, principal, interest_rate_annual, tenure_months, emi_amount, currency, status, start_date, end_date, next_due_date, total_interest, created_at
		FROM emi_plans
		WHERE id = $1 AND user_id = $2
		FOR UPDATE`, planID, userID).Scan(
		&p.ID, &p.UserID, &p.AccountID, &p.ProductName, &p.Principal,
		&p.InterestRateAnnual, &p.TenureMonths, &p.EmiAmount, &p.Currency, &p.Status,
		&p.StartDate, &p.EndDate, &p.NextDueDate, &p.TotalInterest, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	if err != nil {
		return nil, storageErr("lock plan", err)
	}
	return &p, nil
}

func (es *EmiService) lockInstallment(r *http.Request, tx *sql.Tx, installmentID, planID string) (*models.EmiInstallment, error) {
	var inst models.EmiInstallment
	err := tx.QueryRowContext(r.Context(), `
		SELECT id, emi_plan_id, installment_number, due_date, amount, principal_component, interest_component, status, paid_at, payment_id
		FROM emi_installments
		WHERE id = $1 AND emi_plan_id = $2
		FOR UPDATE`, installmentID, planID).Scan(
		&inst.ID, &inst.EmiPlanID, &inst.InstallmentNumber, &inst.DueDate,
		&inst.Amount, &inst.PrincipalComponent, &inst.InterestComponent, &inst.Status,
		&inst.PaidAt, &inst.PaymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrInstallmentNotFound, installmentID)
	}
	if err != nil {
		return nil, storageErr("lock installment", err)
	}
	return &inst, nil
}
