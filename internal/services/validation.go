package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/desibank/backend/internal/money"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper with banking-specific
// rules registered. The "money" tag accepts positive decimal.Decimal values
// with at most two fractional digits.
func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return money.IsValidAmount(d)
	})
	return &ValidationHelper{validator: v}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if validationErr != nil {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendBusinessError maps a services error to an HTTP status and writes the
// standard error envelope.
func SendBusinessError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrPlanNotFound),
		errors.Is(err, ErrInstallmentNotFound),
		errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrUserNotFound):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, ErrInvalidCredentials):
		status = http.StatusUnauthorized
		message = err.Error()
	case errors.Is(err, ErrVersionConflict):
		status = http.StatusConflict
		message = err.Error()
	case errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrAlreadyPaid):
		status = http.StatusConflict
		message = err.Error()
	case errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrAccountNotEmpty),
		errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrCurrencyMismatch),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidTenure),
		errors.Is(err, ErrInvalidRate),
		errors.Is(err, ErrAccountMismatch):
		status = http.StatusUnprocessableEntity
		message = err.Error()
	}

	SendErrorResponse(w, message, status, nil)
}
