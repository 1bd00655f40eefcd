package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
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

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
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
		var validationErrors validator.ValidationErrors
		if errors.As(validationErr, &validationErrors) {
			errorResp.Details = make(map[string]string)
			for _, err := range validationErrors {
				errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
			}
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendCoreError maps the escrow error taxonomy to an HTTP status and a
// human-readable message at the boundary.
func SendCoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	case errors.Is(err, ErrValidation):
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConcurrentModification):
		// A losing concurrent writer reports "invalid state" rather than
		// inviting a blind retry: the precondition it saw no longer holds.
		SendErrorResponse(w, "Operation not allowed in the current transaction state", http.StatusConflict, nil)
	case errors.Is(err, ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient funds", http.StatusPaymentRequired, nil)
	case errors.Is(err, ErrAlreadyExtended):
		SendErrorResponse(w, "Inspection period was already extended once", http.StatusConflict, nil)
	case errors.Is(err, ErrDuplicateDispute):
		SendErrorResponse(w, "A dispute already exists for this transaction", http.StatusConflict, nil)
	case errors.Is(err, ErrInvalidDisputeState):
		SendErrorResponse(w, "Dispute is already resolved or closed", http.StatusConflict, nil)
	case errors.Is(err, ErrInvalidAction):
		SendErrorResponse(w, "Unknown resolution action", http.StatusBadRequest, nil)
	default:
		SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
