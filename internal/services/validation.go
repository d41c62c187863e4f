package services

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error             string            `json:"error"`                       // Error message
	Code              string            `json:"code,omitempty"`              // Machine-readable wallet error code
	Details           map[string]string `json:"details,omitempty"`           // Validation details
	LockedUntil       string            `json:"lockedUntil,omitempty"`       // Unlock timestamp for lockout failures
	RemainingAttempts *int              `json:"remainingAttempts,omitempty"` // Attempts left before lockout
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
		errorResp.Details = make(map[string]string)
		for _, err := range validationErr.(validator.ValidationErrors) {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendWalletErrorResponse sends a typed wallet failure as JSON.
func SendWalletErrorResponse(w http.ResponseWriter, we *WalletError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{
		Error:             we.Message,
		Code:              we.Code,
		RemainingAttempts: we.RemainingAttempts,
	}
	if we.LockedUntil != nil {
		errorResp.LockedUntil = we.LockedUntil.UTC().Format("2006-01-02T15:04:05Z07:00")
	}

	json.NewEncoder(w).Encode(errorResp)
}
