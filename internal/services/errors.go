package services

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Wallet error codes. These are caller-visible, machine-readable and
// stable; handlers map them to HTTP statuses, batch reports carry them
// per bill.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeForbidden           = "FORBIDDEN"
	CodeInvalidBillState    = "INVALID_BILL_STATE"
	CodeInsufficientFunds   = "INSUFFICIENT_FUNDS"
	CodeWrongPassword       = "WRONG_PASSWORD"
	CodeLocked              = "LOCKED"
	CodePasswordNotSet      = "PASSWORD_NOT_SET"
	CodePasswordMismatch    = "PASSWORD_MISMATCH"
	CodeWeakPassword        = "WEAK_PASSWORD"
	CodeSamePassword        = "SAME_PASSWORD"
	CodeAlreadySet          = "ALREADY_SET"
	CodeBalanceCeiling      = "BALANCE_CEILING_EXCEEDED"
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeFrozen              = "FROZEN"
	CodeNoOpStateChange     = "NO_OP_STATE_CHANGE"
	CodeInvalidAmount       = "INVALID_AMOUNT"
)

// WalletError is a typed, caller-visible failure. Lockout failures
// carry the unlock timestamp; wrong-password failures carry the
// remaining attempt count.
type WalletError struct {
	Code              string     `json:"code"`
	Message           string     `json:"message"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
	RemainingAttempts *int       `json:"remainingAttempts,omitempty"`
}

func (e *WalletError) Error() string {
	return e.Message
}

func walletErr(code, format string, args ...any) *WalletError {
	return &WalletError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func ErrAccountNotFound(ownerID string) *WalletError {
	return walletErr(CodeNotFound, "no wallet account for owner %s", ownerID)
}

func ErrBillNotFound(billID string) *WalletError {
	return walletErr(CodeNotFound, "bill %s not found", billID)
}

func ErrForbidden(billID string) *WalletError {
	return walletErr(CodeForbidden, "bill %s does not belong to the caller", billID)
}

func ErrInvalidBillState(billID, status string) *WalletError {
	return walletErr(CodeInvalidBillState, "bill %s is %s, not payable", billID, status)
}

func ErrInsufficientFunds(balance, amount int64) *WalletError {
	return walletErr(CodeInsufficientFunds, "balance %d is below required amount %d", balance, amount)
}

func ErrLocked(until time.Time) *WalletError {
	e := walletErr(CodeLocked, "transaction password locked until %s", until.Format(time.RFC3339))
	e.LockedUntil = &until
	return e
}

func ErrWrongPassword(remaining int) *WalletError {
	e := walletErr(CodeWrongPassword, "wrong transaction password, %d attempts remaining", remaining)
	e.RemainingAttempts = &remaining
	return e
}

func ErrPasswordNotSet() *WalletError {
	return walletErr(CodePasswordNotSet, "transaction password has not been set")
}

func ErrPasswordMismatch() *WalletError {
	return walletErr(CodePasswordMismatch, "password and confirmation do not match")
}

func ErrWeakPassword() *WalletError {
	return walletErr(CodeWeakPassword, "transaction password must be exactly 6 digits")
}

func ErrSamePassword() *WalletError {
	return walletErr(CodeSamePassword, "new password must differ from the old one")
}

func ErrAlreadySet() *WalletError {
	return walletErr(CodeAlreadySet, "transaction password is already set")
}

func ErrBalanceCeiling(ceiling int64) *WalletError {
	return walletErr(CodeBalanceCeiling, "recharge would push balance above ceiling %d", ceiling)
}

func ErrConcurrencyConflict() *WalletError {
	return walletErr(CodeConcurrencyConflict, "account was modified concurrently, retry")
}

func ErrFrozen(ownerID string) *WalletError {
	return walletErr(CodeFrozen, "wallet account for owner %s is frozen", ownerID)
}

func ErrNoOpStateChange(status string) *WalletError {
	return walletErr(CodeNoOpStateChange, "account is already %s", status)
}

func ErrInvalidAmount() *WalletError {
	return walletErr(CodeInvalidAmount, "amount must be positive")
}

// AsWalletError unwraps err into a *WalletError if it is one.
func AsWalletError(err error) (*WalletError, bool) {
	var we *WalletError
	if errors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// IsCode reports whether err is a WalletError with the given code.
func IsCode(err error, code string) bool {
	we, ok := AsWalletError(err)
	return ok && we.Code == code
}

// httpStatusFor maps wallet error codes onto HTTP statuses.
func httpStatusFor(err error) int {
	we, ok := AsWalletError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch we.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeForbidden:
		return http.StatusForbidden
	case CodeLocked:
		return http.StatusLocked
	case CodeConcurrencyConflict:
		return http.StatusConflict
	case CodeWrongPassword, CodePasswordNotSet:
		return http.StatusUnauthorized
	case CodeInvalidBillState, CodeInsufficientFunds, CodePasswordMismatch,
		CodeWeakPassword, CodeSamePassword, CodeAlreadySet, CodeBalanceCeiling,
		CodeFrozen, CodeNoOpStateChange, CodeInvalidAmount:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// sendWalletError writes err as the JSON error envelope with the mapped status.
func sendWalletError(w http.ResponseWriter, err error) {
	if we, ok := AsWalletError(err); ok {
		SendWalletErrorResponse(w, we, httpStatusFor(err))
		return
	}
	SendErrorResponse(w, "Internal error", http.StatusInternalServerError, nil)
}
