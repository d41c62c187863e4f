package models

import (
	"time"
)

// Account status values
const (
	AccountStatusActive = "ACTIVE"
	AccountStatusFrozen = "FROZEN"
)

// Account is the stored-value wallet record for one owner.
// Amounts are int64 minor units (two implied decimal places).
type Account struct {
	ID               int64      `json:"id" db:"id"`
	OwnerID          string     `json:"owner_id" db:"owner_id"`
	Balance          int64      `json:"balance" db:"balance"`
	TotalRecharged   int64      `json:"total_recharged" db:"total_recharged"`
	TotalConsumed    int64      `json:"total_consumed" db:"total_consumed"`
	PayPassword      string     `json:"-" db:"pay_password"` // argon2 salt$hash, empty = not set
	PasswordFailures int        `json:"-" db:"password_failures"`
	LockedUntil      *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	Status           string     `json:"status" db:"status"`
	Version          int        `json:"version" db:"version"` // for optimistic locking
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Transaction kinds
const (
	TxKindRecharge = "RECHARGE"
	TxKindConsume  = "CONSUME"
	TxKindRefund   = "REFUND"
)

// Transaction outcomes
const (
	TxOutcomeSuccess = "SUCCESS"
	TxOutcomeFailed  = "FAILED"
)

// WalletTransaction is one immutable entry in the append-only wallet log.
// BalanceAfter = BalanceBefore + Amount for RECHARGE/REFUND, - Amount for CONSUME.
type WalletTransaction struct {
	ID            int64     `json:"id" db:"id"`
	ReferenceNo   string    `json:"reference_no" db:"reference_no"`
	OwnerID       string    `json:"owner_id" db:"owner_id"`
	AccountID     int64     `json:"account_id" db:"account_id"`
	Kind          string    `json:"kind" db:"kind"`
	Amount        int64     `json:"amount" db:"amount"`
	BalanceBefore int64     `json:"balance_before" db:"balance_before"`
	BalanceAfter  int64     `json:"balance_after" db:"balance_after"`
	BillID        string    `json:"bill_id,omitempty" db:"bill_id"`
	Outcome       string    `json:"outcome" db:"outcome"`
	Remark        string    `json:"remark,omitempty" db:"remark"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
