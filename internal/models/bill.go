package models

import (
	"time"
)

// Bill status values
const (
	BillStatusUnpaid  = "UNPAID"
	BillStatusPaid    = "PAID"
	BillStatusOverdue = "OVERDUE"
	BillStatusVoid    = "VOID"
)

// Bill is a property-fee invoice owed by one owner. Settlement is
// all-or-nothing per bill: a bill is never partially paid and never
// split across multiple wallet transactions.
type Bill struct {
	ID         string     `json:"id" db:"id"`
	BillNo     string     `json:"bill_no" db:"bill_no"`
	OwnerID    string     `json:"owner_id" db:"owner_id"`
	HouseID    string     `json:"house_id" db:"house_id"`
	FeeTypeID  string     `json:"fee_type_id" db:"fee_type_id"`
	Period     string     `json:"period" db:"period"`
	AmountDue  int64      `json:"amount_due" db:"amount_due"`
	AmountPaid int64      `json:"amount_paid" db:"amount_paid"`
	Status     string     `json:"status" db:"status"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	PaidAt     *time.Time `json:"paid_at,omitempty" db:"paid_at"`
}
