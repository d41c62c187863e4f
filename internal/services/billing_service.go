package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/estatedesk/backoffice/internal/config"
	"github.com/estatedesk/backoffice/internal/models"
	"github.com/go-chi/chi/v5"
)

// BillingService is the settlement bridge between bills and the wallet
// ledger. A single payment is all-or-nothing: the wallet debit, the log
// append and the bill status flip commit as one database transaction.
// Batch payment attempts every bill and reports per-bill outcomes.
type BillingService struct {
	db        *sql.DB
	wallet    *WalletService
	guard     *PasswordGuard
	store     *AccountStore
	cfg       *config.WalletConfig
	validator *ValidationHelper
}

func NewBillingService(db *sql.DB, wallet *WalletService, guard *PasswordGuard, store *AccountStore, cfg *config.WalletConfig) *BillingService {
	return &BillingService{
		db:        db,
		wallet:    wallet,
		guard:     guard,
		store:     store,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// PaidBill is one successful settlement in a payment report.
type PaidBill struct {
	BillID        string `json:"billId"`
	AmountCharged int64  `json:"amountCharged"`
	ReferenceNo   string `json:"referenceNo"`
}

// FailedBill is one failed settlement in a batch report.
type FailedBill struct {
	BillID string `json:"billId"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// BatchReport is the combined outcome of a batch payment.
type BatchReport struct {
	Succeeded    []PaidBill   `json:"succeeded"`
	Failed       []FailedBill `json:"failed"`
	TotalCharged int64        `json:"totalCharged"`
}

const billColumns = `id, bill_no, owner_id, house_id, fee_type_id, period,
	amount_due, amount_paid, status, due_date, paid_at`

func scanBill(row *sql.Row) (*models.Bill, error) {
	var b models.Bill
	var paidAt sql.NullTime
	err := row.Scan(&b.ID, &b.BillNo, &b.OwnerID, &b.HouseID, &b.FeeTypeID, &b.Period,
		&b.AmountDue, &b.AmountPaid, &b.Status, &b.DueDate, &paidAt)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		b.PaidAt = &t
	}
	return &b, nil
}

// GetBill loads one bill.
func (bs *BillingService) GetBill(billID string) (*models.Bill, error) {
	row := bs.db.QueryRow(`SELECT `+billColumns+` FROM bills WHERE id = $1`, billID)
	bill, err := scanBill(row)
	if err == sql.ErrNoRows {
		return nil, ErrBillNotFound(billID)
	}
	return bill, err
}

func (bs *BillingService) getBillTx(tx *sql.Tx, billID string) (*models.Bill, error) {
	row := tx.QueryRow(`SELECT `+billColumns+` FROM bills WHERE id = $1`, billID)
	bill, err := scanBill(row)
	if err == sql.ErrNoRows {
		return nil, ErrBillNotFound(billID)
	}
	return bill, err
}

// ListUnpaidByOwner returns the owner's open bills, oldest due first.
func (bs *BillingService) ListUnpaidByOwner(ownerID string) ([]models.Bill, error) {
	rows, err := bs.db.Query(`
		SELECT `+billColumns+`
		FROM bills
		WHERE owner_id = $1 AND status = $2
		ORDER BY due_date ASC`, ownerID, models.BillStatusUnpaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bills := []models.Bill{}
	for rows.Next() {
		var b models.Bill
		var paidAt sql.NullTime
		err := rows.Scan(&b.ID, &b.BillNo, &b.OwnerID, &b.HouseID, &b.FeeTypeID, &b.Period,
			&b.AmountDue, &b.AmountPaid, &b.Status, &b.DueDate, &paidAt)
		if err != nil {
			return nil, err
		}
		if paidAt.Valid {
			t := paidAt.Time
			b.PaidAt = &t
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

// PayBill settles one bill from the owner's wallet. The password is
// verified first; a verification failure leaves the bill and balance
// untouched. A debit failure after a successful verification does not
// undo the verification.
func (bs *BillingService) PayBill(ownerID, billID, password string) (*PaidBill, error) {
	bill, err := bs.GetBill(billID)
	if err != nil {
		return nil, err
	}
	if bill.OwnerID != ownerID {
		return nil, ErrForbidden(billID)
	}
	if bill.Status != models.BillStatusUnpaid {
		return nil, ErrInvalidBillState(billID, bill.Status)
	}

	if err := bs.guard.Verify(ownerID, password); err != nil {
		return nil, err
	}

	return bs.settle(ownerID, billID)
}

// settle runs the atomic unit: wallet debit + log append + bill flip.
func (bs *BillingService) settle(ownerID, billID string) (*PaidBill, error) {
	var paid *PaidBill
	err := bs.store.WithRetry(func() error {
		tx, err := bs.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		bill, err := bs.getBillTx(tx, billID)
		if err != nil {
			return err
		}
		if bill.OwnerID != ownerID {
			return ErrForbidden(billID)
		}
		if bill.Status != models.BillStatusUnpaid {
			return ErrInvalidBillState(billID, bill.Status)
		}

		_, referenceNo, err := bs.wallet.ConsumeTx(tx, ownerID, bill.AmountDue, bill.ID, "bill "+bill.BillNo)
		if err != nil {
			return err
		}

		paidAt := time.Now()
		result, err := tx.Exec(`
			UPDATE bills
			SET status = $1, amount_paid = $2, paid_at = $3
			WHERE id = $4 AND status = $5`,
			models.BillStatusPaid, bill.AmountDue, paidAt, billID, models.BillStatusUnpaid)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			// A concurrent settlement won; the retry will observe PAID.
			return ErrConcurrencyConflict()
		}

		if err := tx.Commit(); err != nil {
			return err
		}

		paid = &PaidBill{BillID: billID, AmountCharged: bill.AmountDue, ReferenceNo: referenceNo}
		return nil
	})
	if err != nil {
		return nil, err
	}

	bs.wallet.notify(map[string]any{
		"event":       "BILL_PAID",
		"ownerId":     ownerID,
		"billId":      paid.BillID,
		"amount":      paid.AmountCharged,
		"referenceNo": paid.ReferenceNo,
	})
	log.Printf("[BILLING] Bill %s settled for owner %s, ref %s", billID, ownerID, paid.ReferenceNo)
	return paid, nil
}

// PayBillsBatch verifies the password once, then attempts every bill in
// input order against the live balance. It never aborts early: each
// failed bill lands in the report with its reason while the rest
// proceed, so a later bill can fail on funds an earlier one consumed.
func (bs *BillingService) PayBillsBatch(ownerID string, billIDs []string, password string) (*BatchReport, error) {
	if err := bs.guard.Verify(ownerID, password); err != nil {
		return nil, err
	}

	report := &BatchReport{Succeeded: []PaidBill{}, Failed: []FailedBill{}}
	for _, billID := range billIDs {
		paid, err := bs.attemptOne(ownerID, billID)
		if err != nil {
			code, reason := "INTERNAL", "settlement failed"
			if we, ok := AsWalletError(err); ok {
				code, reason = we.Code, we.Message
			}
			report.Failed = append(report.Failed, FailedBill{BillID: billID, Code: code, Reason: reason})
			continue
		}
		report.Succeeded = append(report.Succeeded, *paid)
		report.TotalCharged += paid.AmountCharged
	}

	log.Printf("[BILLING] Batch for owner %s: %d paid, %d failed, total %d",
		ownerID, len(report.Succeeded), len(report.Failed), report.TotalCharged)
	return report, nil
}

func (bs *BillingService) attemptOne(ownerID, billID string) (*PaidBill, error) {
	bill, err := bs.GetBill(billID)
	if err != nil {
		return nil, err
	}
	if bill.OwnerID != ownerID {
		return nil, ErrForbidden(billID)
	}
	if bill.Status != models.BillStatusUnpaid {
		return nil, ErrInvalidBillState(billID, bill.Status)
	}
	return bs.settle(ownerID, billID)
}

// SweepOverdue flips past-due unpaid bills to OVERDUE. Runs on the
// cron schedule from config.
func (bs *BillingService) SweepOverdue() {
	result, err := bs.db.Exec(`
		UPDATE bills
		SET status = $1
		WHERE status = $2 AND due_date < NOW()`,
		models.BillStatusOverdue, models.BillStatusUnpaid)
	if err != nil {
		log.Printf("[SWEEP] Overdue sweep failed: %v", err)
		return
	}

	if count, err := result.RowsAffected(); err == nil && count > 0 {
		log.Printf("[SWEEP] Marked %d bills overdue", count)
	}
}

// HTTP handlers

// HandlePayBill settles one bill
// @Summary Pay a bill
// @Description Pay one unpaid bill from the caller's wallet
// @Tags bills
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param billID path string true "Bill ID"
// @Param request body object{password=string} true "Payment request"
// @Success 200 {object} services.PaidBill
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /bills/{billID}/pay [post]
func (bs *BillingService) HandlePayBill(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	billID := chi.URLParam(r, "billID")
	if billID == "" {
		SendErrorResponse(w, "billID is required", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Password string `json:"password" validate:"required"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	paid, err := bs.PayBill(ownerID, billID, req.Password)
	if err != nil {
		log.Printf("[BILLING] Payment of bill %s failed for owner %s: %v", billID, ownerID, err)
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":       true,
		"billId":        paid.BillID,
		"amountCharged": paid.AmountCharged,
		"referenceNo":   paid.ReferenceNo,
	})
}

// HandlePayBatch settles several bills
// @Summary Pay bills in batch
// @Description Pay a batch of bills; partial success is reported per bill
// @Tags bills
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{billIds=[]string,password=string} true "Batch payment request"
// @Success 200 {object} services.BatchReport
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /bills/pay-batch [post]
func (bs *BillingService) HandlePayBatch(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		BillIDs  []string `json:"billIds" validate:"required,min=1,max=100,dive,required"`
		Password string   `json:"password" validate:"required"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	report, err := bs.PayBillsBatch(ownerID, req.BillIDs, req.Password)
	if err != nil {
		log.Printf("[BILLING] Batch payment rejected for owner %s: %v", ownerID, err)
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// HandleListUnpaid lists the caller's open bills
// @Summary List unpaid bills
// @Tags bills
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{bills=[]models.Bill,count=int}
// @Router /bills/unpaid [get]
func (bs *BillingService) HandleListUnpaid(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	bills, err := bs.ListUnpaidByOwner(ownerID)
	if err != nil {
		log.Printf("[BILLING] Failed to list unpaid bills for owner %s: %v", ownerID, err)
		SendErrorResponse(w, "Failed to fetch bills", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"bills": bills,
		"count": len(bills),
	})
}
