package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/estatedesk/backoffice/internal/config"
	"github.com/estatedesk/backoffice/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
)

// WalletService implements the ledger operations: recharge, consume,
// freeze/unfreeze and history. Each mutation updates the account row
// and appends the matching log entry inside one database transaction.
type WalletService struct {
	db        *sql.DB
	redis     *redis.Client
	store     *AccountStore
	txlog     *TransactionLog
	cfg       *config.WalletConfig
	validator *ValidationHelper
}

func NewWalletService(db *sql.DB, redisClient *redis.Client, store *AccountStore, txlog *TransactionLog, cfg *config.WalletConfig) *WalletService {
	return &WalletService{
		db:        db,
		redis:     redisClient,
		store:     store,
		txlog:     txlog,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// Recharge credits the owner's wallet, creating the account on first use.
func (ws *WalletService) Recharge(ownerID string, amount int64) (*models.Account, string, error) {
	return ws.recharge(ownerID, amount, "recharge")
}

// AdminRecharge is the privileged credit path. Identical invariants,
// fixed remark for audit distinction.
func (ws *WalletService) AdminRecharge(ownerID string, amount int64) (*models.Account, string, error) {
	return ws.recharge(ownerID, amount, "admin recharge")
}

func (ws *WalletService) recharge(ownerID string, amount int64, remark string) (*models.Account, string, error) {
	if amount <= 0 {
		return nil, "", ErrInvalidAmount()
	}

	if _, err := ws.store.CreateIfAbsent(ownerID, 0); err != nil {
		return nil, "", err
	}

	var account *models.Account
	var referenceNo string
	err := ws.store.WithRetry(func() error {
		tx, err := ws.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		account, err = ws.store.getTx(tx, ownerID)
		if err != nil {
			return err
		}
		if account.Status == models.AccountStatusFrozen {
			return ErrFrozen(ownerID)
		}
		// Headroom comparison, safe against int64 overflow on huge amounts.
		if amount > ws.cfg.BalanceCeiling-account.Balance {
			return ErrBalanceCeiling(ws.cfg.BalanceCeiling)
		}

		balanceBefore := account.Balance
		account.Balance += amount
		account.TotalRecharged += amount
		if err := ws.store.updateTx(tx, account); err != nil {
			return err
		}

		referenceNo, err = ws.txlog.AppendTx(tx, &models.WalletTransaction{
			OwnerID:       ownerID,
			AccountID:     account.ID,
			Kind:          models.TxKindRecharge,
			Amount:        amount,
			BalanceBefore: balanceBefore,
			BalanceAfter:  account.Balance,
			Remark:        remark,
		})
		if err != nil {
			return err
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, "", err
	}

	ws.notify(map[string]any{
		"event":       "RECHARGE",
		"ownerId":     ownerID,
		"amount":      amount,
		"referenceNo": referenceNo,
	})
	log.Printf("[WALLET] Recharge %d for owner %s, ref %s (%s)", amount, ownerID, referenceNo, remark)
	return account, referenceNo, nil
}

// ConsumeTx debits the owner's wallet inside the caller's transaction.
// The account row update and the log append commit (or roll back) with
// whatever else the caller does in the same transaction.
func (ws *WalletService) ConsumeTx(tx *sql.Tx, ownerID string, amount int64, billID, remark string) (*models.Account, string, error) {
	if amount <= 0 {
		return nil, "", ErrInvalidAmount()
	}

	account, err := ws.store.getTx(tx, ownerID)
	if err != nil {
		return nil, "", err
	}
	if account.Status == models.AccountStatusFrozen {
		return nil, "", ErrFrozen(ownerID)
	}
	if account.Balance < amount {
		return nil, "", ErrInsufficientFunds(account.Balance, amount)
	}

	balanceBefore := account.Balance
	account.Balance -= amount
	account.TotalConsumed += amount
	if err := ws.store.updateTx(tx, account); err != nil {
		return nil, "", err
	}

	referenceNo, err := ws.txlog.AppendTx(tx, &models.WalletTransaction{
		OwnerID:       ownerID,
		AccountID:     account.ID,
		Kind:          models.TxKindConsume,
		Amount:        amount,
		BalanceBefore: balanceBefore,
		BalanceAfter:  account.Balance,
		BillID:        billID,
		Remark:        remark,
	})
	if err != nil {
		return nil, "", err
	}

	return account, referenceNo, nil
}

// Freeze blocks future recharges and spends. In-flight operations are
// not reversed.
func (ws *WalletService) Freeze(ownerID string) error {
	return ws.setStatus(ownerID, models.AccountStatusFrozen)
}

// Unfreeze returns a frozen account to active.
func (ws *WalletService) Unfreeze(ownerID string) error {
	return ws.setStatus(ownerID, models.AccountStatusActive)
}

func (ws *WalletService) setStatus(ownerID, status string) error {
	return ws.store.WithRetry(func() error {
		tx, err := ws.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		account, err := ws.store.getTx(tx, ownerID)
		if err != nil {
			return err
		}
		if account.Status == status {
			return ErrNoOpStateChange(status)
		}

		account.Status = status
		if err := ws.store.updateTx(tx, account); err != nil {
			return err
		}

		log.Printf("[WALLET] Owner %s status changed to %s", ownerID, status)
		return tx.Commit()
	})
}

func (ws *WalletService) notify(payload map[string]any) {
	if ws.redis == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	if err := ws.redis.RPush(context.Background(), ws.cfg.NotifyQueue, data).Err(); err != nil {
		log.Printf("[WALLET] Failed to queue notification: %v", err)
	}
}

// HTTP handlers

// HandleRecharge credits the caller's wallet
// @Summary Recharge wallet
// @Description Credit the caller's wallet with the given amount (minor units)
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64} true "Recharge request"
// @Success 200 {object} object{balance=int64,referenceNo=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /wallet/recharge [post]
func (ws *WalletService) HandleRecharge(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, referenceNo, err := ws.Recharge(ownerID, req.Amount)
	if err != nil {
		log.Printf("[WALLET] Recharge failed for owner %s: %v", ownerID, err)
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"balance":     account.Balance,
		"referenceNo": referenceNo,
	})
}

// HandleGetWallet returns the caller's wallet state
// @Summary Get wallet
// @Description Get balance, lifetime totals and status for the caller's wallet
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Account
// @Router /wallet [get]
func (ws *WalletService) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := ws.store.CreateIfAbsent(ownerID, 0)
	if err != nil {
		log.Printf("[WALLET] Failed to load wallet for owner %s: %v", ownerID, err)
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ownerId":        account.OwnerID,
		"balance":        account.Balance,
		"totalRecharged": account.TotalRecharged,
		"totalConsumed":  account.TotalConsumed,
		"status":         account.Status,
		"passwordSet":    account.PayPassword != "",
	})
}

// HandleGetTransactions lists the caller's wallet history
// @Summary List wallet transactions
// @Description Paged wallet transaction history, most recent first
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param kind query string false "Filter by kind (RECHARGE, CONSUME, REFUND)"
// @Param page query int false "Page number (default 1)"
// @Param pageSize query int false "Page size"
// @Success 200 {object} object{transactions=[]models.WalletTransaction,count=int}
// @Router /wallet/transactions [get]
func (ws *WalletService) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	kind := r.URL.Query().Get("kind")
	switch kind {
	case "", models.TxKindRecharge, models.TxKindConsume, models.TxKindRefund:
	default:
		SendErrorResponse(w, "Invalid kind filter", http.StatusBadRequest, nil)
		return
	}

	page := 1
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	pageSize := ws.cfg.HistoryPageSize
	if sizeStr := r.URL.Query().Get("pageSize"); sizeStr != "" {
		if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= 100 {
			pageSize = s
		}
	}

	transactions, err := ws.txlog.FindByOwner(ownerID, kind, page, pageSize)
	if err != nil {
		log.Printf("[WALLET] Failed to fetch transactions for owner %s: %v", ownerID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
		"page":         page,
	})
}

// HandleAdminRecharge credits any owner's wallet (privileged)
// @Summary Recharge wallet (admin)
// @Description Credit an owner's wallet without password verification
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param ownerID path string true "Owner ID"
// @Param request body object{amount=int64} true "Recharge request"
// @Success 200 {object} object{balance=int64,referenceNo=string}
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/wallet/{ownerID}/recharge [post]
func (ws *WalletService) HandleAdminRecharge(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if ownerID == "" {
		SendErrorResponse(w, "ownerID is required", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := ws.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account, referenceNo, err := ws.AdminRecharge(ownerID, req.Amount)
	if err != nil {
		log.Printf("[WALLET] Admin recharge failed for owner %s: %v", ownerID, err)
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"balance":     account.Balance,
		"referenceNo": referenceNo,
	})
}

// HandleFreeze freezes an owner's wallet (privileged)
// @Summary Freeze wallet (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param ownerID path string true "Owner ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/wallet/{ownerID}/freeze [post]
func (ws *WalletService) HandleFreeze(w http.ResponseWriter, r *http.Request) {
	ws.handleSetStatus(w, r, models.AccountStatusFrozen)
}

// HandleUnfreeze unfreezes an owner's wallet (privileged)
// @Summary Unfreeze wallet (admin)
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param ownerID path string true "Owner ID"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/wallet/{ownerID}/unfreeze [post]
func (ws *WalletService) HandleUnfreeze(w http.ResponseWriter, r *http.Request) {
	ws.handleSetStatus(w, r, models.AccountStatusActive)
}

func (ws *WalletService) handleSetStatus(w http.ResponseWriter, r *http.Request, status string) {
	ownerID := chi.URLParam(r, "ownerID")
	if ownerID == "" {
		SendErrorResponse(w, "ownerID is required", http.StatusBadRequest, nil)
		return
	}

	var err error
	if status == models.AccountStatusFrozen {
		err = ws.Freeze(ownerID)
	} else {
		err = ws.Unfreeze(ownerID)
	}
	if err != nil {
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Status updated",
		"status":  status,
		"updated": time.Now().UTC().Format(time.RFC3339),
	})
}
