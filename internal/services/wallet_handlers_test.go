package services

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/estatedesk/backoffice/internal/models"
)

func TestWalletService_HandleRecharge(t *testing.T) {
	service, mock, cleanup := newWalletService(t)
	defer cleanup()

	t.Run("missing auth context", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/wallet/recharge", strings.NewReader(`{"amount":100}`))
		rec := httptest.NewRecorder()

		service.HandleRecharge(rec, req)
		assert.Equal(t, 401, rec.Code)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/wallet/recharge", strings.NewReader(`{"amount":100,"extra":true}`))
		req = req.WithContext(context.WithValue(req.Context(), "ownerID", "owner-1"))
		rec := httptest.NewRecorder()

		service.HandleRecharge(rec, req)
		assert.Equal(t, 400, rec.Code)
	})

	t.Run("zero amount fails validation", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/wallet/recharge", strings.NewReader(`{"amount":0}`))
		req = req.WithContext(context.WithValue(req.Context(), "ownerID", "owner-1"))
		rec := httptest.NewRecorder()

		service.HandleRecharge(rec, req)
		assert.Equal(t, 400, rec.Code)
	})

	t.Run("successful recharge", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO wallet_accounts").
			WithArgs("owner-1", int64(0), models.AccountStatusActive).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("owner-1").
			WillReturnRows(accountRow(1, "owner-1", 1000, "", 0, nil, models.AccountStatusActive, 1))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("owner-1").
			WillReturnRows(accountRow(1, "owner-1", 1000, "", 0, nil, models.AccountStatusActive, 1))
		mock.ExpectExec("UPDATE wallet_accounts SET (.+) WHERE id = \\$9 AND version = \\$10").
			WithArgs(int64(1500), int64(1500), int64(0), nil, 0, nil, models.AccountStatusActive, sqlmock.AnyArg(), int64(1), 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO wallet_transactions").
			WithArgs(sqlmock.AnyArg(), "owner-1", int64(1), models.TxKindRecharge, int64(500),
				int64(1000), int64(1500), nil, models.TxOutcomeSuccess, "recharge", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		req := httptest.NewRequest("POST", "/api/v1/wallet/recharge", strings.NewReader(`{"amount":500}`))
		req = req.WithContext(context.WithValue(req.Context(), "ownerID", "owner-1"))
		rec := httptest.NewRecorder()

		service.HandleRecharge(rec, req)
		assert.Equal(t, 200, rec.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, float64(1500), resp["balance"])
		assert.NotEmpty(t, resp["referenceNo"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("frozen wallet maps to 400 with code", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO wallet_accounts").
			WithArgs("owner-2", int64(0), models.AccountStatusActive).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("owner-2").
			WillReturnRows(accountRow(2, "owner-2", 1000, "", 0, nil, models.AccountStatusFrozen, 1))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("owner-2").
			WillReturnRows(accountRow(2, "owner-2", 1000, "", 0, nil, models.AccountStatusFrozen, 1))
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/api/v1/wallet/recharge", strings.NewReader(`{"amount":500}`))
		req = req.WithContext(context.WithValue(req.Context(), "ownerID", "owner-2"))
		rec := httptest.NewRecorder()

		service.HandleRecharge(rec, req)
		assert.Equal(t, 400, rec.Code)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeFrozen, resp.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWalletService_HandleGetWallet(t *testing.T) {
	service, mock, cleanup := newWalletService(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO wallet_accounts").
		WithArgs("owner-1", int64(0), models.AccountStatusActive).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
		WithArgs("owner-1").
		WillReturnRows(accountRow(1, "owner-1", 2500, "salt$hash", 0, nil, models.AccountStatusActive, 2))

	req := httptest.NewRequest("GET", "/api/v1/wallet", nil)
	req = req.WithContext(context.WithValue(req.Context(), "ownerID", "owner-1"))
	rec := httptest.NewRecorder()

	service.HandleGetWallet(rec, req)
	assert.Equal(t, 200, rec.Code)

	var resp map[string]any
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "owner-1", resp["ownerId"])
	assert.Equal(t, float64(2500), resp["balance"])
	assert.Equal(t, true, resp["passwordSet"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWalletService_HandleGetTransactions(t *testing.T) {
	service, mock, cleanup := newWalletService(t)
	defer cleanup()

	t.Run("invalid kind filter", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/v1/wallet/transactions?kind=BOGUS", nil)
		req = req.WithContext(context.WithValue(req.Context(), "ownerID", "owner-1"))
		rec := httptest.NewRecorder()

		service.HandleGetTransactions(rec, req)
		assert.Equal(t, 400, rec.Code)
	})

	t.Run("filtered page", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM wallet_transactions WHERE owner_id = \\$1 AND kind = \\$2").
			WithArgs("owner-1", models.TxKindConsume, 20, 0).
			WillReturnRows(sqlmock.NewRows(transactionTestColumns))

		req := httptest.NewRequest("GET", "/api/v1/wallet/transactions?kind=CONSUME", nil)
		req = req.WithContext(context.WithValue(req.Context(), "ownerID", "owner-1"))
		rec := httptest.NewRecorder()

		service.HandleGetTransactions(rec, req)
		assert.Equal(t, 200, rec.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, float64(0), resp["count"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBillingService_HandlePayBatch(t *testing.T) {
	service, mock, cleanup := newBillingService(t)
	defer cleanup()

	t.Run("empty batch rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/bills/pay-batch", strings.NewReader(`{"billIds":[],"password":"123456"}`))
		req = req.WithContext(context.WithValue(req.Context(), "ownerID", "owner-1"))
		rec := httptest.NewRecorder()

		service.HandlePayBatch(rec, req)
		assert.Equal(t, 400, rec.Code)
	})

	t.Run("locked wallet maps to 423", func(t *testing.T) {
		hash := mustHash(t, "123456")
		until := time.Now().Add(30 * time.Minute)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("owner-1").
			WillReturnRows(accountRow(1, "owner-1", 5000, hash, 0, until, models.AccountStatusActive, 3))
		mock.ExpectRollback()

		req := httptest.NewRequest("POST", "/api/v1/bills/pay-batch", strings.NewReader(`{"billIds":["bill-1"],"password":"123456"}`))
		req = req.WithContext(context.WithValue(req.Context(), "ownerID", "owner-1"))
		rec := httptest.NewRecorder()

		service.HandlePayBatch(rec, req)
		assert.Equal(t, 423, rec.Code)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeLocked, resp.Code)
		assert.NotEmpty(t, resp.LockedUntil)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
