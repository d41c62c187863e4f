package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	type rechargeRequest struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}

	t.Run("valid struct", func(t *testing.T) {
		assert.NoError(t, vh.ValidateStruct(&rechargeRequest{Amount: 100}))
	})

	t.Run("missing amount", func(t *testing.T) {
		assert.Error(t, vh.ValidateStruct(&rechargeRequest{}))
	})

	type batchRequest struct {
		BillIDs  []string `json:"billIds" validate:"required,min=1,max=100,dive,required"`
		Password string   `json:"password" validate:"required"`
	}

	t.Run("empty batch rejected", func(t *testing.T) {
		assert.Error(t, vh.ValidateStruct(&batchRequest{BillIDs: []string{}, Password: "123456"}))
	})

	t.Run("blank bill id rejected", func(t *testing.T) {
		assert.Error(t, vh.ValidateStruct(&batchRequest{BillIDs: []string{"bill-1", ""}, Password: "123456"}))
	})
}

func TestHTTPStatusMapping(t *testing.T) {
	until := time.Now().Add(time.Hour)

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", ErrBillNotFound("b"), http.StatusNotFound},
		{"forbidden", ErrForbidden("b"), http.StatusForbidden},
		{"locked", ErrLocked(until), http.StatusLocked},
		{"conflict", ErrConcurrencyConflict(), http.StatusConflict},
		{"wrong password", ErrWrongPassword(2), http.StatusUnauthorized},
		{"password not set", ErrPasswordNotSet(), http.StatusUnauthorized},
		{"insufficient funds", ErrInsufficientFunds(1, 2), http.StatusBadRequest},
		{"frozen", ErrFrozen("o"), http.StatusBadRequest},
		{"ceiling", ErrBalanceCeiling(10), http.StatusBadRequest},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, httpStatusFor(tc.err))
		})
	}
}

func TestSendWalletError(t *testing.T) {
	t.Run("lockout payload carries the deadline", func(t *testing.T) {
		until := time.Now().Add(time.Hour)
		rec := httptest.NewRecorder()

		sendWalletError(rec, ErrLocked(until))

		assert.Equal(t, http.StatusLocked, rec.Code)
		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeLocked, resp.Code)
		assert.NotEmpty(t, resp.LockedUntil)
	})

	t.Run("wrong password payload carries remaining attempts", func(t *testing.T) {
		rec := httptest.NewRecorder()

		sendWalletError(rec, ErrWrongPassword(2))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, CodeWrongPassword, resp.Code)
		assert.NotNil(t, resp.RemainingAttempts)
		assert.Equal(t, 2, *resp.RemainingAttempts)
	})

	t.Run("unexpected errors stay opaque", func(t *testing.T) {
		rec := httptest.NewRecorder()

		sendWalletError(rec, errors.New("pq: connection reset"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "Internal error", resp.Error)
		assert.Empty(t, resp.Code)
	})
}

func TestIsCode(t *testing.T) {
	assert.True(t, IsCode(ErrFrozen("o"), CodeFrozen))
	assert.False(t, IsCode(ErrFrozen("o"), CodeLocked))
	assert.False(t, IsCode(errors.New("boom"), CodeFrozen))
	assert.False(t, IsCode(nil, CodeFrozen))
}
