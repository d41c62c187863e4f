package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/estatedesk/backoffice/internal/config"
	"github.com/estatedesk/backoffice/internal/models"
)

func testWalletConfig() *config.WalletConfig {
	return &config.WalletConfig{
		BalanceCeiling:      10_000_000,
		MaxPasswordFailures: 3,
		LockoutDuration:     time.Hour,
		ConflictRetries:     3,
		ReferencePrefix:     "WT",
		NotifyQueue:         "wallet_notifications",
		OverdueSweepSpec:    "@hourly",
		HistoryPageSize:     20,
	}
}

var accountTestColumns = []string{
	"id", "owner_id", "balance", "total_recharged", "total_consumed",
	"pay_password", "password_failures", "locked_until", "status", "version",
	"created_at", "updated_at",
}

func accountRow(id int64, ownerID string, balance int64, payPassword string, failures int, lockedUntil any, status string, version int) *sqlmock.Rows {
	return sqlmock.NewRows(accountTestColumns).
		AddRow(id, ownerID, balance, balance, int64(0), payPassword, failures, lockedUntil, status, version, time.Now(), time.Now())
}

func TestAccountStore_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db, testWalletConfig())

	t.Run("existing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("owner-1").
			WillReturnRows(accountRow(1, "owner-1", 5000, "", 0, nil, models.AccountStatusActive, 1))

		account, err := store.Get("owner-1")
		assert.NoError(t, err)
		assert.Equal(t, "owner-1", account.OwnerID)
		assert.Equal(t, int64(5000), account.Balance)
		assert.Equal(t, 1, account.Version)
		assert.Nil(t, account.LockedUntil)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows(accountTestColumns))

		_, err := store.Get("ghost")
		assert.Error(t, err)
		assert.True(t, IsCode(err, CodeNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("locked account carries deadline", func(t *testing.T) {
		until := time.Now().Add(30 * time.Minute)
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("owner-2").
			WillReturnRows(accountRow(2, "owner-2", 0, "salt$hash", 0, until, models.AccountStatusActive, 4))

		account, err := store.Get("owner-2")
		assert.NoError(t, err)
		assert.NotNil(t, account.LockedUntil)
		assert.WithinDuration(t, until, *account.LockedUntil, time.Second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountStore_CreateIfAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db, testWalletConfig())

	t.Run("creates new account", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO wallet_accounts").
			WithArgs("owner-1", int64(0), models.AccountStatusActive).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("owner-1").
			WillReturnRows(accountRow(1, "owner-1", 0, "", 0, nil, models.AccountStatusActive, 1))

		account, err := store.CreateIfAbsent("owner-1", 0)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), account.Balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("second call returns existing account unchanged", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO wallet_accounts").
			WithArgs("owner-1", int64(500), models.AccountStatusActive).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT (.+) FROM wallet_accounts WHERE owner_id = \\$1").
			WithArgs("owner-1").
			WillReturnRows(accountRow(1, "owner-1", 7500, "", 0, nil, models.AccountStatusActive, 3))

		account, err := store.CreateIfAbsent("owner-1", 500)
		assert.NoError(t, err)
		assert.Equal(t, int64(7500), account.Balance)
		assert.Equal(t, 3, account.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountStore_updateTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	store := NewAccountStore(db, testWalletConfig())

	account := &models.Account{
		ID:      1,
		OwnerID: "owner-1",
		Balance: 4000,
		Status:  models.AccountStatusActive,
		Version: 2,
	}

	t.Run("successful update bumps version", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE wallet_accounts SET (.+) WHERE id = \\$9 AND version = \\$10").
			WithArgs(int64(4000), int64(0), int64(0), nil, 0, nil, models.AccountStatusActive, sqlmock.AnyArg(), int64(1), 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.updateTx(tx, account)
		assert.NoError(t, err)
		assert.Equal(t, 3, account.Version)
	})

	t.Run("version mismatch reports conflict", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE wallet_accounts SET (.+) WHERE id = \\$9 AND version = \\$10").
			WithArgs(int64(4000), int64(0), int64(0), nil, 0, nil, models.AccountStatusActive, sqlmock.AnyArg(), int64(1), 3).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.updateTx(tx, account)
		assert.Error(t, err)
		assert.True(t, IsCode(err, CodeConcurrencyConflict))
		assert.Equal(t, 3, account.Version)
	})
}

func TestAccountStore_WithRetry(t *testing.T) {
	store := NewAccountStore(nil, testWalletConfig())

	t.Run("conflict retried until success", func(t *testing.T) {
		calls := 0
		err := store.WithRetry(func() error {
			calls++
			if calls < 3 {
				return ErrConcurrencyConflict()
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("persistent conflict surfaces after max attempts", func(t *testing.T) {
		calls := 0
		err := store.WithRetry(func() error {
			calls++
			return ErrConcurrencyConflict()
		})
		assert.Error(t, err)
		assert.True(t, IsCode(err, CodeConcurrencyConflict))
		assert.Equal(t, 3, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		err := store.WithRetry(func() error {
			calls++
			return ErrInsufficientFunds(100, 200)
		})
		assert.Error(t, err)
		assert.True(t, IsCode(err, CodeInsufficientFunds))
		assert.Equal(t, 1, calls)
	})

	t.Run("success on first attempt", func(t *testing.T) {
		calls := 0
		err := store.WithRetry(func() error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}
