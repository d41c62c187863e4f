package services

import (
	"database/sql"
	"log"
	"time"

	"github.com/estatedesk/backoffice/internal/config"
	"github.com/estatedesk/backoffice/internal/models"
)

// AccountStore owns the wallet_accounts table. Every mutation goes
// through updateTx, which compares-and-swaps on the version column;
// a lost race surfaces as ConcurrencyConflict and WithRetry re-runs
// the caller's whole transaction a bounded number of times.
type AccountStore struct {
	db  *sql.DB
	cfg *config.WalletConfig
}

func NewAccountStore(db *sql.DB, cfg *config.WalletConfig) *AccountStore {
	return &AccountStore{db: db, cfg: cfg}
}

const accountColumns = `id, owner_id, balance, total_recharged, total_consumed,
	COALESCE(pay_password, ''), password_failures, locked_until, status, version,
	created_at, updated_at`

func scanAccount(row *sql.Row) (*models.Account, error) {
	var a models.Account
	var lockedUntil sql.NullTime
	err := row.Scan(&a.ID, &a.OwnerID, &a.Balance, &a.TotalRecharged, &a.TotalConsumed,
		&a.PayPassword, &a.PasswordFailures, &lockedUntil, &a.Status, &a.Version,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		a.LockedUntil = &t
	}
	return &a, nil
}

// Get loads the account for an owner.
func (s *AccountStore) Get(ownerID string) (*models.Account, error) {
	row := s.db.QueryRow(`
		SELECT `+accountColumns+`
		FROM wallet_accounts
		WHERE owner_id = $1`, ownerID)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound(ownerID)
	}
	return account, err
}

// CreateIfAbsent opens an account for the owner with the given opening
// balance. Idempotent: a second call returns the existing account
// unchanged and never double-credits.
func (s *AccountStore) CreateIfAbsent(ownerID string, openingBalance int64) (*models.Account, error) {
	_, err := s.db.Exec(`
		INSERT INTO wallet_accounts
		(owner_id, balance, total_recharged, total_consumed, password_failures, status, version, created_at, updated_at)
		VALUES ($1, $2, $2, 0, 0, $3, 1, NOW(), NOW())
		ON CONFLICT (owner_id) DO NOTHING`,
		ownerID, openingBalance, models.AccountStatusActive)
	if err != nil {
		return nil, err
	}

	return s.Get(ownerID)
}

// getTx loads the account inside the caller's transaction. The version
// read here must accompany the subsequent updateTx.
func (s *AccountStore) getTx(tx *sql.Tx, ownerID string) (*models.Account, error) {
	row := tx.QueryRow(`
		SELECT `+accountColumns+`
		FROM wallet_accounts
		WHERE owner_id = $1`, ownerID)

	account, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound(ownerID)
	}
	return account, err
}

// updateTx writes the mutated account back, guarded by the version the
// caller observed. Zero rows affected means a concurrent writer won.
func (s *AccountStore) updateTx(tx *sql.Tx, a *models.Account) error {
	result, err := tx.Exec(`
		UPDATE wallet_accounts
		SET balance = $1, total_recharged = $2, total_consumed = $3,
		    pay_password = $4, password_failures = $5, locked_until = $6,
		    status = $7, version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10`,
		a.Balance, a.TotalRecharged, a.TotalConsumed,
		nullIfEmpty(a.PayPassword), a.PasswordFailures, nullableTime(a.LockedUntil),
		a.Status, time.Now(), a.ID, a.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrConcurrencyConflict()
	}

	a.Version++
	return nil
}

// WithRetry runs fn, retrying on ConcurrencyConflict up to the
// configured attempt count. Any other failure surfaces immediately.
func (s *AccountStore) WithRetry(fn func() error) error {
	attempts := s.cfg.ConflictRetries
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if !IsCode(err, CodeConcurrencyConflict) {
			return err
		}
		log.Printf("[WALLET] Optimistic lock conflict, attempt %d/%d", i+1, attempts)
	}
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
