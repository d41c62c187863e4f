package services

import (
	cryptorand "crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/estatedesk/backoffice/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"
)

var payPasswordRegex = regexp.MustCompile(`^[0-9]{6}$`)

// PasswordGuard owns the transaction-password state machine:
// UNSET -> SET -> {VERIFIED, LOCKED}. Every spend path must go through
// Verify before any balance mutation; a failed Verify leaves the
// balance untouched but its counter mutations are committed.
type PasswordGuard struct {
	db        *sql.DB
	store     *AccountStore
	cfg       *config.WalletConfig
	validator *ValidationHelper
}

func NewPasswordGuard(db *sql.DB, store *AccountStore, cfg *config.WalletConfig) *PasswordGuard {
	return &PasswordGuard{
		db:        db,
		store:     store,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// SetPassword sets the transaction password for the first time,
// creating the account if the owner has none yet.
func (g *PasswordGuard) SetPassword(ownerID, newPassword, confirm string) error {
	if newPassword != confirm {
		return ErrPasswordMismatch()
	}
	if !payPasswordRegex.MatchString(newPassword) {
		return ErrWeakPassword()
	}

	if _, err := g.store.CreateIfAbsent(ownerID, 0); err != nil {
		return err
	}

	hashed, err := hashPayPassword(newPassword)
	if err != nil {
		return err
	}

	return g.store.WithRetry(func() error {
		tx, err := g.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		account, err := g.store.getTx(tx, ownerID)
		if err != nil {
			return err
		}
		if account.PayPassword != "" {
			return ErrAlreadySet()
		}

		account.PayPassword = hashed
		account.PasswordFailures = 0
		account.LockedUntil = nil
		if err := g.store.updateTx(tx, account); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// ChangePassword rotates an existing password. The old password goes
// through the same verification (and lockout bookkeeping) as a spend.
func (g *PasswordGuard) ChangePassword(ownerID, oldPassword, newPassword, confirm string) error {
	account, err := g.store.Get(ownerID)
	if err != nil {
		return err
	}
	if account.PayPassword == "" {
		return ErrPasswordNotSet()
	}

	if err := g.Verify(ownerID, oldPassword); err != nil {
		return err
	}

	if newPassword != confirm {
		return ErrPasswordMismatch()
	}
	if !payPasswordRegex.MatchString(newPassword) {
		return ErrWeakPassword()
	}
	if verifyPayPassword(newPassword, account.PayPassword) {
		return ErrSamePassword()
	}

	hashed, err := hashPayPassword(newPassword)
	if err != nil {
		return err
	}

	return g.store.WithRetry(func() error {
		tx, err := g.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		account, err := g.store.getTx(tx, ownerID)
		if err != nil {
			return err
		}
		// The stored hash may have changed since Verify. A reset leaves
		// the account unset; any other rotation reads as a conflict.
		if account.PayPassword == "" {
			return ErrPasswordNotSet()
		}
		if !verifyPayPassword(oldPassword, account.PayPassword) {
			return ErrConcurrencyConflict()
		}

		account.PayPassword = hashed
		account.PasswordFailures = 0
		account.LockedUntil = nil
		if err := g.store.updateTx(tx, account); err != nil {
			return err
		}

		return tx.Commit()
	})
}

// Verify checks the candidate password. Three consecutive failures set
// a lockout deadline; a correct password while locked still fails.
// Counter mutations commit even though the call returns an error.
func (g *PasswordGuard) Verify(ownerID, candidate string) error {
	return g.store.WithRetry(func() error {
		return g.verifyOnce(ownerID, candidate)
	})
}

func (g *PasswordGuard) verifyOnce(ownerID, candidate string) error {
	tx, err := g.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	account, err := g.store.getTx(tx, ownerID)
	if err != nil {
		return err
	}
	if account.PayPassword == "" {
		return ErrPasswordNotSet()
	}

	now := time.Now()
	if account.LockedUntil != nil {
		if now.Before(*account.LockedUntil) {
			return ErrLocked(*account.LockedUntil)
		}
		// Lock expired, counter starts fresh.
		account.LockedUntil = nil
		account.PasswordFailures = 0
	}

	if !verifyPayPassword(candidate, account.PayPassword) {
		account.PasswordFailures++
		if account.PasswordFailures >= g.cfg.MaxPasswordFailures {
			until := now.Add(g.cfg.LockoutDuration)
			account.LockedUntil = &until
			account.PasswordFailures = 0
			if err := g.store.updateTx(tx, account); err != nil {
				return err
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			log.Printf("[GUARD] Owner %s locked out until %s", ownerID, until.Format(time.RFC3339))
			return ErrLocked(until)
		}

		remaining := g.cfg.MaxPasswordFailures - account.PasswordFailures
		if err := g.store.updateTx(tx, account); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		return ErrWrongPassword(remaining)
	}

	account.PasswordFailures = 0
	account.LockedUntil = nil
	if err := g.store.updateTx(tx, account); err != nil {
		return err
	}

	return tx.Commit()
}

// AdminReset clears the password, failure counter and lock, returning
// the account to the unset state. Support-assisted recovery path.
func (g *PasswordGuard) AdminReset(ownerID string) error {
	return g.store.WithRetry(func() error {
		tx, err := g.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		account, err := g.store.getTx(tx, ownerID)
		if err != nil {
			return err
		}

		account.PayPassword = ""
		account.PasswordFailures = 0
		account.LockedUntil = nil
		if err := g.store.updateTx(tx, account); err != nil {
			return err
		}

		log.Printf("[GUARD] Password reset for owner %s", ownerID)
		return tx.Commit()
	})
}

// HTTP handlers

// HandleSetPassword sets the transaction password
// @Summary Set transaction password
// @Description Set the 6-digit transaction password for the caller's wallet
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{password=string,confirm=string} true "Password set request"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Router /wallet/password [post]
func (g *PasswordGuard) HandleSetPassword(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Password string `json:"password" validate:"required"`
		Confirm  string `json:"confirm" validate:"required"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := g.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := g.SetPassword(ownerID, req.Password, req.Confirm); err != nil {
		log.Printf("[GUARD] Set password failed for owner %s: %v", ownerID, err)
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password set"})
}

// HandleChangePassword rotates the transaction password
// @Summary Change transaction password
// @Description Change the caller's transaction password after re-verifying the old one
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{oldPassword=string,newPassword=string,confirm=string} true "Password change request"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/password [put]
func (g *PasswordGuard) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		OldPassword string `json:"oldPassword" validate:"required"`
		NewPassword string `json:"newPassword" validate:"required"`
		Confirm     string `json:"confirm" validate:"required"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := g.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := g.ChangePassword(ownerID, req.OldPassword, req.NewPassword, req.Confirm); err != nil {
		log.Printf("[GUARD] Change password failed for owner %s: %v", ownerID, err)
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password changed"})
}

// HandleVerifyPassword checks the transaction password
// @Summary Verify transaction password
// @Description Explicitly verify the caller's transaction password
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{password=string} true "Password verify request"
// @Success 200 {object} map[string]bool
// @Failure 401 {object} services.ErrorResponse
// @Failure 423 {object} services.ErrorResponse
// @Router /wallet/verify [post]
func (g *PasswordGuard) HandleVerifyPassword(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Password string `json:"password" validate:"required"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := g.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := g.Verify(ownerID, req.Password); err != nil {
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"verified": true})
}

// HandleAdminResetPassword clears an owner's transaction password
// @Summary Reset transaction password (admin)
// @Description Clear an owner's transaction password, failure counter and lockout
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param ownerID path string true "Owner ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/wallet/{ownerID}/reset-password [post]
func (g *PasswordGuard) HandleAdminResetPassword(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if ownerID == "" {
		SendErrorResponse(w, "ownerID is required", http.StatusBadRequest, nil)
		return
	}

	if err := g.AdminReset(ownerID); err != nil {
		sendWalletError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password reset"})
}

// Hashing helpers

func argon2Defaults() {
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)
}

func hashPayPassword(password string) (string, error) {
	argon2Defaults()

	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPayPassword(password, hashedPassword string) bool {
	argon2Defaults()

	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return subtle.ConstantTimeCompare(hash, computedHash) == 1
}

// decodeJSONBody applies the shared request body discipline: size cap,
// unknown field rejection, single JSON object only.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	return true
}
