package services

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/estatedesk/backoffice/internal/config"
	"github.com/estatedesk/backoffice/internal/models"
	"github.com/google/uuid"
)

// TransactionLog is the append-only record of every balance-changing
// wallet event. Appends happen inside the caller's database
// transaction so the account row and its log entry commit as one unit.
type TransactionLog struct {
	db  *sql.DB
	cfg *config.WalletConfig
}

func NewTransactionLog(db *sql.DB, cfg *config.WalletConfig) *TransactionLog {
	return &TransactionLog{db: db, cfg: cfg}
}

// NewReferenceNo generates a unique reference: {prefix}{yyyyMMdd}{12 hex}.
// The random suffix keeps concurrent callers collision-safe even within
// the same millisecond and across server processes.
func (l *TransactionLog) NewReferenceNo() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
	return fmt.Sprintf("%s%s%s", l.cfg.ReferencePrefix, time.Now().Format("20060102"), suffix)
}

// AppendTx writes one log entry inside the caller's transaction and
// returns the reference number. Entries are immutable once written.
func (l *TransactionLog) AppendTx(tx *sql.Tx, rec *models.WalletTransaction) (string, error) {
	if rec.ReferenceNo == "" {
		rec.ReferenceNo = l.NewReferenceNo()
	}
	if rec.Outcome == "" {
		rec.Outcome = models.TxOutcomeSuccess
	}
	rec.CreatedAt = time.Now()

	_, err := tx.Exec(`
		INSERT INTO wallet_transactions
		(reference_no, owner_id, account_id, kind, amount, balance_before, balance_after, bill_id, outcome, remark, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ReferenceNo, rec.OwnerID, rec.AccountID, rec.Kind, rec.Amount,
		rec.BalanceBefore, rec.BalanceAfter, nullIfEmpty(rec.BillID), rec.Outcome,
		rec.Remark, rec.CreatedAt)
	if err != nil {
		return "", err
	}

	return rec.ReferenceNo, nil
}

const transactionColumns = `id, reference_no, owner_id, account_id, kind, amount,
	balance_before, balance_after, COALESCE(bill_id, ''), outcome, COALESCE(remark, ''), created_at`

func scanTransactionRows(rows *sql.Rows) ([]models.WalletTransaction, error) {
	records := []models.WalletTransaction{}
	for rows.Next() {
		var rec models.WalletTransaction
		err := rows.Scan(&rec.ID, &rec.ReferenceNo, &rec.OwnerID, &rec.AccountID,
			&rec.Kind, &rec.Amount, &rec.BalanceBefore, &rec.BalanceAfter,
			&rec.BillID, &rec.Outcome, &rec.Remark, &rec.CreatedAt)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// FindByReference looks up a single entry by its reference number.
func (l *TransactionLog) FindByReference(referenceNo string) (*models.WalletTransaction, error) {
	row := l.db.QueryRow(`
		SELECT `+transactionColumns+`
		FROM wallet_transactions
		WHERE reference_no = $1`, referenceNo)

	var rec models.WalletTransaction
	err := row.Scan(&rec.ID, &rec.ReferenceNo, &rec.OwnerID, &rec.AccountID,
		&rec.Kind, &rec.Amount, &rec.BalanceBefore, &rec.BalanceAfter,
		&rec.BillID, &rec.Outcome, &rec.Remark, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, walletErr(CodeNotFound, "transaction %s not found", referenceNo)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindByOwner returns the owner's entries most-recent-first, optionally
// filtered by kind, one page at a time.
func (l *TransactionLog) FindByOwner(ownerID, kind string, page, pageSize int) ([]models.WalletTransaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = l.cfg.HistoryPageSize
	}

	var conditions []string
	var args []interface{}
	argIndex := 1

	conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argIndex))
	args = append(args, ownerID)
	argIndex++

	if kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIndex))
		args = append(args, kind)
		argIndex++
	}

	query := `SELECT ` + transactionColumns + `
		FROM wallet_transactions
		WHERE ` + strings.Join(conditions, " AND ") +
		" ORDER BY created_at DESC, id DESC" +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactionRows(rows)
}
