package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/tradesafi/backend/internal/models"
)

// LedgerService is the only component allowed to mutate user balances. Every
// mutation locks the user row, writes an audit entry and applies the balance
// update with an optimistic version check, all inside the caller's database
// transaction so a failed escrow operation rolls the ledger back with it.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

type lockedBalance struct {
	UserID  string
	Balance int64
	Version int
}

// DebitTx subtracts amount from the user's balance of the given kind. A debit
// that would drive the balance negative is rejected in full with
// ErrInsufficientFunds and nothing is written.
func (s *LedgerService) DebitTx(tx *sql.Tx, transactionID, userID string, kind models.BalanceKind, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: debit amount must be positive", ErrValidation)
	}

	acct, err := s.lockBalance(tx, userID, kind)
	if err != nil {
		return err
	}

	if acct.Balance < amount {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientFunds, acct.Balance, amount)
	}

	newBalance := acct.Balance - amount
	if err := s.createLedgerEntry(tx, transactionID, userID, kind, -amount, "DEBIT", newBalance); err != nil {
		return err
	}

	return s.updateBalance(tx, userID, kind, newBalance, acct.Version)
}

// CreditTx adds amount to the user's balance of the given kind.
func (s *LedgerService) CreditTx(tx *sql.Tx, transactionID, userID string, kind models.BalanceKind, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit amount must be positive", ErrValidation)
	}

	acct, err := s.lockBalance(tx, userID, kind)
	if err != nil {
		return err
	}

	newBalance := acct.Balance + amount
	if err := s.createLedgerEntry(tx, transactionID, userID, kind, amount, "CREDIT", newBalance); err != nil {
		return err
	}

	return s.updateBalance(tx, userID, kind, newBalance, acct.Version)
}

// IncrementCompletedTx bumps the seller's completed-transaction counter.
func (s *LedgerService) IncrementCompletedTx(tx *sql.Tx, userID string) error {
	result, err := tx.Exec(`
		UPDATE users
		SET transactions_completed = transactions_completed + 1, updated_at = $1
		WHERE id = $2`,
		time.Now(), userID)
	if err != nil {
		return fmt.Errorf("ledger: increment completed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	return nil
}

// Balances returns the user's current asset and fiat balances.
func (s *LedgerService) Balances(userID string) (asset int64, fiat int64, err error) {
	err = s.db.QueryRow(`SELECT asset_balance, fiat_balance FROM users WHERE id = $1`, userID).
		Scan(&asset, &fiat)
	if err == sql.ErrNoRows {
		return 0, 0, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("ledger: fetch balances: %w", err)
	}
	return asset, fiat, nil
}

// Entries returns the audit trail for a transaction, oldest first.
func (s *LedgerService) Entries(transactionID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, transaction_id, user_id, kind, amount, entry_type, balance, created_at
		FROM ledger_entries
		WHERE transaction_id = $1
		ORDER BY id`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.UserID, &e.Kind, &e.Amount, &e.EntryType, &e.Balance, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *LedgerService) lockBalance(tx *sql.Tx, userID string, kind models.BalanceKind) (*lockedBalance, error) {
	column := balanceColumn(kind)
	var acct lockedBalance
	err := tx.QueryRow(fmt.Sprintf(`
		SELECT id, %s, version
		FROM users
		WHERE id = $1
		FOR UPDATE`, column), userID).Scan(&acct.UserID, &acct.Balance, &acct.Version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: lock balance: %w", err)
	}
	return &acct, nil
}

func (s *LedgerService) createLedgerEntry(tx *sql.Tx, transactionID, userID string, kind models.BalanceKind, amount int64, entryType string, balance int64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_entries (transaction_id, user_id, kind, amount, entry_type, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		transactionID, userID, string(kind), amount, entryType, balance, time.Now())
	if err != nil {
		return fmt.Errorf("ledger: create entry: %w", err)
	}
	return nil
}

func (s *LedgerService) updateBalance(tx *sql.Tx, userID string, kind models.BalanceKind, newBalance int64, version int) error {
	column := balanceColumn(kind)
	result, err := tx.Exec(fmt.Sprintf(`
		UPDATE users
		SET %s = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`, column),
		newBalance, time.Now(), userID, version)
	if err != nil {
		return fmt.Errorf("ledger: update balance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		log.Printf("[LEDGER] Optimistic lock failed for user %s", userID)
		return fmt.Errorf("%w: user %s", ErrConcurrentModification, userID)
	}

	return nil
}

func balanceColumn(kind models.BalanceKind) string {
	if kind == models.BalanceFiat {
		return "fiat_balance"
	}
	return "asset_balance"
}
