package models

import "time"

// BalanceKind selects which of a user's two balances an entry touched.
type BalanceKind string

const (
	BalanceAsset BalanceKind = "asset"
	BalanceFiat  BalanceKind = "fiat"
)

// LedgerEntry is an immutable audit row written for every balance mutation.
// Amount is signed: negative for debits, positive for credits. Balance is the
// user's balance after the mutation.
type LedgerEntry struct {
	ID            int         `json:"id" db:"id"`
	TransactionID string      `json:"transaction_id" db:"transaction_id"`
	UserID        string      `json:"user_id" db:"user_id"`
	Kind          BalanceKind `json:"kind" db:"kind"`
	Amount        int64       `json:"amount" db:"amount"`
	EntryType     string      `json:"entry_type" db:"entry_type"` // DEBIT or CREDIT
	Balance       int64       `json:"balance" db:"balance"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
}
