package services

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/tradesafi/backend/internal/models"
)

func TestLedgerService_DebitTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful debit", func(t *testing.T) {
		userID := "user1"
		transactionID := "tx123"
		amount := int64(1000)

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, asset_balance, version FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "asset_balance", "version"}).
				AddRow(userID, 5000, 1))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(transactionID, userID, "asset", -amount, "DEBIT", 4000, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE users SET asset_balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(4000, sqlmock.AnyArg(), userID, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.DebitTx(tx, transactionID, userID, models.BalanceAsset, amount)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds", func(t *testing.T) {
		userID := "user1"

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, asset_balance, version FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "asset_balance", "version"}).
				AddRow(userID, 500, 1))

		err := service.DebitTx(tx, "tx123", userID, models.BalanceAsset, 1000)
		assert.True(t, errors.Is(err, ErrInsufficientFunds))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-positive amount rejected", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		err := service.DebitTx(tx, "tx123", "user1", models.BalanceAsset, 0)
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("optimistic lock failure", func(t *testing.T) {
		userID := "user1"

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, asset_balance, version FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "asset_balance", "version"}).
				AddRow(userID, 5000, 1))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("tx123", userID, "asset", int64(-1000), "DEBIT", 4000, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE users SET asset_balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(4000, sqlmock.AnyArg(), userID, 1).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.DebitTx(tx, "tx123", userID, models.BalanceAsset, 1000)
		assert.True(t, errors.Is(err, ErrConcurrentModification))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, asset_balance, version FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"id", "asset_balance", "version"}))

		err := service.DebitTx(tx, "tx123", "ghost", models.BalanceAsset, 1000)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestLedgerService_CreditTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("successful credit", func(t *testing.T) {
		userID := "seller1"
		transactionID := "tx123"
		amount := int64(1000)

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, asset_balance, version FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "asset_balance", "version"}).
				AddRow(userID, 2000, 3))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(transactionID, userID, "asset", amount, "CREDIT", 3000, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE users SET asset_balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(3000, sqlmock.AnyArg(), userID, 3).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.CreditTx(tx, transactionID, userID, models.BalanceAsset, amount)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fiat credit touches fiat column", func(t *testing.T) {
		userID := "buyer1"

		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("SELECT id, fiat_balance, version FROM users WHERE id = \\$1 FOR UPDATE").
			WithArgs(userID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "fiat_balance", "version"}).
				AddRow(userID, 0, 1))

		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("tx123", userID, "fiat", int64(500), "CREDIT", 500, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE users SET fiat_balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(500, sqlmock.AnyArg(), userID, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.CreditTx(tx, "tx123", userID, models.BalanceFiat, 500)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestLedgerService_IncrementCompletedTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("increments counter", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE users SET transactions_completed = transactions_completed \\+ 1, updated_at = \\$1 WHERE id = \\$2").
			WithArgs(sqlmock.AnyArg(), "seller1").
			WillReturnResult(sqlmock.NewResult(1, 1))

		err := service.IncrementCompletedTx(tx, "seller1")
		assert.NoError(t, err)
	})

	t.Run("unknown user", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectExec("UPDATE users SET transactions_completed = transactions_completed \\+ 1, updated_at = \\$1 WHERE id = \\$2").
			WithArgs(sqlmock.AnyArg(), "ghost").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := service.IncrementCompletedTx(tx, "ghost")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestLedgerService_Entries(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	now := time.Now()
	mock.ExpectQuery("SELECT id, transaction_id, user_id, kind, amount, entry_type, balance, created_at FROM ledger_entries WHERE transaction_id = \\$1 ORDER BY id").
		WithArgs("tx123").
		WillReturnRows(sqlmock.NewRows([]string{"id", "transaction_id", "user_id", "kind", "amount", "entry_type", "balance", "created_at"}).
			AddRow(1, "tx123", "buyer1", "asset", -1000, "DEBIT", 0, now).
			AddRow(2, "tx123", "seller1", "asset", 1000, "CREDIT", 1000, now))

	entries, err := service.Entries("tx123")
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, int64(-1000), entries[0].Amount)
	assert.Equal(t, "CREDIT", entries[1].EntryType)

	var sum int64
	for _, e := range entries {
		sum += e.Amount
	}
	assert.Equal(t, int64(0), sum)
}
