package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tradesafi/backend/internal/config"
	"github.com/tradesafi/backend/internal/models"
)

// DepositAddressGenerator provides a per-transaction settlement address on the
// external rail. Optional; funding proceeds without it.
type DepositAddressGenerator interface {
	GenerateWallet(ctx context.Context, transactionID string) (string, error)
}

// EscrowService owns every transaction status transition. Each operation is a
// single database transaction: the transaction row is locked FOR UPDATE, the
// precondition is checked against the locked status, and the status write is
// additionally guarded by that status so a racing writer loses with
// ErrConcurrentModification instead of clobbering the winner.
type EscrowService struct {
	db        *sql.DB
	ledger    *LedgerService
	notifier  Notifier
	disputes  *DisputeService
	wallets   DepositAddressGenerator
	validator *ValidationHelper
	config    *config.EscrowConfig

	// wakeScheduler is optional and advisory; set via SetDeadlineWaker so the
	// poller rechecks its queue right after a deadline appears or moves.
	wakeScheduler func()
}

func NewEscrowService(db *sql.DB, ledger *LedgerService, disputes *DisputeService, notifier Notifier, wallets DepositAddressGenerator) *EscrowService {
	return &EscrowService{
		db:        db,
		ledger:    ledger,
		notifier:  notifier,
		disputes:  disputes,
		wallets:   wallets,
		validator: NewValidationHelper(),
		config:    config.LoadEscrowConfig(),
	}
}

// SetDeadlineWaker registers a callback fired after any change to an
// inspection deadline.
func (s *EscrowService) SetDeadlineWaker(wake func()) {
	s.wakeScheduler = wake
}

func (s *EscrowService) deadlineChanged() {
	if s.wakeScheduler != nil {
		s.wakeScheduler()
	}
}

// CreateTransactionParams carries validated input for Create.
type CreateTransactionParams struct {
	SellerID    string `validate:"required,uuid4"`
	Amount      int64  `validate:"required,gt=0"`
	Description string `validate:"required,max=280"`
}

// Create opens a new listing in status created.
func (s *EscrowService) Create(ctx context.Context, params CreateTransactionParams) (*models.Transaction, error) {
	if err := s.validator.ValidateStruct(&params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(params.Description) > s.config.MaxDescriptionLen {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrValidation, s.config.MaxDescriptionLen)
	}

	if err := s.requireActiveUser(ctx, params.SellerID); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, seller_id, amount, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		id, params.SellerID, params.Amount, params.Description, string(models.StatusCreated), now)
	if err != nil {
		return nil, fmt.Errorf("escrow: create transaction: %w", err)
	}

	log.Printf("[ESCROW] Transaction %s created by seller %s for %d", id, params.SellerID, params.Amount)
	s.notify(ctx, params.SellerID, "Transaction created",
		fmt.Sprintf("Your listing for %s has been created. Share the link with potential buyers.", formatAmount(params.Amount)))

	return s.Get(ctx, id)
}

// JoinAsBuyer attaches the buyer to a created transaction.
func (s *EscrowService) JoinAsBuyer(ctx context.Context, transactionID, buyerID string) (*models.Transaction, error) {
	if err := s.requireActiveUser(ctx, buyerID); err != nil {
		return nil, err
	}

	txn, err := s.transition(ctx, transactionID, func(tx *sql.Tx, t *models.Transaction) error {
		if t.Status != models.StatusCreated {
			return fmt.Errorf("%w: cannot join in status %s", ErrInvalidState, t.Status)
		}
		if t.SellerID == buyerID {
			return fmt.Errorf("%w: seller cannot join own transaction as buyer", ErrValidation)
		}
		return s.updateStatus(tx, t, models.StatusBuyerJoined, `buyer_id = $3`, buyerID)
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, txn.SellerID, "Buyer joined",
		"A buyer has joined your transaction. Waiting for escrow funding.")
	return txn, nil
}

// FundEscrow debits the buyer's asset balance into escrow. The debit and the
// status write commit or roll back together.
func (s *EscrowService) FundEscrow(ctx context.Context, transactionID, buyerID string) (*models.Transaction, error) {
	txn, err := s.transition(ctx, transactionID, func(tx *sql.Tx, t *models.Transaction) error {
		if t.Status != models.StatusBuyerJoined {
			return fmt.Errorf("%w: cannot fund in status %s", ErrInvalidState, t.Status)
		}
		if t.BuyerID == nil || *t.BuyerID != buyerID {
			return fmt.Errorf("%w: caller is not the buyer", ErrValidation)
		}

		if err := s.ledger.DebitTx(tx, t.ID, buyerID, models.BalanceAsset, t.Amount); err != nil {
			return err
		}

		return s.updateStatus(tx, t, models.StatusEscrowFunded, "")
	})
	if err != nil {
		return nil, err
	}

	// The rail call goes over the network, so it runs after commit and is
	// best-effort like the notifications. The row locks are already released.
	if s.wallets != nil {
		if addr, err := s.wallets.GenerateWallet(ctx, txn.ID); err != nil {
			log.Printf("[ESCROW] Deposit address generation failed for %s: %v", txn.ID, err)
		} else if _, err := s.db.ExecContext(ctx, `UPDATE transactions SET deposit_address = $1 WHERE id = $2`, addr, txn.ID); err != nil {
			log.Printf("[ESCROW] Storing deposit address failed for %s: %v", txn.ID, err)
		} else {
			txn.DepositAddress = &addr
		}
	}

	s.notify(ctx, txn.SellerID, "Escrow funded",
		"The buyer has funded the escrow. You can now send the item.")
	return txn, nil
}

// MarkItemSent is the seller's declaration that the item is on its way.
func (s *EscrowService) MarkItemSent(ctx context.Context, transactionID, sellerID string) (*models.Transaction, error) {
	txn, err := s.transition(ctx, transactionID, func(tx *sql.Tx, t *models.Transaction) error {
		if t.Status != models.StatusEscrowFunded {
			return fmt.Errorf("%w: cannot mark sent in status %s", ErrInvalidState, t.Status)
		}
		if t.SellerID != sellerID {
			return fmt.Errorf("%w: caller is not the seller", ErrValidation)
		}
		return s.updateStatus(tx, t, models.StatusItemSent, "")
	})
	if err != nil {
		return nil, err
	}

	if txn.BuyerID != nil {
		s.notify(ctx, *txn.BuyerID, "Item sent",
			"The seller has sent the item. Confirm delivery once it arrives.")
	}
	return txn, nil
}

// ConfirmDelivery starts the inspection window and persists its deadline. The
// scheduler derives its schedule from inspection_end_time, so the deadline
// survives restarts with no separate timer record.
func (s *EscrowService) ConfirmDelivery(ctx context.Context, transactionID, buyerID string) (*models.Transaction, error) {
	var endTime time.Time
	txn, err := s.transition(ctx, transactionID, func(tx *sql.Tx, t *models.Transaction) error {
		if t.Status != models.StatusEscrowFunded && t.Status != models.StatusItemSent {
			return fmt.Errorf("%w: cannot confirm delivery in status %s", ErrInvalidState, t.Status)
		}
		if t.BuyerID == nil || *t.BuyerID != buyerID {
			return fmt.Errorf("%w: caller is not the buyer", ErrValidation)
		}

		start := time.Now()
		endTime = start.Add(s.config.InspectionPeriod)
		return s.updateStatus(tx, t, models.StatusInspectionPeriod,
			`inspection_start_time = $3, inspection_end_time = $4`, start, endTime)
	})
	if err != nil {
		return nil, err
	}

	s.deadlineChanged()
	s.notifyParties(ctx, txn, "Inspection period started",
		fmt.Sprintf("Inspection period will end at %s.", endTime.Format(time.RFC1123)))
	return txn, nil
}

// ExtendInspection pushes the deadline out once per transaction.
func (s *EscrowService) ExtendInspection(ctx context.Context, transactionID, buyerID string) (*models.Transaction, error) {
	var newEnd time.Time
	txn, err := s.transition(ctx, transactionID, func(tx *sql.Tx, t *models.Transaction) error {
		if t.Status != models.StatusInspectionPeriod {
			return fmt.Errorf("%w: cannot extend in status %s", ErrInvalidState, t.Status)
		}
		if t.BuyerID == nil || *t.BuyerID != buyerID {
			return fmt.Errorf("%w: caller is not the buyer", ErrValidation)
		}
		if t.ExtensionUsed {
			return ErrAlreadyExtended
		}

		newEnd = t.InspectionEndTime.Add(s.config.ExtensionPeriod)
		result, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET inspection_end_time = $1, extension_used = true, updated_at = $2
			WHERE id = $3 AND status = $4 AND extension_used = false`,
			newEnd, time.Now(), t.ID, string(models.StatusInspectionPeriod))
		if err != nil {
			return fmt.Errorf("escrow: extend inspection: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return fmt.Errorf("%w: transaction %s", ErrConcurrentModification, t.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deadlineChanged()
	s.notifyParties(ctx, txn, "Inspection period extended",
		fmt.Sprintf("Inspection period extended to %s.", newEnd.Format(time.RFC1123)))
	return txn, nil
}

// ConfirmReceipt releases the escrowed amount to the seller and completes the
// transaction. callerID is either the buyer or SystemActorID when the
// scheduler fires at the deadline; both paths share this implementation, so a
// stale auto-fire after a manual confirm fails the status precondition and
// no-ops.
func (s *EscrowService) ConfirmReceipt(ctx context.Context, transactionID, callerID string) (*models.Transaction, error) {
	txn, err := s.transition(ctx, transactionID, func(tx *sql.Tx, t *models.Transaction) error {
		if t.Status != models.StatusInspectionPeriod {
			return fmt.Errorf("%w: cannot confirm receipt in status %s", ErrInvalidState, t.Status)
		}
		if callerID == SystemActorID {
			if t.InspectionEndTime == nil || time.Now().Before(*t.InspectionEndTime) {
				return fmt.Errorf("%w: inspection deadline not reached", ErrInvalidState)
			}
		} else if t.BuyerID == nil || *t.BuyerID != callerID {
			return fmt.Errorf("%w: caller is not the buyer", ErrValidation)
		}

		if err := s.ledger.CreditTx(tx, t.ID, t.SellerID, models.BalanceAsset, t.Amount); err != nil {
			return err
		}
		if err := s.ledger.IncrementCompletedTx(tx, t.SellerID); err != nil {
			return err
		}
		return s.updateStatus(tx, t, models.StatusCompleted, "")
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[ESCROW] Transaction %s completed by %s", transactionID, callerID)
	s.notifyParties(ctx, txn, "Transaction completed",
		"The transaction has been completed successfully.")
	return txn, nil
}

// InitiateDispute freezes the transaction and opens the arbitration record.
// At most one dispute may ever exist per transaction.
func (s *EscrowService) InitiateDispute(ctx context.Context, transactionID, callerID, reason string, evidence json.RawMessage) (*models.Transaction, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason required", ErrValidation)
	}

	txn, err := s.transition(ctx, transactionID, func(tx *sql.Tx, t *models.Transaction) error {
		if !Disputable(t.Status) {
			return fmt.Errorf("%w: cannot dispute in status %s", ErrInvalidState, t.Status)
		}
		if t.SellerID != callerID && (t.BuyerID == nil || *t.BuyerID != callerID) {
			return fmt.Errorf("%w: caller is not a party to the transaction", ErrValidation)
		}

		if err := s.disputes.CreateTx(tx, t.ID, callerID, reason, evidence); err != nil {
			return err
		}

		return s.updateStatus(tx, t, models.StatusDisputed,
			`dispute_reason = $3, dispute_evidence = $4`, reason, nullableJSON(evidence))
	})
	if err != nil {
		return nil, err
	}

	s.notifyParties(ctx, txn, "Dispute opened",
		"A dispute has been opened for this transaction. Support will review the case.")
	return txn, nil
}

// Get fetches a transaction by id.
func (s *EscrowService) Get(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.scanTransaction(s.db.QueryRowContext(ctx, `
		SELECT id, seller_id, buyer_id, amount, description, status,
		       inspection_start_time, inspection_end_time, extension_used,
		       dispute_reason, dispute_evidence, deposit_address, created_at, updated_at
		FROM transactions
		WHERE id = $1`, transactionID))
}

// Recent returns the newest transactions for the admin dashboard.
func (s *EscrowService) Recent(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seller_id, buyer_id, amount, description, status,
		       inspection_start_time, inspection_end_time, extension_used,
		       dispute_reason, dispute_evidence, deposit_address, created_at, updated_at
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("escrow: list recent: %w", err)
	}
	defer rows.Close()

	out := []models.Transaction{}
	for rows.Next() {
		t, err := s.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// transition runs fn against the locked transaction row inside one database
// transaction and returns the refreshed record after commit.
func (s *EscrowService) transition(ctx context.Context, transactionID string, fn func(tx *sql.Tx, t *models.Transaction) error) (*models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("escrow: begin tx: %w", err)
	}
	defer tx.Rollback()

	t, err := s.fetchForUpdate(ctx, tx, transactionID)
	if err != nil {
		return nil, err
	}

	if err := fn(tx, t); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("escrow: commit: %w", err)
	}

	return s.Get(ctx, transactionID)
}

// updateStatus writes the new status guarded by the status read under the row
// lock. extraSet may carry additional assignments using placeholders $3+.
func (s *EscrowService) updateStatus(tx *sql.Tx, t *models.Transaction, next models.TransactionStatus, extraSet string, extraArgs ...any) error {
	if !TransitionAllowed(t.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, t.Status, next)
	}

	set := `status = $1, updated_at = now()`
	if extraSet != "" {
		set += ", " + extraSet
	}
	args := append([]any{string(next), t.ID}, extraArgs...)
	guard := fmt.Sprintf("$%d", len(args)+1)
	args = append(args, string(t.Status))

	result, err := tx.Exec(fmt.Sprintf(`
		UPDATE transactions
		SET %s
		WHERE id = $2 AND status = %s`, set, guard), args...)
	if err != nil {
		return fmt.Errorf("escrow: update status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: transaction %s", ErrConcurrentModification, t.ID)
	}

	t.Status = next
	return nil
}

func (s *EscrowService) fetchForUpdate(ctx context.Context, tx *sql.Tx, transactionID string) (*models.Transaction, error) {
	return s.scanTransaction(tx.QueryRowContext(ctx, `
		SELECT id, seller_id, buyer_id, amount, description, status,
		       inspection_start_time, inspection_end_time, extension_used,
		       dispute_reason, dispute_evidence, deposit_address, created_at, updated_at
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, transactionID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *EscrowService) scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var evidence []byte
	err := row.Scan(&t.ID, &t.SellerID, &t.BuyerID, &t.Amount, &t.Description, &t.Status,
		&t.InspectionStartTime, &t.InspectionEndTime, &t.ExtensionUsed,
		&t.DisputeReason, &evidence, &t.DepositAddress, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("escrow: scan transaction: %w", err)
	}
	if evidence != nil {
		t.DisputeEvidence = json.RawMessage(evidence)
	}
	return &t, nil
}

func (s *EscrowService) requireActiveUser(ctx context.Context, userID string) error {
	var status models.UserStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM users WHERE id = $1`, userID).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("escrow: fetch user status: %w", err)
	}
	if status != models.UserActive {
		return fmt.Errorf("%w: user is %s", ErrValidation, status)
	}
	return nil
}

// notify delivers a single-party notification, best-effort.
func (s *EscrowService) notify(ctx context.Context, userID, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyUser(ctx, userID, title, message); err != nil {
		log.Printf("[ESCROW] Notification to %s failed: %v", userID, err)
	}
}

// notifyParties informs buyer and seller, best-effort.
func (s *EscrowService) notifyParties(ctx context.Context, t *models.Transaction, title, message string) {
	s.notify(ctx, t.SellerID, title, message)
	if t.BuyerID != nil {
		s.notify(ctx, *t.BuyerID, title, message)
	}
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
