package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tradesafi/backend/internal/models"
)

// DisputeService owns dispute records and is the only writer of a
// transaction's terminal status once a dispute exists.
type DisputeService struct {
	db       *sql.DB
	ledger   *LedgerService
	notifier Notifier
}

func NewDisputeService(db *sql.DB, ledger *LedgerService, notifier Notifier) *DisputeService {
	return &DisputeService{db: db, ledger: ledger, notifier: notifier}
}

// CreateTx inserts the arbitration record inside the caller's transaction.
// The unique constraint on transaction_id enforces at most one dispute per
// transaction regardless of the caller's status checks.
func (s *DisputeService) CreateTx(tx *sql.Tx, transactionID, initiatorID, reason string, evidence json.RawMessage) error {
	_, err := tx.Exec(`
		INSERT INTO disputes (id, transaction_id, initiator_id, reason, evidence, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		uuid.New().String(), transactionID, initiatorID, reason, nullableJSON(evidence),
		string(models.DisputeOpen), time.Now())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: transaction %s", ErrDuplicateDispute, transactionID)
		}
		return fmt.Errorf("dispute: create: %w", err)
	}
	log.Printf("[DISPUTE] Dispute opened for transaction %s by %s", transactionID, initiatorID)
	return nil
}

// Resolve applies the arbitration outcome. Exactly one of refund or release
// happens per dispute; the ledger effect, the transaction's terminal status
// and the dispute's resolved fields commit atomically or not at all.
func (s *DisputeService) Resolve(ctx context.Context, disputeID, adminID, resolution string, action models.DisputeAction) (*models.Dispute, error) {
	if action != models.ActionRefundBuyer && action != models.ActionReleaseToSeller {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback()

	d, err := s.fetchForUpdate(ctx, tx, disputeID)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DisputeOpen && d.Status != models.DisputeUnderReview {
		return nil, fmt.Errorf("%w: dispute is %s", ErrInvalidDisputeState, d.Status)
	}

	var txn struct {
		SellerID string
		BuyerID  sql.NullString
		Amount   int64
		Status   models.TransactionStatus
	}
	err = tx.QueryRowContext(ctx, `
		SELECT seller_id, buyer_id, amount, status
		FROM transactions
		WHERE id = $1
		FOR UPDATE`, d.TransactionID).Scan(&txn.SellerID, &txn.BuyerID, &txn.Amount, &txn.Status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, d.TransactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("dispute: lock transaction: %w", err)
	}
	if txn.Status != models.StatusDisputed {
		return nil, fmt.Errorf("%w: transaction is %s", ErrInvalidState, txn.Status)
	}

	var terminal models.TransactionStatus
	switch action {
	case models.ActionRefundBuyer:
		if !txn.BuyerID.Valid {
			return nil, fmt.Errorf("%w: transaction has no buyer to refund", ErrInvalidState)
		}
		if err := s.ledger.CreditTx(tx, d.TransactionID, txn.BuyerID.String, models.BalanceAsset, txn.Amount); err != nil {
			return nil, err
		}
		terminal = models.StatusRefunded
	case models.ActionReleaseToSeller:
		if err := s.ledger.CreditTx(tx, d.TransactionID, txn.SellerID, models.BalanceAsset, txn.Amount); err != nil {
			return nil, err
		}
		if err := s.ledger.IncrementCompletedTx(tx, txn.SellerID); err != nil {
			return nil, err
		}
		terminal = models.StatusCompleted
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		string(terminal), d.TransactionID, string(models.StatusDisputed))
	if err != nil {
		return nil, fmt.Errorf("dispute: settle transaction: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("%w: transaction %s", ErrConcurrentModification, d.TransactionID)
	}

	now := time.Now()
	result, err = tx.ExecContext(ctx, `
		UPDATE disputes
		SET status = $1, resolution = $2, resolved_by = $3, resolved_at = $4, updated_at = $4
		WHERE id = $5 AND status IN ('open', 'under_review')`,
		string(models.DisputeResolved), resolution, adminID, now, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: mark resolved: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("%w: dispute %s", ErrConcurrentModification, disputeID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("dispute: commit: %w", err)
	}

	log.Printf("[DISPUTE] Dispute %s resolved by %s with %s", disputeID, adminID, action)
	s.notifyOutcome(ctx, txn.SellerID, txn.BuyerID, disputeID)

	return s.Get(ctx, disputeID)
}

// Get fetches a dispute by id.
func (s *DisputeService) Get(ctx context.Context, disputeID string) (*models.Dispute, error) {
	return scanDispute(s.db.QueryRowContext(ctx, `
		SELECT id, transaction_id, initiator_id, reason, evidence, status,
		       resolution, resolved_by, resolved_at, created_at, updated_at
		FROM disputes
		WHERE id = $1`, disputeID))
}

// List returns disputes newest first, optionally filtered by status.
func (s *DisputeService) List(ctx context.Context, status models.DisputeStatus) ([]models.Dispute, error) {
	query := `
		SELECT id, transaction_id, initiator_id, reason, evidence, status,
		       resolution, resolved_by, resolved_at, created_at, updated_at
		FROM disputes`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := []models.Dispute{}
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// MarkUnderReview moves an open dispute into review.
func (s *DisputeService) MarkUnderReview(ctx context.Context, disputeID string) (*models.Dispute, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE disputes
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		string(models.DisputeUnderReview), disputeID, string(models.DisputeOpen))
	if err != nil {
		return nil, fmt.Errorf("dispute: mark under review: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("%w: dispute %s", ErrInvalidDisputeState, disputeID)
	}
	return s.Get(ctx, disputeID)
}

// Close archives a resolved dispute. The record stays immutable otherwise.
func (s *DisputeService) Close(ctx context.Context, disputeID string) (*models.Dispute, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE disputes
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		string(models.DisputeClosed), disputeID, string(models.DisputeResolved))
	if err != nil {
		return nil, fmt.Errorf("dispute: close: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("%w: dispute %s", ErrInvalidDisputeState, disputeID)
	}
	return s.Get(ctx, disputeID)
}

func (s *DisputeService) fetchForUpdate(ctx context.Context, tx *sql.Tx, disputeID string) (*models.Dispute, error) {
	return scanDispute(tx.QueryRowContext(ctx, `
		SELECT id, transaction_id, initiator_id, reason, evidence, status,
		       resolution, resolved_by, resolved_at, created_at, updated_at
		FROM disputes
		WHERE id = $1
		FOR UPDATE`, disputeID))
}

func scanDispute(row rowScanner) (*models.Dispute, error) {
	var d models.Dispute
	var evidence []byte
	err := row.Scan(&d.ID, &d.TransactionID, &d.InitiatorID, &d.Reason, &evidence, &d.Status,
		&d.Resolution, &d.ResolvedBy, &d.ResolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: dispute", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dispute: scan: %w", err)
	}
	if evidence != nil {
		d.Evidence = json.RawMessage(evidence)
	}
	return &d, nil
}

func (s *DisputeService) notifyOutcome(ctx context.Context, sellerID string, buyerID sql.NullString, disputeID string) {
	if s.notifier == nil {
		return
	}
	message := fmt.Sprintf("Dispute %s has been resolved.", disputeID)
	if err := s.notifier.NotifyUser(ctx, sellerID, "Dispute resolved", message); err != nil {
		log.Printf("[DISPUTE] Notification to seller failed: %v", err)
	}
	if buyerID.Valid {
		if err := s.notifier.NotifyUser(ctx, buyerID.String, "Dispute resolved", message); err != nil {
			log.Printf("[DISPUTE] Notification to buyer failed: %v", err)
		}
	}
}
