package services

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"
)

// InspectionScheduler auto-completes transactions whose inspection window has
// elapsed. The schedule is the persisted inspection_end_time column, nothing
// in memory, so pending auto-completions survive restarts. Firing goes through
// EscrowService.ConfirmReceipt as the system actor, the same code path as a
// manual confirm, so a fire that loses a race with a manual confirm, an
// extension or a dispute fails its status precondition and no-ops.
type InspectionScheduler struct {
	db       *sql.DB
	escrow   *EscrowService
	interval time.Duration
	nudge    chan struct{}
}

func NewInspectionScheduler(db *sql.DB, escrow *EscrowService, interval time.Duration) *InspectionScheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &InspectionScheduler{
		db:       db,
		escrow:   escrow,
		interval: interval,
		nudge:    make(chan struct{}, 1),
	}
}

// Run polls until ctx is cancelled. Call in a goroutine.
func (s *InspectionScheduler) Run(ctx context.Context) {
	log.Printf("[SCHEDULER] Inspection scheduler started, poll interval %s", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[SCHEDULER] Inspection scheduler stopped")
			return
		case <-ticker.C:
		case <-s.nudge:
		}
		if n := s.Sweep(ctx); n > 0 {
			log.Printf("[SCHEDULER] Auto-completed %d transaction(s)", n)
		}
	}
}

// Nudge wakes the poller early. Advisory only; dropping the signal is fine
// because the next tick covers it.
func (s *InspectionScheduler) Nudge() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}

// Sweep completes every transaction past its deadline and returns how many
// transitions it committed.
func (s *InspectionScheduler) Sweep(ctx context.Context) int {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM transactions
		WHERE status = 'inspection_period' AND inspection_end_time <= $1
		ORDER BY inspection_end_time`, time.Now())
	if err != nil {
		log.Printf("[SCHEDULER] Sweep query failed: %v", err)
		return 0
	}

	due := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			log.Printf("[SCHEDULER] Sweep scan failed: %v", err)
			return 0
		}
		due = append(due, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		log.Printf("[SCHEDULER] Sweep iterate failed: %v", err)
		return 0
	}

	completed := 0
	for _, id := range due {
		if _, err := s.escrow.ConfirmReceipt(ctx, id, SystemActorID); err != nil {
			// Losing to a manual confirm, an extension or a dispute between
			// the select and the row lock is expected.
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrConcurrentModification) {
				continue
			}
			log.Printf("[SCHEDULER] Auto-completion of %s failed: %v", id, err)
			continue
		}
		completed++
	}
	return completed
}
