package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tradesafi/backend/internal/models"
)

// UserService manages trading parties. Balances are owned by LedgerService;
// this service never touches them outside registration defaults.
type UserService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewUserService(db *sql.DB) *UserService {
	return &UserService{db: db, validator: NewValidationHelper()}
}

// RegisterUserParams carries validated input for RegisterOrGet.
type RegisterUserParams struct {
	Username       string          `validate:"required,min=2,max=64"`
	PhoneNumber    string          `validate:"required,e164"`
	Platform       models.Platform `validate:"required,oneof=telegram whatsapp"`
	PlatformUserID string          `validate:"required"`
}

// RegisterOrGet returns the existing user for the platform identity or
// creates a fresh active one.
func (s *UserService) RegisterOrGet(ctx context.Context, params RegisterUserParams) (*models.User, error) {
	if err := s.validator.ValidateStruct(&params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if u, err := s.GetByPlatformID(ctx, params.Platform, params.PlatformUserID); err == nil {
		return u, nil
	}

	id := uuid.New().String()
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, phone_number, platform, platform_user_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		id, params.Username, params.PhoneNumber, string(params.Platform), params.PlatformUserID,
		string(models.UserActive), now)
	if err != nil {
		return nil, fmt.Errorf("user: register: %w", err)
	}

	log.Printf("[USER] Registered %s user %s (%s)", params.Platform, params.Username, id)
	return s.Get(ctx, id)
}

// Get fetches a user by id.
func (s *UserService) Get(ctx context.Context, userID string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE id = $1`, userID))
}

// GetByPlatformID fetches a user by chat platform identity.
func (s *UserService) GetByPlatformID(ctx context.Context, platform models.Platform, platformUserID string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		userSelect+` WHERE platform = $1 AND platform_user_id = $2`,
		string(platform), platformUserID))
}

// List returns all users, newest first.
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, userSelect+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("user: list: %w", err)
	}
	defer rows.Close()

	out := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// UpdateStatus sets a user's participation status (admin operation).
func (s *UserService) UpdateStatus(ctx context.Context, userID string, status models.UserStatus) (*models.User, error) {
	switch status {
	case models.UserActive, models.UserSuspended, models.UserBanned:
	default:
		return nil, fmt.Errorf("%w: unknown user status %q", ErrValidation, status)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now(), userID)
	if err != nil {
		return nil, fmt.Errorf("user: update status: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}

	log.Printf("[USER] User %s status set to %s", userID, status)
	return s.Get(ctx, userID)
}

// Stats aggregates the counters for the admin dashboard.
type Stats struct {
	TotalTransactions int `json:"total_transactions"`
	ActiveDisputes    int `json:"active_disputes"`
	TotalUsers        int `json:"total_users"`
}

func (s *UserService) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM transactions),
			(SELECT COUNT(*) FROM disputes WHERE status = 'open'),
			(SELECT COUNT(*) FROM users)`).
		Scan(&st.TotalTransactions, &st.ActiveDisputes, &st.TotalUsers)
	if err != nil {
		return nil, fmt.Errorf("user: stats: %w", err)
	}
	return &st, nil
}

const userSelect = `
	SELECT id, username, phone_number, platform, platform_user_id,
	       asset_balance, fiat_balance, rating, transactions_completed,
	       status, version, created_at, updated_at
	FROM users`

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PhoneNumber, &u.Platform, &u.PlatformUserID,
		&u.AssetBalance, &u.FiatBalance, &u.Rating, &u.TransactionsCompleted,
		&u.Status, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("user: scan: %w", err)
	}
	return &u, nil
}
