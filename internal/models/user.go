package models

import "time"

// Platform identifies the chat surface a user registered from.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformWhatsApp Platform = "whatsapp"
)

// UserStatus gates participation in new transactions.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserSuspended UserStatus = "suspended"
	UserBanned    UserStatus = "banned"
)

// User is a trading party reachable over a chat platform. AssetBalance holds
// the escrow currency, FiatBalance the local currency, both in cents.
type User struct {
	ID                    string     `json:"id" db:"id"`
	Username              string     `json:"username" db:"username"`
	PhoneNumber           string     `json:"phone_number" db:"phone_number"`
	Platform              Platform   `json:"platform" db:"platform"`
	PlatformUserID        string     `json:"platform_user_id" db:"platform_user_id"`
	AssetBalance          int64      `json:"asset_balance" db:"asset_balance"`
	FiatBalance           int64      `json:"fiat_balance" db:"fiat_balance"`
	Rating                float64    `json:"rating" db:"rating"`
	TransactionsCompleted int        `json:"transactions_completed" db:"transactions_completed"`
	Status                UserStatus `json:"status" db:"status"`
	Version               int        `json:"version" db:"version"` // for optimistic locking
	CreatedAt             time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at" db:"updated_at"`
}
