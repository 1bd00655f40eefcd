package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tradesafi/backend/internal/models"
)

// SessionStep identifies what input the bot is waiting for from a user.
type SessionStep string

const (
	StepAwaitingPrice         SessionStep = "awaiting_price"
	StepAwaitingDescription   SessionStep = "awaiting_description"
	StepAwaitingDisputeReason SessionStep = "awaiting_dispute_reason"
)

// Session is the explicit per-user conversation state, keyed by platform
// identity and evicted by TTL instead of living in process-global maps.
type Session struct {
	Step          SessionStep `json:"step"`
	Price         int64       `json:"price,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// SessionService stores chat sessions in redis with a sliding TTL.
type SessionService struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewSessionService(redisClient *redis.Client, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SessionService{redis: redisClient, ttl: ttl}
}

// Put stores or replaces a user's session and refreshes its TTL.
func (s *SessionService) Put(ctx context.Context, platform models.Platform, platformUserID string, session Session) error {
	session.UpdatedAt = time.Now()
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, sessionKey(platform, platformUserID), string(data), s.ttl).Err(); err != nil {
		return fmt.Errorf("session: store: %w", err)
	}
	return nil
}

// Get returns the session, or nil when none exists or it expired.
func (s *SessionService) Get(ctx context.Context, platform models.Platform, platformUserID string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(platform, platformUserID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: fetch: %w", err)
	}

	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &session, nil
}

// Clear drops the session once a dialog completes.
func (s *SessionService) Clear(ctx context.Context, platform models.Platform, platformUserID string) error {
	if err := s.redis.Del(ctx, sessionKey(platform, platformUserID)).Err(); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

func sessionKey(platform models.Platform, platformUserID string) string {
	return fmt.Sprintf("session:%s:%s", platform, platformUserID)
}
