package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"

	"github.com/tradesafi/backend/internal/models"
)

// ShareLinkService renders the seller's join link for a listing as a deep
// link plus a QR PNG the bot can send as a photo.
type ShareLinkService struct {
	db          *sql.DB
	redis       *redis.Client
	botUsername string
}

func NewShareLinkService(db *sql.DB, redisClient *redis.Client, botUsername string) *ShareLinkService {
	return &ShareLinkService{
		db:          db,
		redis:       redisClient,
		botUsername: botUsername,
	}
}

// JoinLink returns the deep link a buyer opens to join the transaction.
func (s *ShareLinkService) JoinLink(transactionID string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", s.botUsername, transactionID)
}

// GenerateJoinQR produces a base64 PNG QR code for the join link of a
// transaction that is still accepting a buyer. The rendered image is cached
// in redis so repeated shares don't re-encode.
func (s *ShareLinkService) GenerateJoinQR(ctx context.Context, transactionID string) (string, string, error) {
	var status models.TransactionStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM transactions WHERE id = $1`, transactionID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("%w: transaction", ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("share: fetch transaction: %w", err)
	}
	if status != models.StatusCreated {
		return "", "", fmt.Errorf("%w: transaction already has a buyer", ErrInvalidState)
	}

	link := s.JoinLink(transactionID)

	if s.redis != nil {
		key := fmt.Sprintf("joinqr:%s", transactionID)
		if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
			return link, cached, nil
		}
	}

	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return "", "", fmt.Errorf("share: encode qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", fmt.Errorf("share: render png: %w", err)
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	if s.redis != nil {
		key := fmt.Sprintf("joinqr:%s", transactionID)
		s.redis.Set(ctx, key, qrImage, 10*time.Minute)
	}

	return link, qrImage, nil
}
