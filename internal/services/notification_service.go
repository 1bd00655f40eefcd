package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tradesafi/backend/internal/models"
)

// Notifier is the capability the core depends on to inform parties of state
// changes. Delivery is best-effort: callers log failures and never roll back.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, title, message string) error
}

// MessageSender delivers a rendered message to a platform-specific chat id.
type MessageSender interface {
	Send(ctx context.Context, platformUserID, text string) error
}

// NotificationService resolves a user's chat platform and fans the message out
// to the matching sender. Senders are injected explicitly, never reached
// through globals.
type NotificationService struct {
	db      *sql.DB
	senders map[models.Platform]MessageSender
}

func NewNotificationService(db *sql.DB, senders map[models.Platform]MessageSender) *NotificationService {
	if senders == nil {
		senders = map[models.Platform]MessageSender{}
	}
	return &NotificationService{db: db, senders: senders}
}

func (s *NotificationService) NotifyUser(ctx context.Context, userID, title, message string) error {
	var platform models.Platform
	var platformUserID string
	err := s.db.QueryRowContext(ctx,
		`SELECT platform, platform_user_id FROM users WHERE id = $1`, userID).
		Scan(&platform, &platformUserID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: user %s", ErrNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("notify: fetch user: %w", err)
	}

	sender, ok := s.senders[platform]
	if !ok {
		return fmt.Errorf("notify: no sender configured for platform %s", platform)
	}

	if err := sender.Send(ctx, platformUserID, title+"\n\n"+message); err != nil {
		return fmt.Errorf("notify: send via %s: %w", platform, err)
	}
	log.Printf("[NOTIFY] Notification sent to user %s: %s", userID, title)
	return nil
}

// TelegramSender posts messages through the Bot API.
type TelegramSender struct {
	token  string
	client *http.Client
}

func NewTelegramSender(token string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// InlineButton is a single Telegram inline keyboard button.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

func (t *TelegramSender) Send(ctx context.Context, chatID, text string) error {
	return t.SendWithKeyboard(ctx, chatID, text, nil)
}

// SendWithKeyboard sends a message with an optional inline keyboard, one
// button row per inner slice.
func (t *TelegramSender) SendWithKeyboard(ctx context.Context, chatID, text string, keyboard [][]InlineButton) error {
	body := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if len(keyboard) > 0 {
		body["reply_markup"] = map[string]any{"inline_keyboard": keyboard}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage returned %d", resp.StatusCode)
	}
	return nil
}

// WhatsAppSender posts messages through a WhatsApp Business API gateway.
type WhatsAppSender struct {
	apiURL string
	token  string
	client *http.Client
}

func NewWhatsAppSender(apiURL, token string) *WhatsAppSender {
	return &WhatsAppSender{
		apiURL: apiURL,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WhatsAppSender) Send(ctx context.Context, phoneNumber, text string) error {
	payload, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                phoneNumber,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+w.token)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp send returned %d", resp.StatusCode)
	}
	return nil
}

// LogSender is a fallback that only logs, for local development and tests.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, platformUserID, text string) error {
	log.Printf("[NOTIFY] (log sender) to %s: %s", platformUserID, text)
	return nil
}
