package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/tradesafi/backend/internal/models"
	"github.com/tradesafi/backend/internal/services"
)

// TelegramHandler consumes Bot API webhook updates and drives the buyer and
// seller dialogs. Conversation position lives in the redis-backed session
// store, so a restart mid-dialog only costs the user a retyped message.
type TelegramHandler struct {
	escrow   *services.EscrowService
	users    *services.UserService
	sessions *services.SessionService
	share    *services.ShareLinkService
	sender   *services.TelegramSender
}

func NewTelegramHandler(escrow *services.EscrowService, users *services.UserService, sessions *services.SessionService, share *services.ShareLinkService, sender *services.TelegramSender) *TelegramHandler {
	return &TelegramHandler{
		escrow:   escrow,
		users:    users,
		sessions: sessions,
		share:    share,
		sender:   sender,
	}
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From    telegramUser `json:"from"`
		Text    string       `json:"text"`
		Contact *struct {
			PhoneNumber string `json:"phone_number"`
			FirstName   string `json:"first_name"`
		} `json:"contact"`
	} `json:"message"`
	CallbackQuery *struct {
		From    telegramUser `json:"from"`
		Data    string       `json:"data"`
		Message *struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

type telegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Webhook receives Bot API updates
// @Summary Telegram webhook
// @Description Entry point for Telegram Bot API updates
// @Tags bots
// @Accept json
// @Produce json
// @Success 200 {object} object{ok=bool}
// @Router /telegram/webhook [post]
func (h *TelegramHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)

	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		log.Printf("[TELEGRAM] Malformed update: %v", err)
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	// Telegram retries non-200 responses, so handler errors are reported to
	// the chat, not to Telegram.
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		h.handleCallback(r.Context(), update)
	case update.Message != nil:
		h.handleMessage(r.Context(), update)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *TelegramHandler) handleMessage(ctx context.Context, update telegramUpdate) {
	msg := update.Message
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	platformID := strconv.FormatInt(msg.From.ID, 10)

	if msg.Contact != nil {
		h.registerFromContact(ctx, chatID, msg.From, msg.Contact.PhoneNumber)
		return
	}

	if strings.HasPrefix(msg.Text, "/start") {
		h.handleStart(ctx, chatID, msg.From, strings.TrimSpace(strings.TrimPrefix(msg.Text, "/start")))
		return
	}

	session, err := h.sessions.Get(ctx, models.PlatformTelegram, platformID)
	if err != nil {
		log.Printf("[TELEGRAM] Session fetch failed for %s: %v", platformID, err)
		h.reply(ctx, chatID, "An error occurred. Please try again.")
		return
	}
	if session == nil {
		h.reply(ctx, chatID, "Send /start to begin a transaction.")
		return
	}

	switch session.Step {
	case services.StepAwaitingPrice:
		h.handlePriceInput(ctx, chatID, platformID, msg.Text)
	case services.StepAwaitingDescription:
		h.handleDescriptionInput(ctx, chatID, platformID, msg.Text, session)
	case services.StepAwaitingDisputeReason:
		h.handleDisputeReason(ctx, chatID, platformID, msg.Text, session)
	default:
		h.reply(ctx, chatID, "Send /start to begin a transaction.")
	}
}

func (h *TelegramHandler) handleStart(ctx context.Context, chatID string, from telegramUser, payload string) {
	if payload != "" {
		h.handleJoinLink(ctx, chatID, from, payload)
		return
	}

	h.replyWithKeyboard(ctx, chatID, "Welcome to TradeSafi escrow. Are you buying or selling?", [][]services.InlineButton{{
		{Text: "BUYER", CallbackData: "buyer"},
		{Text: "SELLER", CallbackData: "seller"},
	}})
}

func (h *TelegramHandler) handleJoinLink(ctx context.Context, chatID string, from telegramUser, transactionID string) {
	user, ok := h.requireUser(ctx, chatID, from)
	if !ok {
		return
	}

	txn, err := h.escrow.JoinAsBuyer(ctx, transactionID, user.ID)
	if err != nil {
		log.Printf("[TELEGRAM] Join failed for tx %s: %v", transactionID, err)
		h.reply(ctx, chatID, "Invalid or expired transaction link.")
		return
	}

	h.replyWithKeyboard(ctx, chatID, fmt.Sprintf(
		"Transaction details:\n\nPrice: %s\nDescription: %s\n\nFund the escrow to proceed.",
		formatCents(txn.Amount), txn.Description),
		[][]services.InlineButton{{
			{Text: "Confirm & Pay", CallbackData: "confirm_pay_" + txn.ID},
		}})
}

func (h *TelegramHandler) handlePriceInput(ctx context.Context, chatID, platformID, text string) {
	price, err := parsePriceCents(text)
	if err != nil {
		h.reply(ctx, chatID, "Please enter a valid price (numbers only).")
		return
	}

	if err := h.sessions.Put(ctx, models.PlatformTelegram, platformID, services.Session{
		Step:  services.StepAwaitingDescription,
		Price: price,
	}); err != nil {
		log.Printf("[TELEGRAM] Session store failed for %s: %v", platformID, err)
		h.reply(ctx, chatID, "An error occurred. Please try again.")
		return
	}
	h.reply(ctx, chatID, "Please provide a brief description of the item:")
}

func (h *TelegramHandler) handleDescriptionInput(ctx context.Context, chatID, platformID, text string, session *services.Session) {
	user, err := h.users.GetByPlatformID(ctx, models.PlatformTelegram, platformID)
	if err != nil {
		h.reply(ctx, chatID, "Please share your contact first to register.")
		return
	}

	txn, err := h.escrow.Create(ctx, services.CreateTransactionParams{
		SellerID:    user.ID,
		Amount:      session.Price,
		Description: text,
	})
	if err != nil {
		log.Printf("[TELEGRAM] Create failed for seller %s: %v", user.ID, err)
		h.reply(ctx, chatID, createErrorReply(err))
		return
	}

	if err := h.sessions.Clear(ctx, models.PlatformTelegram, platformID); err != nil {
		log.Printf("[TELEGRAM] Session clear failed for %s: %v", platformID, err)
	}

	h.reply(ctx, chatID, fmt.Sprintf(
		"Transaction created! Share this link with the buyer:\n\n%s",
		h.share.JoinLink(txn.ID)))
}

func (h *TelegramHandler) handleDisputeReason(ctx context.Context, chatID, platformID, text string, session *services.Session) {
	user, err := h.users.GetByPlatformID(ctx, models.PlatformTelegram, platformID)
	if err != nil {
		h.reply(ctx, chatID, "Please share your contact first to register.")
		return
	}

	if _, err := h.escrow.InitiateDispute(ctx, session.TransactionID, user.ID, text, nil); err != nil {
		log.Printf("[TELEGRAM] Dispute failed for tx %s: %v", session.TransactionID, err)
		h.reply(ctx, chatID, "Could not open a dispute for this transaction.")
		return
	}

	if err := h.sessions.Clear(ctx, models.PlatformTelegram, platformID); err != nil {
		log.Printf("[TELEGRAM] Session clear failed for %s: %v", platformID, err)
	}
	h.reply(ctx, chatID, "Dispute submitted. Our support team will review your case.")
}

func (h *TelegramHandler) handleCallback(ctx context.Context, update telegramUpdate) {
	cb := update.CallbackQuery
	chatID := strconv.FormatInt(cb.Message.Chat.ID, 10)
	platformID := strconv.FormatInt(cb.From.ID, 10)

	switch {
	case cb.Data == "buyer":
		h.reply(ctx, chatID, "Please open the transaction link you received from the seller.")

	case cb.Data == "seller":
		if _, ok := h.requireUser(ctx, chatID, cb.From); !ok {
			return
		}
		if err := h.sessions.Put(ctx, models.PlatformTelegram, platformID, services.Session{
			Step: services.StepAwaitingPrice,
		}); err != nil {
			log.Printf("[TELEGRAM] Session store failed for %s: %v", platformID, err)
			h.reply(ctx, chatID, "An error occurred. Please try again.")
			return
		}
		h.reply(ctx, chatID, "Please enter the product price (numbers only):")

	case strings.HasPrefix(cb.Data, "confirm_pay_"):
		h.runPartyOp(ctx, chatID, cb.From, strings.TrimPrefix(cb.Data, "confirm_pay_"),
			h.escrow.FundEscrow, "Escrow funded. The seller has been notified to send the item.")

	case strings.HasPrefix(cb.Data, "confirm_receipt_"):
		h.runPartyOp(ctx, chatID, cb.From, strings.TrimPrefix(cb.Data, "confirm_receipt_"),
			h.escrow.ConfirmReceipt, "Receipt confirmed. Transaction completed!")

	case strings.HasPrefix(cb.Data, "extend_time_"):
		h.runPartyOp(ctx, chatID, cb.From, strings.TrimPrefix(cb.Data, "extend_time_"),
			h.escrow.ExtendInspection, "Inspection time extended.")

	case strings.HasPrefix(cb.Data, "report_issue_"):
		transactionID := strings.TrimPrefix(cb.Data, "report_issue_")
		if _, ok := h.requireUser(ctx, chatID, cb.From); !ok {
			return
		}
		if err := h.sessions.Put(ctx, models.PlatformTelegram, platformID, services.Session{
			Step:          services.StepAwaitingDisputeReason,
			TransactionID: transactionID,
		}); err != nil {
			log.Printf("[TELEGRAM] Session store failed for %s: %v", platformID, err)
			h.reply(ctx, chatID, "An error occurred. Please try again.")
			return
		}
		h.reply(ctx, chatID, "Please describe the issue you encountered:")

	default:
		log.Printf("[TELEGRAM] Unknown callback data %q from %s", cb.Data, platformID)
	}
}

func (h *TelegramHandler) runPartyOp(ctx context.Context, chatID string, from telegramUser, transactionID string,
	op func(ctx context.Context, transactionID, actorID string) (*models.Transaction, error), success string) {
	user, ok := h.requireUser(ctx, chatID, from)
	if !ok {
		return
	}
	if _, err := op(ctx, transactionID, user.ID); err != nil {
		log.Printf("[TELEGRAM] Operation failed for tx %s by %s: %v", transactionID, user.ID, err)
		h.reply(ctx, chatID, opErrorReply(err))
		return
	}
	h.reply(ctx, chatID, success)
}

// requireUser resolves the Telegram identity to a registered user, prompting
// for contact sharing when unknown.
func (h *TelegramHandler) requireUser(ctx context.Context, chatID string, from telegramUser) (*models.User, bool) {
	platformID := strconv.FormatInt(from.ID, 10)
	user, err := h.users.GetByPlatformID(ctx, models.PlatformTelegram, platformID)
	if err != nil {
		h.reply(ctx, chatID, "You are not registered yet. Please share your contact (attach > contact) to continue.")
		return nil, false
	}
	if user.Status != models.UserActive {
		h.reply(ctx, chatID, "Your account is currently restricted. Contact support.")
		return nil, false
	}
	return user, true
}

func (h *TelegramHandler) registerFromContact(ctx context.Context, chatID string, from telegramUser, phone string) {
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	username := from.Username
	if username == "" {
		username = from.FirstName
	}

	_, err := h.users.RegisterOrGet(ctx, services.RegisterUserParams{
		Username:       username,
		PhoneNumber:    phone,
		Platform:       models.PlatformTelegram,
		PlatformUserID: strconv.FormatInt(from.ID, 10),
	})
	if err != nil {
		log.Printf("[TELEGRAM] Registration failed for %d: %v", from.ID, err)
		h.reply(ctx, chatID, "Registration failed. Please check your contact details and try again.")
		return
	}
	h.reply(ctx, chatID, "You are registered. Send /start to begin a transaction.")
}

func (h *TelegramHandler) reply(ctx context.Context, chatID, text string) {
	if err := h.sender.Send(ctx, chatID, text); err != nil {
		log.Printf("[TELEGRAM] Reply to %s failed: %v", chatID, err)
	}
}

func (h *TelegramHandler) replyWithKeyboard(ctx context.Context, chatID, text string, keyboard [][]services.InlineButton) {
	if err := h.sender.SendWithKeyboard(ctx, chatID, text, keyboard); err != nil {
		log.Printf("[TELEGRAM] Reply to %s failed: %v", chatID, err)
	}
}

// parsePriceCents accepts "12", "12.5", "12.50" and returns cents.
func parsePriceCents(text string) (int64, error) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "$"))
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid price %q", text)
	}
	return int64(f*100 + 0.5), nil
}

func formatCents(amount int64) string {
	return fmt.Sprintf("$%d.%02d", amount/100, amount%100)
}

func createErrorReply(err error) string {
	if errors.Is(err, services.ErrValidation) {
		return "Invalid price or description. Please check and try again."
	}
	return "An error occurred. Please try again."
}

func opErrorReply(err error) string {
	switch {
	case errors.Is(err, services.ErrInsufficientFunds):
		return "Insufficient balance to fund this escrow."
	case errors.Is(err, services.ErrAlreadyExtended):
		return "The inspection period was already extended once."
	case errors.Is(err, services.ErrDuplicateDispute):
		return "A dispute already exists for this transaction."
	case errors.Is(err, services.ErrNotFound):
		return "Transaction not found."
	default:
		return "That action is not available for this transaction right now."
	}
}
