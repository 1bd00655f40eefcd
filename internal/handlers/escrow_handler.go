package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradesafi/backend/internal/models"
	"github.com/tradesafi/backend/internal/services"
)

// EscrowHandler exposes the state machine operations to the bot front ends.
// Callers pass the acting party's user id; the service enforces that the
// actor actually holds the role the operation requires.
type EscrowHandler struct {
	escrow    *services.EscrowService
	share     *services.ShareLinkService
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewEscrowHandler(escrow *services.EscrowService, share *services.ShareLinkService, ledger *services.LedgerService) *EscrowHandler {
	return &EscrowHandler{
		escrow:    escrow,
		share:     share,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// CreateTransaction opens a new escrow listing
// @Summary Create transaction
// @Description Seller creates an escrow listing with amount and description
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body object{seller_id=string,amount=int64,description=string} true "Listing"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} services.ErrorResponse
// @Router /transactions [post]
func (h *EscrowHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SellerID    string `json:"seller_id" validate:"required,uuid4"`
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Description string `json:"description" validate:"required,max=280"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := h.escrow.Create(r.Context(), services.CreateTransactionParams{
		SellerID:    req.SellerID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		log.Printf("[HANDLER] Create transaction failed: %v", err)
		services.SendCoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, txn)
}

// GetTransaction returns a transaction by id
// @Summary Get transaction
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId} [get]
func (h *EscrowHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.escrow.Get(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// GetShareLink returns the join deep link and QR image for a listing
// @Summary Get share link
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} object{link=string,qr_png_base64=string}
// @Router /transactions/{txId}/share [get]
func (h *EscrowHandler) GetShareLink(w http.ResponseWriter, r *http.Request) {
	link, qrImage, err := h.share.GenerateJoinQR(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"link":          link,
		"qr_png_base64": qrImage,
	})
}

// GetLedgerEntries returns the audit trail for a transaction
// @Summary Ledger entries
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {array} models.LedgerEntry
// @Router /transactions/{txId}/ledger [get]
func (h *EscrowHandler) GetLedgerEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.Entries(chi.URLParam(r, "txId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// JoinAsBuyer attaches a buyer to a listing
// @Summary Join as buyer
// @Tags transactions
// @Accept json
// @Produce json
// @Param txId path string true "Transaction ID"
// @Param request body object{buyer_id=string} true "Buyer"
// @Success 200 {object} models.Transaction
// @Router /transactions/{txId}/join [post]
func (h *EscrowHandler) JoinAsBuyer(w http.ResponseWriter, r *http.Request) {
	h.actorOp(w, r, h.escrow.JoinAsBuyer)
}

// FundEscrow debits the buyer into escrow
// @Summary Fund escrow
// @Tags transactions
// @Accept json
// @Produce json
// @Param txId path string true "Transaction ID"
// @Param request body object{actor_id=string} true "Buyer"
// @Success 200 {object} models.Transaction
// @Router /transactions/{txId}/fund [post]
func (h *EscrowHandler) FundEscrow(w http.ResponseWriter, r *http.Request) {
	h.actorOp(w, r, h.escrow.FundEscrow)
}

// MarkItemSent records the seller's shipment
// @Summary Mark item sent
// @Tags transactions
// @Accept json
// @Produce json
// @Param txId path string true "Transaction ID"
// @Param request body object{actor_id=string} true "Seller"
// @Success 200 {object} models.Transaction
// @Router /transactions/{txId}/sent [post]
func (h *EscrowHandler) MarkItemSent(w http.ResponseWriter, r *http.Request) {
	h.actorOp(w, r, h.escrow.MarkItemSent)
}

// ConfirmDelivery starts the inspection window
// @Summary Confirm delivery
// @Tags transactions
// @Accept json
// @Produce json
// @Param txId path string true "Transaction ID"
// @Param request body object{actor_id=string} true "Buyer"
// @Success 200 {object} models.Transaction
// @Router /transactions/{txId}/delivery [post]
func (h *EscrowHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	h.actorOp(w, r, h.escrow.ConfirmDelivery)
}

// ExtendInspection pushes the deadline out once
// @Summary Extend inspection
// @Tags transactions
// @Accept json
// @Produce json
// @Param txId path string true "Transaction ID"
// @Param request body object{actor_id=string} true "Buyer"
// @Success 200 {object} models.Transaction
// @Router /transactions/{txId}/extend [post]
func (h *EscrowHandler) ExtendInspection(w http.ResponseWriter, r *http.Request) {
	h.actorOp(w, r, h.escrow.ExtendInspection)
}

// ConfirmReceipt releases the escrow to the seller
// @Summary Confirm receipt
// @Tags transactions
// @Accept json
// @Produce json
// @Param txId path string true "Transaction ID"
// @Param request body object{actor_id=string} true "Buyer"
// @Success 200 {object} models.Transaction
// @Router /transactions/{txId}/receipt [post]
func (h *EscrowHandler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	h.actorOp(w, r, h.escrow.ConfirmReceipt)
}

// InitiateDispute freezes the transaction pending arbitration
// @Summary Open dispute
// @Tags transactions
// @Accept json
// @Produce json
// @Param txId path string true "Transaction ID"
// @Param request body object{actor_id=string,reason=string,evidence=object} true "Dispute"
// @Success 200 {object} models.Transaction
// @Router /transactions/{txId}/dispute [post]
func (h *EscrowHandler) InitiateDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID  string          `json:"actor_id" validate:"required,uuid4"`
		Reason   string          `json:"reason" validate:"required,max=2000"`
		Evidence json.RawMessage `json:"evidence,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := h.escrow.InitiateDispute(r.Context(), chi.URLParam(r, "txId"), req.ActorID, req.Reason, req.Evidence)
	if err != nil {
		log.Printf("[HANDLER] Initiate dispute failed: %v", err)
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

// actorOp handles the shared shape of party operations: a single actor id in
// the body, transaction id in the path.
func (h *EscrowHandler) actorOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, transactionID, actorID string) (*models.Transaction, error)) {
	var req struct {
		ActorID string `json:"actor_id,omitempty"`
		BuyerID string `json:"buyer_id,omitempty"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	actor := req.ActorID
	if actor == "" {
		actor = req.BuyerID
	}
	if actor == "" {
		services.SendErrorResponse(w, "actor_id required", http.StatusBadRequest, nil)
		return
	}

	txn, err := op(r.Context(), chi.URLParam(r, "txId"), actor)
	if err != nil {
		log.Printf("[HANDLER] %s %s failed: %v", r.Method, r.URL.Path, err)
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
