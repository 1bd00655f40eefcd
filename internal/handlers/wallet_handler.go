package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradesafi/backend/internal/services"
)

// WalletHandler covers balance queries and money-in rails. Top-ups land on
// the fiat balance; escrow funding itself only ever moves the asset balance.
type WalletHandler struct {
	ledger    *services.LedgerService
	users     *services.UserService
	escrow    *services.EscrowService
	mpesa     *services.MpesaService
	bitcoin   *services.BitcoinService
	validator *services.ValidationHelper
}

func NewWalletHandler(ledger *services.LedgerService, users *services.UserService, escrow *services.EscrowService, mpesa *services.MpesaService, bitcoin *services.BitcoinService) *WalletHandler {
	return &WalletHandler{
		ledger:    ledger,
		users:     users,
		escrow:    escrow,
		mpesa:     mpesa,
		bitcoin:   bitcoin,
		validator: services.NewValidationHelper(),
	}
}

// GetBalances returns a user's asset and fiat balances
// @Summary Get balances
// @Tags wallet
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} object{asset_balance=int64,fiat_balance=int64}
// @Router /wallet/{userId}/balances [get]
func (h *WalletHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if _, err := h.users.Get(r.Context(), userID); err != nil {
		services.SendCoreError(w, err)
		return
	}

	asset, fiat, err := h.ledger.Balances(userID)
	if err != nil {
		log.Printf("[WALLET] Balance query failed for %s: %v", userID, err)
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"asset_balance": asset,
		"fiat_balance":  fiat,
	})
}

// InitiateTopup starts an M-Pesa STK push against the user's phone
// @Summary Initiate M-Pesa top-up
// @Tags wallet
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param request body object{amount=int64} true "Top-up amount in cents"
// @Success 202 {object} object{checkout_request_id=string}
// @Failure 503 {object} services.ErrorResponse
// @Router /wallet/{userId}/topup [post]
func (h *WalletHandler) InitiateTopup(w http.ResponseWriter, r *http.Request) {
	if h.mpesa == nil {
		services.SendErrorResponse(w, "Mobile money top-up is not configured", http.StatusServiceUnavailable, nil)
		return
	}

	var req struct {
		Amount int64 `json:"amount" validate:"required,gt=0"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	user, err := h.users.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}

	checkoutID, err := h.mpesa.InitiateSTKPush(r.Context(), user.PhoneNumber, req.Amount, user.ID)
	if err != nil {
		log.Printf("[WALLET] STK push failed for user %s: %v", user.ID, err)
		services.SendErrorResponse(w, "Top-up initiation failed", http.StatusBadGateway, nil)
		return
	}

	log.Printf("[WALLET] STK push started for user %s (checkout %s)", user.ID, checkoutID)
	writeJSON(w, http.StatusAccepted, map[string]string{"checkout_request_id": checkoutID})
}

// CheckDeposit polls the on-chain deposit address of a transaction
// @Summary Check BTC deposit
// @Tags wallet
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} object{funded=bool,address=string}
// @Failure 503 {object} services.ErrorResponse
// @Router /wallet/deposits/{txId} [get]
func (h *WalletHandler) CheckDeposit(w http.ResponseWriter, r *http.Request) {
	if h.bitcoin == nil {
		services.SendErrorResponse(w, "On-chain deposits are not configured", http.StatusServiceUnavailable, nil)
		return
	}

	txn, err := h.escrow.Get(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	if txn.DepositAddress == nil {
		services.SendErrorResponse(w, "Transaction has no deposit address", http.StatusNotFound, nil)
		return
	}

	funded, err := h.bitcoin.CheckPayment(r.Context(), *txn.DepositAddress, txn.Amount)
	if err != nil {
		log.Printf("[WALLET] Deposit check failed for tx %s: %v", txn.ID, err)
		services.SendErrorResponse(w, "Deposit check failed", http.StatusBadGateway, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"funded":  funded,
		"address": *txn.DepositAddress,
	})
}
