package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradesafi/backend/internal/middleware"
	"github.com/tradesafi/backend/internal/models"
	"github.com/tradesafi/backend/internal/services"
)

// AdminHandler serves the arbitration surface. Every route here sits behind
// AdminAuthMiddleware; the acting admin id comes from the request context,
// never from the body.
type AdminHandler struct {
	disputes  *services.DisputeService
	users     *services.UserService
	escrow    *services.EscrowService
	validator *services.ValidationHelper
}

func NewAdminHandler(disputes *services.DisputeService, users *services.UserService, escrow *services.EscrowService) *AdminHandler {
	return &AdminHandler{
		disputes:  disputes,
		users:     users,
		escrow:    escrow,
		validator: services.NewValidationHelper(),
	}
}

// GetStats returns platform-wide counters
// @Summary Platform stats
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.Stats
// @Router /admin/stats [get]
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.users.Stats(r.Context())
	if err != nil {
		log.Printf("[ADMIN] Stats query failed: %v", err)
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListDisputes returns disputes, optionally filtered by status
// @Summary List disputes
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Dispute status filter"
// @Success 200 {array} models.Dispute
// @Router /admin/disputes [get]
func (h *AdminHandler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	status := models.DisputeStatus(r.URL.Query().Get("status"))
	disputes, err := h.disputes.List(r.Context(), status)
	if err != nil {
		log.Printf("[ADMIN] Dispute list failed: %v", err)
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disputes)
}

// GetDispute returns one dispute
// @Summary Get dispute
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param disputeId path string true "Dispute ID"
// @Success 200 {object} models.Dispute
// @Router /admin/disputes/{disputeId} [get]
func (h *AdminHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.disputes.Get(r.Context(), chi.URLParam(r, "disputeId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// MarkUnderReview claims a dispute for review
// @Summary Mark dispute under review
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param disputeId path string true "Dispute ID"
// @Success 200 {object} models.Dispute
// @Router /admin/disputes/{disputeId}/review [post]
func (h *AdminHandler) MarkUnderReview(w http.ResponseWriter, r *http.Request) {
	d, err := h.disputes.MarkUnderReview(r.Context(), chi.URLParam(r, "disputeId"))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ResolveDispute settles a dispute and moves the escrowed funds
// @Summary Resolve dispute
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param disputeId path string true "Dispute ID"
// @Param request body object{action=string,resolution=string} true "Resolution"
// @Success 200 {object} models.Dispute
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/disputes/{disputeId}/resolve [post]
func (h *AdminHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	adminID, _ := r.Context().Value(middleware.AdminIDKey).(string)
	if adminID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Action     string `json:"action" validate:"required,oneof=refund_buyer release_to_seller"`
		Resolution string `json:"resolution" validate:"required,max=2000"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	d, err := h.disputes.Resolve(r.Context(), chi.URLParam(r, "disputeId"), adminID, req.Resolution, models.DisputeAction(req.Action))
	if err != nil {
		log.Printf("[ADMIN] Resolve dispute %s failed: %v", chi.URLParam(r, "disputeId"), err)
		services.SendCoreError(w, err)
		return
	}

	log.Printf("[ADMIN] Dispute %s resolved by admin %s (%s)", d.ID, adminID, req.Action)
	writeJSON(w, http.StatusOK, d)
}

// ListUsers returns all registered trading parties
// @Summary List users
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.User
// @Router /admin/users [get]
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		log.Printf("[ADMIN] User list failed: %v", err)
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// UpdateUserStatus suspends, bans, or reinstates a trading party
// @Summary Update user status
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Param request body object{status=string} true "New status"
// @Success 200 {object} models.User
// @Router /admin/users/{userId}/status [post]
func (h *AdminHandler) UpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status" validate:"required,oneof=active suspended banned"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	u, err := h.users.UpdateStatus(r.Context(), chi.URLParam(r, "userId"), models.UserStatus(req.Status))
	if err != nil {
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ListRecentTransactions returns the latest transactions for oversight
// @Summary Recent transactions
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Transaction
// @Router /admin/transactions [get]
func (h *AdminHandler) ListRecentTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := h.escrow.Recent(r.Context(), 50)
	if err != nil {
		log.Printf("[ADMIN] Recent transactions query failed: %v", err)
		services.SendCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txns)
}
