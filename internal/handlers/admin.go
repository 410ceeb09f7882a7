package handlers

import (
	"net/http"
	"strings"

	"github.com/mrkniai/backend/internal/billing"
	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/models"
)

// AdminHandler lets operators grant and revoke subscriptions.
type AdminHandler struct {
	Manager SubscriptionManager
	IsAdmin func(email string) bool
}

type subscriptionRequest struct {
	TargetUserID string `json:"targetUserId"`
	Tier         string `json:"tier"`
	Action       string `json:"action"`
}

type subscriptionResponse struct {
	TargetUserID string                    `json:"targetUserId"`
	Tier         models.Tier               `json:"tier"`
	Status       models.SubscriptionStatus `json:"status"`
	ImageCredits int                       `json:"imageCredits"`
	VideoCredits int                       `json:"videoCredits"`
}

// Subscriptions handles POST /api/v1/admin/subscriptions.
func (h AdminHandler) Subscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if h.IsAdmin == nil || !h.IsAdmin(id.Email) {
		logger.Warn("non-operator attempted subscription change", "email", id.Email)
		respondError(ctx, w, http.StatusForbidden, "operator access required")
		return
	}
	if h.Manager == nil {
		respondError(ctx, w, http.StatusInternalServerError, "subscription management unavailable")
		return
	}

	var req subscriptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("invalid subscription payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	tier := models.Tier(strings.ToLower(strings.TrimSpace(req.Tier)))
	action := billing.Action(strings.ToLower(strings.TrimSpace(req.Action)))
	res, err := h.Manager.Apply(ctx, strings.TrimSpace(req.TargetUserID), tier, action)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}

	logger.Info("subscription changed by operator", "operator", id.Email, "target_user_id", req.TargetUserID, "action", action)
	respondJSON(ctx, w, http.StatusOK, subscriptionResponse{
		TargetUserID: res.Subscription.UserID,
		Tier:         res.Subscription.Tier,
		Status:       res.Subscription.Status,
		ImageCredits: res.Credits.ImageCredits,
		VideoCredits: res.Credits.VideoCredits,
	})
}
