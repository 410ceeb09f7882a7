package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/mrkniai/backend/internal/billing"
	"github.com/mrkniai/backend/internal/logging"
)

const maxWebhookBytes = 64 << 10

// BillingHandler receives billing provider webhooks.
type BillingHandler struct {
	Processor WebhookProcessor
}

// Webhook handles POST /api/v1/billing/webhook.
func (h BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	if h.Processor == nil || !h.Processor.Enabled() {
		respondError(ctx, w, http.StatusNotFound, "billing webhook is not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondError(ctx, w, http.StatusBadRequest, "unreadable request body")
		return
	}

	if err := h.Processor.Process(ctx, payload, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			logging.FromContext(ctx).Warn("webhook signature rejected", "error", err)
			respondError(ctx, w, http.StatusBadRequest, "invalid signature")
			return
		}
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, map[string]bool{"received": true})
}
