package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/models"
)

var (
	// ErrInvalidSignature is returned when the payload was not signed with the webhook secret.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrWebhookDisabled is returned when no webhook secret is configured.
	ErrWebhookDisabled = errors.New("billing webhook is not configured")
)

// userIDMetadataKey names the subscription metadata entry carrying our user id.
const userIDMetadataKey = "user_id"

// WebhookHandler turns verified billing events into subscription changes.
type WebhookHandler struct {
	manager *Manager
	secret  string
	prices  map[string]models.Tier
}

// NewWebhookHandler maps the configured price ids to tiers.
func NewWebhookHandler(manager *Manager, secret, basicPriceID, premiumPriceID string) *WebhookHandler {
	prices := make(map[string]models.Tier)
	if basicPriceID != "" {
		prices[basicPriceID] = models.TierBasic
	}
	if premiumPriceID != "" {
		prices[premiumPriceID] = models.TierPremium
	}
	return &WebhookHandler{manager: manager, secret: secret, prices: prices}
}

// Enabled reports whether a signing secret is configured.
func (h *WebhookHandler) Enabled() bool {
	return h != nil && h.secret != ""
}

// Process verifies payload against the Stripe-Signature header and applies the event.
// Events that do not concern subscriptions are acknowledged and ignored.
func (h *WebhookHandler) Process(ctx context.Context, payload []byte, signature string) error {
	if !h.Enabled() {
		return ErrWebhookDisabled
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	logger := logging.FromContext(ctx).With("event_id", event.ID, "event_type", string(event.Type))

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
	default:
		logger.Debug("ignoring billing event")
		return nil
	}

	if event.Data == nil {
		return fmt.Errorf("billing event %s has no data", event.ID)
	}
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	userID := sub.Metadata[userIDMetadataKey]
	if userID == "" {
		logger.Warn("subscription event without user metadata", "subscription_id", sub.ID)
		return nil
	}
	logger = logger.With("target_user_id", userID, "subscription_id", sub.ID)
	ctx = logging.WithLogger(ctx, logger)

	if event.Type == "customer.subscription.deleted" || sub.Status == stripe.SubscriptionStatusCanceled {
		if _, err := h.manager.Cancel(ctx, userID); err != nil && !errors.Is(err, ErrNoActiveSubscription) {
			return err
		}
		return nil
	}

	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		logger.Info("subscription not active yet", "status", string(sub.Status))
		return nil
	}

	tier, ok := h.tierOf(&sub)
	if !ok {
		logger.Warn("subscription price does not map to a tier")
		return nil
	}

	record := models.Subscription{
		UserID:               userID,
		Tier:                 tier,
		StripeSubscriptionID: sub.ID,
		PeriodStart:          time.Now().UTC(),
	}
	if sub.Customer != nil {
		record.StripeCustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodStart > 0 {
		record.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		record.PeriodEnd = &end
	}

	_, err = h.manager.Activate(ctx, record)
	return err
}

func (h *WebhookHandler) tierOf(sub *stripe.Subscription) (models.Tier, bool) {
	if sub.Items == nil {
		return "", false
	}
	best := models.Tier("")
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if tier, ok := h.prices[item.Price.ID]; ok && models.TierLevel(tier) >= models.TierLevel(best) {
			best = tier
		}
	}
	return best, best != ""
}
