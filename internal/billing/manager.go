// Package billing manages subscription tiers and the credit grants attached to them.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/models"
	"github.com/mrkniai/backend/internal/repositories"
)

var (
	// ErrInvalidTier is returned for tiers that cannot be granted.
	ErrInvalidTier = errors.New("invalid subscription tier")
	// ErrInvalidAction is returned for actions other than add and delete.
	ErrInvalidAction = errors.New("invalid subscription action")
	// ErrNoActiveSubscription is returned when delete finds nothing to cancel.
	ErrNoActiveSubscription = errors.New("user has no active subscription")
	// ErrUserRequired is returned when no target user is named.
	ErrUserRequired = errors.New("target user is required")
)

// Action is an administrative subscription change.
type Action string

const (
	ActionAdd    Action = "add"
	ActionDelete Action = "delete"
)

// Result is the state after a change.
type Result struct {
	Subscription models.Subscription
	Credits      models.CreditBalance
}

// Manager applies subscription changes and resets credits to the matching grant.
type Manager struct {
	subscriptions repositories.SubscriptionRepository
	credits       repositories.CreditRepository
	period        time.Duration
	now           func() time.Time
}

// NewManager returns a Manager. Subscriptions granted without an explicit end run for 30 days.
func NewManager(subscriptions repositories.SubscriptionRepository, credits repositories.CreditRepository) *Manager {
	return &Manager{
		subscriptions: subscriptions,
		credits:       credits,
		period:        30 * 24 * time.Hour,
		now:           time.Now,
	}
}

// Apply performs an administrative add or delete.
func (m *Manager) Apply(ctx context.Context, userID string, tier models.Tier, action Action) (Result, error) {
	if userID == "" {
		return Result{}, ErrUserRequired
	}
	switch action {
	case ActionAdd:
		now := m.now().UTC()
		end := now.Add(m.period)
		return m.Activate(ctx, models.Subscription{UserID: userID, Tier: tier, PeriodStart: now, PeriodEnd: &end})
	case ActionDelete:
		return m.Cancel(ctx, userID)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// Activate makes sub the user's only active subscription and sets the credits to its grant.
func (m *Manager) Activate(ctx context.Context, sub models.Subscription) (Result, error) {
	if sub.UserID == "" {
		return Result{}, ErrUserRequired
	}
	if sub.Tier != models.TierBasic && sub.Tier != models.TierPremium {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidTier, sub.Tier)
	}

	active, err := m.subscriptions.Activate(ctx, sub)
	if err != nil {
		return Result{}, fmt.Errorf("activate subscription: %w", err)
	}

	balance := GrantFor(sub.Tier).Balance(sub.UserID)
	if err := m.credits.Set(ctx, balance); err != nil {
		return Result{}, fmt.Errorf("grant credits: %w", err)
	}

	logging.FromContext(ctx).Info("subscription activated",
		"target_user_id", sub.UserID,
		"tier", sub.Tier,
		"image_credits", balance.ImageCredits,
		"video_credits", balance.VideoCredits,
	)
	return Result{Subscription: active, Credits: balance}, nil
}

// Cancel ends the active subscription and resets the credits to the free grant.
func (m *Manager) Cancel(ctx context.Context, userID string) (Result, error) {
	if userID == "" {
		return Result{}, ErrUserRequired
	}

	canceled, err := m.subscriptions.CancelActive(ctx, userID, m.now().UTC())
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return Result{}, ErrNoActiveSubscription
		}
		return Result{}, fmt.Errorf("cancel subscription: %w", err)
	}

	balance := GrantFor(models.TierFree).Balance(userID)
	if err := m.credits.Set(ctx, balance); err != nil {
		return Result{}, fmt.Errorf("reset credits: %w", err)
	}

	logging.FromContext(ctx).Info("subscription canceled", "target_user_id", userID, "tier", canceled.Tier)
	return Result{Subscription: canceled, Credits: balance}, nil
}
