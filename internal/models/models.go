package models

import "time"

// Tier is the subscription level that gates model access and credit grants.
type Tier string

const (
	TierFree    Tier = "free"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// TierLevel orders tiers as free < basic < premium. Unknown tiers rank as free.
func TierLevel(t Tier) int {
	switch t {
	case TierBasic:
		return 1
	case TierPremium:
		return 2
	default:
		return 0
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierBasic || t == TierPremium
}

// SubscriptionStatus captures the lifecycle of a subscription row.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Subscription is the paid tier held by a user. At most one row per user is active.
type Subscription struct {
	ID                   string
	UserID               string
	Tier                 Tier
	Status               SubscriptionStatus
	PeriodStart          time.Time
	PeriodEnd            *time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CreditBalance holds the two independent per-user counters.
type CreditBalance struct {
	UserID       string
	ImageCredits int
	VideoCredits int
	UpdatedAt    time.Time
}

// Available returns the counter that pays for the given kind of generation.
func (b CreditBalance) Available(kind GenerationKind) int {
	if kind == KindVideo {
		return b.VideoCredits
	}
	return b.ImageCredits
}
