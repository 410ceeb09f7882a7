package handlers

import (
	"context"

	"github.com/mrkniai/backend/internal/billing"
	"github.com/mrkniai/backend/internal/generation"
	"github.com/mrkniai/backend/internal/history"
	"github.com/mrkniai/backend/internal/models"
)

// GenerationService submits and inspects generations on behalf of the caller.
type GenerationService interface {
	SubmitImage(ctx context.Context, userID string, req models.ImageRequest) (generation.Submission, error)
	SubmitVideo(ctx context.Context, userID string, req models.VideoRequest) (generation.Submission, error)
	CheckStatus(ctx context.Context, userID string, kind models.GenerationKind, id string) (generation.StatusResult, error)
	Account(ctx context.Context, userID string) (generation.Account, error)
}

// HistoryStore reads and deletes a user's generations.
type HistoryStore interface {
	List(ctx context.Context, userID string) ([]history.Entry, error)
	Delete(ctx context.Context, userID string, kind models.GenerationKind, id string) error
}

// SubscriptionManager applies administrative subscription changes.
type SubscriptionManager interface {
	Apply(ctx context.Context, userID string, tier models.Tier, action billing.Action) (billing.Result, error)
}

// WebhookProcessor verifies and applies billing provider events.
type WebhookProcessor interface {
	Enabled() bool
	Process(ctx context.Context, payload []byte, signature string) error
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
