package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mrkniai/backend/internal/db"
	"github.com/mrkniai/backend/internal/models"
)

// SubscriptionRepository manages the single active subscription per user.
type SubscriptionRepository interface {
	GetActive(ctx context.Context, userID string) (models.Subscription, error)
	// Activate cancels any active row for the user and inserts sub as the new active one.
	Activate(ctx context.Context, sub models.Subscription) (models.Subscription, error)
	// CancelActive marks the user's active subscription canceled.
	CancelActive(ctx context.Context, userID string, at time.Time) (models.Subscription, error)
}

// PostgresSubscriptionRepository stores subscriptions in PostgreSQL.
type PostgresSubscriptionRepository struct {
	pool db.Pool
}

// NewPostgresSubscriptionRepository constructs a subscription repository backed by PostgreSQL.
func NewPostgresSubscriptionRepository(pool db.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool}
}

const subscriptionColumns = `id::text, user_id, tier, status, period_start, period_end,
               stripe_customer_id, stripe_subscription_id, created_at, updated_at`

func (r *PostgresSubscriptionRepository) GetActive(ctx context.Context, userID string) (models.Subscription, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Subscription{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT `+subscriptionColumns+`
        FROM subscriptions
        WHERE user_id = $1 AND status = 'active'
    `, userID)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Subscription{}, ErrNotFound
		}
		return models.Subscription{}, fmt.Errorf("select active subscription: %w", err)
	}
	return sub, nil
}

func (r *PostgresSubscriptionRepository) Activate(ctx context.Context, sub models.Subscription) (models.Subscription, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Subscription{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return models.Subscription{}, fmt.Errorf("begin activate subscription: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
        UPDATE subscriptions
        SET status = 'canceled', period_end = COALESCE(period_end, $2), updated_at = $2
        WHERE user_id = $1 AND status = 'active'
    `, sub.UserID, now); err != nil {
		return models.Subscription{}, fmt.Errorf("cancel previous subscription: %w", err)
	}

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.PeriodStart.IsZero() {
		sub.PeriodStart = now
	}
	sub.Status = models.SubscriptionActive
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err = tx.Exec(ctx, `
        INSERT INTO subscriptions (id, user_id, tier, status, period_start, period_end,
                                   stripe_customer_id, stripe_subscription_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `, sub.ID, sub.UserID, string(sub.Tier), string(sub.Status), sub.PeriodStart.UTC(), sub.PeriodEnd,
		sub.StripeCustomerID, sub.StripeSubscriptionID, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if mapped := mapPgError(err); mapped != nil {
			return models.Subscription{}, mapped
		}
		return models.Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Subscription{}, fmt.Errorf("commit activate subscription: %w", err)
	}
	return sub, nil
}

func (r *PostgresSubscriptionRepository) CancelActive(ctx context.Context, userID string, at time.Time) (models.Subscription, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Subscription{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        UPDATE subscriptions
        SET status = 'canceled', period_end = COALESCE(period_end, $2), updated_at = $2
        WHERE user_id = $1 AND status = 'active'
        RETURNING `+subscriptionColumns, userID, at.UTC())

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Subscription{}, ErrNotFound
		}
		return models.Subscription{}, fmt.Errorf("cancel subscription: %w", err)
	}
	return sub, nil
}

func scanSubscription(row pgx.Row) (models.Subscription, error) {
	var (
		sub       models.Subscription
		tier      string
		status    string
		periodEnd sql.NullTime
	)
	if err := row.Scan(&sub.ID, &sub.UserID, &tier, &status, &sub.PeriodStart, &periodEnd,
		&sub.StripeCustomerID, &sub.StripeSubscriptionID, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return models.Subscription{}, err
	}
	sub.Tier = models.Tier(tier)
	sub.Status = models.SubscriptionStatus(status)
	sub.PeriodStart = sub.PeriodStart.UTC()
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		sub.PeriodEnd = &t
	}
	return sub, nil
}

var _ SubscriptionRepository = (*PostgresSubscriptionRepository)(nil)
