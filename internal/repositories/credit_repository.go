package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mrkniai/backend/internal/db"
	"github.com/mrkniai/backend/internal/models"
)

// CreditRepository exposes the per-user credit counters.
type CreditRepository interface {
	Get(ctx context.Context, userID string) (models.CreditBalance, error)
	// Init inserts balance unless a row already exists and returns whichever row is stored.
	Init(ctx context.Context, balance models.CreditBalance) (models.CreditBalance, error)
	Set(ctx context.Context, balance models.CreditBalance) error
	// Decrement atomically takes one credit of the given kind and returns the new value.
	Decrement(ctx context.Context, userID string, kind models.GenerationKind) (int, error)
}

// PostgresCreditRepository stores balances in user_credits.
type PostgresCreditRepository struct {
	pool db.Pool
}

// NewPostgresCreditRepository constructs a credit repository backed by PostgreSQL.
func NewPostgresCreditRepository(pool db.Pool) *PostgresCreditRepository {
	return &PostgresCreditRepository{pool: pool}
}

func (r *PostgresCreditRepository) Get(ctx context.Context, userID string) (models.CreditBalance, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.CreditBalance{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT user_id, image_credits, video_credits, updated_at
        FROM user_credits
        WHERE user_id = $1
    `, userID)

	var b models.CreditBalance
	if err := row.Scan(&b.UserID, &b.ImageCredits, &b.VideoCredits, &b.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CreditBalance{}, ErrNotFound
		}
		return models.CreditBalance{}, fmt.Errorf("select user credits: %w", err)
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

func (r *PostgresCreditRepository) Init(ctx context.Context, balance models.CreditBalance) (models.CreditBalance, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.CreditBalance{}, fmt.Errorf("acquire connection: %w", err)
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO user_credits (user_id, image_credits, video_credits, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id) DO NOTHING
    `, balance.UserID, balance.ImageCredits, balance.VideoCredits, time.Now().UTC())
	conn.Release()
	if err != nil {
		return models.CreditBalance{}, fmt.Errorf("init user credits: %w", err)
	}

	return r.Get(ctx, balance.UserID)
}

func (r *PostgresCreditRepository) Set(ctx context.Context, balance models.CreditBalance) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO user_credits (user_id, image_credits, video_credits, updated_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (user_id)
        DO UPDATE SET image_credits = EXCLUDED.image_credits,
                      video_credits = EXCLUDED.video_credits,
                      updated_at = EXCLUDED.updated_at
    `, balance.UserID, balance.ImageCredits, balance.VideoCredits, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set user credits: %w", err)
	}
	return nil
}

func (r *PostgresCreditRepository) Decrement(ctx context.Context, userID string, kind models.GenerationKind) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("decrement credits: unknown kind %q", kind)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var remaining sql.NullInt64
	if err := conn.QueryRow(ctx, `SELECT decrement_credits($1, $2)`, userID, string(kind)).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("decrement credits: %w", err)
	}
	if !remaining.Valid {
		return 0, ErrInsufficientCredits
	}
	return int(remaining.Int64), nil
}

var _ CreditRepository = (*PostgresCreditRepository)(nil)
