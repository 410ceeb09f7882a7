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

// GenerationRepository persists both generation kinds behind one interface. Image rows are
// keyed by the provider job id; video rows by prediction_id.
type GenerationRepository interface {
	// Save upserts the record. For images, a non-nil Assets slice replaces the stored
	// asset set wholesale; a nil slice leaves existing assets untouched.
	Save(ctx context.Context, rec models.GenerationRecord) error
	Get(ctx context.Context, userID string, kind models.GenerationKind, jobID string) (models.GenerationRecord, error)
	List(ctx context.Context, userID string) ([]models.GenerationRecord, error)
	Delete(ctx context.Context, userID string, kind models.GenerationKind, jobID string) error
}

// PostgresGenerationRepository stores generations in image_generations, generated_images
// and video_generations.
type PostgresGenerationRepository struct {
	pool db.Pool
}

// NewPostgresGenerationRepository constructs a generation repository backed by PostgreSQL.
func NewPostgresGenerationRepository(pool db.Pool) *PostgresGenerationRepository {
	return &PostgresGenerationRepository{pool: pool}
}

// Save upserts rec keyed by its job id.
func (r *PostgresGenerationRepository) Save(ctx context.Context, rec models.GenerationRecord) error {
	switch g := rec.(type) {
	case *models.ImageGeneration:
		return r.saveImage(ctx, g)
	case *models.VideoGeneration:
		return r.saveVideo(ctx, g)
	default:
		return fmt.Errorf("save generation: unsupported record %T", rec)
	}
}

func (r *PostgresGenerationRepository) saveImage(ctx context.Context, g *models.ImageGeneration) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin image save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	createdAt, updatedAt := timestamps(g.CreatedAt, g.UpdatedAt)
	tag, err := tx.Exec(ctx, `
        INSERT INTO image_generations (
            id, user_id, prompt, negative_prompt, width, height, num_inference_steps,
            guidance_scale, num_outputs, scheduler, seed, model, model_name, status, error,
            failure_code, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            error = EXCLUDED.error,
            failure_code = EXCLUDED.failure_code,
            model_name = EXCLUDED.model_name,
            updated_at = EXCLUDED.updated_at
        WHERE image_generations.user_id = EXCLUDED.user_id
    `, g.ID, g.UserID, g.Prompt, g.NegativePrompt, g.Width, g.Height, g.NumInferenceSteps,
		g.GuidanceScale, g.NumOutputs, g.Scheduler, g.Seed, g.Model, g.ModelName, string(g.Status),
		nullString(g.Error), string(g.FailureCode), createdAt, updatedAt)
	if err != nil {
		if mapped := mapPgError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("upsert image generation: %w", err)
	}
	// The job id belongs to another user.
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}

	if g.Assets != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM generated_images WHERE generation_id = $1`, g.ID); err != nil {
			return fmt.Errorf("clear generated images: %w", err)
		}
		for idx, asset := range g.Assets {
			assetID := asset.ID
			if assetID == "" {
				assetID = uuid.NewString()
			}
			assetCreated := asset.CreatedAt
			if assetCreated.IsZero() {
				assetCreated = updatedAt
			}
			_, err := tx.Exec(ctx, `
                INSERT INTO generated_images (id, generation_id, user_id, image_url, checksum, position, created_at)
                VALUES ($1, $2, $3, $4, $5, $6, $7)
            `, assetID, g.ID, g.UserID, asset.URL, asset.Checksum, idx, assetCreated)
			if err != nil {
				if mapped := mapPgError(err); mapped != nil {
					return mapped
				}
				return fmt.Errorf("insert generated image: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit image save: %w", err)
	}
	return nil
}

func (r *PostgresGenerationRepository) saveVideo(ctx context.Context, g *models.VideoGeneration) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	id := g.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt, updatedAt := timestamps(g.CreatedAt, g.UpdatedAt)

	tag, err := conn.Exec(ctx, `
        INSERT INTO video_generations (
            id, prediction_id, user_id, prompt, negative_prompt, aspect_ratio, start_image_url,
            end_image_url, duration, seed, model, model_name, status, error, output_url,
            created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        ON CONFLICT (prediction_id) DO UPDATE SET
            status = EXCLUDED.status,
            error = EXCLUDED.error,
            output_url = EXCLUDED.output_url,
            model_name = EXCLUDED.model_name,
            updated_at = EXCLUDED.updated_at
        WHERE video_generations.user_id = EXCLUDED.user_id
    `, id, g.PredictionID, g.UserID, g.Prompt, g.NegativePrompt, g.AspectRatio, g.StartImageURL,
		g.EndImageURL, g.Duration, g.Seed, g.Model, g.ModelName, string(g.Status), nullString(g.Error),
		nullString(g.OutputURL), createdAt, updatedAt)
	if err != nil {
		if mapped := mapPgError(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("upsert video generation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// Get loads one generation owned by userID.
func (r *PostgresGenerationRepository) Get(ctx context.Context, userID string, kind models.GenerationKind, jobID string) (models.GenerationRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	switch kind {
	case models.KindImage:
		row := conn.QueryRow(ctx, imageSelect+` WHERE id = $1 AND user_id = $2`, jobID, userID)
		g, err := scanImage(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("select image generation: %w", err)
		}

		rows, err := conn.Query(ctx, assetSelect+` WHERE generation_id = $1 ORDER BY position`, jobID)
		if err != nil {
			return nil, fmt.Errorf("query generated images: %w", err)
		}
		assets, err := collectAssets(rows)
		if err != nil {
			return nil, err
		}
		g.Assets = assets[jobID]
		return g, nil
	case models.KindVideo:
		row := conn.QueryRow(ctx, videoSelect+` WHERE prediction_id = $1 AND user_id = $2`, jobID, userID)
		g, err := scanVideo(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("select video generation: %w", err)
		}
		return g, nil
	default:
		return nil, fmt.Errorf("get generation: unknown kind %q", kind)
	}
}

// List returns every generation owned by userID, images first, each kind newest first.
func (r *PostgresGenerationRepository) List(ctx context.Context, userID string) ([]models.GenerationRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var records []models.GenerationRecord

	rows, err := conn.Query(ctx, assetSelect+` WHERE user_id = $1 ORDER BY generation_id, position`, userID)
	if err != nil {
		return nil, fmt.Errorf("query generated images: %w", err)
	}
	assets, err := collectAssets(rows)
	if err != nil {
		return nil, err
	}

	rows, err = conn.Query(ctx, imageSelect+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query image generations: %w", err)
	}
	for rows.Next() {
		g, err := scanImage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan image generation: %w", err)
		}
		g.Assets = assets[g.ID]
		records = append(records, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate image generations: %w", err)
	}

	rows, err = conn.Query(ctx, videoSelect+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query video generations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		g, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video generation: %w", err)
		}
		records = append(records, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate video generations: %w", err)
	}

	return records, nil
}

// Delete removes one generation. Image assets go with it through the foreign key cascade.
func (r *PostgresGenerationRepository) Delete(ctx context.Context, userID string, kind models.GenerationKind, jobID string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var query string
	switch kind {
	case models.KindImage:
		query = `DELETE FROM image_generations WHERE id = $1 AND user_id = $2`
	case models.KindVideo:
		query = `DELETE FROM video_generations WHERE prediction_id = $1 AND user_id = $2`
	default:
		return fmt.Errorf("delete generation: unknown kind %q", kind)
	}

	tag, err := conn.Exec(ctx, query, jobID, userID)
	if err != nil {
		return fmt.Errorf("delete %s generation: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const imageSelect = `
        SELECT id, user_id, prompt, negative_prompt, width, height, num_inference_steps,
               guidance_scale, num_outputs, scheduler, seed, model, model_name, status, error,
               failure_code, created_at, updated_at
        FROM image_generations`

const videoSelect = `
        SELECT id::text, prediction_id, user_id, prompt, negative_prompt, aspect_ratio,
               start_image_url, end_image_url, duration, seed, model, model_name, status, error,
               output_url, created_at, updated_at
        FROM video_generations`

const assetSelect = `
        SELECT id::text, generation_id, user_id, image_url, checksum, created_at
        FROM generated_images`

func scanImage(row pgx.Row) (*models.ImageGeneration, error) {
	var (
		g           models.ImageGeneration
		status      string
		errMsg      sql.NullString
		failureCode string
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Prompt, &g.NegativePrompt, &g.Width, &g.Height,
		&g.NumInferenceSteps, &g.GuidanceScale, &g.NumOutputs, &g.Scheduler, &g.Seed, &g.Model,
		&g.ModelName, &status, &errMsg, &failureCode, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Status = models.GenerationStatus(status)
	g.Error = errMsg.String
	g.FailureCode = models.FailureCode(failureCode)
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	return &g, nil
}

func scanVideo(row pgx.Row) (*models.VideoGeneration, error) {
	var (
		g         models.VideoGeneration
		status    string
		errMsg    sql.NullString
		outputURL sql.NullString
	)
	if err := row.Scan(&g.ID, &g.PredictionID, &g.UserID, &g.Prompt, &g.NegativePrompt, &g.AspectRatio,
		&g.StartImageURL, &g.EndImageURL, &g.Duration, &g.Seed, &g.Model, &g.ModelName, &status,
		&errMsg, &outputURL, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	g.Status = models.GenerationStatus(status)
	g.Error = errMsg.String
	g.OutputURL = outputURL.String
	g.CreatedAt = g.CreatedAt.UTC()
	g.UpdatedAt = g.UpdatedAt.UTC()
	return &g, nil
}

func collectAssets(rows pgx.Rows) (map[string][]models.GeneratedAsset, error) {
	defer rows.Close()

	out := make(map[string][]models.GeneratedAsset)
	for rows.Next() {
		var a models.GeneratedAsset
		if err := rows.Scan(&a.ID, &a.GenerationID, &a.UserID, &a.URL, &a.Checksum, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated image: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out[a.GenerationID] = append(out[a.GenerationID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generated images: %w", err)
	}
	return out, nil
}

func timestamps(created, updated time.Time) (time.Time, time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = created
	}
	return created.UTC(), updated.UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ GenerationRepository = (*PostgresGenerationRepository)(nil)
