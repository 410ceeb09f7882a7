// Package history presents image and video generations as one list.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mrkniai/backend/internal/generation"
	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/models"
	"github.com/mrkniai/backend/internal/repositories"
)

// ErrMalformedRecord is returned by ToEntry for rows that cannot be presented.
var ErrMalformedRecord = errors.New("malformed generation record")

// Entry is the common history shape of both generation kinds.
type Entry struct {
	Type      models.GenerationKind   `json:"type"`
	ID        string                  `json:"id"`
	Status    models.GenerationStatus `json:"status"`
	Prompt    string                  `json:"prompt"`
	Model     string                  `json:"model"`
	ModelID   string                  `json:"modelId,omitempty"`
	Output    []string                `json:"output"`
	Error     string                  `json:"error,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`

	FailureCode models.FailureCode `json:"failureCode,omitempty"`
	TimedOut    bool               `json:"timedOut,omitempty"`
}

// ToEntry converts a stored record. Stored output URLs are scheme-normalised.
func ToEntry(rec models.GenerationRecord) (Entry, error) {
	if rec == nil {
		return Entry{}, fmt.Errorf("%w: nil record", ErrMalformedRecord)
	}
	if rec.JobID() == "" {
		return Entry{}, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	if !rec.CurrentStatus().Valid() {
		return Entry{}, fmt.Errorf("%w: unknown status %q", ErrMalformedRecord, rec.CurrentStatus())
	}

	entry := Entry{
		Type:      rec.Kind(),
		ID:        rec.JobID(),
		Status:    rec.CurrentStatus(),
		CreatedAt: rec.Created(),
	}

	var outputs []string
	switch g := rec.(type) {
	case *models.ImageGeneration:
		entry.Prompt, entry.Model, entry.ModelID, entry.Error = g.Prompt, g.ModelName, g.Model, g.Error
		entry.FailureCode = g.FailureCode
		entry.TimedOut = g.FailureCode == models.FailureTimedOut
		outputs = g.OutputURLs()
	case *models.VideoGeneration:
		entry.Prompt, entry.Model, entry.ModelID, entry.Error = g.Prompt, g.ModelName, g.Model, g.Error
		outputs = g.OutputURLs()
	default:
		return Entry{}, fmt.Errorf("%w: unsupported record %T", ErrMalformedRecord, rec)
	}

	for _, u := range outputs {
		if u = generation.NormalizeURL(u); u != "" {
			entry.Output = append(entry.Output, u)
		}
	}
	return entry, nil
}

// ToRecord converts an entry back into a record owned by userID.
func ToRecord(userID string, e Entry) (models.GenerationRecord, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	switch e.Type {
	case models.KindImage:
		rec := &models.ImageGeneration{
			ID:        e.ID,
			UserID:    userID,
			Prompt:    e.Prompt,
			Model:     e.ModelID,
			ModelName: e.Model,
			Status:    e.Status,
			Error:     e.Error,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.CreatedAt,

			FailureCode: e.FailureCode,
		}
		if len(e.Output) > 0 {
			rec.Assets = make([]models.GeneratedAsset, 0, len(e.Output))
			for _, u := range e.Output {
				rec.Assets = append(rec.Assets, models.GeneratedAsset{GenerationID: e.ID, UserID: userID, URL: u, CreatedAt: e.CreatedAt})
			}
		}
		return rec, nil
	case models.KindVideo:
		rec := &models.VideoGeneration{
			PredictionID: e.ID,
			UserID:       userID,
			Prompt:       e.Prompt,
			Model:        e.ModelID,
			ModelName:    e.Model,
			Status:       e.Status,
			Error:        e.Error,
			CreatedAt:    e.CreatedAt,
			UpdatedAt:    e.CreatedAt,
		}
		if len(e.Output) > 0 {
			rec.OutputURL = e.Output[0]
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedRecord, e.Type)
	}
}

// Reader reads and edits a user's history through the unified repository.
type Reader struct {
	repo repositories.GenerationRepository
}

// NewReader returns a Reader over repo.
func NewReader(repo repositories.GenerationRepository) *Reader {
	return &Reader{repo: repo}
}

// Save upserts rec keyed by its job id.
func (r *Reader) Save(ctx context.Context, rec models.GenerationRecord) error {
	if rec == nil || rec.JobID() == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedRecord)
	}
	if err := r.repo.Save(ctx, rec); err != nil {
		return fmt.Errorf("save generation %s: %w", rec.JobID(), err)
	}
	return nil
}

// List returns both kinds newest first. A row that cannot be converted is replaced by a
// failed placeholder.
func (r *Reader) List(ctx context.Context, userID string) ([]Entry, error) {
	records, err := r.repo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}

	entries := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry, err := ToEntry(rec)
		if err != nil {
			logging.FromContext(ctx).Warn("history row could not be converted", "error", err)
			entry = placeholder(rec)
		}
		entries = append(entries, entry)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// Delete removes one generation; kind selects the table since ids are not unique across kinds.
func (r *Reader) Delete(ctx context.Context, userID string, kind models.GenerationKind, id string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown type %q", generation.ErrInvalidRequest, kind)
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", generation.ErrInvalidRequest)
	}
	if err := r.repo.Delete(ctx, userID, kind, id); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return generation.ErrNotFound
		}
		return fmt.Errorf("delete generation %s: %w", id, err)
	}
	return nil
}

func placeholder(rec models.GenerationRecord) Entry {
	entry := Entry{
		Status: models.StatusFailed,
		Error:  "this generation could not be loaded",
	}
	if rec != nil {
		entry.Type = rec.Kind()
		entry.ID = rec.JobID()
		entry.CreatedAt = rec.Created()
	}
	return entry
}
