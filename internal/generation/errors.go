package generation

import (
	"errors"
	"fmt"

	"github.com/mrkniai/backend/internal/models"
)

var (
	// ErrPromptRequired indicates neither a prompt nor an input image was supplied.
	ErrPromptRequired = errors.New("prompt is required")
	// ErrModelNotFound indicates the requested model is not in the registry for this kind.
	ErrModelNotFound = errors.New("model not found")
	// ErrInvalidRequest wraps request fields the selected model cannot accept.
	ErrInvalidRequest = errors.New("invalid generation request")
	// ErrInsufficientCredits indicates the relevant counter is exhausted.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrNotFound indicates no generation with that id belongs to the caller.
	ErrNotFound = errors.New("generation not found")
	// ErrNoAssets indicates every output of a successful prediction failed to materialize.
	ErrNoAssets = errors.New("no generated asset could be stored")
)

// TierError is returned when the caller's tier is below the model's tier.
type TierError struct {
	Model    string
	Required models.Tier
	Current  models.Tier
}

func (e *TierError) Error() string {
	return fmt.Sprintf("model %s requires the %s tier (current tier: %s)", e.Model, e.Required, e.Current)
}
