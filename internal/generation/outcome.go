package generation

import (
	"github.com/mrkniai/backend/internal/models"
	"github.com/mrkniai/backend/internal/replicate"
)

// Outcome is the result of watching a prediction. It is one of Starting, Processing,
// Succeeded, Failed, Canceled or TimedOut.
type Outcome interface {
	Status() models.GenerationStatus
	Terminal() bool
	isOutcome()
}

// Starting means the provider has not begun work yet.
type Starting struct{ Prediction replicate.Prediction }

// Processing means the provider is running the job.
type Processing struct{ Prediction replicate.Prediction }

// Succeeded carries the provider's temporary output URLs.
type Succeeded struct {
	Prediction replicate.Prediction
	Outputs    []string
}

// Failed carries the provider's (or the poller's) failure reason.
type Failed struct {
	Prediction replicate.Prediction
	Reason     string
}

// Canceled means the job was canceled on the provider side.
type Canceled struct{ Prediction replicate.Prediction }

// TimedOut means the attempt budget ran out before a terminal status was seen. The remote
// job may still be running.
type TimedOut struct {
	Last     replicate.Prediction
	Attempts int
}

func (Starting) Status() models.GenerationStatus   { return models.StatusStarting }
func (Processing) Status() models.GenerationStatus { return models.StatusProcessing }
func (Succeeded) Status() models.GenerationStatus  { return models.StatusSucceeded }
func (Failed) Status() models.GenerationStatus     { return models.StatusFailed }
func (Canceled) Status() models.GenerationStatus   { return models.StatusCanceled }

// Status of a timeout is the last non-terminal status observed.
func (t TimedOut) Status() models.GenerationStatus {
	if t.Last.Status == replicate.StatusStarting {
		return models.StatusStarting
	}
	return models.StatusProcessing
}

func (Starting) Terminal() bool   { return false }
func (Processing) Terminal() bool { return false }
func (Succeeded) Terminal() bool  { return true }
func (Failed) Terminal() bool     { return true }
func (Canceled) Terminal() bool   { return true }
func (TimedOut) Terminal() bool   { return false }

func (Starting) isOutcome()   {}
func (Processing) isOutcome() {}
func (Succeeded) isOutcome()  {}
func (Failed) isOutcome()     {}
func (Canceled) isOutcome()   {}
func (TimedOut) isOutcome()   {}

// OutcomeOf classifies a single prediction snapshot.
func OutcomeOf(p replicate.Prediction) Outcome {
	switch p.Status {
	case replicate.StatusSucceeded:
		return Succeeded{Prediction: p, Outputs: []string(p.Output)}
	case replicate.StatusFailed:
		reason := p.ErrorMessage()
		if reason == "" {
			reason = "generation failed"
		}
		return Failed{Prediction: p, Reason: reason}
	case replicate.StatusCanceled:
		return Canceled{Prediction: p}
	case replicate.StatusStarting:
		return Starting{Prediction: p}
	default:
		return Processing{Prediction: p}
	}
}

// statusOf maps a raw provider status onto the persisted lifecycle.
func statusOf(raw string) models.GenerationStatus {
	s := models.GenerationStatus(raw)
	if s.Valid() {
		return s
	}
	return models.StatusProcessing
}
