package models

import "time"

// GenerationKind discriminates the two generation variants.
type GenerationKind string

const (
	KindImage GenerationKind = "image"
	KindVideo GenerationKind = "video"
)

// Valid reports whether k is a known kind.
func (k GenerationKind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// GenerationStatus mirrors the provider's prediction lifecycle.
type GenerationStatus string

const (
	StatusStarting   GenerationStatus = "starting"
	StatusProcessing GenerationStatus = "processing"
	StatusSucceeded  GenerationStatus = "succeeded"
	StatusFailed     GenerationStatus = "failed"
	StatusCanceled   GenerationStatus = "canceled"
)

// IsTerminal reports whether no further transitions are expected.
func (s GenerationStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCanceled
}

// Valid reports whether s is one of the known statuses.
func (s GenerationStatus) Valid() bool {
	switch s {
	case StatusStarting, StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// FailureCode names a failure the service decided on, as opposed to one the provider
// reported. Empty for provider failures and for every non-failed record.
type FailureCode string

const (
	// FailureTimedOut means the poll budget ran out; the remote job may still finish.
	FailureTimedOut FailureCode = "timed_out"
	// FailureAssetsUnavailable means the provider succeeded but no output could be stored.
	FailureAssetsUnavailable FailureCode = "assets_unavailable"
)

// ImageRequest is the caller-supplied input for an image generation.
type ImageRequest struct {
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt,omitempty"`
	Width             int      `json:"width,omitempty"`
	Height            int      `json:"height,omitempty"`
	NumInferenceSteps int      `json:"num_inference_steps,omitempty"`
	GuidanceScale     *float64 `json:"guidance_scale,omitempty"`
	NumOutputs        int      `json:"num_outputs,omitempty"`
	Scheduler         string   `json:"scheduler,omitempty"`
	Seed              *int64   `json:"seed,omitempty"`
	Model             string   `json:"model,omitempty"`
	// InputImage is base64, with or without a data URI prefix.
	InputImage string `json:"image,omitempty"`
}

// VideoRequest is the caller-supplied input for a video generation.
type VideoRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	StartImageURL  string `json:"start_image,omitempty"`
	EndImageURL    string `json:"end_image,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	Model          string `json:"model,omitempty"`
}

// GenerationRecord is the persisted form of a generation. It is implemented only by
// *ImageGeneration and *VideoGeneration.
type GenerationRecord interface {
	Kind() GenerationKind
	JobID() string
	OwnerID() string
	CurrentStatus() GenerationStatus
	Created() time.Time
	isGenerationRecord()
}

// ImageGeneration is a row of image_generations plus its materialized assets.
type ImageGeneration struct {
	ID                string
	UserID            string
	Prompt            string
	NegativePrompt    string
	Width             int
	Height            int
	NumInferenceSteps int
	GuidanceScale     float64
	NumOutputs        int
	Scheduler         string
	Seed              *int64
	Model             string
	ModelName         string
	Status            GenerationStatus
	Error             string
	FailureCode       FailureCode
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Assets            []GeneratedAsset
}

func (g *ImageGeneration) Kind() GenerationKind            { return KindImage }
func (g *ImageGeneration) JobID() string                   { return g.ID }
func (g *ImageGeneration) OwnerID() string                 { return g.UserID }
func (g *ImageGeneration) CurrentStatus() GenerationStatus { return g.Status }
func (g *ImageGeneration) Created() time.Time              { return g.CreatedAt }
func (g *ImageGeneration) isGenerationRecord()             {}

// OutputURLs lists the permanent URLs of the record's assets, or nil when none exist.
func (g *ImageGeneration) OutputURLs() []string {
	if len(g.Assets) == 0 {
		return nil
	}
	urls := make([]string, 0, len(g.Assets))
	for _, asset := range g.Assets {
		urls = append(urls, asset.URL)
	}
	return urls
}

// VideoGeneration is a row of video_generations. The provider job id is stored in PredictionID.
type VideoGeneration struct {
	ID             string
	PredictionID   string
	UserID         string
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	StartImageURL  string
	EndImageURL    string
	Duration       int
	Seed           *int64
	Model          string
	ModelName      string
	Status         GenerationStatus
	Error          string
	OutputURL      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (g *VideoGeneration) Kind() GenerationKind            { return KindVideo }
func (g *VideoGeneration) JobID() string                   { return g.PredictionID }
func (g *VideoGeneration) OwnerID() string                 { return g.UserID }
func (g *VideoGeneration) CurrentStatus() GenerationStatus { return g.Status }
func (g *VideoGeneration) Created() time.Time              { return g.CreatedAt }
func (g *VideoGeneration) isGenerationRecord()             {}

// OutputURLs returns the single video URL as a list, or nil.
func (g *VideoGeneration) OutputURLs() []string {
	if g.OutputURL == "" {
		return nil
	}
	return []string{g.OutputURL}
}

// GeneratedAsset is one permanently stored output of an image generation.
type GeneratedAsset struct {
	ID           string
	GenerationID string
	UserID       string
	URL          string
	Checksum     string
	CreatedAt    time.Time
}
