// Package generation submits image and video jobs to the provider, watches them, and
// records their results.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mrkniai/backend/internal/billing"
	"github.com/mrkniai/backend/internal/catalog"
	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/models"
	"github.com/mrkniai/backend/internal/replicate"
	"github.com/mrkniai/backend/internal/repositories"
)

// Provider starts predictions.
type Provider interface {
	CreatePrediction(ctx context.Context, target string, input map[string]any) (replicate.Prediction, error)
}

// Enqueuer hands an image generation to background completion.
type Enqueuer interface {
	Enqueue(ctx context.Context, rec *models.ImageGeneration) error
}

// Dependencies are the collaborators of a Service.
type Dependencies struct {
	Generations   repositories.GenerationRepository
	Credits       repositories.CreditRepository
	Subscriptions repositories.SubscriptionRepository
	Provider      Provider
	// Status answers video status checks, normally through the status cache.
	Status Getter
	Queue  Enqueuer

	PollInterval     time.Duration
	VideoMaxAttempts int
	Now              func() time.Time
}

// Service implements submission and status checks.
type Service struct {
	deps Dependencies
}

// NewService validates nothing eagerly; missing collaborators surface as errors on use.
func NewService(deps Dependencies) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = 5 * time.Second
	}
	if deps.VideoMaxAttempts <= 0 {
		deps.VideoMaxAttempts = 60
	}
	return &Service{deps: deps}
}

// Submission is returned to the caller after a job is accepted.
type Submission struct {
	ID              string                  `json:"id"`
	Status          models.GenerationStatus `json:"status"`
	Model           string                  `json:"model"`
	ModelName       string                  `json:"modelName"`
	PollIntervalMs  int64                   `json:"pollIntervalMs,omitempty"`
	MaxPollAttempts int                     `json:"maxPollAttempts,omitempty"`
}

// StatusResult is the shape of a status check.
type StatusResult struct {
	ID        string                  `json:"id"`
	Type      models.GenerationKind   `json:"type"`
	Status    models.GenerationStatus `json:"status"`
	Model     string                  `json:"model"`
	ModelName string                  `json:"modelName"`
	Output    []string                `json:"output"`
	Error     string                  `json:"error,omitempty"`
	// FailureCode is set when the service, not the provider, failed the job.
	FailureCode models.FailureCode `json:"failureCode,omitempty"`
	TimedOut    bool               `json:"timedOut,omitempty"`
}

// Account summarises what a user may do.
type Account struct {
	UserID       string      `json:"userId"`
	Tier         models.Tier `json:"tier"`
	ImageCredits int         `json:"imageCredits"`
	VideoCredits int         `json:"videoCredits"`
}

// SubmitImage validates req, starts the prediction, records it, takes a credit and hands the
// job to the background worker.
func (s *Service) SubmitImage(ctx context.Context, userID string, req models.ImageRequest) (Submission, error) {
	if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.InputImage) == "" {
		return Submission{}, ErrPromptRequired
	}

	model, ok := catalog.Resolve(models.KindImage, req.Model)
	if !ok {
		return Submission{}, fmt.Errorf("%w: %q", ErrModelNotFound, req.Model)
	}

	eff, input, err := catalog.BuildImageInput(model, req)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.authorize(ctx, userID, model); err != nil {
		return Submission{}, err
	}

	pred, err := s.deps.Provider.CreatePrediction(ctx, model.Target(), input)
	if err != nil {
		return Submission{}, err
	}

	now := s.deps.Now().UTC()
	guidance := 0.0
	if eff.GuidanceScale != nil {
		guidance = *eff.GuidanceScale
	}
	rec := &models.ImageGeneration{
		ID:                pred.ID,
		UserID:            userID,
		Prompt:            eff.Prompt,
		NegativePrompt:    eff.NegativePrompt,
		Width:             eff.Width,
		Height:            eff.Height,
		NumInferenceSteps: eff.NumInferenceSteps,
		GuidanceScale:     guidance,
		NumOutputs:        eff.NumOutputs,
		Scheduler:         eff.Scheduler,
		Seed:              eff.Seed,
		Model:             model.ID,
		ModelName:         model.Name,
		Status:            statusOf(pred.Status),
		Error:             pred.ErrorMessage(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.deps.Generations.Save(ctx, rec); err != nil {
		return Submission{}, fmt.Errorf("persist image generation %s: %w", pred.ID, err)
	}

	s.takeCredit(ctx, userID, models.KindImage)

	logger := logging.FromContext(ctx)
	if s.deps.Queue == nil {
		logger.Error("no background worker configured; generation will not be finalized", "generation_id", rec.ID)
	} else if err := s.deps.Queue.Enqueue(logging.Detach(ctx), rec); err != nil {
		logger.Error("enqueue image generation", "generation_id", rec.ID, "error", err)
	}

	return Submission{ID: rec.ID, Status: rec.Status, Model: model.ID, ModelName: model.Name}, nil
}

// SubmitVideo validates req, starts the prediction, records it and takes a credit. The
// client polls CheckStatus afterwards.
func (s *Service) SubmitVideo(ctx context.Context, userID string, req models.VideoRequest) (Submission, error) {
	if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.StartImageURL) == "" {
		return Submission{}, ErrPromptRequired
	}

	model, ok := catalog.Resolve(models.KindVideo, req.Model)
	if !ok {
		return Submission{}, fmt.Errorf("%w: %q", ErrModelNotFound, req.Model)
	}

	eff, duration, input, err := catalog.BuildVideoInput(model, req)
	if err != nil {
		return Submission{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if err := s.authorize(ctx, userID, model); err != nil {
		return Submission{}, err
	}

	pred, err := s.deps.Provider.CreatePrediction(ctx, model.Target(), input)
	if err != nil {
		return Submission{}, err
	}

	now := s.deps.Now().UTC()
	rec := &models.VideoGeneration{
		PredictionID:   pred.ID,
		UserID:         userID,
		Prompt:         eff.Prompt,
		NegativePrompt: eff.NegativePrompt,
		AspectRatio:    eff.AspectRatio,
		StartImageURL:  eff.StartImageURL,
		EndImageURL:    eff.EndImageURL,
		Duration:       duration,
		Seed:           eff.Seed,
		Model:          model.ID,
		ModelName:      model.Name,
		Status:         statusOf(pred.Status),
		Error:          pred.ErrorMessage(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(pred.Output) > 0 {
		rec.OutputURL = NormalizeURL(pred.Output[0])
	}
	if err := s.deps.Generations.Save(ctx, rec); err != nil {
		return Submission{}, fmt.Errorf("persist video generation %s: %w", pred.ID, err)
	}

	s.takeCredit(ctx, userID, models.KindVideo)

	return Submission{
		ID:              rec.PredictionID,
		Status:          rec.Status,
		Model:           model.ID,
		ModelName:       model.Name,
		PollIntervalMs:  s.deps.PollInterval.Milliseconds(),
		MaxPollAttempts: s.deps.VideoMaxAttempts,
	}, nil
}

// CheckStatus reports the state of one of the caller's generations. Image rows are advanced
// by the background worker; non-terminal video rows are refreshed from the provider here.
func (s *Service) CheckStatus(ctx context.Context, userID string, kind models.GenerationKind, id string) (StatusResult, error) {
	if !kind.Valid() {
		return StatusResult{}, fmt.Errorf("%w: unknown type %q", ErrInvalidRequest, kind)
	}
	if strings.TrimSpace(id) == "" {
		return StatusResult{}, fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}

	rec, err := s.deps.Generations.Get(ctx, userID, kind, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return StatusResult{}, ErrNotFound
		}
		return StatusResult{}, fmt.Errorf("load generation %s: %w", id, err)
	}

	video, ok := rec.(*models.VideoGeneration)
	if !ok || video.Status.IsTerminal() {
		return statusResult(rec), nil
	}
	if s.deps.Status == nil {
		return statusResult(rec), nil
	}

	pred, err := s.deps.Status.GetPrediction(ctx, id)
	if err != nil {
		return StatusResult{}, err
	}

	switch o := OutcomeOf(pred).(type) {
	case Succeeded:
		video.Status = models.StatusSucceeded
		video.Error = ""
		if len(o.Outputs) > 0 {
			video.OutputURL = NormalizeURL(o.Outputs[0])
		}
	case Failed:
		video.Status = models.StatusFailed
		video.Error = o.Reason
	default:
		video.Status = o.Status()
	}
	video.UpdatedAt = s.deps.Now().UTC()

	if err := s.deps.Generations.Save(ctx, video); err != nil {
		return StatusResult{}, fmt.Errorf("persist video status %s: %w", id, err)
	}
	return statusResult(video), nil
}

// Account returns the caller's tier and balances, provisioning the free balance on first use.
func (s *Service) Account(ctx context.Context, userID string) (Account, error) {
	tier, err := s.tierOf(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	balance, err := s.balanceOf(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	return Account{
		UserID:       userID,
		Tier:         tier,
		ImageCredits: balance.ImageCredits,
		VideoCredits: balance.VideoCredits,
	}, nil
}

func (s *Service) authorize(ctx context.Context, userID string, model catalog.Model) error {
	tier, err := s.tierOf(ctx, userID)
	if err != nil {
		return err
	}
	if !catalog.CanAccess(model.Tier, tier) {
		return &TierError{Model: model.Name, Required: model.Tier, Current: tier}
	}

	balance, err := s.balanceOf(ctx, userID)
	if err != nil {
		return err
	}
	if balance.Available(model.Kind) <= 0 {
		return fmt.Errorf("%w: no %s credits left", ErrInsufficientCredits, model.Kind)
	}
	return nil
}

func (s *Service) tierOf(ctx context.Context, userID string) (models.Tier, error) {
	sub, err := s.deps.Subscriptions.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.TierFree, nil
		}
		return "", fmt.Errorf("load subscription: %w", err)
	}
	return sub.Tier, nil
}

func (s *Service) balanceOf(ctx context.Context, userID string) (models.CreditBalance, error) {
	balance, err := s.deps.Credits.Get(ctx, userID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return models.CreditBalance{}, fmt.Errorf("load credits: %w", err)
	}

	balance, err = s.deps.Credits.Init(ctx, billing.GrantFor(models.TierFree).Balance(userID))
	if err != nil {
		return models.CreditBalance{}, fmt.Errorf("provision credits: %w", err)
	}
	logging.FromContext(ctx).Info("provisioned default credits", "image_credits", balance.ImageCredits, "video_credits", balance.VideoCredits)
	return balance, nil
}

// takeCredit never fails the request; a lost decrement is logged and accepted.
func (s *Service) takeCredit(ctx context.Context, userID string, kind models.GenerationKind) {
	remaining, err := s.deps.Credits.Decrement(ctx, userID, kind)
	if err != nil {
		logging.FromContext(ctx).Warn("credit decrement failed", "kind", kind, "error", err)
		return
	}
	logging.FromContext(ctx).Debug("credit taken", "kind", kind, "remaining", remaining)
}

func statusResult(rec models.GenerationRecord) StatusResult {
	res := StatusResult{ID: rec.JobID(), Type: rec.Kind(), Status: rec.CurrentStatus()}
	switch g := rec.(type) {
	case *models.ImageGeneration:
		res.Model, res.ModelName, res.Error = g.Model, g.ModelName, g.Error
		res.FailureCode = g.FailureCode
		res.TimedOut = g.FailureCode == models.FailureTimedOut
		for _, u := range g.OutputURLs() {
			res.Output = append(res.Output, NormalizeURL(u))
		}
	case *models.VideoGeneration:
		res.Model, res.ModelName, res.Error = g.Model, g.ModelName, g.Error
		if u := NormalizeURL(g.OutputURL); u != "" {
			res.Output = []string{u}
		}
	}
	return res
}
