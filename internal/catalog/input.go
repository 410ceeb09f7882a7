package catalog

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mrkniai/backend/internal/models"
)

// ErrUnsupportedInput indicates the request uses a field the model cannot accept.
var ErrUnsupportedInput = errors.New("unsupported input for model")

const defaultDataURIPrefix = "data:image/png;base64,"

// BuildImageInput merges req with the model defaults, clamps it to the model limits and
// returns the effective request together with the provider input payload.
func BuildImageInput(m Model, req models.ImageRequest) (models.ImageRequest, map[string]any, error) {
	caps := m.Capabilities
	eff := models.ImageRequest{
		Prompt: strings.TrimSpace(req.Prompt),
		Model:  m.ID,
	}

	eff.Width = clampDimension(req.Width, m.Defaults.Width, caps.MaxWidth)
	eff.Height = clampDimension(req.Height, m.Defaults.Height, caps.MaxHeight)

	eff.NumOutputs = req.NumOutputs
	if eff.NumOutputs <= 0 {
		eff.NumOutputs = max(m.Defaults.NumOutputs, 1)
	}
	if caps.MaxOutputs > 0 && eff.NumOutputs > caps.MaxOutputs {
		eff.NumOutputs = caps.MaxOutputs
	}

	input := map[string]any{
		"prompt":      eff.Prompt,
		"width":       eff.Width,
		"height":      eff.Height,
		"num_outputs": eff.NumOutputs,
	}

	if caps.Steps {
		eff.NumInferenceSteps = req.NumInferenceSteps
		if eff.NumInferenceSteps <= 0 {
			eff.NumInferenceSteps = m.Defaults.NumInferenceSteps
		}
		if caps.MaxSteps > 0 && eff.NumInferenceSteps > caps.MaxSteps {
			eff.NumInferenceSteps = caps.MaxSteps
		}
		input["num_inference_steps"] = eff.NumInferenceSteps
	}

	if caps.GuidanceScale {
		guidance := m.Defaults.GuidanceScale
		if req.GuidanceScale != nil && *req.GuidanceScale > 0 {
			guidance = *req.GuidanceScale
		}
		eff.GuidanceScale = &guidance
		input["guidance_scale"] = guidance
	}

	if caps.NegativePrompt {
		eff.NegativePrompt = strings.TrimSpace(req.NegativePrompt)
		if eff.NegativePrompt != "" {
			input["negative_prompt"] = eff.NegativePrompt
		}
	}

	if len(caps.Schedulers) > 0 {
		eff.Scheduler = m.Defaults.Scheduler
		if req.Scheduler != "" && contains(caps.Schedulers, req.Scheduler) {
			eff.Scheduler = req.Scheduler
		}
		input["scheduler"] = eff.Scheduler
	}

	if caps.Seed && req.Seed != nil {
		seed := *req.Seed
		eff.Seed = &seed
		input["seed"] = seed
	}

	if strings.TrimSpace(req.InputImage) != "" {
		if !caps.InputImage {
			return models.ImageRequest{}, nil, fmt.Errorf("%w: %s does not accept an input image", ErrUnsupportedInput, m.ID)
		}
		image, err := normalizeDataURI(req.InputImage)
		if err != nil {
			return models.ImageRequest{}, nil, err
		}
		eff.InputImage = image
		input["image"] = image
	}

	return eff, input, nil
}

// BuildVideoInput is the video counterpart of BuildImageInput. The duration is fixed per model.
func BuildVideoInput(m Model, req models.VideoRequest) (models.VideoRequest, int, map[string]any, error) {
	caps := m.Capabilities
	eff := models.VideoRequest{
		Prompt: strings.TrimSpace(req.Prompt),
		Model:  m.ID,
	}

	eff.AspectRatio = m.Defaults.AspectRatio
	if req.AspectRatio != "" {
		if !contains(caps.AspectRatios, req.AspectRatio) {
			return models.VideoRequest{}, 0, nil, fmt.Errorf("%w: aspect ratio %q not offered by %s", ErrUnsupportedInput, req.AspectRatio, m.ID)
		}
		eff.AspectRatio = req.AspectRatio
	}

	input := map[string]any{
		"prompt":       eff.Prompt,
		"aspect_ratio": eff.AspectRatio,
		"duration":     m.Defaults.Duration,
	}

	if start := strings.TrimSpace(req.StartImageURL); start != "" {
		if !caps.StartImage {
			return models.VideoRequest{}, 0, nil, fmt.Errorf("%w: %s does not accept a start image", ErrUnsupportedInput, m.ID)
		}
		if err := validateImageURL(start); err != nil {
			return models.VideoRequest{}, 0, nil, err
		}
		eff.StartImageURL = start
		input[startImageField(m)] = start
	}

	if end := strings.TrimSpace(req.EndImageURL); end != "" {
		if !caps.EndImage {
			return models.VideoRequest{}, 0, nil, fmt.Errorf("%w: %s does not accept an end image", ErrUnsupportedInput, m.ID)
		}
		if err := validateImageURL(end); err != nil {
			return models.VideoRequest{}, 0, nil, err
		}
		eff.EndImageURL = end
		input["end_image"] = end
	}

	if caps.NegativePrompt {
		eff.NegativePrompt = strings.TrimSpace(req.NegativePrompt)
		if eff.NegativePrompt != "" {
			input["negative_prompt"] = eff.NegativePrompt
		}
	}

	if req.Seed != nil {
		seed := *req.Seed
		eff.Seed = &seed
		input["seed"] = seed
	}

	return eff, m.Defaults.Duration, input, nil
}

func startImageField(m Model) string {
	// minimax names the conditioning frame differently from kling.
	if m.Owner == "minimax" {
		return "first_frame_image"
	}
	return "start_image"
}

func clampDimension(requested, fallback, limit int) int {
	v := requested
	if v <= 0 {
		v = fallback
	}
	if limit > 0 && v > limit {
		v = limit
	}
	// Diffusion backbones expect multiples of 8.
	v -= v % 8
	if v < 64 {
		v = 64
	}
	return v
}

func normalizeDataURI(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	payload := raw
	if strings.HasPrefix(raw, "data:") {
		idx := strings.Index(raw, ",")
		if idx < 0 || !strings.Contains(raw[:idx], ";base64") {
			return "", fmt.Errorf("%w: input image must be a base64 data URI", ErrUnsupportedInput)
		}
		payload = raw[idx+1:]
	} else {
		raw = defaultDataURIPrefix + raw
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", fmt.Errorf("%w: input image is not valid base64", ErrUnsupportedInput)
	}
	return raw, nil
}

func validateImageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) URL", ErrUnsupportedInput, raw)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
