// Package catalog holds the static registry of generation models offered to users.
package catalog

import (
	"sort"

	"github.com/mrkniai/backend/internal/models"
)

// Defaults are the parameters used when a request leaves a field unset.
type Defaults struct {
	Width             int
	Height            int
	NumInferenceSteps int
	GuidanceScale     float64
	NumOutputs        int
	Scheduler         string
	AspectRatio       string
	Duration          int
}

// Capabilities describe which request fields a model accepts and its hard limits.
type Capabilities struct {
	NegativePrompt bool
	Seed           bool
	GuidanceScale  bool
	Steps          bool
	MaxSteps       int
	MaxWidth       int
	MaxHeight      int
	MaxOutputs     int
	InputImage     bool
	StartImage     bool
	EndImage       bool
	Schedulers     []string
	AspectRatios   []string
}

// Model is one entry of the registry.
type Model struct {
	ID   string
	Name string
	Kind models.GenerationKind
	Tier models.Tier
	// Owner/Slug address an official model; Version pins a community model instead.
	Owner   string
	Slug    string
	Version string

	Defaults     Defaults
	Capabilities Capabilities
}

var registry = []Model{
	{
		ID:    "flux-schnell",
		Name:  "FLUX.1 [schnell]",
		Kind:  models.KindImage,
		Tier:  models.TierFree,
		Owner: "black-forest-labs",
		Slug:  "flux-schnell",
		Defaults: Defaults{
			Width: 1024, Height: 1024, NumInferenceSteps: 4, NumOutputs: 1,
		},
		Capabilities: Capabilities{
			Seed: true, Steps: true, MaxSteps: 4, MaxWidth: 1440, MaxHeight: 1440, MaxOutputs: 4,
		},
	},
	{
		ID:      "sdxl",
		Name:    "Stable Diffusion XL",
		Kind:    models.KindImage,
		Tier:    models.TierFree,
		Owner:   "stability-ai",
		Slug:    "sdxl",
		Version: "7762fd07cf82c948538e41f63f77d685e02b063e37e496e96eefd46c929f9bdc",
		Defaults: Defaults{
			Width: 1024, Height: 1024, NumInferenceSteps: 30, GuidanceScale: 7.5, NumOutputs: 1, Scheduler: "K_EULER",
		},
		Capabilities: Capabilities{
			NegativePrompt: true, Seed: true, GuidanceScale: true, Steps: true, MaxSteps: 50,
			MaxWidth: 1024, MaxHeight: 1024, MaxOutputs: 4, InputImage: true,
			Schedulers: []string{"DDIM", "DPMSolverMultistep", "HeunDiscrete", "KarrasDPM", "K_EULER_ANCESTRAL", "K_EULER", "PNDM"},
		},
	},
	{
		ID:    "flux-dev",
		Name:  "FLUX.1 [dev]",
		Kind:  models.KindImage,
		Tier:  models.TierBasic,
		Owner: "black-forest-labs",
		Slug:  "flux-dev",
		Defaults: Defaults{
			Width: 1024, Height: 1024, NumInferenceSteps: 28, GuidanceScale: 3, NumOutputs: 1,
		},
		Capabilities: Capabilities{
			Seed: true, GuidanceScale: true, Steps: true, MaxSteps: 50,
			MaxWidth: 1440, MaxHeight: 1440, MaxOutputs: 4, InputImage: true,
		},
	},
	{
		ID:    "flux-1.1-pro",
		Name:  "FLUX 1.1 [pro]",
		Kind:  models.KindImage,
		Tier:  models.TierPremium,
		Owner: "black-forest-labs",
		Slug:  "flux-1.1-pro",
		Defaults: Defaults{
			Width: 1024, Height: 1024, NumOutputs: 1,
		},
		Capabilities: Capabilities{
			Seed: true, MaxWidth: 1440, MaxHeight: 1440, MaxOutputs: 1,
		},
	},
	{
		ID:    "minimax-video-01",
		Name:  "MiniMax Video-01",
		Kind:  models.KindVideo,
		Tier:  models.TierBasic,
		Owner: "minimax",
		Slug:  "video-01",
		Defaults: Defaults{
			AspectRatio: "16:9", Duration: 6,
		},
		Capabilities: Capabilities{
			StartImage:   true,
			AspectRatios: []string{"16:9"},
		},
	},
	{
		ID:    "kling-v1.6-standard",
		Name:  "Kling v1.6 Standard",
		Kind:  models.KindVideo,
		Tier:  models.TierBasic,
		Owner: "kwaivgi",
		Slug:  "kling-v1.6-standard",
		Defaults: Defaults{
			AspectRatio: "16:9", Duration: 5,
		},
		Capabilities: Capabilities{
			NegativePrompt: true, StartImage: true,
			AspectRatios: []string{"16:9", "9:16", "1:1"},
		},
	},
	{
		ID:    "kling-v1.6-pro",
		Name:  "Kling v1.6 Pro",
		Kind:  models.KindVideo,
		Tier:  models.TierPremium,
		Owner: "kwaivgi",
		Slug:  "kling-v1.6-pro",
		Defaults: Defaults{
			AspectRatio: "16:9", Duration: 5,
		},
		Capabilities: Capabilities{
			NegativePrompt: true, StartImage: true, EndImage: true,
			AspectRatios: []string{"16:9", "9:16", "1:1"},
		},
	},
}

var defaultModel = map[models.GenerationKind]string{
	models.KindImage: "flux-schnell",
	models.KindVideo: "kling-v1.6-standard",
}

// Lookup returns the model with the given id.
func Lookup(id string) (Model, bool) {
	for _, m := range registry {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

// Resolve looks up id within kind, falling back to the kind's default model when id is empty.
func Resolve(kind models.GenerationKind, id string) (Model, bool) {
	if id == "" {
		id = defaultModel[kind]
	}
	m, ok := Lookup(id)
	if !ok || m.Kind != kind {
		return Model{}, false
	}
	return m, true
}

// List returns the models of the given kind ordered by tier, or every model when kind is empty.
func List(kind models.GenerationKind) []Model {
	var out []Model
	for _, m := range registry {
		if kind == "" || m.Kind == kind {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return models.TierLevel(out[i].Tier) < models.TierLevel(out[j].Tier)
	})
	return out
}

// CanAccess reports whether a user on userTier may run a model gated at modelTier.
func CanAccess(modelTier, userTier models.Tier) bool {
	return models.TierLevel(modelTier) <= models.TierLevel(userTier)
}

// Target is the provider address of the model: a version hash or owner/slug.
func (m Model) Target() string {
	if m.Version != "" {
		return m.Version
	}
	return m.Owner + "/" + m.Slug
}

// Default returns the model used when a request for kind names none.
func Default(kind models.GenerationKind) (Model, bool) {
	return Resolve(kind, "")
}
