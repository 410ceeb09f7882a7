package handlers

import (
	"net/http"
	"strings"

	"github.com/mrkniai/backend/internal/auth"
	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/models"
)

// GenerationHandler exposes submission and status endpoints.
type GenerationHandler struct {
	Service GenerationService
	Limiter RateLimiter
}

// SubmitImage handles POST /api/v1/generations/image.
func (h GenerationHandler) SubmitImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	id, ok := h.precheck(w, r)
	if !ok {
		return
	}

	var req models.ImageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid image generation payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.Service.SubmitImage(ctx, id.UserID, req)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, sub)
}

// SubmitVideo handles POST /api/v1/generations/video.
func (h GenerationHandler) SubmitVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	id, ok := h.precheck(w, r)
	if !ok {
		return
	}

	var req models.VideoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logging.FromContext(ctx).Warn("invalid video generation payload", "error", err)
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.Service.SubmitVideo(ctx, id.UserID, req)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, sub)
}

// Status handles GET /api/v1/generations/status?id=&type=. The type defaults to image.
func (h GenerationHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if h.Service == nil {
		respondError(ctx, w, http.StatusInternalServerError, "generation service unavailable")
		return
	}

	jobID := strings.TrimSpace(r.URL.Query().Get("id"))
	if jobID == "" {
		respondError(ctx, w, http.StatusBadRequest, "id is required")
		return
	}
	kind := models.GenerationKind(strings.TrimSpace(r.URL.Query().Get("type")))
	if kind == "" {
		kind = models.KindImage
	}

	res, err := h.Service.CheckStatus(ctx, id.UserID, kind, jobID)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, res)
}

func (h GenerationHandler) precheck(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	ctx := r.Context()
	id, ok := identity(w, r)
	if !ok {
		return auth.Identity{}, false
	}
	if h.Service == nil {
		logging.FromContext(ctx).Error("generation dependencies unavailable")
		respondError(ctx, w, http.StatusInternalServerError, "generation service unavailable")
		return auth.Identity{}, false
	}
	if !allowRequest(h.Limiter, r, "generate") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many generation requests, slow down")
		return auth.Identity{}, false
	}
	return id, true
}

// identity returns the authenticated caller or writes a 401.
func identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		respondError(r.Context(), w, http.StatusUnauthorized, "authentication required")
		return auth.Identity{}, false
	}
	return id, true
}
