package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mrkniai/backend/internal/billing"
	"github.com/mrkniai/backend/internal/generation"
	"github.com/mrkniai/backend/internal/logging"
	"github.com/mrkniai/backend/internal/replicate"
	"github.com/mrkniai/backend/internal/statuscache"
)

const maxRequestBytes = 12 << 20

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

func respondError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	respondJSON(ctx, w, status, errorResponse{Error: message})
}

// respondErr maps domain errors onto the HTTP error taxonomy. Unrecognised errors are 500s
// and their text is only logged.
func respondErr(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		tierErr *generation.TierError
		apiErr  *replicate.APIError
	)

	switch {
	case errors.As(err, &tierErr):
		respondJSON(ctx, w, http.StatusForbidden, errorResponse{
			Error: tierErr.Error(),
			Details: map[string]string{
				"requiredTier": string(tierErr.Required),
				"currentTier":  string(tierErr.Current),
			},
		})
	case errors.As(err, &apiErr):
		status := apiErr.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		message := apiErr.Detail
		if message == "" {
			message = "generation provider request failed"
		}
		resp := errorResponse{Error: message}
		if len(apiErr.Body) > 0 && json.Valid(apiErr.Body) {
			resp.Details = json.RawMessage(apiErr.Body)
		}
		respondJSON(ctx, w, status, resp)
	case errors.Is(err, generation.ErrPromptRequired),
		errors.Is(err, generation.ErrInvalidRequest),
		errors.Is(err, billing.ErrInvalidTier),
		errors.Is(err, billing.ErrInvalidAction),
		errors.Is(err, billing.ErrUserRequired):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, generation.ErrInsufficientCredits):
		respondError(ctx, w, http.StatusForbidden, err.Error())
	case errors.Is(err, generation.ErrModelNotFound),
		errors.Is(err, generation.ErrNotFound),
		errors.Is(err, billing.ErrNoActiveSubscription):
		respondError(ctx, w, http.StatusNotFound, err.Error())
	case errors.Is(err, replicate.ErrMissingToken), errors.Is(err, statuscache.ErrProviderUnavailable):
		logging.FromContext(ctx).Error("generation provider unavailable", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "generation provider is not configured")
	default:
		logging.FromContext(ctx).Error("unhandled error", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
