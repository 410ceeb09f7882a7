package handlers

import (
	"net/http"
	"strings"

	"github.com/mrkniai/backend/internal/history"
	"github.com/mrkniai/backend/internal/models"
)

// HistoryHandler lists and deletes the caller's generations.
type HistoryHandler struct {
	History HistoryStore
}

type historyResponse struct {
	Generations []history.Entry `json:"generations"`
}

// Handle serves GET and DELETE /api/v1/history.
func (h HistoryHandler) Handle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodDelete:
		h.delete(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h HistoryHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if h.History == nil {
		respondError(ctx, w, http.StatusInternalServerError, "history unavailable")
		return
	}

	entries, err := h.History.List(ctx, id.UserID)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	respondJSON(ctx, w, http.StatusOK, historyResponse{Generations: entries})
}

func (h HistoryHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if h.History == nil {
		respondError(ctx, w, http.StatusInternalServerError, "history unavailable")
		return
	}

	jobID := strings.TrimSpace(r.URL.Query().Get("id"))
	kind := models.GenerationKind(strings.TrimSpace(r.URL.Query().Get("type")))
	if jobID == "" || !kind.Valid() {
		respondError(ctx, w, http.StatusBadRequest, "id and type (image or video) are required")
		return
	}

	if err := h.History.Delete(ctx, id.UserID, kind, jobID); err != nil {
		respondErr(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
