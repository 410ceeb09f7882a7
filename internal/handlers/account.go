package handlers

import (
	"net/http"

	"github.com/mrkniai/backend/internal/catalog"
	"github.com/mrkniai/backend/internal/models"
)

// AccountHandler reports the caller's tier, credits and reachable models.
type AccountHandler struct {
	Service GenerationService
}

type modelView struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Kind       models.GenerationKind `json:"kind"`
	Tier       models.Tier           `json:"tier"`
	Accessible bool                  `json:"accessible"`
}

// Account handles GET /api/v1/account.
func (h AccountHandler) Account(w http.ResponseWriter, r *http.Request) {
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
		respondError(ctx, w, http.StatusInternalServerError, "account service unavailable")
		return
	}

	acct, err := h.Service.Account(ctx, id.UserID)
	if err != nil {
		respondErr(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, acct)
}

// Models handles GET /api/v1/models?kind=.
func (h AccountHandler) Models(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	id, ok := identity(w, r)
	if !ok {
		return
	}

	kind := models.GenerationKind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		respondError(ctx, w, http.StatusBadRequest, "kind must be image or video")
		return
	}

	tier := models.TierFree
	if h.Service != nil {
		acct, err := h.Service.Account(ctx, id.UserID)
		if err != nil {
			respondErr(ctx, w, err)
			return
		}
		tier = acct.Tier
	}

	list := catalog.List(kind)
	views := make([]modelView, 0, len(list))
	for _, m := range list {
		views = append(views, modelView{
			ID:         m.ID,
			Name:       m.Name,
			Kind:       m.Kind,
			Tier:       m.Tier,
			Accessible: catalog.CanAccess(m.Tier, tier),
		})
	}
	respondJSON(ctx, w, http.StatusOK, map[string]any{"models": views})
}
