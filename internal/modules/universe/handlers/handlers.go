// Package handlers provides HTTP handlers for the asset registry.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/universe"
)

// Handler handles asset registry HTTP requests
type Handler struct {
	repo *universe.Repository
	log  zerolog.Logger
}

// NewHandler creates a new asset registry handler
func NewHandler(repo *universe.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "universe").Logger(),
	}
}

// RegisterRoutes registers all asset registry routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/assets", func(r chi.Router) {
		r.Get("/", h.HandleGetAssets)
		r.Get("/{ticker}", h.HandleGetAsset)
		r.Put("/{ticker}", h.HandleUpsertAsset)
		r.Delete("/{ticker}", h.HandleDeleteAsset)
	})
}

// HandleGetAssets handles GET /api/assets
func (h *Handler) HandleGetAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.repo.GetAll(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load assets")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if assets == nil {
		assets = []domain.AssetConfig{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": assets,
		"metadata": map[string]interface{}{
			"count":     len(assets),
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

// HandleGetAsset handles GET /api/assets/{ticker}
func (h *Handler) HandleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.repo.GetByTicker(r.Context(), chi.URLParam(r, "ticker"))
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": asset})
}

// HandleUpsertAsset handles PUT /api/assets/{ticker}
// The ticker in the path wins over any ticker in the body
func (h *Handler) HandleUpsertAsset(w http.ResponseWriter, r *http.Request) {
	var asset domain.AssetConfig
	if err := json.NewDecoder(r.Body).Decode(&asset); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	asset.Ticker = chi.URLParam(r, "ticker")

	if err := h.repo.Upsert(r.Context(), asset); err != nil {
		h.writeRepoError(w, err)
		return
	}

	saved, err := h.repo.GetByTicker(r.Context(), asset.Ticker)
	if err != nil {
		h.writeRepoError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": saved})
}

// HandleDeleteAsset handles DELETE /api/assets/{ticker}
func (h *Handler) HandleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Delete(r.Context(), chi.URLParam(r, "ticker")); err != nil {
		h.writeRepoError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, universe.ErrAssetNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidAssetConfig):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg("Asset registry operation failed")
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
