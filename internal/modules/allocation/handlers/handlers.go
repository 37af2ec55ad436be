// Package handlers provides HTTP handlers for portfolio allocation.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/allocation"
)

// AllocationSource provides the most recent allocation and the universe it
// was computed for
type AllocationSource interface {
	LatestAllocation(ctx context.Context) (*allocation.Allocation, []domain.AssetConfig, error)
}

// Handler handles allocation HTTP requests
type Handler struct {
	source AllocationSource
	log    zerolog.Logger
}

// NewHandler creates a new allocation handler
func NewHandler(source AllocationSource, log zerolog.Logger) *Handler {
	return &Handler{
		source: source,
		log:    log.With().Str("handler", "allocation").Logger(),
	}
}

// RegisterRoutes registers all allocation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/allocation", func(r chi.Router) {
		r.Get("/", h.HandleGetAllocation)
		r.Post("/plan", h.HandlePlan)
	})
}

// HandleGetAllocation handles GET /api/allocation
// Returns per-asset decisions and the tier breakdown of the latest run
func (h *Handler) HandleGetAllocation(w http.ResponseWriter, r *http.Request) {
	alloc, assets, err := h.source.LatestAllocation(r.Context())
	if err != nil {
		h.writeSourceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{
			"assets":     alloc.Assets,
			"weights":    alloc.Weights,
			"tiers":      allocation.CalculateTierAllocation(assets, alloc.Weights),
			"macro_risk": alloc.MacroRisk,
			"degenerate": alloc.Degenerate,
		},
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

type planRequest struct {
	Holdings      map[string]float64 `json:"holdings"`
	TotalValue    float64            `json:"total_value"`
	CashInjection float64            `json:"cash_injection"`
	MinTradeValue float64            `json:"min_trade_value"`
}

// HandlePlan handles POST /api/allocation/plan
// Turns current holdings plus new cash into trades towards the latest target
// weights, skipping buys of high-risk assets
func (h *Handler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CashInjection < 0 {
		h.writeError(w, http.StatusBadRequest, "cash_injection must not be negative")
		return
	}

	current := req.TotalValue
	if current <= 0 {
		for _, v := range req.Holdings {
			current += v
		}
	}
	if current+req.CashInjection <= 0 {
		h.writeError(w, http.StatusBadRequest, "total_value must be positive")
		return
	}

	alloc, assets, err := h.source.LatestAllocation(r.Context())
	if err != nil {
		h.writeSourceError(w, err)
		return
	}

	risks := make(map[string]float64, len(alloc.Assets))
	for _, a := range alloc.Assets {
		if a.Risk != nil && a.Action != allocation.ActionCash {
			risks[a.Ticker] = *a.Risk
		}
	}

	plan := allocation.BuildExecutionPlan(allocation.PlanInput{
		Holdings:      req.Holdings,
		TotalValue:    current,
		CashInjection: req.CashInjection,
		Targets:       alloc.Weights,
		Risks:         risks,
		Assets:        assets,
		MinTrade:      req.MinTradeValue,
	})
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": plan,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
}

func (h *Handler) writeSourceError(w http.ResponseWriter, err error) {
	if errors.Is(err, allocation.ErrNoAllocation) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.log.Error().Err(err).Msg("Failed to load allocation")
	h.writeError(w, http.StatusInternalServerError, err.Error())
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
