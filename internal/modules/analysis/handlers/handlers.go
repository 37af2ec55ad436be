// Package handlers provides HTTP handlers for analysis runs and signals.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/clients/yahoo"
	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/analysis"
	"github.com/aristath/riskcycle/internal/modules/backtest"
)

// Service is the analysis surface used by the handlers
type Service interface {
	Start(ctx context.Context) error
	LatestReport(ctx context.Context) (*analysis.Report, error)
	LatestRun(ctx context.Context) (*analysis.Report, error)
	GetRun(ctx context.Context, id string) (*analysis.Report, error)
	ListRuns(ctx context.Context, limit int) ([]analysis.RunSummary, error)
	Backtest(ctx context.Context, ticker string, tier domain.Tier, years int) (*backtest.Result, error)
	ValidationReport(ctx context.Context, ticker string) (string, error)
}

// Handler handles analysis HTTP requests
type Handler struct {
	service Service
	log     zerolog.Logger
}

// NewHandler creates a new analysis handler
func NewHandler(service Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "analysis").Logger(),
	}
}

// RegisterRoutes registers all analysis routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/signals", func(r chi.Router) {
		r.Get("/", h.HandleGetSignals)
		r.Get("/{ticker}", h.HandleGetSignal)
	})
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", h.HandleListRuns)
		r.Post("/", h.HandleStartRun)
		r.Get("/latest", h.HandleGetLatestRun)
		r.Get("/{id}", h.HandleGetRun)
	})
	r.Get("/macro", h.HandleGetMacro)
	r.Get("/backtest/{ticker}", h.HandleBacktest)
	r.Get("/validation/{ticker}", h.HandleValidationReport)
}

// HandleGetSignals handles GET /api/signals
// Returns actionable and no-signal buckets of the latest run
func (h *Handler) HandleGetSignals(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.LatestReport(r.Context())
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"run_id":     report.ID,
		"as_of":      report.FinishedAt,
		"gate":       report.Gate,
		"actionable": nonNil(report.Actionable),
		"no_signal":  nonNil(report.NoSignal),
	})
}

// HandleGetSignal handles GET /api/signals/{ticker}
func (h *Handler) HandleGetSignal(w http.ResponseWriter, r *http.Request) {
	ticker := tickerParam(r)
	report, err := h.service.LatestReport(r.Context())
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	sig, ok := report.Signal(ticker)
	if !ok {
		h.writeError(w, http.StatusNotFound, "ticker not in latest run")
		return
	}
	h.writeData(w, http.StatusOK, map[string]interface{}{
		"signal":  sig,
		"outcome": report.Outcomes[ticker],
	})
}

// HandleStartRun handles POST /api/runs
// Starts a background pass; 409 when one is already running
func (h *Handler) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Start(r.Context()); err != nil {
		if errors.Is(err, analysis.ErrRunInProgress) {
			h.writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Failed to start analysis run")
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeData(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleListRuns handles GET /api/runs?limit=
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.service.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, nonNil(runs))
}

// HandleGetLatestRun handles GET /api/runs/latest
func (h *Handler) HandleGetLatestRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.LatestRun(r.Context())
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, report)
}

// HandleGetRun handles GET /api/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	h.writeData(w, http.StatusOK, report)
}

// HandleGetMacro handles GET /api/macro
func (h *Handler) HandleGetMacro(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.LatestReport(r.Context())
	if err != nil {
		h.writeRunError(w, err)
		return
	}
	if report.Macro == nil {
		h.writeError(w, http.StatusNotFound, "no macro score in latest run")
		return
	}
	h.writeData(w, http.StatusOK, report.Macro)
}

// HandleBacktest handles GET /api/backtest/{ticker}?years=&tier=
func (h *Handler) HandleBacktest(w http.ResponseWriter, r *http.Request) {
	ticker := tickerParam(r)
	tier := domain.Tier(strings.ToUpper(r.URL.Query().Get("tier")))
	if tier == "" {
		tier = domain.TierCore
		if strings.HasSuffix(ticker, "-USD") {
			tier = domain.TierCrypto
		}
	}
	if !tier.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown tier")
		return
	}
	years := 0
	if raw := r.URL.Query().Get("years"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			h.writeError(w, http.StatusBadRequest, "years must be a non-negative integer")
			return
		}
		years = v
	}

	result, err := h.service.Backtest(r.Context(), ticker, tier, years)
	if err != nil {
		h.writeFetchError(w, ticker, err)
		return
	}
	h.writeData(w, http.StatusOK, result)
}

// HandleValidationReport handles GET /api/validation/{ticker}
// Returns the plain-text operator report
func (h *Handler) HandleValidationReport(w http.ResponseWriter, r *http.Request) {
	ticker := tickerParam(r)
	report, err := h.service.ValidationReport(r.Context(), ticker)
	if err != nil {
		h.writeFetchError(w, ticker, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(report))
}

func tickerParam(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func (h *Handler) writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, analysis.ErrRunNotFound) {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	h.log.Error().Err(err).Msg("Failed to load analysis run")
	h.writeError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) writeFetchError(w http.ResponseWriter, ticker string, err error) {
	switch {
	case errors.Is(err, yahoo.ErrTickerNotFound), errors.Is(err, domain.ErrNoData):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, backtest.ErrInsufficientRows), errors.Is(err, domain.ErrInsufficientHistory):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.log.Warn().Err(err).Str("ticker", ticker).Msg("Ticker inspection failed")
		h.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *Handler) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().Format(time.RFC3339),
		},
	})
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
