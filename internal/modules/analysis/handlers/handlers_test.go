package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcycle/internal/clients/yahoo"
	"github.com/aristath/riskcycle/internal/domain"
	"github.com/aristath/riskcycle/internal/modules/analysis"
	"github.com/aristath/riskcycle/internal/modules/backtest"
	"github.com/aristath/riskcycle/internal/modules/macro"
)

type stubService struct {
	report   *analysis.Report
	err      error
	startErr error
	started  int

	backtestTier  domain.Tier
	backtestYears int
	fetchErr      error
}

func (s *stubService) Start(context.Context) error {
	s.started++
	return s.startErr
}

func (s *stubService) LatestReport(context.Context) (*analysis.Report, error) {
	return s.report, s.err
}

func (s *stubService) LatestRun(context.Context) (*analysis.Report, error) {
	return s.report, s.err
}

func (s *stubService) GetRun(_ context.Context, id string) (*analysis.Report, error) {
	if s.report == nil || s.report.ID != id {
		return nil, analysis.ErrRunNotFound
	}
	return s.report, nil
}

func (s *stubService) ListRuns(context.Context, int) ([]analysis.RunSummary, error) {
	return nil, s.err
}

func (s *stubService) Backtest(_ context.Context, ticker string, tier domain.Tier, years int) (*backtest.Result, error) {
	s.backtestTier, s.backtestYears = tier, years
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return &backtest.Result{Ticker: ticker, Tier: tier}, nil
}

func (s *stubService) ValidationReport(_ context.Context, ticker string) (string, error) {
	if s.fetchErr != nil {
		return "", s.fetchErr
	}
	return "VALIDATION REPORT: " + ticker, nil
}

func newRouter(svc Service) *chi.Mux {
	router := chi.NewRouter()
	NewHandler(svc, zerolog.Nop()).RegisterRoutes(router)
	return router
}

func do(router http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func latestReport() *analysis.Report {
	score := 75
	return &analysis.Report{
		ID:         "run-1",
		Gate:       60,
		Actionable: []analysis.Signal{{Ticker: "BTC-USD", Bucket: analysis.BucketActionable, ValidationScore: &score}},
		NoSignal:   []analysis.Signal{{Ticker: "GC=F", Bucket: analysis.BucketNoSignal, Reason: "Fetch Failure: timeout"}},
		Outcomes: map[string]domain.Outcome[analysis.AssetResult]{
			"GC=F": domain.Unavailable[analysis.AssetResult]("Fetch Failure: timeout"),
		},
		Macro: &macro.Score{Composite: 0.61, Status: "HIGH"},
	}
}

func TestHandleGetSignals(t *testing.T) {
	router := newRouter(&stubService{report: latestReport()})

	rec := do(router, http.MethodGet, "/signals/")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Actionable []analysis.Signal `json:"actionable"`
			NoSignal   []analysis.Signal `json:"no_signal"`
			Gate       float64           `json:"gate"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Data.Actionable, 1)
	require.Len(t, body.Data.NoSignal, 1)
	assert.Equal(t, "Fetch Failure: timeout", body.Data.NoSignal[0].Reason)
	assert.Equal(t, 60.0, body.Data.Gate)
}

func TestHandleGetSignal(t *testing.T) {
	router := newRouter(&stubService{report: latestReport()})

	tests := []struct {
		target string
		status int
	}{
		{"/signals/btc-usd", http.StatusOK},
		{"/signals/GC=F", http.StatusOK},
		{"/signals/ETH-USD", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.status, do(router, http.MethodGet, tt.target).Code)
		})
	}
}

func TestHandleGetSignals_NoRunYet(t *testing.T) {
	router := newRouter(&stubService{err: analysis.ErrRunNotFound})

	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/signals/").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/macro").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/runs/latest").Code)
}

func TestHandleStartRun(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc)

	assert.Equal(t, http.StatusAccepted, do(router, http.MethodPost, "/runs/").Code)
	assert.Equal(t, 1, svc.started)

	svc.startErr = analysis.ErrRunInProgress
	assert.Equal(t, http.StatusConflict, do(router, http.MethodPost, "/runs/").Code)
}

func TestHandleGetRun(t *testing.T) {
	router := newRouter(&stubService{report: latestReport()})

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/runs/run-1").Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/runs/run-2").Code)
}

func TestHandleGetMacro(t *testing.T) {
	router := newRouter(&stubService{report: latestReport()})

	rec := do(router, http.MethodGet, "/macro")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data macro.Score `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "HIGH", body.Data.Status)
}

func TestHandleBacktest(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		fetchErr  error
		status    int
		wantTier  domain.Tier
		wantYears int
	}{
		{name: "crypto default tier", target: "/backtest/BTC-USD", status: http.StatusOK, wantTier: domain.TierCrypto},
		{name: "explicit tier and years", target: "/backtest/VWCE?tier=core&years=3", status: http.StatusOK, wantTier: domain.TierCore, wantYears: 3},
		{name: "bad tier", target: "/backtest/VWCE?tier=moon", status: http.StatusBadRequest},
		{name: "bad years", target: "/backtest/VWCE?years=-1", status: http.StatusBadRequest},
		{name: "unknown ticker", target: "/backtest/NOPE", fetchErr: fmt.Errorf("NOPE: %w", yahoo.ErrTickerNotFound), status: http.StatusNotFound},
		{name: "short history", target: "/backtest/NEW", fetchErr: backtest.ErrInsufficientRows, status: http.StatusUnprocessableEntity},
		{name: "upstream down", target: "/backtest/VWCE", fetchErr: fmt.Errorf("503"), status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{fetchErr: tt.fetchErr}
			rec := do(newRouter(svc), http.MethodGet, tt.target)
			require.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.wantTier, svc.backtestTier)
				assert.Equal(t, tt.wantYears, svc.backtestYears)
			}
		})
	}
}

func TestHandleValidationReport(t *testing.T) {
	rec := do(newRouter(&stubService{}), http.MethodGet, "/validation/gc=f")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "VALIDATION REPORT: GC=F", rec.Body.String())
}
