// Package metrics exposes Prometheus instrumentation for analysis runs and
// the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Asset outcomes recorded per analysis run
const (
	OutcomeActionable = "actionable"
	OutcomeNoSignal   = "no_signal"
	OutcomeFailed     = "failed"
)

// Recorder owns a private registry so tests and multiple servers never clash
// on the global one
type Recorder struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	assetsProcessed *prometheus.CounterVec
	runDuration     prometheus.Histogram
	assetRisk       *prometheus.GaugeVec
	validationScore *prometheus.GaugeVec
	targetWeight    *prometheus.GaugeVec
	macroRisk       prometheus.Gauge
	fetchDuration   *prometheus.HistogramVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// New creates a recorder with process and Go runtime collectors attached
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskcycle_analysis_runs_total",
				Help: "Analysis runs by final status",
			},
			[]string{"status"},
		),
		assetsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskcycle_assets_processed_total",
				Help: "Assets processed by outcome",
			},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskcycle_analysis_duration_seconds",
				Help:    "Wall time of a full analysis run",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		assetRisk: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskcycle_asset_risk",
				Help: "Latest composite risk per risk ticker",
			},
			[]string{"ticker"},
		),
		validationScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskcycle_validation_score",
				Help: "Latest validation score per risk ticker",
			},
			[]string{"ticker"},
		),
		targetWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "riskcycle_target_weight",
				Help: "Latest normalized target weight per asset",
			},
			[]string{"ticker"},
		),
		macroRisk: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskcycle_macro_risk",
				Help: "Latest macro composite",
			},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskcycle_fetch_duration_seconds",
				Help:    "Price history fetch latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskcycle_http_requests_total",
				Help: "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "riskcycle_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.runsTotal,
		r.assetsProcessed,
		r.runDuration,
		r.assetRisk,
		r.validationScore,
		r.targetWeight,
		r.macroRisk,
		r.fetchDuration,
		r.httpRequests,
		r.httpDuration,
	)
	return r
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RunFinished records a completed run
func (r *Recorder) RunFinished(status string, took time.Duration) {
	r.runsTotal.WithLabelValues(status).Inc()
	r.runDuration.Observe(took.Seconds())
}

// AssetProcessed counts one asset outcome
func (r *Recorder) AssetProcessed(outcome string) {
	r.assetsProcessed.WithLabelValues(outcome).Inc()
}

// AssetRisk sets the latest composite risk for a ticker
func (r *Recorder) AssetRisk(ticker string, risk float64) {
	r.assetRisk.WithLabelValues(ticker).Set(risk)
}

// ValidationScore sets the latest validation score for a ticker
func (r *Recorder) ValidationScore(ticker string, score float64) {
	r.validationScore.WithLabelValues(ticker).Set(score)
}

// TargetWeight sets the latest target weight for an asset
func (r *Recorder) TargetWeight(ticker string, weight float64) {
	r.targetWeight.WithLabelValues(ticker).Set(weight)
}

// MacroRisk sets the macro composite
func (r *Recorder) MacroRisk(score float64) {
	r.macroRisk.Set(score)
}

// FetchObserved records one upstream fetch
func (r *Recorder) FetchObserved(ok bool, took time.Duration) {
	status := "ok"
	if !ok {
		status = "error"
	}
	r.fetchDuration.WithLabelValues(status).Observe(took.Seconds())
}

// Middleware records request counts and latency labelled by chi route pattern
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, req)

		route := req.URL.Path
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		r.httpRequests.WithLabelValues(route, req.Method, strconv.Itoa(rw.status)).Inc()
		r.httpDuration.WithLabelValues(route, req.Method).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
