// Package yahoo provides a daily price history client for the Yahoo Finance
// chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/aristath/riskcycle/internal/domain"
)

// DefaultBaseURL is the public chart API host
const DefaultBaseURL = "https://query1.finance.yahoo.com"

// ErrTickerNotFound is returned when Yahoo answers 404 for a ticker
var ErrTickerNotFound = errors.New("ticker not found")

// Config tunes the client
type Config struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RequestsPerSec  float64       `yaml:"requests_per_sec"`
	Burst           int           `yaml:"burst"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerOpenFor  time.Duration `yaml:"breaker_open_for"`
	UserAgent       string        `yaml:"user_agent"`
}

// DefaultConfig returns two requests per second and a breaker that opens
// after five consecutive failures
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Timeout:         30 * time.Second,
		RequestsPerSec:  2,
		Burst:           2,
		BreakerFailures: 5,
		BreakerOpenFor:  60 * time.Second,
		UserAgent:       "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
	}
}

// Client fetches full daily history per ticker
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewClient creates a new Yahoo chart client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}

	c := &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     log.With().Str("client", "yahoo").Logger(),
	}

	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "yahoo",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A missing ticker is an answer, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrTickerNotFound) ||
				errors.Is(err, domain.ErrNoData) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	return c
}

// BreakerState reports the circuit breaker state
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Fetch implements domain.SeriesSource. It requests the full daily history
// with dividend and split adjustment applied.
func (c *Client) Fetch(ctx context.Context, ticker string) (*domain.PriceSeries, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchChart(ctx, ticker)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("yahoo unavailable for %s: %w", ticker, err)
		}
		return nil, err
	}

	result := out.(*chartResult)
	series, err := toSeries(ticker, result)
	if err != nil {
		return nil, err
	}

	c.log.Debug().
		Str("ticker", ticker).
		Int("bars", series.Len()).
		Bool("has_volume", series.HasVolume).
		Dur("took", time.Since(start)).
		Msg("Fetched price history")
	return series, nil
}

func (c *Client) fetchChart(ctx context.Context, ticker string) (*chartResult, error) {
	params := url.Values{}
	params.Add("range", "max")
	params.Add("interval", "1d")
	params.Add("events", "div,split")
	reqURL := strings.TrimRight(c.cfg.BaseURL, "/") + "/v8/finance/chart/" + url.PathEscape(ticker) + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chart for %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", ticker, ErrTickerNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("Yahoo Finance API returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if payload.Chart.Error != nil {
		if payload.Chart.Error.Code == "Not Found" {
			return nil, fmt.Errorf("%s: %w", ticker, ErrTickerNotFound)
		}
		return nil, fmt.Errorf("Yahoo Finance API error: %s: %s", payload.Chart.Error.Code, payload.Chart.Error.Description)
	}
	if len(payload.Chart.Result) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, domain.ErrNoData)
	}
	return &payload.Chart.Result[0], nil
}

// toSeries converts a chart result into adjusted daily bars. Days with a null
// close are skipped. Dates collapse to midnight UTC and the last print for a
// day wins.
func toSeries(ticker string, r *chartResult) (*domain.PriceSeries, error) {
	if len(r.Indicators.Quote) == 0 || len(r.Timestamp) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, domain.ErrNoData)
	}
	q := r.Indicators.Quote[0]
	var adj []*float64
	if len(r.Indicators.AdjClose) > 0 {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]domain.Bar, 0, len(r.Timestamp))
	sawVolume := false
	for i, ts := range r.Timestamp {
		closePx := at(q.Close, i)
		if math.IsNaN(closePx) || closePx <= 0 {
			continue
		}
		factor := 1.0
		if a := at(adj, i); !math.IsNaN(a) && a > 0 {
			factor = a / closePx
		}

		high := orDefault(at(q.High, i), closePx)
		low := orDefault(at(q.Low, i), closePx)
		open := orDefault(at(q.Open, i), closePx)
		vol := at(q.Volume, i)
		if !math.IsNaN(vol) && vol > 0 {
			sawVolume = true
		}

		t := time.Unix(ts, 0).UTC()
		bar := domain.Bar{
			Date:   time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC),
			Open:   open * factor,
			High:   high * factor,
			Low:    low * factor,
			Close:  closePx * factor,
			Volume: vol,
		}
		if n := len(bars); n > 0 && !bar.Date.After(bars[n-1].Date) {
			if bar.Date.Equal(bars[n-1].Date) {
				bars[n-1] = bar
			}
			continue
		}
		bars = append(bars, bar)
	}

	if len(bars) == 0 {
		return nil, fmt.Errorf("%s: %w", ticker, domain.ErrNoData)
	}
	if !sawVolume {
		for i := range bars {
			bars[i].Volume = math.NaN()
		}
	}
	return domain.NewPriceSeries(ticker, bars, sawVolume)
}

func at(values []*float64, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return math.NaN()
	}
	return *values[i]
}

func orDefault(v, fallback float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return fallback
	}
	return v
}
