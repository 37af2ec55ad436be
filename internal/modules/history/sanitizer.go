package history

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
)

const (
	// A close more than spikeMultiplier times both neighbours (or below their
	// inverse) that reverts the next day is treated as a bad print
	spikeMultiplier = 10.0
)

// Repair records a change made to a bar
type Repair struct {
	Date          string  `json:"date"`
	OriginalClose float64 `json:"original_close"`
	RepairedClose float64 `json:"repaired_close"`
	Method        string  `json:"method"`
	Reason        string  `json:"reason"`
}

// Sanitizer fixes inconsistent OHLC values and one-day bad prints
type Sanitizer struct {
	log zerolog.Logger
}

// NewSanitizer creates a bar sanitizer
func NewSanitizer(log zerolog.Logger) *Sanitizer {
	return &Sanitizer{
		log: log.With().Str("component", "sanitizer").Logger(),
	}
}

// Clean returns a repaired copy of the series. Bars with a non-positive or
// undefined close are dropped.
func (s *Sanitizer) Clean(series *domain.PriceSeries) (*domain.PriceSeries, []Repair) {
	repairs := []Repair{}
	bars := make([]domain.Bar, 0, series.Len())
	for _, b := range series.Bars {
		if math.IsNaN(b.Close) || b.Close <= 0 {
			repairs = append(repairs, Repair{
				Date:          b.Date.Format("2006-01-02"),
				OriginalClose: b.Close,
				Method:        "dropped",
				Reason:        "invalid_close",
			})
			continue
		}
		bars = append(bars, b)
	}

	for i := 1; i+1 < len(bars); i++ {
		prev, cur, next := bars[i-1].Close, bars[i].Close, bars[i+1].Close
		reason := ""
		switch {
		case cur > prev*spikeMultiplier && cur > next*spikeMultiplier:
			reason = "spike_detected"
		case cur < prev/spikeMultiplier && cur < next/spikeMultiplier:
			reason = "crash_detected"
		}
		if reason == "" {
			continue
		}
		repaired := interpolate(bars[i-1], bars[i], bars[i+1])
		repairs = append(repairs, Repair{
			Date:          bars[i].Date.Format("2006-01-02"),
			OriginalClose: cur,
			RepairedClose: repaired.Close,
			Method:        "linear",
			Reason:        reason,
		})
		s.log.Warn().
			Str("ticker", series.Ticker).
			Str("date", bars[i].Date.Format("2006-01-02")).
			Float64("original_close", cur).
			Float64("interpolated_close", repaired.Close).
			Str("reason", reason).
			Msg("Interpolated abnormal price")
		bars[i] = repaired
	}

	for i := range bars {
		before := bars[i]
		ensureOHLCConsistency(&bars[i])
		if bars[i].Open != before.Open || bars[i].High != before.High || bars[i].Low != before.Low {
			repairs = append(repairs, Repair{
				Date:          bars[i].Date.Format("2006-01-02"),
				OriginalClose: before.Close,
				RepairedClose: bars[i].Close,
				Method:        "clamp",
				Reason:        "ohlc_inconsistent",
			})
		}
	}

	return &domain.PriceSeries{Ticker: series.Ticker, Bars: bars, HasVolume: series.HasVolume}, repairs
}

// interpolate places the bar on the line between its neighbours, keeping the
// neighbours' average intraday shape
func interpolate(before, bar, after domain.Bar) domain.Bar {
	out := bar
	span := after.Date.Sub(before.Date).Hours()
	frac := 0.5
	if span > 0 {
		frac = bar.Date.Sub(before.Date).Hours() / span
	}
	out.Close = before.Close + (after.Close-before.Close)*frac

	ratio := func(a, b float64) float64 { return (a/before.Close + b/after.Close) / 2 }
	out.Open = out.Close * ratio(before.Open, after.Open)
	out.High = out.Close * ratio(before.High, after.High)
	out.Low = out.Close * ratio(before.Low, after.Low)
	ensureOHLCConsistency(&out)
	return out
}

func ensureOHLCConsistency(b *domain.Bar) {
	if math.IsNaN(b.Open) {
		b.Open = b.Close
	}
	if math.IsNaN(b.High) {
		b.High = b.Close
	}
	if math.IsNaN(b.Low) {
		b.Low = b.Close
	}
	b.High = math.Max(b.High, math.Max(b.Open, b.Close))
	b.Low = math.Min(b.Low, math.Min(b.Open, b.Close))
}
