package domain

import "context"

// SeriesSource supplies daily price history for a ticker. Implementations
// return ErrNoData (possibly wrapped) when the ticker has no history.
type SeriesSource interface {
	Fetch(ctx context.Context, ticker string) (*PriceSeries, error)
}
