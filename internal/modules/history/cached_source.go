package history

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
)

// Store is the cache backend used by CachedSource
type Store interface {
	Load(ctx context.Context, ticker string) (*CachedSeries, error)
	Save(ctx context.Context, series *domain.PriceSeries, fetchedAt time.Time) error
}

// CachedSource serves fresh cache entries without fetching and falls back to
// a stale entry when the upstream fetch fails
type CachedSource struct {
	upstream  domain.SeriesSource
	store     Store
	sanitizer *Sanitizer
	ttl       time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewCachedSource wraps upstream with the cache
func NewCachedSource(upstream domain.SeriesSource, store Store, ttl time.Duration, log zerolog.Logger) *CachedSource {
	return &CachedSource{
		upstream:  upstream,
		store:     store,
		sanitizer: NewSanitizer(log),
		ttl:       ttl,
		now:       time.Now,
		log:       log.With().Str("component", "cached_source").Logger(),
	}
}

// Fetch implements domain.SeriesSource
func (c *CachedSource) Fetch(ctx context.Context, ticker string) (*domain.PriceSeries, error) {
	cached, err := c.store.Load(ctx, ticker)
	if err != nil && !errors.Is(err, ErrCacheMiss) {
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Price cache unreadable, fetching")
		cached = nil
	}
	if cached != nil && c.now().Sub(cached.FetchedAt) < c.ttl {
		return cached.Series, nil
	}

	series, fetchErr := c.upstream.Fetch(ctx, ticker)
	if fetchErr != nil {
		if cached != nil && !errors.Is(fetchErr, context.Canceled) {
			c.log.Warn().
				Err(fetchErr).
				Str("ticker", ticker).
				Time("fetched_at", cached.FetchedAt).
				Msg("Fetch failed, serving stale cache")
			return cached.Series, nil
		}
		return nil, fetchErr
	}

	series, repairs := c.sanitizer.Clean(series)
	if len(repairs) > 0 {
		c.log.Info().Str("ticker", ticker).Int("repairs", len(repairs)).Msg("Sanitised fetched bars")
	}
	if err := c.store.Save(ctx, series, c.now()); err != nil {
		// A failed write should not discard a good fetch
		c.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to cache series")
	}
	return series, nil
}
