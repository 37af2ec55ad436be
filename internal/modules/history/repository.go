// Package history caches fetched price series and sanitises raw bars.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/riskcycle/internal/domain"
)

// ErrCacheMiss means no series is cached for the ticker
var ErrCacheMiss = errors.New("series not cached")

// CachedSeries is a stored series with its fetch time
type CachedSeries struct {
	Series    *domain.PriceSeries
	FetchedAt time.Time
}

// Repository stores price series as msgpack blobs
// Database: history.db (price_cache table)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new price cache repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "price_cache").Logger(),
	}
}

// Save replaces the cached series for its ticker
func (r *Repository) Save(ctx context.Context, series *domain.PriceSeries, fetchedAt time.Time) error {
	blob, err := msgpack.Marshal(series.Bars)
	if err != nil {
		return fmt.Errorf("failed to encode bars for %s: %w", series.Ticker, err)
	}

	var first, last sql.NullInt64
	if n := series.Len(); n > 0 {
		first = sql.NullInt64{Int64: series.Bars[0].Date.Unix(), Valid: true}
		last = sql.NullInt64{Int64: series.Bars[n-1].Date.Unix(), Valid: true}
	}

	query := `
		INSERT INTO price_cache (ticker, bars, bar_count, has_volume, first_date, last_date, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			bars = excluded.bars,
			bar_count = excluded.bar_count,
			has_volume = excluded.has_volume,
			first_date = excluded.first_date,
			last_date = excluded.last_date,
			fetched_at = excluded.fetched_at
	`
	hasVolume := 0
	if series.HasVolume {
		hasVolume = 1
	}
	if _, err := r.db.ExecContext(ctx, query, series.Ticker, blob, series.Len(), hasVolume, first, last, fetchedAt.Unix()); err != nil {
		return fmt.Errorf("failed to save price cache for %s: %w", series.Ticker, err)
	}

	r.log.Debug().
		Str("ticker", series.Ticker).
		Int("bars", series.Len()).
		Int("bytes", len(blob)).
		Msg("Price series cached")
	return nil
}

// Load returns the cached series, ErrCacheMiss when absent
func (r *Repository) Load(ctx context.Context, ticker string) (*CachedSeries, error) {
	var (
		blob      []byte
		hasVolume int
		fetchedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		"SELECT bars, has_volume, fetched_at FROM price_cache WHERE ticker = ?", ticker,
	).Scan(&blob, &hasVolume, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", ticker, ErrCacheMiss)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load price cache for %s: %w", ticker, err)
	}

	var bars []domain.Bar
	if err := msgpack.Unmarshal(blob, &bars); err != nil {
		return nil, fmt.Errorf("failed to decode bars for %s: %w", ticker, err)
	}
	for i := range bars {
		bars[i].Date = bars[i].Date.UTC()
	}

	series, err := domain.NewPriceSeries(ticker, bars, hasVolume == 1)
	if err != nil {
		return nil, err
	}
	return &CachedSeries{Series: series, FetchedAt: time.Unix(fetchedAt, 0).UTC()}, nil
}

// Delete drops the cached series for a ticker
func (r *Repository) Delete(ctx context.Context, ticker string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM price_cache WHERE ticker = ?", ticker); err != nil {
		return fmt.Errorf("failed to delete price cache for %s: %w", ticker, err)
	}
	return nil
}

// PurgeOlderThan removes entries fetched before cutoff
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM price_cache WHERE fetched_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge price cache: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
