package history

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskcycle/internal/database"
	"github.com/aristath/riskcycle/internal/domain"
	testutil "github.com/aristath/riskcycle/internal/testing"
)

func newRepo(t *testing.T) *Repository {
	db := testutil.NewTestDB(t, database.NameHistory)
	return NewRepository(db.Conn(), zerolog.Nop())
}

func TestRepository_RoundTrip(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	for _, withVolume := range []bool{true, false} {
		series := testutil.RandomWalkSeries(t, "BTC-USD", 300, 1, withVolume)
		fetched := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, repo.Save(ctx, series, fetched))

		got, err := repo.Load(ctx, "BTC-USD")
		require.NoError(t, err)
		assert.Equal(t, withVolume, got.Series.HasVolume)
		assert.True(t, fetched.Equal(got.FetchedAt))
		require.Equal(t, series.Len(), got.Series.Len())
		for i, b := range series.Bars {
			g := got.Series.Bars[i]
			assert.True(t, b.Date.Equal(g.Date))
			assert.Equal(t, b.Close, g.Close)
			assert.Equal(t, b.High, g.High)
			if withVolume {
				assert.Equal(t, b.Volume, g.Volume)
			} else {
				assert.True(t, math.IsNaN(g.Volume))
			}
		}
	}
}

func TestRepository_MissAndPurge(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	_, err := repo.Load(ctx, "NONE")
	assert.True(t, errors.Is(err, ErrCacheMiss))

	series := testutil.RandomWalkSeries(t, "OLD", 10, 2, true)
	require.NoError(t, repo.Save(ctx, series, time.Now().Add(-48*time.Hour)))
	n, err := repo.PurgeOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type fakeUpstream struct {
	series *domain.PriceSeries
	err    error
	calls  int
}

func (f *fakeUpstream) Fetch(context.Context, string) (*domain.PriceSeries, error) {
	f.calls++
	return f.series, f.err
}

func TestCachedSource(t *testing.T) {
	ctx := context.Background()
	series := testutil.RandomWalkSeries(t, "ETH-USD", 50, 3, true)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("fresh cache skips upstream", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, series, now.Add(-time.Hour)))
		up := &fakeUpstream{err: errors.New("should not be called")}
		src := NewCachedSource(up, repo, 6*time.Hour, zerolog.Nop())
		src.now = func() time.Time { return now }

		got, err := src.Fetch(ctx, "ETH-USD")
		require.NoError(t, err)
		assert.Equal(t, 50, got.Len())
		assert.Equal(t, 0, up.calls)
	})

	t.Run("stale cache refreshed from upstream", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, series.Truncate(20), now.Add(-24*time.Hour)))
		up := &fakeUpstream{series: series}
		src := NewCachedSource(up, repo, 6*time.Hour, zerolog.Nop())
		src.now = func() time.Time { return now }

		got, err := src.Fetch(ctx, "ETH-USD")
		require.NoError(t, err)
		assert.Equal(t, 50, got.Len())
		assert.Equal(t, 1, up.calls)

		cached, err := repo.Load(ctx, "ETH-USD")
		require.NoError(t, err)
		assert.Equal(t, 50, cached.Series.Len())
		assert.True(t, now.Equal(cached.FetchedAt))
	})

	t.Run("fetch failure serves stale copy", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Save(ctx, series, now.Add(-24*time.Hour)))
		src := NewCachedSource(&fakeUpstream{err: errors.New("boom")}, repo, time.Hour, zerolog.Nop())
		src.now = func() time.Time { return now }

		got, err := src.Fetch(ctx, "ETH-USD")
		require.NoError(t, err)
		assert.Equal(t, 50, got.Len())
	})

	t.Run("fetch failure without cache propagates", func(t *testing.T) {
		src := NewCachedSource(&fakeUpstream{err: domain.ErrNoData}, newRepo(t), time.Hour, zerolog.Nop())

		_, err := src.Fetch(ctx, "ETH-USD")
		assert.True(t, errors.Is(err, domain.ErrNoData))
	})
}

func TestSanitizer_Clean(t *testing.T) {
	closes := []float64{100, 101, 2000, 103, 104, -1, 105}
	series := testutil.SeriesFromCloses(t, "X", closes, true)
	series.Bars[4].High = 90 // below close

	cleaned, repairs := NewSanitizer(zerolog.Nop()).Clean(series)

	require.Equal(t, 6, cleaned.Len())
	assert.InDelta(t, 102, cleaned.Bars[2].Close, 1e-9)
	assert.GreaterOrEqual(t, cleaned.Bars[4].High, cleaned.Bars[4].Close)

	reasons := map[string]bool{}
	for _, r := range repairs {
		reasons[r.Reason] = true
	}
	assert.True(t, reasons["invalid_close"])
	assert.True(t, reasons["spike_detected"])
	assert.True(t, reasons["ohlc_inconsistent"])
	assert.Equal(t, 101.0, series.Bars[1].Close, "input is not modified")
}
