// Package universe manages the configured asset registry.
package universe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskcycle/internal/domain"
)

// ErrAssetNotFound means no asset is registered under the ticker
var ErrAssetNotFound = errors.New("asset not found")

// assetColumns is the list of columns for the assets table
const assetColumns = `ticker, tier, proxy, base_weight, min_weight, max_weight,
exit_threshold, reduce_threshold, moonbag_fraction, est_yield, custody`

// Repository handles asset registry database operations
// Database: state.db (assets table)
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new asset repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "assets").Logger(),
	}
}

// GetAll returns every registered asset ordered by tier then ticker
func (r *Repository) GetAll(ctx context.Context) ([]domain.AssetConfig, error) {
	query := "SELECT " + assetColumns + " FROM assets ORDER BY tier, ticker"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var assets []domain.AssetConfig
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}

	return assets, nil
}

// GetByTicker returns one asset
func (r *Repository) GetByTicker(ctx context.Context, ticker string) (*domain.AssetConfig, error) {
	query := "SELECT " + assetColumns + " FROM assets WHERE ticker = ?"

	rows, err := r.db.QueryContext(ctx, query, normalizeTicker(ticker))
	if err != nil {
		return nil, fmt.Errorf("failed to query asset by ticker: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating assets: %w", err)
		}
		return nil, fmt.Errorf("%s: %w", ticker, ErrAssetNotFound)
	}

	asset, err := scanAsset(rows)
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// Upsert validates and inserts or updates an asset
func (r *Repository) Upsert(ctx context.Context, asset domain.AssetConfig) error {
	asset.Ticker = normalizeTicker(asset.Ticker)
	asset.Proxy = normalizeTicker(asset.Proxy)
	if err := asset.Validate(); err != nil {
		return err
	}

	return r.upsert(ctx, r.db, asset, time.Now().Unix())
}

// ReplaceAll upserts every asset in one transaction. Nothing is written
// unless all assets validate.
func (r *Repository) ReplaceAll(ctx context.Context, assets []domain.AssetConfig) error {
	for i := range assets {
		assets[i].Ticker = normalizeTicker(assets[i].Ticker)
		assets[i].Proxy = normalizeTicker(assets[i].Proxy)
		if err := assets[i].Validate(); err != nil {
			return err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, a := range assets {
		if err := r.upsert(ctx, tx, a, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assets: %w", err)
	}

	r.log.Info().Int("count", len(assets)).Msg("Asset registry updated")
	return nil
}

// Delete removes an asset
func (r *Repository) Delete(ctx context.Context, ticker string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM assets WHERE ticker = ?", normalizeTicker(ticker))
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", ticker, ErrAssetNotFound)
	}
	r.log.Debug().Str("ticker", ticker).Msg("Asset deleted")
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *Repository) upsert(ctx context.Context, db execer, a domain.AssetConfig, now int64) error {
	query := `
		INSERT INTO assets (ticker, tier, proxy, base_weight, min_weight, max_weight,
			exit_threshold, reduce_threshold, moonbag_fraction, est_yield, custody, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			tier = excluded.tier,
			proxy = excluded.proxy,
			base_weight = excluded.base_weight,
			min_weight = excluded.min_weight,
			max_weight = excluded.max_weight,
			exit_threshold = excluded.exit_threshold,
			reduce_threshold = excluded.reduce_threshold,
			moonbag_fraction = excluded.moonbag_fraction,
			est_yield = excluded.est_yield,
			custody = excluded.custody,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		a.Ticker, string(a.Tier), nullString(a.Proxy),
		a.BaseWeight, a.MinWeight, a.MaxWeight,
		a.ExitThreshold, a.ReduceThreshold, a.MoonbagFraction,
		a.EstYield, nullString(a.Custody), now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s: %w", a.Ticker, err)
	}

	r.log.Debug().
		Str("ticker", a.Ticker).
		Str("tier", string(a.Tier)).
		Float64("base_weight", a.BaseWeight).
		Msg("Asset upserted")
	return nil
}

func scanAsset(rows *sql.Rows) (domain.AssetConfig, error) {
	var (
		a             domain.AssetConfig
		tier          string
		proxy, custody sql.NullString
	)
	if err := rows.Scan(
		&a.Ticker,
		&tier,
		&proxy,
		&a.BaseWeight,
		&a.MinWeight,
		&a.MaxWeight,
		&a.ExitThreshold,
		&a.ReduceThreshold,
		&a.MoonbagFraction,
		&a.EstYield,
		&custody,
	); err != nil {
		return a, fmt.Errorf("failed to scan asset: %w", err)
	}
	a.Tier = domain.Tier(tier)
	a.Proxy = proxy.String
	a.Custody = custody.String
	return a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}
