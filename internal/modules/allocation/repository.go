package allocation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// StateRepository persists conviction history
// Database: state.db (conviction_state table)
type StateRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStateRepository creates a new conviction state repository
func NewStateRepository(db *sql.DB, log zerolog.Logger) *StateRepository {
	return &StateRepository{
		db:  db,
		log: log.With().Str("repo", "conviction_state").Logger(),
	}
}

// LoadAll returns the stored state of every ticker
func (r *StateRepository) LoadAll(ctx context.Context) (map[string]State, error) {
	query := "SELECT ticker, last_buy, last_sell, last_target FROM conviction_state"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query conviction state: %w", err)
	}
	defer rows.Close()

	result := make(map[string]State)
	for rows.Next() {
		var (
			state             State
			lastBuy, lastSell sql.NullInt64
			lastTarget        sql.NullFloat64
		)
		if err := rows.Scan(&state.Ticker, &lastBuy, &lastSell, &lastTarget); err != nil {
			return nil, fmt.Errorf("failed to scan conviction state: %w", err)
		}

		// Convert Unix timestamps to time.Time
		if lastBuy.Valid {
			t := time.Unix(lastBuy.Int64, 0).UTC()
			state.LastBuy = &t
		}
		if lastSell.Valid {
			t := time.Unix(lastSell.Int64, 0).UTC()
			state.LastSell = &t
		}
		if lastTarget.Valid {
			v := lastTarget.Float64
			state.LastTarget = &v
		}
		result[state.Ticker] = state
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conviction state: %w", err)
	}

	return result, nil
}

// SaveAll upserts states in a single transaction
func (r *StateRepository) SaveAll(ctx context.Context, states map[string]State) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO conviction_state (ticker, last_buy, last_sell, last_target, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ticker) DO UPDATE SET
			last_buy = excluded.last_buy,
			last_sell = excluded.last_sell,
			last_target = excluded.last_target,
			updated_at = excluded.updated_at
	`
	now := time.Now().Unix()
	for ticker, s := range states {
		if _, err := tx.ExecContext(ctx, query, ticker, unixOrNil(s.LastBuy), unixOrNil(s.LastSell), floatOrNil(s.LastTarget), now); err != nil {
			return fmt.Errorf("failed to upsert conviction state for %s: %w", ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conviction state: %w", err)
	}

	r.log.Debug().Int("count", len(states)).Msg("Conviction state saved")
	return nil
}

// Delete removes the state of one ticker
func (r *StateRepository) Delete(ctx context.Context, ticker string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM conviction_state WHERE ticker = ?", ticker)
	if err != nil {
		return fmt.Errorf("failed to delete conviction state: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	r.log.Debug().
		Str("ticker", ticker).
		Int64("rows_affected", rowsAffected).
		Msg("Conviction state deleted")

	return nil
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func floatOrNil(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
