package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrRunNotFound means no stored run matches
var ErrRunNotFound = errors.New("analysis run not found")

// RunRepository stores analysis reports
// Database: state.db (analysis_runs table)
type RunRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *sql.DB, log zerolog.Logger) *RunRepository {
	return &RunRepository{
		db:  db,
		log: log.With().Str("repo", "analysis_runs").Logger(),
	}
}

// Save inserts or replaces a report
func (r *RunRepository) Save(ctx context.Context, report *Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	var macroRisk interface{}
	if report.Macro != nil {
		macroRisk = report.Macro.Composite
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO analysis_runs
			(id, started_at, finished_at, status, asset_count, failed_count, macro_risk, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.ID,
		report.StartedAt.Unix(),
		report.FinishedAt.Unix(),
		report.Status,
		len(report.Outcomes),
		report.FailedCount(),
		macroRisk,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis run: %w", err)
	}

	r.log.Debug().Str("run_id", report.ID).Int("bytes", len(payload)).Msg("Analysis run saved")
	return nil
}

// Latest returns the most recently started run
func (r *RunRepository) Latest(ctx context.Context) (*Report, error) {
	row := r.db.QueryRowContext(ctx, "SELECT payload FROM analysis_runs ORDER BY started_at DESC, rowid DESC LIMIT 1")
	return scanReport(row)
}

// GetByID returns one run
func (r *RunRepository) GetByID(ctx context.Context, id string) (*Report, error) {
	row := r.db.QueryRowContext(ctx, "SELECT payload FROM analysis_runs WHERE id = ?", id)
	return scanReport(row)
}

// List returns run summaries newest first
func (r *RunRepository) List(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, status, asset_count, failed_count, macro_risk
		FROM analysis_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			s                 RunSummary
			started, finished int64
			macroRisk         sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &started, &finished, &s.Status, &s.AssetCount, &s.FailedCount, &macroRisk); err != nil {
			return nil, fmt.Errorf("failed to scan analysis run: %w", err)
		}
		s.StartedAt = time.Unix(started, 0).UTC()
		s.FinishedAt = time.Unix(finished, 0).UTC()
		if macroRisk.Valid {
			v := macroRisk.Float64
			s.MacroRisk = &v
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis runs: %w", err)
	}
	return out, nil
}

// PurgeOlderThan deletes runs started before cutoff, keeping at least the
// newest one
func (r *RunRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM analysis_runs
		WHERE started_at < ?
		  AND id NOT IN (SELECT id FROM analysis_runs ORDER BY started_at DESC, rowid DESC LIMIT 1)
	`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge analysis runs: %w", err)
	}
	return res.RowsAffected()
}

func scanReport(row *sql.Row) (*Report, error) {
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to load analysis run: %w", err)
	}
	var report Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("failed to decode analysis run: %w", err)
	}
	return &report, nil
}
