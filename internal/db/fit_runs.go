package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
	"github.com/google/uuid"
)

// FitRun is one recorded fit attempt.
type FitRun struct {
	RunID     string              `json:"run_id"`
	TrackID   calibration.TrackID `json:"track_id"`
	Status    string              `json:"status"`
	A         *float64            `json:"a,omitempty"`
	B         *float64            `json:"b,omitempty"`
	C         *float64            `json:"c,omitempty"`
	RSquared  *float64            `json:"r_squared,omitempty"`
	Scale     *float64            `json:"scale_m_per_px,omitempty"`
	Included  int                 `json:"included"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

const fitRunFitted = "fitted"

func fitRunStatus(fitErr error) string {
	if fitErr == nil {
		return fitRunFitted
	}
	var fe *calibration.FitError
	if errors.As(fitErr, &fe) {
		return string(fe.Kind)
	}
	return "error"
}

// RecordFit appends a fit attempt to the run history.
func (db *DB) RecordFit(id calibration.TrackID, res *calibration.FitResult, fitErr error) error {
	run := FitRun{
		RunID:     uuid.New().String(),
		TrackID:   id,
		Status:    fitRunStatus(fitErr),
		CreatedAt: db.clock.Now(),
	}
	if fitErr != nil {
		run.Error = fitErr.Error()
	}
	if res != nil {
		run.A, run.B, run.C = &res.A, &res.B, &res.C
		run.RSquared = &res.RSquared
		run.Scale = res.DerivedScale
		run.Included = res.Included
	}

	_, err := db.Exec(`
		INSERT INTO fit_runs (run_id, track_id, status, a, b, c, r_squared, scale_m_per_px, included, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunID, int(id), run.Status,
		nullFloat(run.A), nullFloat(run.B), nullFloat(run.C), nullFloat(run.RSquared), nullFloat(run.Scale),
		run.Included, sql.NullString{String: run.Error, Valid: run.Error != ""}, run.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record fit run: %w", err)
	}
	return nil
}

// FitRuns returns the most recent fit attempts for a track, newest first.
// A limit of zero or less returns all runs.
func (db *DB) FitRuns(id calibration.TrackID, limit int) ([]FitRun, error) {
	query := `
		SELECT run_id, track_id, status, a, b, c, r_squared, scale_m_per_px, included, error, created_at
		FROM fit_runs
		WHERE track_id = ?
		ORDER BY created_at DESC
	`
	args := []any{int(id)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fit runs: %w", err)
	}
	defer rows.Close()

	var runs []FitRun
	for rows.Next() {
		var (
			run              FitRun
			trackID          int
			a, b, c, r2, scl sql.NullFloat64
			errText          sql.NullString
			createdAt        int64
		)
		if err := rows.Scan(&run.RunID, &trackID, &run.Status, &a, &b, &c, &r2, &scl,
			&run.Included, &errText, &createdAt); err != nil {
			return nil, err
		}
		run.TrackID = calibration.TrackID(trackID)
		run.A, run.B, run.C = floatPtr(a), floatPtr(b), floatPtr(c)
		run.RSquared, run.Scale = floatPtr(r2), floatPtr(scl)
		run.Error = errText.String
		run.CreatedAt = time.Unix(0, createdAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
