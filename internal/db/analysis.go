package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
)

// SaveAnalysis replaces the persisted analysis document. Entries for
// tracks that no longer exist are skipped.
func (db *DB) SaveAnalysis(doc calibration.AnalysisDocument) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM track_analysis`); err != nil {
		return fmt.Errorf("failed to clear track analysis: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO track_analysis (track_id, state_json, updated_at)
		SELECT ?, ?, STRFTIME('%s', 'now')
		WHERE EXISTS (SELECT 1 FROM tracks WHERE track_id = ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, td := range doc.TrackAnalysis {
		data, err := json.Marshal(td)
		if err != nil {
			return fmt.Errorf("failed to encode analysis for track %d: %w", id, err)
		}
		if _, err := stmt.Exec(int(id), string(data), int(id)); err != nil {
			return fmt.Errorf("failed to save analysis for track %d: %w", id, err)
		}
	}

	g := doc.GlobalScale
	if _, err := tx.Exec(`
		INSERT INTO global_scale (id, mean, stddev, count_used, stale, updated_at)
		VALUES (1, ?, ?, ?, ?, STRFTIME('%s', 'now'))
		ON CONFLICT (id) DO UPDATE SET
			mean = excluded.mean,
			stddev = excluded.stddev,
			count_used = excluded.count_used,
			stale = excluded.stale,
			updated_at = excluded.updated_at
	`, nullFloat(g.Mean), nullFloat(g.StdDev), g.CountUsed, g.Stale); err != nil {
		return fmt.Errorf("failed to save global scale: %w", err)
	}

	return tx.Commit()
}

// LoadAnalysis reads the persisted analysis document. Rows whose JSON
// cannot be decoded are logged and skipped.
func (db *DB) LoadAnalysis() (calibration.AnalysisDocument, error) {
	doc := calibration.AnalysisDocument{
		TrackAnalysis: make(map[calibration.TrackID]calibration.TrackAnalysisDoc),
	}

	rows, err := db.Query(`SELECT track_id, state_json FROM track_analysis ORDER BY track_id`)
	if err != nil {
		return doc, fmt.Errorf("failed to query track analysis: %w", err)
	}
	for rows.Next() {
		var (
			id   int
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			rows.Close()
			return doc, err
		}
		var td calibration.TrackAnalysisDoc
		if err := json.Unmarshal([]byte(data), &td); err != nil {
			dbLogf("skipping unreadable analysis for track %d: %v", id, err)
			continue
		}
		doc.TrackAnalysis[calibration.TrackID(id)] = td
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return doc, err
	}
	rows.Close()

	var (
		mean, stddev sql.NullFloat64
		g            calibration.GlobalScaleDoc
	)
	err = db.QueryRow(`SELECT mean, stddev, count_used, stale FROM global_scale WHERE id = 1`).
		Scan(&mean, &stddev, &g.CountUsed, &g.Stale)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return doc, fmt.Errorf("failed to read global scale: %w", err)
	default:
		if mean.Valid {
			g.Mean = &mean.Float64
		}
		if stddev.Valid {
			g.StdDev = &stddev.Float64
		}
	}
	doc.GlobalScale = g
	return doc, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
