package db

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
)

var (
	ErrPointNotFound  = errors.New("point not found")
	ErrDuplicatePoint = errors.New("point already exists for frame")
	ErrInvalidPoint   = errors.New("invalid point")
)

// validatePoint rejects negative frame indices and non-finite coordinates.
func validatePoint(p calibration.Point) error {
	if p.FrameIndex < 0 {
		return fmt.Errorf("%w: negative frame index %d", ErrInvalidPoint, p.FrameIndex)
	}
	for _, v := range []float64{p.TimeSeconds, p.XPixel, p.YPixelTopLeft} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: frame %d has non-finite value %g", ErrInvalidPoint, p.FrameIndex, v)
		}
	}
	return nil
}

// TrackInfo summarises one track for listings.
type TrackInfo struct {
	TrackID    calibration.TrackID `json:"track_id"`
	Label      string              `json:"label"`
	PointCount int                 `json:"point_count"`
}

// CreateTrack inserts a track, or updates its label if it exists.
func (db *DB) CreateTrack(id calibration.TrackID, label string) error {
	_, err := db.Exec(`
		INSERT INTO tracks (track_id, label) VALUES (?, ?)
		ON CONFLICT (track_id) DO UPDATE SET label = excluded.label
	`, int(id), label)
	if err != nil {
		return fmt.Errorf("failed to create track %d: %w", id, err)
	}
	return nil
}

// TrackIDs lists all tracks in ascending order.
func (db *DB) TrackIDs() ([]calibration.TrackID, error) {
	rows, err := db.Query(`SELECT track_id FROM tracks ORDER BY track_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	var ids []calibration.TrackID
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, calibration.TrackID(id))
	}
	return ids, rows.Err()
}

// ListTracks returns every track with its point count.
func (db *DB) ListTracks() ([]TrackInfo, error) {
	rows, err := db.Query(`
		SELECT t.track_id, t.label, COUNT(p.frame_index)
		FROM tracks t
		LEFT JOIN track_points p ON p.track_id = t.track_id
		GROUP BY t.track_id
		ORDER BY t.track_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	defer rows.Close()

	var out []TrackInfo
	for rows.Next() {
		var (
			info TrackInfo
			id   int
		)
		if err := rows.Scan(&id, &info.Label, &info.PointCount); err != nil {
			return nil, err
		}
		info.TrackID = calibration.TrackID(id)
		out = append(out, info)
	}
	return out, rows.Err()
}

func trackExists(q interface {
	QueryRow(string, ...any) *sql.Row
}, id calibration.TrackID) (bool, error) {
	var n int
	if err := q.QueryRow(`SELECT COUNT(*) FROM tracks WHERE track_id = ?`, int(id)).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up track %d: %w", id, err)
	}
	return n > 0, nil
}

// Points returns a track's points ordered by frame index.
func (db *DB) Points(id calibration.TrackID) ([]calibration.Point, error) {
	ok, err := trackExists(db.DB, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", calibration.ErrUnknownTrack, id)
	}

	rows, err := db.Query(`
		SELECT frame_index, time_s, x_px, y_px
		FROM track_points
		WHERE track_id = ?
		ORDER BY frame_index
	`, int(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query points for track %d: %w", id, err)
	}
	defer rows.Close()

	points := []calibration.Point{}
	for rows.Next() {
		var p calibration.Point
		if err := rows.Scan(&p.FrameIndex, &p.TimeSeconds, &p.XPixel, &p.YPixelTopLeft); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// AddPoint stores a new point, creating the track if needed.
func (db *DB) AddPoint(id calibration.TrackID, p calibration.Point) error {
	if err := validatePoint(p); err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO tracks (track_id) VALUES (?)`, int(id)); err != nil {
		return fmt.Errorf("failed to create track %d: %w", id, err)
	}
	var n int
	if err := tx.QueryRow(
		`SELECT COUNT(*) FROM track_points WHERE track_id = ? AND frame_index = ?`, int(id), p.FrameIndex,
	).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("%w: track %d frame %d", ErrDuplicatePoint, id, p.FrameIndex)
	}
	if _, err := tx.Exec(`
		INSERT INTO track_points (track_id, frame_index, time_s, x_px, y_px)
		VALUES (?, ?, ?, ?, ?)
	`, int(id), p.FrameIndex, p.TimeSeconds, p.XPixel, p.YPixelTopLeft); err != nil {
		return fmt.Errorf("failed to insert point: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	db.notify(calibration.Mutation{TrackID: id, Kind: calibration.MutationAdd, FrameIndex: p.FrameIndex})
	return nil
}

// UpdatePoint replaces the position of an existing point.
func (db *DB) UpdatePoint(id calibration.TrackID, p calibration.Point) error {
	if err := validatePoint(p); err != nil {
		return err
	}
	res, err := db.Exec(`
		UPDATE track_points SET time_s = ?, x_px = ?, y_px = ?
		WHERE track_id = ? AND frame_index = ?
	`, p.TimeSeconds, p.XPixel, p.YPixelTopLeft, int(id), p.FrameIndex)
	if err != nil {
		return fmt.Errorf("failed to update point: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: track %d frame %d", ErrPointNotFound, id, p.FrameIndex)
	}

	db.notify(calibration.Mutation{TrackID: id, Kind: calibration.MutationUpdate, FrameIndex: p.FrameIndex})
	return nil
}

// DeletePoint removes one point.
func (db *DB) DeletePoint(id calibration.TrackID, frameIndex int) error {
	res, err := db.Exec(
		`DELETE FROM track_points WHERE track_id = ? AND frame_index = ?`, int(id), frameIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: track %d frame %d", ErrPointNotFound, id, frameIndex)
	}

	db.notify(calibration.Mutation{TrackID: id, Kind: calibration.MutationDelete, FrameIndex: frameIndex})
	return nil
}

// DeleteTrack removes a track together with its points and stored
// analysis.
func (db *DB) DeleteTrack(id calibration.TrackID) error {
	res, err := db.Exec(`DELETE FROM tracks WHERE track_id = ?`, int(id))
	if err != nil {
		return fmt.Errorf("failed to delete track %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", calibration.ErrUnknownTrack, id)
	}

	db.notify(calibration.Mutation{TrackID: id, Kind: calibration.MutationTrackDeleted})
	return nil
}
