package db

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
	"github.com/xuri/excelize/v2"
)

// pointColumns is the required header of a point import.
var pointColumns = []string{"track_id", "frame_index", "time_s", "x_px", "y_px"}

// ImportStats summarises a point import.
type ImportStats struct {
	Tracks  int `json:"tracks"`
	Added   int `json:"added"`
	Updated int `json:"updated"`
}

// ImportPointsCSV loads points from CSV with a header naming the columns
// track_id, frame_index, time_s, x_px and y_px in any order. Existing
// points for the same track and frame are overwritten. The import is
// atomic; subscribers are notified once per point after commit.
func (db *DB) ImportPointsCSV(r io.Reader) (ImportStats, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	records, err := reader.ReadAll()
	if err != nil {
		return ImportStats{}, fmt.Errorf("failed to read CSV: %w", err)
	}
	return db.importRows(records)
}

// ImportPointsXLSX loads points from the first sheet of a workbook laid
// out like the CSV import.
func (db *DB) ImportPointsXLSX(r io.Reader) (ImportStats, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportStats{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ImportStats{}, errors.New("workbook has no sheets")
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return ImportStats{}, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return db.importRows(records)
}

type importRow struct {
	track calibration.TrackID
	point calibration.Point
}

func parseImportRows(records [][]string) ([]importRow, error) {
	if len(records) == 0 {
		return nil, errors.New("missing header row")
	}

	index := make(map[string]int, len(pointColumns))
	for i, name := range records[0] {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range pointColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("header is missing column %q", col)
		}
	}

	rows := make([]importRow, 0, len(records)-1)
	for n, rec := range records[1:] {
		line := n + 2
		if len(rec) == 0 || (len(rec) == 1 && strings.TrimSpace(rec[0]) == "") {
			continue
		}
		field := func(col string) (string, error) {
			i := index[col]
			if i >= len(rec) {
				return "", fmt.Errorf("row %d: missing %s", line, col)
			}
			return strings.TrimSpace(rec[i]), nil
		}

		var (
			row  importRow
			ints [2]int
		)
		for i, col := range []string{"track_id", "frame_index"} {
			s, err := field(col)
			if err != nil {
				return nil, err
			}
			v, err := strconv.Atoi(s)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid %s %q", line, col, s)
			}
			ints[i] = v
		}
		var floats [3]float64
		for i, col := range []string{"time_s", "x_px", "y_px"} {
			s, err := field(col)
			if err != nil {
				return nil, err
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid %s %q", line, col, s)
			}
			floats[i] = v
		}

		row.track = calibration.TrackID(ints[0])
		row.point = calibration.Point{
			FrameIndex:    ints[1],
			TimeSeconds:   floats[0],
			XPixel:        floats[1],
			YPixelTopLeft: floats[2],
		}
		if err := validatePoint(row.point); err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (db *DB) importRows(records [][]string) (ImportStats, error) {
	rows, err := parseImportRows(records)
	if err != nil {
		return ImportStats{}, err
	}

	tx, err := db.Begin()
	if err != nil {
		return ImportStats{}, err
	}
	defer tx.Rollback()

	var (
		stats  ImportStats
		muts   = make([]calibration.Mutation, 0, len(rows))
		tracks = make(map[calibration.TrackID]struct{})
	)
	for _, row := range rows {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO tracks (track_id) VALUES (?)`, int(row.track)); err != nil {
			return ImportStats{}, fmt.Errorf("failed to create track %d: %w", row.track, err)
		}
		res, err := tx.Exec(`
			UPDATE track_points SET time_s = ?, x_px = ?, y_px = ?
			WHERE track_id = ? AND frame_index = ?
		`, row.point.TimeSeconds, row.point.XPixel, row.point.YPixelTopLeft, int(row.track), row.point.FrameIndex)
		if err != nil {
			return ImportStats{}, fmt.Errorf("failed to update point: %w", err)
		}
		kind := calibration.MutationUpdate
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.Exec(`
				INSERT INTO track_points (track_id, frame_index, time_s, x_px, y_px)
				VALUES (?, ?, ?, ?, ?)
			`, int(row.track), row.point.FrameIndex, row.point.TimeSeconds, row.point.XPixel, row.point.YPixelTopLeft); err != nil {
				return ImportStats{}, fmt.Errorf("failed to insert point: %w", err)
			}
			kind = calibration.MutationAdd
			stats.Added++
		} else {
			stats.Updated++
		}
		tracks[row.track] = struct{}{}
		muts = append(muts, calibration.Mutation{TrackID: row.track, Kind: kind, FrameIndex: row.point.FrameIndex})
	}
	if err := tx.Commit(); err != nil {
		return ImportStats{}, err
	}
	stats.Tracks = len(tracks)

	db.notify(muts...)
	dbLogf("imported %d points into %d tracks (%d added, %d updated)",
		len(rows), stats.Tracks, stats.Added, stats.Updated)
	return stats, nil
}
