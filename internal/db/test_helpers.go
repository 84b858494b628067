package db

import (
	"path/filepath"
	"testing"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
)

// NewTestDB creates a migrated project database in a temporary directory.
func NewTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.db")
	database, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// SeedTrack inserts points for a track, failing the test on error.
func SeedTrack(t *testing.T, database *DB, id calibration.TrackID, points []calibration.Point) {
	t.Helper()
	if err := database.CreateTrack(id, ""); err != nil {
		t.Fatalf("CreateTrack failed: %v", err)
	}
	for _, p := range points {
		if err := database.AddPoint(id, p); err != nil {
			t.Fatalf("AddPoint failed: %v", err)
		}
	}
}
