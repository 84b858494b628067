package db

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func setupMigrationTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenDB(filepath.Join(t.TempDir(), "migrate.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func tableExists(t *testing.T, database *DB, name string) bool {
	t.Helper()
	var n int
	err := database.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query failed: %v", err)
	}
	return n > 0
}

func TestMigrateUp(t *testing.T) {
	database := setupMigrationTestDB(t)
	migrationsFS, err := MigrationsFS()
	if err != nil {
		t.Fatalf("MigrationsFS failed: %v", err)
	}

	if err := database.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	latest, err := GetLatestMigrationVersion(migrationsFS)
	if err != nil {
		t.Fatalf("GetLatestMigrationVersion failed: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("version = %d dirty = %v, want %d clean", version, dirty, latest)
	}

	for _, table := range []string{"project", "tracks", "track_points", "track_analysis", "global_scale", "fit_runs"} {
		if !tableExists(t, database, table) {
			t.Errorf("table %s missing after MigrateUp", table)
		}
	}

	// Second run is a no-op.
	if err := database.MigrateUp(migrationsFS); err != nil {
		t.Errorf("second MigrateUp failed: %v", err)
	}
}

func TestMigrateVersion_Fresh(t *testing.T) {
	database := setupMigrationTestDB(t)
	migrationsFS, _ := MigrationsFS()

	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("fresh database version = %d dirty = %v, want 0 clean", version, dirty)
	}
}

func TestMigrateDownAndTo(t *testing.T) {
	database := setupMigrationTestDB(t)
	migrationsFS, _ := MigrationsFS()

	if err := database.MigrateUp(migrationsFS); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if err := database.MigrateDown(migrationsFS); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if tableExists(t, database, "fit_runs") {
		t.Error("fit_runs should be dropped after one step down")
	}
	if !tableExists(t, database, "track_points") {
		t.Error("track_points should survive one step down")
	}

	if err := database.MigrateTo(migrationsFS, 2); err != nil {
		t.Fatalf("MigrateTo failed: %v", err)
	}
	if !tableExists(t, database, "fit_runs") {
		t.Error("fit_runs missing after MigrateTo(2)")
	}
}

func TestGetMigrationStatus(t *testing.T) {
	database := NewTestDB(t)
	migrationsFS, _ := MigrationsFS()

	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		t.Fatalf("GetMigrationStatus failed: %v", err)
	}
	if status["schema_migrations_exists"] != true {
		t.Errorf("schema_migrations_exists = %v, want true", status["schema_migrations_exists"])
	}
	if status["current_version"] != status["latest_version"] {
		t.Errorf("current %v != latest %v", status["current_version"], status["latest_version"])
	}
}

func TestRunMigrateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "cli.db")

	tests := []struct {
		name    string
		args    []string
		wantErr bool
		want    string
	}{
		{name: "no args", args: nil, wantErr: true, want: "Usage:"},
		{name: "help", args: []string{"help"}, want: "Commands:"},
		{name: "up", args: []string{"up"}, want: "Current version: 2"},
		{name: "status", args: []string{"status"}, want: "Latest available: 2"},
		{name: "version missing arg", args: []string{"version"}, wantErr: true},
		{name: "version bad arg", args: []string{"version", "x"}, wantErr: true},
		{name: "version 1", args: []string{"version", "1"}, want: "Current version: 1"},
		{name: "unknown", args: []string{"sideways"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := RunMigrateCommand(tt.args, dbPath, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RunMigrateCommand(%v) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if tt.want != "" && !strings.Contains(out.String(), tt.want) {
				t.Errorf("output %q does not contain %q", out.String(), tt.want)
			}
		})
	}
}
