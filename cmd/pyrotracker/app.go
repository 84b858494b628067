package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
	"github.com/EdLlewellin/PyroTracker/internal/config"
	"github.com/EdLlewellin/PyroTracker/internal/db"
	"github.com/EdLlewellin/PyroTracker/internal/fsutil"
	"github.com/EdLlewellin/PyroTracker/internal/monitoring"
)

var restoreLogf = monitoring.Component("Restore")

// app is one CLI invocation: the project database, a store restored from
// its persisted analysis, and the tracker keeping the two consistent.
type app struct {
	db      *db.DB
	cfg     *config.CalibrationConfig
	store   *calibration.AnalysisStore
	tracker *calibration.InvalidationTracker
	fsys    fsutil.FileSystem
	out     io.Writer
}

func loadConfig(path string) (*config.CalibrationConfig, error) {
	if path == "" {
		return config.DefaultCalibrationConfig(), nil
	}
	cfg, err := config.LoadCalibrationConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func openApp(dbPath, configPath string, out io.Writer) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	database, err := db.NewDB(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open project database: %w", err)
	}

	store := calibration.NewAnalysisStore(calibration.StoreConfig{
		Points:   database,
		Scale:    database,
		Gravity:  database,
		Recorder: database,
		Fit:      calibration.FitOptionsFromConfig(cfg),
	})

	doc, err := database.LoadAnalysis()
	if err != nil {
		database.Close()
		return nil, err
	}
	warnings, err := store.Restore(doc)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("restore analysis: %w", err)
	}
	for _, w := range warnings {
		restoreLogf("%s", w)
	}

	tracker := calibration.NewInvalidationTracker(store)
	tracker.Attach(database)

	return &app{
		db:      database,
		cfg:     cfg,
		store:   store,
		tracker: tracker,
		fsys:    fsutil.OSFileSystem{},
		out:     out,
	}, nil
}

// close persists the analysis state and releases the database.
func (a *app) close() error {
	a.tracker.Detach()
	saveErr := a.db.SaveAnalysis(a.store.Snapshot())
	if saveErr != nil {
		saveErr = fmt.Errorf("save analysis: %w", saveErr)
	}
	return errors.Join(saveErr, a.db.Close())
}
