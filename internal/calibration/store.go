package calibration

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/EdLlewellin/PyroTracker/internal/config"
	"github.com/EdLlewellin/PyroTracker/internal/monitoring"
)

var (
	storeLogf        = monitoring.Component("AnalysisStore")
	invalidationLogf = monitoring.Component("Invalidation")
)

// StoreConfig wires an AnalysisStore to its collaborators.
type StoreConfig struct {
	Points   PointSource   // required
	Scale    ScaleSetter   // required for apply operations
	Gravity  GravitySource // optional; config.DefaultGravity when nil
	Recorder FitRecorder   // optional
	Fit      FitOptions
}

// BatchResult summarises a FitAllUnfitted run.
type BatchResult struct {
	Succeeded int
	Failed    int
	Skipped   int // already valid, left untouched
	Failures  map[TrackID]error
}

// AnalysisStore owns the per-track analysis states and the global scale
// aggregate for one project. It is safe for concurrent use; all
// operations are serialised under a single mutex.
type AnalysisStore struct {
	mu       sync.Mutex
	points   PointSource
	scale    ScaleSetter
	gravity  GravitySource
	recorder FitRecorder
	opts     FitOptions

	tracks map[TrackID]*TrackAnalysisState
	global GlobalScaleState
}

// NewAnalysisStore creates an empty store.
func NewAnalysisStore(cfg StoreConfig) *AnalysisStore {
	opts := cfg.Fit
	if opts == (FitOptions{}) {
		opts = DefaultFitOptions()
	}
	return &AnalysisStore{
		points:   cfg.Points,
		scale:    cfg.Scale,
		gravity:  cfg.Gravity,
		recorder: cfg.Recorder,
		opts:     opts,
		tracks:   make(map[TrackID]*TrackAnalysisState),
	}
}

// defaultG returns the project gravity default, falling back to standard
// gravity when the source is missing or returns an unusable value.
func (s *AnalysisStore) defaultG() float64 {
	if s.gravity == nil {
		return config.DefaultGravity
	}
	g, err := s.gravity.GravityDefault()
	if err != nil {
		storeLogf("gravity default unavailable, using %g: %v", config.DefaultGravity, err)
		return config.DefaultGravity
	}
	if !(g > 0) {
		storeLogf("gravity default %g is not positive, using %g", g, config.DefaultGravity)
		return config.DefaultGravity
	}
	return g
}

func (s *AnalysisStore) loadPoints(id TrackID) ([]Point, error) {
	points, err := s.points.Points(id)
	if err != nil {
		return nil, fmt.Errorf("load points for track %d: %w", id, err)
	}
	return points, nil
}

// stateLocked returns the state for id, creating it with default
// settings on first access. Caller must hold s.mu.
func (s *AnalysisStore) stateLocked(id TrackID) (*TrackAnalysisState, error) {
	if st, ok := s.tracks[id]; ok {
		return st, nil
	}
	points, err := s.loadPoints(id)
	if err != nil {
		return nil, err
	}
	st := &TrackAnalysisState{
		TrackID:  id,
		Settings: DefaultSettings(points, s.defaultG()),
	}
	s.tracks[id] = st
	return st, nil
}

// dropUseLocked clears the use flag and marks the aggregate stale if the
// track was contributing to it. Caller must hold s.mu.
func (s *AnalysisStore) dropUseLocked(st *TrackAnalysisState) bool {
	if !st.UseForGlobal {
		return false
	}
	st.UseForGlobal = false
	s.global.Stale = true
	return true
}

// State returns a copy of the analysis state for id, creating a default
// Unfitted state on first access.
func (s *AnalysisStore) State(id TrackID) (TrackAnalysisState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stateLocked(id)
	if err != nil {
		return TrackAnalysisState{}, err
	}
	return st.clone(), nil
}

// Tracks returns copies of every materialised state, ordered by track ID.
func (s *AnalysisStore) Tracks() []TrackAnalysisState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TrackAnalysisState, 0, len(s.tracks))
	for _, st := range s.tracks {
		out = append(out, st.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

// Global returns a copy of the global scale aggregate.
func (s *AnalysisStore) Global() GlobalScaleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.global.clone()
}

func validateSettings(settings FitSettings) error {
	if !(settings.G > 0) {
		return fmt.Errorf("%w: g must be positive, got %g", ErrInvalidSettings, settings.G)
	}
	if !settings.AutoRange && settings.TimeMin > settings.TimeMax {
		return fmt.Errorf("%w: time_min %g > time_max %g", ErrInvalidSettings, settings.TimeMin, settings.TimeMax)
	}
	return nil
}

func (s *AnalysisStore) setSettingsLocked(st *TrackAnalysisState, settings FitSettings) {
	st.Settings = settings.Clone()
	if st.Settings.ExcludedFrames == nil {
		st.Settings.ExcludedFrames = make(map[int]struct{})
	}
	st.clear()
	st.AppliedToProject = false
	if s.dropUseLocked(st) {
		storeLogf("track %d settings changed, removed from global scale", st.TrackID)
	}
}

// SetSettings replaces the fit settings for id and discards any cached
// fit. A track that fed the global scale stops doing so and the aggregate
// becomes stale.
func (s *AnalysisStore) SetSettings(id TrackID, settings FitSettings) error {
	if err := validateSettings(settings); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stateLocked(id)
	if err != nil {
		return err
	}
	s.setSettingsLocked(st, settings)
	return nil
}

// ResetSettings restores default settings for id: full observed range,
// no exclusions, project gravity.
func (s *AnalysisStore) ResetSettings(id TrackID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stateLocked(id)
	if err != nil {
		return err
	}
	points, err := s.loadPoints(id)
	if err != nil {
		return err
	}
	s.setSettingsLocked(st, DefaultSettings(points, s.defaultG()))
	return nil
}

// runFitLocked fits id with its current settings and stores the outcome.
// Caller must hold s.mu.
func (s *AnalysisStore) runFitLocked(st *TrackAnalysisState) (FitResult, error) {
	points, err := s.loadPoints(st.TrackID)
	if err != nil {
		return FitResult{}, err
	}

	res, fitErr := Fit(points, st.Settings, s.opts)
	var fe *FitError
	if errors.As(fitErr, &fe) {
		fe.TrackID = st.TrackID
	}

	wasUsed := st.UseForGlobal
	st.AppliedToProject = false
	switch {
	case fitErr == nil:
		st.Result = &res
		st.Valid = true
		st.LastError = ""
		if wasUsed {
			// The contributing scale changed value.
			s.global.Stale = true
		}
		storeLogf("track %d fitted: A=%.4g R²=%.4f scale=%.6g m/px (%d points)",
			st.TrackID, res.A, res.RSquared, *res.DerivedScale, res.Included)
	case errors.Is(fitErr, ErrInvalidSign):
		st.Result = &res
		st.Valid = false
		st.LastError = fitErr.Error()
		storeLogf("track %d fit rejected: %v", st.TrackID, fitErr)
	default:
		st.Result = nil
		st.Valid = false
		st.LastError = fitErr.Error()
		storeLogf("track %d fit failed: %v", st.TrackID, fitErr)
	}
	if !st.Valid && s.dropUseLocked(st) {
		storeLogf("track %d removed from global scale", st.TrackID)
	}

	if s.recorder != nil {
		var recorded *FitResult
		if st.Result != nil {
			recorded = st.Result.clone()
		}
		if err := s.recorder.RecordFit(st.TrackID, recorded, fitErr); err != nil {
			storeLogf("failed to record fit for track %d: %v", st.TrackID, err)
		}
	}
	return res, fitErr
}

// RunFit fits id with its current settings. The state ends Fitted on
// success or Invalid on any fit error. For ErrInvalidSign the returned
// result carries the coefficients even though the error is non-nil.
func (s *AnalysisStore) RunFit(id TrackID) (FitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stateLocked(id)
	if err != nil {
		return FitResult{}, err
	}
	return s.runFitLocked(st)
}

// FitTrack stores settings for id and fits immediately.
func (s *AnalysisStore) FitTrack(id TrackID, settings FitSettings) (FitResult, error) {
	if err := validateSettings(settings); err != nil {
		return FitResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stateLocked(id)
	if err != nil {
		return FitResult{}, err
	}
	s.setSettingsLocked(st, settings)
	return s.runFitLocked(st)
}

// ToggleUse sets whether id contributes to the global scale. Enabling is
// only allowed for a valid fit with a derived scale. Any change to the
// flag marks the aggregate stale.
func (s *AnalysisStore) ToggleUse(id TrackID, use bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.stateLocked(id)
	if err != nil {
		return err
	}
	if use && !(st.Valid && st.Result.HasScale()) {
		return fmt.Errorf("%w: track %d is %s", ErrNotValid, id, st.Status())
	}
	if st.UseForGlobal == use {
		return nil
	}
	st.UseForGlobal = use
	s.global.Stale = true
	storeLogf("track %d use_for_global=%t", id, use)
	return nil
}

// FitAllUnfitted fits every project track lacking a valid result, using
// default settings for each. A failing track does not stop the batch;
// the returned counts always satisfy Succeeded+Failed+Skipped == tracks.
func (s *AnalysisStore) FitAllUnfitted() (BatchResult, error) {
	ids, err := s.points.TrackIDs()
	if err != nil {
		return BatchResult{}, fmt.Errorf("list tracks: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	s.mu.Lock()
	defer s.mu.Unlock()

	out := BatchResult{Failures: make(map[TrackID]error)}
	g := s.defaultG()
	for _, id := range ids {
		if st, ok := s.tracks[id]; ok && st.Valid {
			out.Skipped++
			continue
		}
		if err := s.fitDefaultLocked(id, g); err != nil {
			out.Failed++
			out.Failures[id] = err
			continue
		}
		out.Succeeded++
	}
	storeLogf("fit-all: %d succeeded, %d failed, %d already valid", out.Succeeded, out.Failed, out.Skipped)
	return out, nil
}

func (s *AnalysisStore) fitDefaultLocked(id TrackID, g float64) error {
	st, err := s.stateLocked(id)
	if err != nil {
		return err
	}
	points, err := s.loadPoints(id)
	if err != nil {
		return err
	}
	s.setSettingsLocked(st, DefaultSettings(points, g))
	_, err = s.runFitLocked(st)
	return err
}

// RecomputeGlobal rebuilds the aggregate from the current states and
// clears the stale flag.
func (s *AnalysisStore) RecomputeGlobal() GlobalScaleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]TrackAnalysisState, 0, len(s.tracks))
	for _, st := range s.tracks {
		states = append(states, *st)
	}
	s.global = Aggregate(states)
	if s.global.Mean != nil {
		storeLogf("global scale %.6g ± %.6g m/px from %d tracks", *s.global.Mean, *s.global.StdDev, s.global.CountUsed)
	} else {
		storeLogf("global scale empty: no tracks selected")
	}
	return s.global.clone()
}

// ApplyGlobalScale writes the global mean to the project scale. It
// fails with a *PreconditionError if the aggregate is stale or empty.
func (s *AnalysisStore) ApplyGlobalScale() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scale == nil {
		return errors.New("no scale setter configured")
	}
	if err := ApplyGlobal(s.global, s.scale); err != nil {
		return err
	}
	for _, st := range s.tracks {
		st.AppliedToProject = false
	}
	storeLogf("applied global scale %.6g m/px", *s.global.Mean)
	return nil
}

// ApplyTrackScale writes one track's derived scale directly to the
// project, bypassing the aggregate.
func (s *AnalysisStore) ApplyTrackScale(id TrackID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scale == nil {
		return errors.New("no scale setter configured")
	}
	st, err := s.stateLocked(id)
	if err != nil {
		return err
	}
	if !(st.Valid && st.Result.HasScale()) {
		return fmt.Errorf("%w: track %d is %s", ErrNotValid, id, st.Status())
	}
	scale := *st.Result.DerivedScale
	if err := s.scale.SetProjectScale(scale, fmt.Sprintf("Track %d parabolic fit", id)); err != nil {
		return fmt.Errorf("set project scale: %w", err)
	}
	for _, other := range s.tracks {
		other.AppliedToProject = false
	}
	st.AppliedToProject = true
	storeLogf("applied track %d scale %.6g m/px", id, scale)
	return nil
}

// RemoveTrack drops all analysis state for id.
func (s *AnalysisStore) RemoveTrack(id TrackID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tracks[id]
	if !ok {
		return
	}
	if st.UseForGlobal {
		s.global.Stale = true
	}
	delete(s.tracks, id)
	storeLogf("removed analysis for track %d", id)
}

// Reset discards every track state and the aggregate.
func (s *AnalysisStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = make(map[TrackID]*TrackAnalysisState)
	s.global = GlobalScaleState{}
}

// invalidate discards the cached fit for id after a point mutation. It
// reports whether a fit was discarded and whether the track had been
// feeding the global scale. Unknown tracks are ignored.
func (s *AnalysisStore) invalidate(id TrackID) (cleared, wasUsed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tracks[id]
	if !ok {
		return false, false
	}
	cleared = st.Result != nil || st.LastError != ""
	st.clear()
	st.AppliedToProject = false
	wasUsed = s.dropUseLocked(st)
	return cleared, wasUsed
}
