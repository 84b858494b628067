package calibration

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// AnalysisDocument is the persisted form of an AnalysisStore.
type AnalysisDocument struct {
	TrackAnalysis map[TrackID]TrackAnalysisDoc `json:"track_analysis"`
	GlobalScale   GlobalScaleDoc               `json:"global_scale"`
}

// TrackAnalysisDoc is the persisted state of one track.
type TrackAnalysisDoc struct {
	Settings         FitSettingsDoc `json:"settings"`
	Result           *FitResultDoc  `json:"result"`
	UseForGlobal     bool           `json:"use_for_global"`
	AppliedToProject bool           `json:"applied_to_project,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
}

// FitSettingsDoc stores a null range for auto-range settings.
type FitSettingsDoc struct {
	TimeMin        *float64 `json:"time_min"`
	TimeMax        *float64 `json:"time_max"`
	ExcludedFrames []int    `json:"excluded_frames"`
	G              float64  `json:"g"`
}

type FitResultDoc struct {
	A        float64  `json:"A"`
	B        float64  `json:"B"`
	C        float64  `json:"C"`
	RSquared float64  `json:"r_squared"`
	Scale    *float64 `json:"scale"`
	Included int      `json:"included,omitempty"`
}

type GlobalScaleDoc struct {
	Mean      *float64 `json:"mean"`
	StdDev    *float64 `json:"stddev"`
	CountUsed int      `json:"count_used"`
	Stale     bool     `json:"stale"`
}

// EncodeDocument renders doc as indented JSON.
func EncodeDocument(doc AnalysisDocument) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode analysis document: %w", err)
	}
	return data, nil
}

// DecodeDocument parses JSON produced by EncodeDocument. Empty input
// yields an empty document.
func DecodeDocument(data []byte) (AnalysisDocument, error) {
	var doc AnalysisDocument
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return AnalysisDocument{}, fmt.Errorf("decode analysis document: %w", err)
	}
	return doc, nil
}

// Snapshot captures the store's current state for persistence.
func (s *AnalysisStore) Snapshot() AnalysisDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := AnalysisDocument{
		TrackAnalysis: make(map[TrackID]TrackAnalysisDoc, len(s.tracks)),
		GlobalScale: GlobalScaleDoc{
			CountUsed: s.global.CountUsed,
			Stale:     s.global.Stale,
		},
	}
	if s.global.Mean != nil {
		doc.GlobalScale.Mean = ptrFloat64(*s.global.Mean)
	}
	if s.global.StdDev != nil {
		doc.GlobalScale.StdDev = ptrFloat64(*s.global.StdDev)
	}

	for id, st := range s.tracks {
		td := TrackAnalysisDoc{
			Settings: FitSettingsDoc{
				ExcludedFrames: st.Settings.Excluded(),
				G:              st.Settings.G,
			},
			UseForGlobal:     st.UseForGlobal,
			AppliedToProject: st.AppliedToProject,
			LastError:        st.LastError,
		}
		if !st.Settings.AutoRange {
			td.Settings.TimeMin = ptrFloat64(st.Settings.TimeMin)
			td.Settings.TimeMax = ptrFloat64(st.Settings.TimeMax)
		}
		if st.Result != nil {
			td.Result = &FitResultDoc{
				A:        st.Result.A,
				B:        st.Result.B,
				C:        st.Result.C,
				RSquared: st.Result.RSquared,
				Included: st.Result.Included,
			}
			if st.Result.DerivedScale != nil {
				td.Result.Scale = ptrFloat64(*st.Result.DerivedScale)
			}
		}
		doc.TrackAnalysis[id] = td
	}
	return doc
}

// Restore replaces the store's contents with doc. Malformed or
// inconsistent entries are repaired rather than rejected, and each repair
// is reported as a warning. Entries for tracks the point source no longer
// has are dropped.
func (s *AnalysisStore) Restore(doc AnalysisDocument) ([]string, error) {
	ids := make([]TrackID, 0, len(doc.TrackAnalysis))
	for id := range doc.TrackAnalysis {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	known := make(map[TrackID]bool)
	if all, err := s.points.TrackIDs(); err == nil {
		for _, id := range all {
			known[id] = true
		}
	} else {
		return nil, fmt.Errorf("list tracks: %w", err)
	}

	g := s.defaultG()
	tracks := make(map[TrackID]*TrackAnalysisState, len(ids))
	var warnings []string
	warnf := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}
	usageDropped := false

	for _, id := range ids {
		td := doc.TrackAnalysis[id]
		if !known[id] {
			warnf("track %d: no longer exists, analysis discarded", id)
			if td.UseForGlobal {
				usageDropped = true
			}
			continue
		}
		points, err := s.loadPoints(id)
		if err != nil {
			return nil, err
		}

		st := &TrackAnalysisState{TrackID: id}
		st.Settings = restoreSettings(id, td.Settings, points, g, warnf)

		if td.Result != nil {
			res, ok := restoreResult(id, *td.Result, warnf)
			if ok {
				st.Result = res
				st.Valid = res.HasScale()
			}
		}
		st.AppliedToProject = td.AppliedToProject && st.Valid
		if !st.Valid {
			st.LastError = td.LastError
		}

		if td.UseForGlobal {
			if st.Valid {
				st.UseForGlobal = true
			} else {
				warnf("track %d: use_for_global set without a valid fit, cleared", id)
				usageDropped = true
			}
		}
		tracks[id] = st
	}

	global, globalWarn := restoreGlobal(doc.GlobalScale)
	warnings = append(warnings, globalWarn...)
	if usageDropped {
		global.Stale = true
	}
	eligible := 0
	for _, st := range tracks {
		if st.Eligible() {
			eligible++
		}
	}
	if !global.Stale && global.CountUsed != eligible {
		warnf("global scale covers %d tracks but %d are selected, marked stale", global.CountUsed, eligible)
		global.Stale = true
	}

	s.mu.Lock()
	s.tracks = tracks
	s.global = global
	s.mu.Unlock()
	return warnings, nil
}

func restoreSettings(id TrackID, d FitSettingsDoc, points []Point, defaultG float64, warnf func(string, ...any)) FitSettings {
	s := DefaultSettings(points, defaultG)
	s.ExcludedFrames = ExcludeFrames(d.ExcludedFrames...)

	if d.G > 0 && !math.IsInf(d.G, 0) {
		s.G = d.G
	} else {
		warnf("track %d: invalid g %g, using %g", id, d.G, defaultG)
	}

	if d.TimeMin == nil || d.TimeMax == nil {
		if d.TimeMin != nil || d.TimeMax != nil {
			warnf("track %d: incomplete time range, using full range", id)
		}
		return s
	}
	lo, hi := *d.TimeMin, *d.TimeMax
	if len(points) > 0 {
		dataLo, dataHi := observedRange(points)
		lo = math.Max(lo, dataLo)
		hi = math.Min(hi, dataHi)
	}
	if !(lo <= hi) {
		warnf("track %d: time range [%g, %g] outside data, using full range", id, *d.TimeMin, *d.TimeMax)
		return s
	}
	s.AutoRange = false
	s.TimeMin, s.TimeMax = lo, hi
	return s
}

func restoreResult(id TrackID, d FitResultDoc, warnf func(string, ...any)) (*FitResult, bool) {
	for _, v := range []float64{d.A, d.B, d.C, d.RSquared} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			warnf("track %d: non-finite fit coefficients, result discarded", id)
			return nil, false
		}
	}
	res := &FitResult{A: d.A, B: d.B, C: d.C, RSquared: d.RSquared, Included: d.Included}
	if d.Scale != nil {
		if *d.Scale > 0 && !math.IsInf(*d.Scale, 0) {
			res.DerivedScale = ptrFloat64(*d.Scale)
		} else {
			warnf("track %d: invalid derived scale %g dropped", id, *d.Scale)
		}
	}
	return res, true
}

func restoreGlobal(d GlobalScaleDoc) (GlobalScaleState, []string) {
	g := GlobalScaleState{CountUsed: d.CountUsed, Stale: d.Stale}
	if d.Mean != nil {
		g.Mean = ptrFloat64(*d.Mean)
	}
	if d.StdDev != nil {
		g.StdDev = ptrFloat64(*d.StdDev)
	}
	if g.CountUsed < 0 || (g.CountUsed > 0 && (g.Mean == nil || g.StdDev == nil)) {
		return GlobalScaleState{Stale: true}, []string{"global scale inconsistent, marked stale"}
	}
	if g.CountUsed == 0 && (g.Mean != nil || g.StdDev != nil) {
		return GlobalScaleState{Stale: true}, []string{"global scale has values but no tracks, marked stale"}
	}
	return g, nil
}
