// Package report summarises a project's calibration state and renders it
// as a text table, an HTML chart or an XLSX workbook.
package report

import (
	"sort"
	"time"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
	"github.com/EdLlewellin/PyroTracker/internal/timeutil"
	"github.com/EdLlewellin/PyroTracker/internal/units"
	"github.com/montanaflynn/stats"
)

// TrackRow is one track's line in a report. Scale is in m/px.
type TrackRow struct {
	TrackID          calibration.TrackID
	Status           calibration.FitStatus
	Included         int
	A                *float64
	RSquared         *float64
	Scale            *float64
	UseForGlobal     bool
	AppliedToProject bool
	Error            string
}

// Summary describes the spread of per-track scales. Mean, StdDev and
// CountUsed come from the global aggregate as last recomputed; the
// distribution fields are computed over the currently selected tracks.
type Summary struct {
	Tracks    int
	Fitted    int
	CountUsed int
	Mean      *float64
	StdDev    *float64
	Stale     bool

	Median *float64
	Min    *float64
	Max    *float64
	Q1     *float64
	Q3     *float64
	IQR    *float64
}

// Report is everything the renderers need.
type Report struct {
	Title       string
	Unit        string
	GeneratedAt time.Time
	Rows        []TrackRow
	Summary     Summary

	ProjectScale       *float64
	ProjectScaleSource string
}

// Build assembles a report from track states (in any order) and the
// global aggregate, stamped with clock's current time. An unknown unit
// falls back to m/px.
func Build(clock timeutil.Clock, title, unit string, states []calibration.TrackAnalysisState, global calibration.GlobalScaleState) (*Report, error) {
	if !units.IsValid(unit) {
		unit = units.MetersPerPixel
	}
	r := &Report{
		Title:       title,
		Unit:        unit,
		GeneratedAt: clock.Now(),
		Rows:        make([]TrackRow, 0, len(states)),
	}
	for _, st := range states {
		row := TrackRow{
			TrackID:          st.TrackID,
			Status:           st.Status(),
			UseForGlobal:     st.UseForGlobal,
			AppliedToProject: st.AppliedToProject,
			Error:            st.LastError,
		}
		if st.Result != nil {
			a, r2 := st.Result.A, st.Result.RSquared
			row.A, row.RSquared = &a, &r2
			row.Included = st.Result.Included
			if st.Valid && st.Result.HasScale() {
				s := *st.Result.DerivedScale
				row.Scale = &s
			}
		}
		r.Rows = append(r.Rows, row)
	}
	sort.Slice(r.Rows, func(i, j int) bool { return r.Rows[i].TrackID < r.Rows[j].TrackID })

	summary, err := Summarize(states, global)
	if err != nil {
		return nil, err
	}
	r.Summary = summary
	return r, nil
}

// Summarize computes the summary block for states and global.
func Summarize(states []calibration.TrackAnalysisState, global calibration.GlobalScaleState) (Summary, error) {
	s := Summary{
		Tracks:    len(states),
		CountUsed: global.CountUsed,
		Mean:      global.Mean,
		StdDev:    global.StdDev,
		Stale:     global.Stale,
	}

	var data stats.Float64Data
	for i := range states {
		if states[i].Valid {
			s.Fitted++
		}
		if states[i].Eligible() {
			data = append(data, *states[i].Result.DerivedScale)
		}
	}
	if len(data) == 0 {
		return s, nil
	}

	median, err := stats.Median(data)
	if err != nil {
		return s, err
	}
	lo, err := stats.Min(data)
	if err != nil {
		return s, err
	}
	hi, err := stats.Max(data)
	if err != nil {
		return s, err
	}
	s.Median, s.Min, s.Max = &median, &lo, &hi

	// Quartiles need at least two values to split.
	if len(data) >= 2 {
		q, err := stats.Quartile(data)
		if err != nil {
			return s, err
		}
		iqr := q.Q3 - q.Q1
		s.Q1, s.Q3, s.IQR = &q.Q1, &q.Q3, &iqr
	}
	return s, nil
}

// Convert renders a m/px value in the report's unit.
func (r *Report) Convert(metersPerPixel float64) float64 {
	return units.ConvertScale(metersPerPixel, r.Unit)
}
