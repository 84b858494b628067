package calibration

import (
	"math"
	"sort"
)

// TrackID identifies a track within a project.
type TrackID int

// Point is one tracked position. YPixelTopLeft is the raw stored
// coordinate: origin top-left, y growing downward.
type Point struct {
	FrameIndex    int
	TimeSeconds   float64
	XPixel        float64
	YPixelTopLeft float64
}

// FitSettings selects which points of a track take part in a fit and
// the gravitational acceleration used to derive a scale.
type FitSettings struct {
	TimeMin float64
	TimeMax float64
	// AutoRange makes TimeMin/TimeMax track the full observed time range
	// of the points at fit time.
	AutoRange      bool
	ExcludedFrames map[int]struct{}
	G              float64 // m/s²
}

// DefaultSettings returns settings covering the full observed time range
// of points with no exclusions.
func DefaultSettings(points []Point, g float64) FitSettings {
	s := FitSettings{
		AutoRange:      true,
		ExcludedFrames: make(map[int]struct{}),
		G:              g,
	}
	s.TimeMin, s.TimeMax = observedRange(points)
	return s
}

// Includes reports whether p takes part in a fit under these settings.
func (s FitSettings) Includes(p Point) bool {
	if p.TimeSeconds < s.TimeMin || p.TimeSeconds > s.TimeMax {
		return false
	}
	_, excluded := s.ExcludedFrames[p.FrameIndex]
	return !excluded
}

// IsExcluded reports whether frameIndex is in the exclusion set.
func (s FitSettings) IsExcluded(frameIndex int) bool {
	_, ok := s.ExcludedFrames[frameIndex]
	return ok
}

// Excluded returns the exclusion set as a sorted slice.
func (s FitSettings) Excluded() []int {
	frames := make([]int, 0, len(s.ExcludedFrames))
	for f := range s.ExcludedFrames {
		frames = append(frames, f)
	}
	sort.Ints(frames)
	return frames
}

// Clone returns a deep copy of s.
func (s FitSettings) Clone() FitSettings {
	c := s
	c.ExcludedFrames = make(map[int]struct{}, len(s.ExcludedFrames))
	for f := range s.ExcludedFrames {
		c.ExcludedFrames[f] = struct{}{}
	}
	return c
}

// Resolve returns the settings actually used for a fit over points,
// expanding AutoRange to the observed time range.
func (s FitSettings) Resolve(points []Point) FitSettings {
	r := s.Clone()
	if r.AutoRange {
		r.TimeMin, r.TimeMax = observedRange(points)
	}
	return r
}

// ExcludeFrames builds an exclusion set from frame indices.
func ExcludeFrames(frames ...int) map[int]struct{} {
	set := make(map[int]struct{}, len(frames))
	for _, f := range frames {
		set[f] = struct{}{}
	}
	return set
}

func observedRange(points []Point) (float64, float64) {
	if len(points) == 0 {
		return 0, 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.TimeSeconds)
		hi = math.Max(hi, p.TimeSeconds)
	}
	return lo, hi
}

// FitResult holds the coefficients of y = A·t² + B·t + C over the
// included points. DerivedScale is nil when the curvature does not match
// the gravity convention.
type FitResult struct {
	A, B, C      float64
	RSquared     float64
	DerivedScale *float64 // metres per pixel
	Included     int      // number of points used
}

// HasScale reports whether the fit produced a usable scale.
func (r *FitResult) HasScale() bool {
	return r != nil && r.DerivedScale != nil && *r.DerivedScale > 0
}

// Eval evaluates the fitted polynomial at t.
func (r FitResult) Eval(t float64) float64 {
	return r.A*t*t + r.B*t + r.C
}

func (r *FitResult) clone() *FitResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.DerivedScale != nil {
		v := *r.DerivedScale
		c.DerivedScale = &v
	}
	return &c
}

// FitStatus is the per-track analysis lifecycle state.
type FitStatus string

const (
	StatusUnfitted FitStatus = "unfitted" // No fit since last mutation or settings change
	StatusFitted   FitStatus = "fitted"   // Valid fit with a derived scale
	StatusInvalid  FitStatus = "invalid"  // Last fit failed or produced no usable scale
)

// TrackAnalysisState is the analysis state held for one track.
type TrackAnalysisState struct {
	TrackID      TrackID
	Settings     FitSettings
	Result       *FitResult
	Valid        bool
	UseForGlobal bool
	// AppliedToProject marks the track whose scale was last applied
	// directly to the project.
	AppliedToProject bool
	// LastError describes the most recent fit failure, if any.
	LastError string
}

// Status derives the lifecycle state from the stored fields.
func (s *TrackAnalysisState) Status() FitStatus {
	switch {
	case s.Valid:
		return StatusFitted
	case s.Result != nil || s.LastError != "":
		return StatusInvalid
	default:
		return StatusUnfitted
	}
}

// Eligible reports whether the track contributes to the global scale.
func (s *TrackAnalysisState) Eligible() bool {
	return s.UseForGlobal && s.Valid && s.Result.HasScale()
}

func (s *TrackAnalysisState) clear() {
	s.Result = nil
	s.Valid = false
	s.LastError = ""
}

func (s *TrackAnalysisState) clone() TrackAnalysisState {
	c := *s
	c.Settings = s.Settings.Clone()
	c.Result = s.Result.clone()
	return c
}

// GlobalScaleState is the project-wide aggregate of eligible track scales.
type GlobalScaleState struct {
	Mean      *float64
	StdDev    *float64
	CountUsed int
	Stale     bool
}

func (g GlobalScaleState) clone() GlobalScaleState {
	c := g
	if g.Mean != nil {
		v := *g.Mean
		c.Mean = &v
	}
	if g.StdDev != nil {
		v := *g.StdDev
		c.StdDev = &v
	}
	return c
}

func ptrFloat64(v float64) *float64 { return &v }
