package calibration

import (
	"fmt"
	"math"

	"github.com/EdLlewellin/PyroTracker/internal/config"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// minQuadraticPoints is the fewest points that determine a quadratic.
const minQuadraticPoints = 3

// FitOptions holds the numeric thresholds used by Fit.
type FitOptions struct {
	MinPoints        int     // Minimum included points (never below 3)
	CurvatureEpsilon float64 // |A| must exceed this to derive a scale (px/s²)
	VarianceEpsilon  float64 // SS_tot/SS_res at or below this count as zero (px²)
}

// DefaultFitOptions returns the compiled-in fit thresholds.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		MinPoints:        config.DefaultMinFitPoints,
		CurvatureEpsilon: config.DefaultCurvatureEpsilon,
		VarianceEpsilon:  config.DefaultVarianceEpsilon,
	}
}

// FitOptionsFromConfig builds FitOptions from a loaded CalibrationConfig.
func FitOptionsFromConfig(cfg *config.CalibrationConfig) FitOptions {
	return FitOptions{
		MinPoints:        cfg.GetMinFitPoints(),
		CurvatureEpsilon: cfg.GetCurvatureEpsilon(),
		VarianceEpsilon:  cfg.GetVarianceEpsilon(),
	}
}

// Fit regresses YPixelTopLeft against TimeSeconds with y = A·t² + B·t + C
// over the points selected by settings, using unweighted least squares.
//
// In the top-left pixel convention y grows downward, so a falling body
// has A > 0. When A does not exceed the curvature epsilon, Fit returns the
// populated coefficients and R² together with a *FitError of kind
// KindInvalidSign; DerivedScale is nil in that case. All other errors
// return a zero result.
//
// Fit is a pure function of its inputs. AutoRange settings are expanded
// to the observed time range of points before filtering.
func Fit(points []Point, settings FitSettings, opts FitOptions) (FitResult, error) {
	if !(settings.G > 0) || math.IsInf(settings.G, 0) {
		return FitResult{}, fmt.Errorf("%w: g must be positive, got %g", ErrInvalidSettings, settings.G)
	}
	settings = settings.Resolve(points)
	if settings.TimeMin > settings.TimeMax {
		return FitResult{}, fmt.Errorf("%w: time_min %g > time_max %g", ErrInvalidSettings, settings.TimeMin, settings.TimeMax)
	}

	ts := make([]float64, 0, len(points))
	ys := make([]float64, 0, len(points))
	for _, p := range points {
		if settings.Includes(p) {
			ts = append(ts, p.TimeSeconds)
			ys = append(ys, p.YPixelTopLeft)
		}
	}

	n := len(ts)
	minPoints := max(opts.MinPoints, minQuadraticPoints)
	if n < minPoints {
		return FitResult{Included: n}, &FitError{
			Kind:     KindInsufficientPoints,
			Included: n,
			Detail:   fmt.Sprintf("%d included, need %d", n, minPoints),
		}
	}

	if d := distinctCount(ts); d < minQuadraticPoints {
		return FitResult{Included: n}, &FitError{
			Kind:     KindDegenerateData,
			Included: n,
			Detail:   fmt.Sprintf("%d distinct sample times", d),
		}
	}

	// Design matrix rows are [t² t 1]; QR least squares is equivalent to
	// the normal equations without squaring the condition number.
	design := mat.NewDense(n, 3, nil)
	for i, t := range ts {
		design.Set(i, 0, t*t)
		design.Set(i, 1, t)
		design.Set(i, 2, 1)
	}
	obs := mat.NewVecDense(n, append([]float64(nil), ys...))

	var qr mat.QR
	qr.Factorize(design)
	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, obs); err != nil {
		// Rank deficient: fewer than three distinct sample times.
		return FitResult{Included: n}, &FitError{
			Kind:     KindDegenerateData,
			Included: n,
			Detail:   err.Error(),
		}
	}

	if math.IsNaN(coef.AtVec(0)) || math.IsInf(coef.AtVec(0), 0) {
		return FitResult{Included: n}, &FitError{Kind: KindDegenerateData, Included: n, Detail: "non-finite coefficients"}
	}

	res := FitResult{
		A:        coef.AtVec(0),
		B:        coef.AtVec(1),
		C:        coef.AtVec(2),
		Included: n,
	}

	mean := stat.Mean(ys, nil)
	var ssRes, ssTot float64
	for i, t := range ts {
		r := ys[i] - res.Eval(t)
		d := ys[i] - mean
		ssRes += r * r
		ssTot += d * d
	}

	switch {
	case ssTot <= opts.VarianceEpsilon && ssRes <= opts.VarianceEpsilon:
		res.RSquared = 1
	case ssTot <= opts.VarianceEpsilon:
		return FitResult{Included: n}, &FitError{
			Kind:     KindDegenerateData,
			Included: n,
			Detail:   fmt.Sprintf("zero variance in y with residual %g", ssRes),
		}
	default:
		res.RSquared = math.Max(0, math.Min(1, 1-ssRes/ssTot))
	}

	if !(res.A > opts.CurvatureEpsilon) {
		return res, &FitError{
			Kind:     KindInvalidSign,
			Included: n,
			Detail:   fmt.Sprintf("A=%.6g px/s²", res.A),
		}
	}

	res.DerivedScale = ptrFloat64(settings.G / (2 * math.Abs(res.A)))
	return res, nil
}

func distinctCount(vs []float64) int {
	seen := make(map[float64]struct{}, len(vs))
	for _, v := range vs {
		seen[v] = struct{}{}
	}
	return len(seen)
}
