package calibration

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Aggregate combines the derived scales of eligible states (use flag set,
// valid fit, scale present) into an unweighted mean and sample standard
// deviation. The standard deviation is 0 for a single track. The returned
// state is never stale: it reflects exactly the states passed in.
func Aggregate(states []TrackAnalysisState) GlobalScaleState {
	scales := make([]float64, 0, len(states))
	for i := range states {
		if states[i].Eligible() {
			scales = append(scales, *states[i].Result.DerivedScale)
		}
	}

	g := GlobalScaleState{CountUsed: len(scales)}
	switch len(scales) {
	case 0:
	case 1:
		g.Mean = ptrFloat64(scales[0])
		g.StdDev = ptrFloat64(0)
	default:
		// stat.MeanStdDev uses the n-1 (unbiased) denominator.
		mean, std := stat.MeanStdDev(scales, nil)
		g.Mean = ptrFloat64(mean)
		g.StdDev = ptrFloat64(std)
	}
	return g
}

// ApplyGlobal writes g.Mean to the project scale. It refuses, leaving the
// project scale untouched, when g is stale or has no contributing tracks.
func ApplyGlobal(g GlobalScaleState, setter ScaleSetter) error {
	if g.Stale {
		return &PreconditionError{Reason: "global scale is stale; recompute before applying"}
	}
	if g.CountUsed == 0 || g.Mean == nil {
		return &PreconditionError{Reason: "no tracks contribute to the global scale"}
	}
	source := fmt.Sprintf("Global mean of %d track fits", g.CountUsed)
	if err := setter.SetProjectScale(*g.Mean, source); err != nil {
		return fmt.Errorf("set project scale: %w", err)
	}
	return nil
}
