package report

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/EdLlewellin/PyroTracker/internal/units"
)

func fmtOpt(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

// WriteText renders the report as an aligned plain-text table.
func WriteText(w io.Writer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "%s\n\n", r.Title)
	fmt.Fprintf(tw, "TRACK\tSTATUS\tPOINTS\tA (px/s²)\tR²\tSCALE (%s)\tUSE\tAPPLIED\n", r.Unit)
	for _, row := range r.Rows {
		scale := "-"
		if row.Scale != nil {
			scale = strconv.FormatFloat(r.Convert(*row.Scale), 'g', 6, 64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			row.TrackID, row.Status, row.Included,
			fmtOpt(row.A, "%.4g"), fmtOpt(row.RSquared, "%.4f"), scale,
			yesNo(row.UseForGlobal), yesNo(row.AppliedToProject))
	}

	s := r.Summary
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Tracks\t%d (%d fitted)\n", s.Tracks, s.Fitted)
	if s.Mean != nil {
		state := ""
		if s.Stale {
			state = " [stale]"
		}
		fmt.Fprintf(tw, "Global scale\t%.6g ± %.3g %s from %d tracks%s\n",
			r.Convert(*s.Mean), r.spread(*s.StdDev), r.Unit, s.CountUsed, state)
	} else if s.Stale {
		fmt.Fprintf(tw, "Global scale\tnot computed [stale]\n")
	} else {
		fmt.Fprintf(tw, "Global scale\tnot computed\n")
	}
	if s.Median != nil {
		fmt.Fprintf(tw, "Median / range\t%.6g (%.6g to %.6g) %s\n",
			r.Convert(*s.Median), r.Convert(*s.Min), r.Convert(*s.Max), r.Unit)
	}
	if s.IQR != nil {
		fmt.Fprintf(tw, "IQR\t%.3g %s\n", r.spread(*s.IQR), r.Unit)
	}
	if r.ProjectScale != nil {
		fmt.Fprintf(tw, "Project scale\t%.6g %s (%s)\n", r.Convert(*r.ProjectScale), r.Unit, r.ProjectScaleSource)
	}
	return tw.Flush()
}

// spread converts a spread of m/px values to the report unit. For the
// reciprocal px/m unit it uses first-order propagation around the mean,
// or the median when no mean has been computed.
func (r *Report) spread(v float64) float64 {
	if r.Unit != units.PixelsPerMeter {
		return r.Convert(v)
	}
	ref := r.Summary.Mean
	if ref == nil {
		ref = r.Summary.Median
	}
	if ref == nil || *ref <= 0 {
		return 0
	}
	// d(1/s) = ds / s²
	return v / (*ref * *ref)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
