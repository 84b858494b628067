package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
	"github.com/EdLlewellin/PyroTracker/internal/calibration/fitplot"
	"github.com/EdLlewellin/PyroTracker/internal/calibration/report"
	"github.com/EdLlewellin/PyroTracker/internal/db"
	"github.com/EdLlewellin/PyroTracker/internal/fsutil"
	"github.com/EdLlewellin/PyroTracker/internal/units"
)

type commandFunc func(a *app, args []string) error

var commands = map[string]commandFunc{
	"import":      cmdImport,
	"tracks":      cmdTracks,
	"point":       cmdPoint,
	"track":       cmdTrack,
	"gravity":     cmdGravity,
	"settings":    cmdSettings,
	"fit":         cmdFit,
	"fit-all":     cmdFitAll,
	"use":         cmdUse,
	"recompute":   cmdRecompute,
	"apply":       cmdApply,
	"apply-track": cmdApplyTrack,
	"status":      cmdStatus,
	"plot":        cmdPlot,
	"report":      cmdReport,
	"runs":        cmdRuns,
}

func newFlagSet(a *app, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func parseTrackID(s string) (calibration.TrackID, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid track id %q", s)
	}
	return calibration.TrackID(id), nil
}

// trackArg splits "<track> [flags...]" into the id and the remaining args.
func trackArg(name string, args []string) (calibration.TrackID, []string, error) {
	if len(args) < 1 {
		return 0, nil, fmt.Errorf("usage: pyrotracker %s <track>", name)
	}
	id, err := parseTrackID(args[0])
	return id, args[1:], err
}

func parseFloats(args []string, names ...string) ([]float64, error) {
	vals := make([]float64, len(names))
	for i, name := range names {
		v, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", name, args[i])
		}
		vals[i] = v
	}
	return vals, nil
}

// parseFrames reads a comma-separated frame list. "none" clears it.
func parseFrames(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return nil, nil
	}
	var frames []int
	for _, part := range strings.Split(s, ",") {
		f, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid frame index %q", part)
		}
		frames = append(frames, f)
	}
	return frames, nil
}

func cmdImport(a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pyrotracker import <file.csv|file.xlsx>")
	}
	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var stats db.ImportStats
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		stats, err = a.db.ImportPointsCSV(f)
	case ".xlsx":
		stats, err = a.db.ImportPointsXLSX(f)
	default:
		return fmt.Errorf("unsupported import format %q (want .csv or .xlsx)", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "imported %d tracks: %d points added, %d updated\n", stats.Tracks, stats.Added, stats.Updated)
	return nil
}

func cmdTracks(a *app, args []string) error {
	tracks, err := a.db.ListTracks()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tLABEL\tPOINTS\tSTATUS\tUSE")
	for _, t := range tracks {
		st, err := a.store.State(t.TrackID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%t\n", t.TrackID, t.Label, t.PointCount, st.Status(), st.UseForGlobal)
	}
	return tw.Flush()
}

func cmdPoint(a *app, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: pyrotracker point add|update|delete ...")
	}
	action, rest := args[0], args[1:]
	switch action {
	case "add", "update":
		if len(rest) != 5 {
			return fmt.Errorf("usage: pyrotracker point %s <track> <frame> <time_s> <x_px> <y_px>", action)
		}
		id, err := parseTrackID(rest[0])
		if err != nil {
			return err
		}
		frame, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("invalid frame index %q", rest[1])
		}
		v, err := parseFloats(rest[2:], "time_s", "x_px", "y_px")
		if err != nil {
			return err
		}
		p := calibration.Point{FrameIndex: frame, TimeSeconds: v[0], XPixel: v[1], YPixelTopLeft: v[2]}
		if action == "add" {
			return a.db.AddPoint(id, p)
		}
		return a.db.UpdatePoint(id, p)
	case "delete":
		if len(rest) != 2 {
			return errors.New("usage: pyrotracker point delete <track> <frame>")
		}
		id, err := parseTrackID(rest[0])
		if err != nil {
			return err
		}
		frame, err := strconv.Atoi(rest[1])
		if err != nil {
			return fmt.Errorf("invalid frame index %q", rest[1])
		}
		return a.db.DeletePoint(id, frame)
	default:
		return fmt.Errorf("unknown point action: %s", action)
	}
}

func cmdTrack(a *app, args []string) error {
	if len(args) != 2 || args[0] != "delete" {
		return errors.New("usage: pyrotracker track delete <track>")
	}
	id, err := parseTrackID(args[1])
	if err != nil {
		return err
	}
	if err := a.db.DeleteTrack(id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted track %d\n", id)
	return nil
}

func cmdGravity(a *app, args []string) error {
	switch {
	case len(args) == 0:
	case args[0] == "-reset":
		if err := a.db.SetGravityDefault(a.cfg.GetGravityMS2()); err != nil {
			return err
		}
	default:
		g, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid gravity %q", args[0])
		}
		if err := a.db.SetGravityDefault(g); err != nil {
			return err
		}
	}
	g, err := a.db.GravityDefault()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "project gravity default: %g m/s²\n", g)
	return nil
}

func printSettings(w io.Writer, id calibration.TrackID, s calibration.FitSettings) {
	rangeNote := ""
	if s.AutoRange {
		rangeNote = " (auto)"
	}
	fmt.Fprintf(w, "track %d: time %g to %g s%s, excluded %v, g %g m/s²\n",
		id, s.TimeMin, s.TimeMax, rangeNote, s.Excluded(), s.G)
}

func cmdSettings(a *app, args []string) error {
	id, rest, err := trackArg("settings", args)
	if err != nil {
		return err
	}
	fs := newFlagSet(a, "settings")
	tmin := fs.Float64("tmin", 0, "start of the fit window (s)")
	tmax := fs.Float64("tmax", 0, "end of the fit window (s)")
	auto := fs.Bool("auto", false, "fit over the full observed time range")
	exclude := fs.String("exclude", "", "comma-separated frame indices to exclude, or none")
	g := fs.Float64("g", 0, "gravitational acceleration (m/s²)")
	reset := fs.Bool("reset", false, "restore default settings")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	points, err := a.db.Points(id)
	if err != nil {
		return err
	}

	if *reset {
		if len(set) > 1 {
			return errors.New("-reset cannot be combined with other settings")
		}
		if err := a.store.ResetSettings(id); err != nil {
			return err
		}
	} else if len(set) > 0 {
		if *auto && (set["tmin"] || set["tmax"]) {
			return errors.New("-auto cannot be combined with -tmin or -tmax")
		}
		st, err := a.store.State(id)
		if err != nil {
			return err
		}
		s := st.Settings.Resolve(points)
		if set["tmin"] || set["tmax"] {
			s.AutoRange = false
			if set["tmin"] {
				s.TimeMin = *tmin
			}
			if set["tmax"] {
				s.TimeMax = *tmax
			}
		}
		if *auto {
			s.AutoRange = true
			s = s.Resolve(points)
		}
		if set["exclude"] {
			frames, err := parseFrames(*exclude)
			if err != nil {
				return err
			}
			s.ExcludedFrames = calibration.ExcludeFrames(frames...)
		}
		if set["g"] {
			s.G = *g
		}
		if err := a.store.SetSettings(id, s); err != nil {
			return err
		}
	}

	st, err := a.store.State(id)
	if err != nil {
		return err
	}
	printSettings(a.out, id, st.Settings.Resolve(points))
	return nil
}

func printFit(w io.Writer, id calibration.TrackID, res calibration.FitResult) {
	scale := "none"
	if res.HasScale() {
		scale = units.FormatScale(*res.DerivedScale, units.MetersPerPixel)
	}
	fmt.Fprintf(w, "track %d: A=%.6g B=%.6g C=%.6g R²=%.4f points=%d scale=%s\n",
		id, res.A, res.B, res.C, res.RSquared, res.Included, scale)
}

func cmdFit(a *app, args []string) error {
	id, _, err := trackArg("fit", args)
	if err != nil {
		return err
	}
	res, err := a.store.RunFit(id)
	if err != nil {
		if errors.Is(err, calibration.ErrInvalidSign) {
			printFit(a.out, id, res)
		}
		return err
	}
	printFit(a.out, id, res)
	return nil
}

func cmdFitAll(a *app, args []string) error {
	batch, err := a.store.FitAllUnfitted()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "fitted %d, failed %d, skipped %d (already valid)\n", batch.Succeeded, batch.Failed, batch.Skipped)
	ids := make([]calibration.TrackID, 0, len(batch.Failures))
	for id := range batch.Failures {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(a.out, "  track %d: %v\n", id, batch.Failures[id])
	}
	return nil
}

func cmdUse(a *app, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: pyrotracker use <track> true|false")
	}
	id, err := parseTrackID(args[0])
	if err != nil {
		return err
	}
	use, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("invalid use flag %q", args[1])
	}
	return a.store.ToggleUse(id, use)
}

func printGlobal(w io.Writer, g calibration.GlobalScaleState) {
	if g.Mean == nil {
		fmt.Fprintln(w, "global scale: no tracks selected")
		return
	}
	fmt.Fprintf(w, "global scale: %s ± %.3g from %d tracks\n",
		units.FormatScale(*g.Mean, units.MetersPerPixel), *g.StdDev, g.CountUsed)
}

func cmdRecompute(a *app, args []string) error {
	printGlobal(a.out, a.store.RecomputeGlobal())
	return nil
}

func printProjectScale(a *app) error {
	scale, err := a.db.ProjectScale()
	if err != nil {
		return err
	}
	if scale == nil {
		fmt.Fprintln(a.out, "project scale: not set")
		return nil
	}
	fmt.Fprintf(a.out, "project scale: %s (%s)\n", units.FormatScale(scale.MetersPerPixel, units.MetersPerPixel), scale.Source)
	return nil
}

func cmdApply(a *app, args []string) error {
	if err := a.store.ApplyGlobalScale(); err != nil {
		return err
	}
	return printProjectScale(a)
}

func cmdApplyTrack(a *app, args []string) error {
	id, _, err := trackArg("apply-track", args)
	if err != nil {
		return err
	}
	if err := a.store.ApplyTrackScale(id); err != nil {
		return err
	}
	return printProjectScale(a)
}

func buildReport(a *app, unit string) (*report.Report, error) {
	r, err := report.Build(a.db.Clock(), a.cfg.GetReportTitle(), unit, a.store.Tracks(), a.store.Global())
	if err != nil {
		return nil, err
	}
	scale, err := a.db.ProjectScale()
	if err != nil {
		return nil, err
	}
	if scale != nil {
		v := scale.MetersPerPixel
		r.ProjectScale = &v
		r.ProjectScaleSource = scale.Source
	}
	return r, nil
}

// ensureStates creates default state for tracks never touched so that
// they appear in listings.
func ensureStates(a *app) error {
	ids, err := a.db.TrackIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := a.store.State(id); err != nil {
			return err
		}
	}
	return nil
}

func cmdStatus(a *app, args []string) error {
	if err := ensureStates(a); err != nil {
		return err
	}
	r, err := buildReport(a, a.cfg.GetScaleUnit())
	if err != nil {
		return err
	}
	return report.WriteText(a.out, r)
}

func cmdPlot(a *app, args []string) error {
	id, rest, err := trackArg("plot", args)
	if err != nil {
		return err
	}
	opts := fitplot.OptionsFromConfig(a.cfg)
	fs := newFlagSet(a, "plot")
	out := fs.String("out", "", "output file (default track_<id>.<format>)")
	format := fs.String("format", opts.Format, "image format: png, svg or pdf")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	opts.Format = *format
	path := *out
	if path == "" {
		path = fmt.Sprintf("track_%d.%s", id, opts.Format)
	}

	points, err := a.db.Points(id)
	if err != nil {
		return err
	}
	st, err := a.store.State(id)
	if err != nil {
		return err
	}
	if err := fitplot.WriteTrackPlot(a.fsys, path, points, st, opts); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "wrote %s\n", path)
	return nil
}

func cmdReport(a *app, args []string) error {
	fs := newFlagSet(a, "report")
	htmlPath := fs.String("html", "", "write an HTML chart to this file")
	xlsxPath := fs.String("xlsx", "", "write an XLSX workbook to this file")
	unit := fs.String("unit", a.cfg.GetScaleUnit(), "scale unit: "+units.GetValidUnitsString())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !units.IsValid(*unit) {
		return fmt.Errorf("unit must be one of %s; got %q", units.GetValidUnitsString(), *unit)
	}
	if err := ensureStates(a); err != nil {
		return err
	}
	r, err := buildReport(a, *unit)
	if err != nil {
		return err
	}

	if *htmlPath != "" {
		if err := fsutil.WriteArtifact(a.fsys, *htmlPath, func(w io.Writer) error { return report.WriteHTML(w, r) }); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "wrote %s\n", *htmlPath)
	}
	if *xlsxPath != "" {
		if err := fsutil.WriteArtifact(a.fsys, *xlsxPath, func(w io.Writer) error { return report.WriteXLSX(w, r) }); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "wrote %s\n", *xlsxPath)
	}
	if *htmlPath == "" && *xlsxPath == "" {
		return report.WriteText(a.out, r)
	}
	return nil
}

func cmdRuns(a *app, args []string) error {
	id, rest, err := trackArg("runs", args)
	if err != nil {
		return err
	}
	fs := newFlagSet(a, "runs")
	limit := fs.Int("n", 10, "number of runs to show (0 for all)")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	runs, err := a.db.FitRuns(id, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSTATUS\tPOINTS\tA\tSCALE (m/px)\tERROR")
	for _, r := range runs {
		coef, scale := "-", "-"
		if r.A != nil {
			coef = strconv.FormatFloat(*r.A, 'g', 6, 64)
		}
		if r.Scale != nil {
			scale = strconv.FormatFloat(*r.Scale, 'g', 6, 64)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.Status, r.Included, coef, scale, r.Error)
	}
	return tw.Flush()
}
