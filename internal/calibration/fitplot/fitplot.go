// Package fitplot renders a diagnostic y(t) plot of one track's
// quadratic fit: included points, excluded points and the fitted curve.
package fitplot

import (
	"fmt"
	"image/color"
	"io"

	"github.com/EdLlewellin/PyroTracker/internal/calibration"
	"github.com/EdLlewellin/PyroTracker/internal/config"
	"github.com/EdLlewellin/PyroTracker/internal/fsutil"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// curveSamples is the number of points used to draw the fitted curve.
const curveSamples = 200

var (
	includedColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	excludedColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	curveColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// Options controls the rendered image.
type Options struct {
	WidthCm  float64
	HeightCm float64
	Format   string // png, svg or pdf
}

// OptionsFromConfig reads plot dimensions and format from cfg.
func OptionsFromConfig(cfg *config.CalibrationConfig) Options {
	return Options{
		WidthCm:  cfg.GetPlotWidthCm(),
		HeightCm: cfg.GetPlotHeightCm(),
		Format:   cfg.GetPlotFormat(),
	}
}

// TrackFitPlot builds the plot for one track. The y axis is inverted so
// the picture matches the image: pixel y grows downward.
func TrackFitPlot(points []calibration.Point, st calibration.TrackAnalysisState) (*plot.Plot, error) {
	settings := st.Settings.Resolve(points)

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Track %d - %s", st.TrackID, title(st))
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "y (px, top-left origin)"
	p.Y.Scale = plot.InvertedScale{Normalizer: plot.LinearScale{}}
	p.Add(plotter.NewGrid())

	included := make(plotter.XYs, 0, len(points))
	excluded := make(plotter.XYs, 0)
	for _, pt := range points {
		xy := plotter.XY{X: pt.TimeSeconds, Y: pt.YPixelTopLeft}
		if settings.Includes(pt) {
			included = append(included, xy)
		} else {
			excluded = append(excluded, xy)
		}
	}

	if len(included) > 0 {
		sc, err := plotter.NewScatter(included)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle = draw.GlyphStyle{Color: includedColor, Radius: vg.Points(3), Shape: draw.CircleGlyph{}}
		p.Add(sc)
		p.Legend.Add("Included", sc)
	}
	if len(excluded) > 0 {
		sc, err := plotter.NewScatter(excluded)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle = draw.GlyphStyle{Color: excludedColor, Radius: vg.Points(3), Shape: draw.CrossGlyph{}}
		p.Add(sc)
		p.Legend.Add("Excluded", sc)
	}

	if st.Result != nil && settings.TimeMax > settings.TimeMin {
		res := *st.Result
		curve := plotter.NewFunction(res.Eval)
		curve.XMin = settings.TimeMin
		curve.XMax = settings.TimeMax
		curve.Samples = curveSamples
		curve.Color = curveColor
		curve.Width = vg.Points(1.5)
		p.Add(curve)
		p.Legend.Add(fmt.Sprintf("Fit R²=%.4f", res.RSquared), curve)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

func title(st calibration.TrackAnalysisState) string {
	switch {
	case st.Valid && st.Result.HasScale():
		return fmt.Sprintf("A=%.4g px/s², scale %.6g m/px", st.Result.A, *st.Result.DerivedScale)
	case st.Result != nil:
		return fmt.Sprintf("A=%.4g px/s², no usable scale", st.Result.A)
	default:
		return string(st.Status())
	}
}

// Render writes p to w in the requested format and size.
func Render(w io.Writer, p *plot.Plot, opts Options) error {
	width := vg.Length(opts.WidthCm) * vg.Centimeter
	height := vg.Length(opts.HeightCm) * vg.Centimeter
	wt, err := p.WriterTo(width, height, opts.Format)
	if err != nil {
		return fmt.Errorf("render %s: %w", opts.Format, err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// WriteTrackPlot renders the plot for one track to path on fsys.
func WriteTrackPlot(fsys fsutil.FileSystem, path string, points []calibration.Point, st calibration.TrackAnalysisState, opts Options) error {
	p, err := TrackFitPlot(points, st)
	if err != nil {
		return err
	}
	return fsutil.WriteArtifact(fsys, path, func(w io.Writer) error {
		return Render(w, p, opts)
	})
}
