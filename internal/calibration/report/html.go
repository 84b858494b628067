package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	usedColor   = "#2f7ed8"
	unusedColor = "#a0a0a0"
)

// WriteHTML renders a bar chart of per-track derived scales with the
// global mean marked. Tracks selected for the global scale are
// highlighted. Tracks without a usable scale are omitted.
func WriteHTML(w io.Writer, r *Report) error {
	x := make([]string, 0, len(r.Rows))
	y := make([]opts.BarData, 0, len(r.Rows))
	for _, row := range r.Rows {
		if row.Scale == nil {
			continue
		}
		color := unusedColor
		if row.UseForGlobal {
			color = usedColor
		}
		x = append(x, fmt.Sprintf("Track %d", row.TrackID))
		y = append(y, opts.BarData{
			Name:      fmt.Sprintf("Track %d", row.TrackID),
			Value:     r.Convert(*row.Scale),
			ItemStyle: &opts.ItemStyle{Color: color},
		})
	}

	subtitle := fmt.Sprintf("%d tracks, %d selected", len(r.Rows), r.Summary.CountUsed)
	if r.Summary.Mean != nil {
		subtitle = fmt.Sprintf("global %.6g ± %.3g %s, %s",
			r.Convert(*r.Summary.Mean), r.spread(*r.Summary.StdDev), r.Unit, subtitle)
	}
	if r.Summary.Stale {
		subtitle += " (stale: recompute before applying)"
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: r.Title, Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: r.Title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: fmt.Sprintf("Scale (%s)", r.Unit), NameLocation: "middle", NameGap: 50}),
	)

	seriesOpts := []charts.SeriesOpts{
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top", Formatter: "{c}"}),
	}
	if r.Summary.Mean != nil {
		seriesOpts = append(seriesOpts, charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{
			Name:  "global mean",
			YAxis: r.Convert(*r.Summary.Mean),
		}))
	}
	bar.SetXAxis(x).AddSeries("derived scale", y, seriesOpts...)

	page := components.NewPage()
	page.PageTitle = r.Title
	page.AddCharts(bar)
	return page.Render(w)
}
