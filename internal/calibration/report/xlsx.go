package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	tracksSheet  = "Tracks"
	summarySheet = "Summary"
)

func optValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

// WriteXLSX writes a workbook with a per-track sheet and a summary sheet.
func WriteXLSX(w io.Writer, r *Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), tracksSheet); err != nil {
		return err
	}

	header := []any{"track_id", "status", "points", "A_px_s2", "r_squared", "scale_" + r.Unit, "use_for_global", "applied_to_project", "error"}
	rows := [][]any{header}
	for _, row := range r.Rows {
		var scale any
		if row.Scale != nil {
			scale = r.Convert(*row.Scale)
		}
		rows = append(rows, []any{
			int(row.TrackID), string(row.Status), row.Included,
			optValue(row.A), optValue(row.RSquared), scale,
			row.UseForGlobal, row.AppliedToProject, row.Error,
		})
	}
	if err := writeRows(f, tracksSheet, rows); err != nil {
		return err
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}
	s := r.Summary
	convert := func(v *float64) any {
		if v == nil {
			return nil
		}
		return r.Convert(*v)
	}
	spread := func(v *float64) any {
		if v == nil {
			return nil
		}
		return r.spread(*v)
	}
	var project any
	if r.ProjectScale != nil {
		project = r.Convert(*r.ProjectScale)
	}
	summary := [][]any{
		{"field", "value"},
		{"title", r.Title},
		{"unit", r.Unit},
		{"generated_at", r.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z")},
		{"tracks", s.Tracks},
		{"fitted", s.Fitted},
		{"count_used", s.CountUsed},
		{"mean", convert(s.Mean)},
		{"stddev", spread(s.StdDev)},
		{"stale", s.Stale},
		{"median", convert(s.Median)},
		{"min", convert(s.Min)},
		{"max", convert(s.Max)},
		{"iqr", spread(s.IQR)},
		{"project_scale", project},
		{"project_scale_source", r.ProjectScaleSource},
	}
	if err := writeRows(f, summarySheet, summary); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
