package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCalibrationConfig(t *testing.T) {
	cfg := DefaultCalibrationConfig()

	if cfg.GravityMS2 == nil || *cfg.GravityMS2 != 9.80665 {
		t.Errorf("Expected GravityMS2 9.80665, got %v", cfg.GravityMS2)
	}
	if cfg.MinFitPoints == nil || *cfg.MinFitPoints != 3 {
		t.Errorf("Expected MinFitPoints 3, got %v", cfg.MinFitPoints)
	}
	if cfg.GetScaleUnit() != "m/px" {
		t.Errorf("GetScaleUnit() = %q, want m/px", cfg.GetScaleUnit())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEmptyConfigGetters(t *testing.T) {
	cfg := EmptyCalibrationConfig()

	if cfg.GetGravityMS2() != DefaultGravity {
		t.Errorf("GetGravityMS2() = %f, want %f", cfg.GetGravityMS2(), DefaultGravity)
	}
	if cfg.GetMinFitPoints() != DefaultMinFitPoints {
		t.Errorf("GetMinFitPoints() = %d, want %d", cfg.GetMinFitPoints(), DefaultMinFitPoints)
	}
	if cfg.GetCurvatureEpsilon() != DefaultCurvatureEpsilon {
		t.Errorf("GetCurvatureEpsilon() = %g, want %g", cfg.GetCurvatureEpsilon(), DefaultCurvatureEpsilon)
	}
	if cfg.GetVarianceEpsilon() != DefaultVarianceEpsilon {
		t.Errorf("GetVarianceEpsilon() = %g, want %g", cfg.GetVarianceEpsilon(), DefaultVarianceEpsilon)
	}
	if cfg.GetPlotFormat() != "png" {
		t.Errorf("GetPlotFormat() = %q, want png", cfg.GetPlotFormat())
	}
	if cfg.GetPlotWidthCm() != 16 || cfg.GetPlotHeightCm() != 10 {
		t.Errorf("plot size = %gx%g, want 16x10", cfg.GetPlotWidthCm(), cfg.GetPlotHeightCm())
	}
	if cfg.GetReportTitle() == "" {
		t.Error("GetReportTitle() should never be empty")
	}
}

func TestLoadCalibrationConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "calibration.json")

	testJSON := `{
  "gravity_ms2": 3.721,
  "min_fit_points": 5,
  "plot_format": "svg"
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadCalibrationConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetGravityMS2() != 3.721 {
		t.Errorf("GetGravityMS2() = %f, want 3.721", cfg.GetGravityMS2())
	}
	if cfg.GetMinFitPoints() != 5 {
		t.Errorf("GetMinFitPoints() = %d, want 5", cfg.GetMinFitPoints())
	}
	if cfg.GetPlotFormat() != "svg" {
		t.Errorf("GetPlotFormat() = %q, want svg", cfg.GetPlotFormat())
	}
	// Omitted fields fall back to defaults.
	if cfg.CurvatureEpsilon != nil {
		t.Errorf("Expected CurvatureEpsilon unset, got %v", *cfg.CurvatureEpsilon)
	}
	if cfg.GetCurvatureEpsilon() != DefaultCurvatureEpsilon {
		t.Errorf("GetCurvatureEpsilon() = %g, want default", cfg.GetCurvatureEpsilon())
	}
}

func TestLoadCalibrationConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"malformed json", "bad.json", `{"gravity_ms2": `, "parse config JSON"},
		{"negative gravity", "neg.json", `{"gravity_ms2": -9.8}`, "gravity_ms2 must be positive"},
		{"too few fit points", "few.json", `{"min_fit_points": 2}`, "min_fit_points"},
		{"bad plot format", "fmt.json", `{"plot_format": "gif"}`, "plot_format"},
		{"bad scale unit", "unit.json", `{"scale_unit": "ft/px"}`, "scale_unit must be one of m/px, mm/px, px/m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write config: %v", err)
			}
			_, err := LoadCalibrationConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadCalibrationConfig_MissingFile(t *testing.T) {
	_, err := LoadCalibrationConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if cfg.GetGravityMS2() != DefaultGravity {
		t.Errorf("defaults file gravity = %f, want %f", cfg.GetGravityMS2(), DefaultGravity)
	}
	if cfg.GetMinFitPoints() != 3 {
		t.Errorf("defaults file min_fit_points = %d, want 3", cfg.GetMinFitPoints())
	}
}
