package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/EdLlewellin/PyroTracker/internal/units"
)

// DefaultConfigPath is the path to the canonical calibration defaults file.
const DefaultConfigPath = "config/calibration.defaults.json"

// Fallback values used by the Get* accessors when a field is omitted.
const (
	DefaultGravity          = 9.80665
	DefaultMinFitPoints     = 3
	DefaultCurvatureEpsilon = 1e-9
	DefaultVarianceEpsilon  = 1e-9
	DefaultScaleUnit        = units.MetersPerPixel
	DefaultPlotWidthCm      = 16.0
	DefaultPlotHeightCm     = 10.0
	DefaultPlotFormat       = "png"
	DefaultReportTitle      = "Pyroclast scale calibration"
)

// CalibrationConfig holds the tunable parameters of the scale-calibration
// engine and its diagnostic outputs. Every field is optional; omitted fields
// fall back to the defaults above.
type CalibrationConfig struct {
	// Fit params
	GravityMS2       *float64 `json:"gravity_ms2,omitempty"`
	MinFitPoints     *int     `json:"min_fit_points,omitempty"`
	CurvatureEpsilon *float64 `json:"curvature_epsilon,omitempty"`
	VarianceEpsilon  *float64 `json:"variance_epsilon,omitempty"`

	// Display
	ScaleUnit *string `json:"scale_unit,omitempty"`

	// Plot/report params
	PlotWidthCm  *float64 `json:"plot_width_cm,omitempty"`
	PlotHeightCm *float64 `json:"plot_height_cm,omitempty"`
	PlotFormat   *string  `json:"plot_format,omitempty"`
	ReportTitle  *string  `json:"report_title,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyCalibrationConfig returns a CalibrationConfig with all fields unset.
func EmptyCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{}
}

// DefaultCalibrationConfig returns a config with every field populated from
// the compiled-in defaults. It does not touch the filesystem.
func DefaultCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{
		GravityMS2:       ptrFloat64(DefaultGravity),
		MinFitPoints:     ptrInt(DefaultMinFitPoints),
		CurvatureEpsilon: ptrFloat64(DefaultCurvatureEpsilon),
		VarianceEpsilon:  ptrFloat64(DefaultVarianceEpsilon),
		ScaleUnit:        ptrString(DefaultScaleUnit),
		PlotWidthCm:      ptrFloat64(DefaultPlotWidthCm),
		PlotHeightCm:     ptrFloat64(DefaultPlotHeightCm),
		PlotFormat:       ptrString(DefaultPlotFormat),
		ReportTitle:      ptrString(DefaultReportTitle),
	}
}

// LoadCalibrationConfig loads a CalibrationConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadCalibrationConfig(path string) (*CalibrationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCalibrationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents up to the repo root.
// Panics if the file cannot be loaded; intended for tests and binaries.
func MustLoadDefaultConfig() *CalibrationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/calibration/fitplot/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadCalibrationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks that the configured values are usable.
func (c *CalibrationConfig) Validate() error {
	if c.GravityMS2 != nil && *c.GravityMS2 <= 0 {
		return fmt.Errorf("gravity_ms2 must be positive, got %g", *c.GravityMS2)
	}
	if c.MinFitPoints != nil && *c.MinFitPoints < DefaultMinFitPoints {
		return fmt.Errorf("min_fit_points must be at least %d for a quadratic fit, got %d", DefaultMinFitPoints, *c.MinFitPoints)
	}
	if c.CurvatureEpsilon != nil && *c.CurvatureEpsilon < 0 {
		return fmt.Errorf("curvature_epsilon must be non-negative, got %g", *c.CurvatureEpsilon)
	}
	if c.VarianceEpsilon != nil && *c.VarianceEpsilon < 0 {
		return fmt.Errorf("variance_epsilon must be non-negative, got %g", *c.VarianceEpsilon)
	}
	if c.PlotWidthCm != nil && *c.PlotWidthCm <= 0 {
		return fmt.Errorf("plot_width_cm must be positive, got %g", *c.PlotWidthCm)
	}
	if c.PlotHeightCm != nil && *c.PlotHeightCm <= 0 {
		return fmt.Errorf("plot_height_cm must be positive, got %g", *c.PlotHeightCm)
	}
	if c.ScaleUnit != nil && !units.IsValid(*c.ScaleUnit) {
		return fmt.Errorf("scale_unit must be one of %s; got %q", units.GetValidUnitsString(), *c.ScaleUnit)
	}
	if c.PlotFormat != nil {
		switch *c.PlotFormat {
		case "png", "svg", "pdf":
		default:
			return fmt.Errorf("plot_format must be one of png, svg, pdf; got %q", *c.PlotFormat)
		}
	}
	return nil
}

// GetGravityMS2 returns the default gravitational acceleration for new tracks.
func (c *CalibrationConfig) GetGravityMS2() float64 {
	if c.GravityMS2 == nil {
		return DefaultGravity
	}
	return *c.GravityMS2
}

// GetMinFitPoints returns the minimum number of included points per fit.
func (c *CalibrationConfig) GetMinFitPoints() int {
	if c.MinFitPoints == nil {
		return DefaultMinFitPoints
	}
	return *c.MinFitPoints
}

// GetCurvatureEpsilon returns the smallest |A| accepted as real curvature.
func (c *CalibrationConfig) GetCurvatureEpsilon() float64 {
	if c.CurvatureEpsilon == nil {
		return DefaultCurvatureEpsilon
	}
	return *c.CurvatureEpsilon
}

// GetVarianceEpsilon returns the threshold below which SS_tot or SS_res
// is treated as zero.
func (c *CalibrationConfig) GetVarianceEpsilon() float64 {
	if c.VarianceEpsilon == nil {
		return DefaultVarianceEpsilon
	}
	return *c.VarianceEpsilon
}

// GetScaleUnit returns the display unit for derived scales.
func (c *CalibrationConfig) GetScaleUnit() string {
	if c.ScaleUnit == nil || *c.ScaleUnit == "" {
		return DefaultScaleUnit
	}
	return *c.ScaleUnit
}

// GetPlotWidthCm returns the diagnostic plot width in centimetres.
func (c *CalibrationConfig) GetPlotWidthCm() float64 {
	if c.PlotWidthCm == nil {
		return DefaultPlotWidthCm
	}
	return *c.PlotWidthCm
}

// GetPlotHeightCm returns the diagnostic plot height in centimetres.
func (c *CalibrationConfig) GetPlotHeightCm() float64 {
	if c.PlotHeightCm == nil {
		return DefaultPlotHeightCm
	}
	return *c.PlotHeightCm
}

// GetPlotFormat returns the image format for diagnostic plots.
func (c *CalibrationConfig) GetPlotFormat() string {
	if c.PlotFormat == nil || *c.PlotFormat == "" {
		return DefaultPlotFormat
	}
	return *c.PlotFormat
}

// GetReportTitle returns the title used on HTML and XLSX reports.
func (c *CalibrationConfig) GetReportTitle() string {
	if c.ReportTitle == nil || *c.ReportTitle == "" {
		return DefaultReportTitle
	}
	return *c.ReportTitle
}
