// Package units provides shared constants and validation for image scale units
package units

import (
	"fmt"
	"strings"
)

// Unit constants
const (
	MetersPerPixel      = "m/px"
	MillimetersPerPixel = "mm/px"
	PixelsPerMeter      = "px/m"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MetersPerPixel, MillimetersPerPixel, PixelsPerMeter}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertScale converts a scale in metres per pixel to the target units.
// Scales are always stored in m/px. A non-positive scale has no
// reciprocal, so px/m of such a value is returned as 0.
func ConvertScale(metersPerPixel float64, targetUnits string) float64 {
	switch targetUnits {
	case MillimetersPerPixel:
		return metersPerPixel * 1000
	case PixelsPerMeter:
		if metersPerPixel <= 0 {
			return 0
		}
		return 1 / metersPerPixel
	case MetersPerPixel:
		return metersPerPixel
	default:
		return metersPerPixel // default to m/px if unknown unit
	}
}

// FormatScale renders a m/px scale in the target units.
func FormatScale(metersPerPixel float64, targetUnits string) string {
	if !IsValid(targetUnits) {
		targetUnits = MetersPerPixel
	}
	return fmt.Sprintf("%.6g %s", ConvertScale(metersPerPixel, targetUnits), targetUnits)
}
