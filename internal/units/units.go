// Package units provides shared constants and conversions for speed units.
package units

import "strings"

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

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

// MPSToKMPH is the factor from metres per second to kilometres per hour.
const MPSToKMPH = 3.6

// ConvertSpeed converts a speed from meters per second to the target units.
// Unknown units are returned unchanged.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * MPSToKMPH
	default:
		return speedMPS
	}
}

// SpeedKMPH converts a distance covered over dtSeconds into km/h. The
// distance is taken to be metres; with an uncalibrated camera it is pixels
// and the result is only a relative figure.
func SpeedKMPH(distance, dtSeconds float64) float64 {
	if dtSeconds <= 0 {
		return 0
	}
	return ConvertSpeed(distance/dtSeconds, KMPH)
}
