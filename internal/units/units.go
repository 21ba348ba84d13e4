// Package units provides shared constants and conversions for display units.
// Values are stored as mmHg and kg; these helpers convert them on the way out.
package units

import "strings"

// Pressure unit constants
const (
	MMHG = "mmHg"
	KPA  = "kPa"
)

// Mass unit constants
const (
	KG = "kg"
	LB = "lb"
)

var (
	ValidPressureUnits = []string{MMHG, KPA}
	ValidMassUnits     = []string{KG, LB}
)

const (
	mmHgPerKPa = 7.50062
	lbPerKg    = 2.20462
)

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IsValidPressure checks if the given unit is a supported pressure unit
func IsValidPressure(unit string) bool { return contains(ValidPressureUnits, unit) }

// IsValidMass checks if the given unit is a supported mass unit
func IsValidMass(unit string) bool { return contains(ValidMassUnits, unit) }

// GetValidPressureUnitsString returns a comma-separated string for error messages
func GetValidPressureUnitsString() string { return strings.Join(ValidPressureUnits, ", ") }

// GetValidMassUnitsString returns a comma-separated string for error messages
func GetValidMassUnitsString() string { return strings.Join(ValidMassUnits, ", ") }

// ConvertPressure converts a pressure from mmHg to the target units
func ConvertPressure(mmHg float64, targetUnits string) float64 {
	switch targetUnits {
	case KPA:
		return mmHg / mmHgPerKPa
	default:
		return mmHg
	}
}

// ConvertMass converts a mass from kilograms to the target units
func ConvertMass(kg float64, targetUnits string) float64 {
	switch targetUnits {
	case LB:
		return kg * lbPerKg
	default:
		return kg
	}
}

// ToKilograms converts a mass in the given units back to kilograms.
func ToKilograms(value float64, fromUnits string) float64 {
	if fromUnits == LB {
		return value / lbPerKg
	}
	return value
}

// ToMMHg converts a pressure in the given units back to mmHg.
func ToMMHg(value float64, fromUnits string) float64 {
	if fromUnits == KPA {
		return value * mmHgPerKPa
	}
	return value
}
