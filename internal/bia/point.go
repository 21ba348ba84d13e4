// Package bia drives multi-frequency bioimpedance sweeps through an external
// impedance front end and filters the returned points to the physiological
// bands used for body-composition analysis.
package bia

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Acceptance bands for a single impedance point. All bounds are inclusive.
const (
	MinResistance = 200.0
	MaxResistance = 1000.0
	MinReactance  = 10.0
	MaxReactance  = 200.0
	MinPhaseDeg   = 2.0
	MaxPhaseDeg   = 20.0
)

var (
	ErrInvalidReading       = errors.New("reading flagged invalid by driver")
	ErrResistanceOutOfRange = errors.New("resistance out of range")
	ErrReactanceOutOfRange  = errors.New("reactance out of range")
	ErrPhaseOutOfRange      = errors.New("phase angle out of range")
	ErrDriverTimeout        = errors.New("impedance driver not ready")
	ErrCalibrationFailed    = errors.New("calibration measurement failed")
)

// ImpedancePoint is one calibrated measurement at a single frequency.
// Reactance is a positive magnitude; PhaseDeg = atan(X/R).
type ImpedancePoint struct {
	FrequencyHz float64   `json:"frequency_hz"`
	Resistance  float64   `json:"resistance"`
	Reactance   float64   `json:"reactance"`
	Magnitude   float64   `json:"magnitude"`
	PhaseDeg    float64   `json:"phase_deg"`
	Valid       bool      `json:"valid"`
	Time        time.Time `json:"time"`
}

// PhaseAngle returns atan(X/R) in degrees, or 0 when R is not positive.
func PhaseAngle(resistance, reactance float64) float64 {
	if resistance <= 0 {
		return 0
	}
	return math.Atan(reactance/resistance) * 180 / math.Pi
}

// PointFromRectangular builds a point from resistance and reactance.
func PointFromRectangular(freqHz, resistance, reactance float64) ImpedancePoint {
	return ImpedancePoint{
		FrequencyHz: freqHz,
		Resistance:  resistance,
		Reactance:   reactance,
		Magnitude:   math.Hypot(resistance, reactance),
		PhaseDeg:    math.Atan2(reactance, resistance) * 180 / math.Pi,
		Valid:       true,
	}
}

// PointFromPolar builds a point from magnitude and phase in degrees.
func PointFromPolar(freqHz, magnitude, phaseDeg float64) ImpedancePoint {
	rad := phaseDeg * math.Pi / 180
	return ImpedancePoint{
		FrequencyHz: freqHz,
		Resistance:  magnitude * math.Cos(rad),
		Reactance:   magnitude * math.Sin(rad),
		Magnitude:   magnitude,
		PhaseDeg:    phaseDeg,
		Valid:       true,
	}
}

// ValidatePoint checks p against the acceptance bands. The phase band is
// checked on the angle derived from R and X, not the reported phase.
func ValidatePoint(p ImpedancePoint) error {
	if !p.Valid {
		return ErrInvalidReading
	}
	if p.Resistance < MinResistance || p.Resistance > MaxResistance {
		return fmt.Errorf("%w: %.1f ohm", ErrResistanceOutOfRange, p.Resistance)
	}
	if x := math.Abs(p.Reactance); x < MinReactance || x > MaxReactance {
		return fmt.Errorf("%w: %.1f ohm", ErrReactanceOutOfRange, p.Reactance)
	}
	if ph := PhaseAngle(p.Resistance, p.Reactance); ph < MinPhaseDeg || ph > MaxPhaseDeg {
		return fmt.Errorf("%w: %.2f deg", ErrPhaseOutOfRange, ph)
	}
	return nil
}
