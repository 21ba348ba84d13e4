package sensorsim

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Tissue is a Cole model of a body segment's impedance:
//
//	Z(f) = RInf + (R0 - RInf) / (1 + (j f/Fc)^Alpha)
//
// Reactance is reported as a positive magnitude, matching the bridge.
type Tissue struct {
	R0      float64
	RInf    float64
	Fc      float64
	Alpha   float64
	Gain    float64 // multiplies the magnitude to mimic an uncalibrated front end
	PhaseOf float64 // degrees added to the phase
}

// DefaultTissue is an adult whole-body segment. At 1 kHz its phase is under
// two degrees; every other point of the fixed plan passes validation.
func DefaultTissue() Tissue {
	return Tissue{R0: 650, RInf: 400, Fc: 40000, Alpha: 0.6, Gain: 1}
}

// Rectangular returns resistance and positive reactance at freqHz, before
// any front-end gain or phase error.
func (t Tissue) Rectangular(freqHz float64) (r, x float64) {
	jw := cmplx.Pow(complex(0, freqHz/t.Fc), complex(t.Alpha, 0))
	z := complex(t.RInf, 0) + complex(t.R0-t.RInf, 0)/(1+jw)
	return real(z), -imag(z)
}

// Polar returns the magnitude and phase in degrees the bridge would report.
func (t Tissue) Polar(freqHz float64) (magnitude, phaseDeg float64) {
	r, x := t.Rectangular(freqHz)
	gain := t.Gain
	if gain == 0 {
		gain = 1
	}
	return math.Hypot(r, x) * gain, math.Atan2(x, r)*180/math.Pi + t.PhaseOf
}

// ImpedanceLine renders the bridge response to a `Z <hz>` request.
func (t Tissue) ImpedanceLine(freqHz float64) string {
	mag, phase := t.Polar(freqHz)
	return fmt.Sprintf("IMP,%.0f,%.3f,%.3f,1", freqHz, mag, phase)
}
