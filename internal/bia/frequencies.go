package bia

import (
	"fmt"
	"math"

	"github.com/banshee-data/vitals.report/internal/config"
)

// MaxSweepPoints bounds a log-spaced plan.
const MaxSweepPoints = 1000

// ReferenceFrequencyHz is the frequency the composition equations use.
const ReferenceFrequencyHz = 50000.0

// FixedFrequencies returns the standard five-point plan.
func FixedFrequencies() []float64 {
	return []float64{1000, 5000, 10000, 50000, 100000}
}

// LogSpacedFrequencies returns n frequencies evenly spaced in log10 between
// start and end inclusive. A single point is placed at start.
func LogSpacedFrequencies(startHz, endHz float64, n int) ([]float64, error) {
	if startHz <= 0 || startHz >= endHz {
		return nil, fmt.Errorf("invalid sweep range %.0f-%.0f Hz", startHz, endHz)
	}
	if n < 1 || n > MaxSweepPoints {
		return nil, fmt.Errorf("invalid sweep point count %d: must be between 1 and %d", n, MaxSweepPoints)
	}
	if n == 1 {
		return []float64{startHz}, nil
	}

	lo, hi := math.Log10(startHz), math.Log10(endHz)
	step := (hi - lo) / float64(n-1)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Pow(10, lo+float64(i)*step)
	}
	// pin the endpoint against rounding drift
	out[n-1] = endHz
	return out, nil
}

// PlanFromTuning returns the sweep plan selected by the tuning config.
func PlanFromTuning(cfg *config.TuningConfig) ([]float64, error) {
	if cfg.GetSweepMode() == "log" {
		return LogSpacedFrequencies(cfg.GetSweepStartHz(), cfg.GetSweepEndHz(), cfg.GetSweepPoints())
	}
	return FixedFrequencies(), nil
}
