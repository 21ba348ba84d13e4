package bia

import (
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/config"
)

func TestValidatePoint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		p    ImpedancePoint
		want error
	}{
		{"typical", PointFromRectangular(50000, 500, 60), nil},
		{"lower corners inclusive", PointFromRectangular(50000, 200, 10), nil},
		{"upper corners inclusive", PointFromRectangular(50000, 1000, 200), nil},
		{"resistance high", PointFromRectangular(50000, 1500, 50), ErrResistanceOutOfRange},
		{"resistance low", PointFromRectangular(50000, 199, 50), ErrResistanceOutOfRange},
		{"reactance low", PointFromRectangular(50000, 500, 9.9), ErrReactanceOutOfRange},
		{"reactance high", PointFromRectangular(50000, 600, 201), ErrReactanceOutOfRange},
		{"phase low", PointFromRectangular(50000, 900, 10), ErrPhaseOutOfRange},
		{"negative reactance", PointFromRectangular(50000, 500, -60), ErrPhaseOutOfRange},
		{"phase high", PointFromRectangular(50000, 300, 150), ErrPhaseOutOfRange},
		{"flagged invalid", ImpedancePoint{Resistance: 500, Reactance: 60}, ErrInvalidReading},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePoint(tt.p)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPhaseAngle(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 45.0, PhaseAngle(100, 100), 1e-12)
	assert.InDelta(t, 6.8428, PhaseAngle(500, 60), 1e-4)
	assert.Equal(t, 0.0, PhaseAngle(0, 60))
	assert.Equal(t, 0.0, PhaseAngle(-10, 60))
}

func TestPointConversions(t *testing.T) {
	t.Parallel()
	r := PointFromRectangular(10000, 300, 400)
	assert.Equal(t, 500.0, r.Magnitude)
	assert.True(t, r.Valid)

	p := PointFromPolar(10000, r.Magnitude, r.PhaseDeg)
	assert.InDelta(t, 300, p.Resistance, 1e-9)
	assert.InDelta(t, 400, p.Reactance, 1e-9)
}

func TestLogSpacedFrequencies(t *testing.T) {
	t.Parallel()

	got, err := LogSpacedFrequencies(1000, 100000, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 1000, got[0], 1e-9)
	assert.InDelta(t, 10000, got[1], 1e-6)
	assert.Equal(t, 100000.0, got[2])

	got, err = LogSpacedFrequencies(1000, 100000, 11)
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.InDelta(t, 0.2, math.Log10(got[i])-math.Log10(got[i-1]), 1e-9)
	}

	got, err = LogSpacedFrequencies(5000, 50000, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{5000}, got)

	for _, bad := range []struct {
		start, end float64
		n          int
	}{
		{100000, 1000, 5},
		{1000, 1000, 5},
		{0, 1000, 5},
		{1000, 100000, 0},
		{1000, 100000, MaxSweepPoints + 1},
	} {
		_, err := LogSpacedFrequencies(bad.start, bad.end, bad.n)
		assert.Error(t, err, "%+v", bad)
	}
}

func TestPlanFromTuning(t *testing.T) {
	plan, err := PlanFromTuning(config.DefaultTuningConfig())
	require.NoError(t, err)
	assert.Equal(t, FixedFrequencies(), plan)

	cfg := config.DefaultTuningConfig()
	mode, points := "log", 7
	cfg.SweepMode = &mode
	cfg.SweepPoints = &points
	plan, err = PlanFromTuning(cfg)
	require.NoError(t, err)
	assert.Len(t, plan, 7)
}

func TestPlotSpectrum(t *testing.T) {
	dir := t.TempDir()
	pts := []ImpedancePoint{
		PointFromRectangular(100000, 483.55, 58.03),
		PointFromRectangular(5000, 605.76, 40.9),
		PointFromRectangular(50000, 514.49, 63.33),
	}

	files, err := PlotSpectrum(pts, dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = PlotSpectrum(nil, dir)
	assert.Error(t, err)
}
