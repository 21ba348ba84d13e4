package bia

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/diag"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/timeutil"
)

// Reading is the raw result returned by an impedance front end. Drivers may
// report rectangular (R, X) or polar (Magnitude, PhaseDeg) values; when R or
// X is non-zero the rectangular form wins.
type Reading struct {
	Resistance float64
	Reactance  float64
	Magnitude  float64
	PhaseDeg   float64
	Valid      bool
}

// Driver is the external impedance front end. RequestMeasurement starts a
// single-frequency measurement; IsReady is polled until the result can be
// read.
type Driver interface {
	RequestMeasurement(freqHz float64) error
	IsReady() bool
	ReadResult() (Reading, error)
}

// Config controls sweep timing and the calibration frequency.
type Config struct {
	ReadyTimeout       time.Duration
	PollInterval       time.Duration
	SettleDelay        time.Duration
	CalibrationStartHz float64
	CalibrationEndHz   float64
}

// DefaultConfig waits up to one second per frequency, polling every 10ms.
func DefaultConfig() Config {
	return Config{
		ReadyTimeout:       time.Second,
		PollInterval:       10 * time.Millisecond,
		CalibrationStartHz: 1000,
		CalibrationEndHz:   100000,
	}
}

// ConfigFromTuning reads sweep timing from the tuning config.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	c := DefaultConfig()
	c.ReadyTimeout = cfg.GetSweepReadyTimeout()
	c.PollInterval = cfg.GetSweepPollInterval()
	c.SettleDelay = cfg.GetSweepSettleDelay()
	c.CalibrationStartHz = cfg.GetSweepStartHz()
	c.CalibrationEndHz = cfg.GetSweepEndHz()
	return c
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = def.ReadyTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.CalibrationStartHz <= 0 || c.CalibrationEndHz <= c.CalibrationStartHz {
		c.CalibrationStartHz, c.CalibrationEndHz = def.CalibrationStartHz, def.CalibrationEndHz
	}
	return c
}

// Rejection records a frequency that produced no accepted point.
type Rejection struct {
	FrequencyHz float64   `json:"frequency_hz"`
	Code        diag.Code `json:"code"`
	Reason      string    `json:"reason"`
}

// SweepReport is the full outcome of a sweep.
type SweepReport struct {
	Requested int              `json:"requested"`
	Points    []ImpedancePoint `json:"points"`
	Rejected  []Rejection      `json:"rejected,omitempty"`
	Started   time.Time        `json:"started"`
	Finished  time.Time        `json:"finished"`
}

// Diagnostic summarises the sweep: OK when any point was accepted, otherwise
// the dominant reason nothing was.
func (r SweepReport) Diagnostic() diag.Code {
	if len(r.Points) > 0 {
		return diag.OK
	}
	if len(r.Rejected) == 0 {
		return diag.InsufficientData
	}
	for _, rej := range r.Rejected {
		if rej.Code != diag.DriverTimeout {
			return rej.Code
		}
	}
	return diag.DriverTimeout
}

// Coordinator runs sweeps against a Driver. It is not safe for concurrent
// use; one sweep at a time per front end.
type Coordinator struct {
	driver Driver
	cfg    Config
	clock  timeutil.Clock

	gain        float64
	phaseOffset float64
}

// NewCoordinator returns a Coordinator with unit calibration. A nil clock
// uses the real clock.
func NewCoordinator(d Driver, cfg Config, clock timeutil.Clock) *Coordinator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Coordinator{driver: d, cfg: cfg.normalized(), clock: clock, gain: 1}
}

// Sweep measures each frequency in order and returns the accepted points.
func (c *Coordinator) Sweep(ctx context.Context, freqs []float64) []ImpedancePoint {
	return c.SweepWithReport(ctx, freqs).Points
}

// SweepWithReport is Sweep with the rejected frequencies attached. The
// context is checked between frequencies only; a measurement in progress
// always runs to completion or timeout.
func (c *Coordinator) SweepWithReport(ctx context.Context, freqs []float64) SweepReport {
	rep := SweepReport{Requested: len(freqs), Started: c.clock.Now()}

	for i, f := range freqs {
		if err := ctx.Err(); err != nil {
			monitoring.Logf("bia: sweep stopped after %d of %d frequencies: %v", i, len(freqs), err)
			break
		}
		if i > 0 && c.cfg.SettleDelay > 0 {
			c.clock.Sleep(c.cfg.SettleDelay)
		}

		p, err := c.measure(f)
		if err == nil {
			p = c.calibrated(p)
			err = ValidatePoint(p)
		}
		if err != nil {
			monitoring.Diagf("bia: dropped %.0f Hz: %v", f, err)
			rep.Rejected = append(rep.Rejected, Rejection{FrequencyHz: f, Code: codeFor(err), Reason: err.Error()})
			continue
		}
		rep.Points = append(rep.Points, p)
	}

	rep.Finished = c.clock.Now()
	return rep
}

func codeFor(err error) diag.Code {
	switch {
	case errors.Is(err, ErrDriverTimeout):
		return diag.DriverTimeout
	case errors.Is(err, ErrResistanceOutOfRange),
		errors.Is(err, ErrReactanceOutOfRange),
		errors.Is(err, ErrPhaseOutOfRange):
		return diag.OutOfRange
	default:
		return diag.SignalQuality
	}
}

// measure returns the uncalibrated point at freqHz.
func (c *Coordinator) measure(freqHz float64) (ImpedancePoint, error) {
	if err := c.driver.RequestMeasurement(freqHz); err != nil {
		return ImpedancePoint{}, fmt.Errorf("request %.0f Hz: %w", freqHz, err)
	}
	if !c.waitReady() {
		return ImpedancePoint{}, fmt.Errorf("%w after %s at %.0f Hz", ErrDriverTimeout, c.cfg.ReadyTimeout, freqHz)
	}
	r, err := c.driver.ReadResult()
	if err != nil {
		return ImpedancePoint{}, fmt.Errorf("read %.0f Hz: %w", freqHz, err)
	}

	var p ImpedancePoint
	if r.Resistance != 0 || r.Reactance != 0 {
		p = PointFromRectangular(freqHz, r.Resistance, r.Reactance)
	} else {
		p = PointFromPolar(freqHz, r.Magnitude, r.PhaseDeg)
	}
	p.Valid = r.Valid
	p.Time = c.clock.Now()
	return p, nil
}

func (c *Coordinator) waitReady() bool {
	start := c.clock.Now()
	for !c.driver.IsReady() {
		if c.clock.Since(start) >= c.cfg.ReadyTimeout {
			return false
		}
		c.clock.Sleep(c.cfg.PollInterval)
	}
	return true
}

func (c *Coordinator) calibrated(p ImpedancePoint) ImpedancePoint {
	if c.gain == 1 && c.phaseOffset == 0 {
		return p
	}
	q := PointFromPolar(p.FrequencyHz, p.Magnitude*c.gain, p.PhaseDeg+c.phaseOffset)
	q.Valid = p.Valid
	q.Time = p.Time
	return q
}

// Calibrate measures a known reference resistor at the geometric centre of
// the calibration range and derives the magnitude gain and phase offset
// that map the reading onto knownOhms at zero phase.
func (c *Coordinator) Calibrate(ctx context.Context, knownOhms float64) error {
	if knownOhms <= 0 {
		return fmt.Errorf("%w: reference must be positive, got %.1f ohm", ErrCalibrationFailed, knownOhms)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f := math.Sqrt(c.cfg.CalibrationStartHz * c.cfg.CalibrationEndHz)
	p, err := c.measure(f)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCalibrationFailed, err)
	}
	if !p.Valid || p.Magnitude <= 0 {
		return fmt.Errorf("%w: unusable reading at %.0f Hz", ErrCalibrationFailed, f)
	}

	c.gain = knownOhms / p.Magnitude
	c.phaseOffset = -p.PhaseDeg
	monitoring.Logf("bia: calibrated at %.0f Hz against %.1f ohm: gain=%.4f phase offset=%.2f deg",
		f, knownOhms, c.gain, c.phaseOffset)
	return nil
}

// SetCalibrationFactors installs a previously derived gain and phase offset.
func (c *Coordinator) SetCalibrationFactors(gain, phaseOffsetDeg float64) error {
	if gain <= 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return fmt.Errorf("invalid calibration gain %v", gain)
	}
	c.gain = gain
	c.phaseOffset = phaseOffsetDeg
	return nil
}

// CalibrationFactors returns the current gain and phase offset in degrees.
func (c *Coordinator) CalibrationFactors() (gain, phaseOffsetDeg float64) {
	return c.gain, c.phaseOffset
}
