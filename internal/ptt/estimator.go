package ptt

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/conditioner"
	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/diag"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/timeutil"
)

// Storage capacities.
const (
	PeakRingSize         = 20
	RRRingSize           = 50
	MaxCalibrationPoints = 5
	MinCalibrationPoints = 2
)

const (
	pttSearchPeaks = 10
	minPTTMs       = 50.0
	maxPTTMs       = 400.0
	minRRMs        = 300.0
	maxRRMs        = 2000.0
	minHRVCount    = 10
	rhythmWindow   = 10
	minRhythmCount = 5

	// Constant stand-in for an ECG/PPG correlation coefficient.
	placeholderCorrelation = 85

	staleReadingAfter = 10 * time.Second
)

var (
	ErrCalibrationFull = errors.New("maximum calibration points reached")
	ErrNoPTT           = errors.New("no valid pulse transit time available")
)

// Config configures an Estimator.
type Config struct {
	ECG conditioner.Config
	PPG conditioner.Config

	// Demographics used until SetPersonalParameters is called.
	Age      int
	HeightCm float64
	IsMale   bool
}

// DefaultConfig returns the built-in estimator configuration.
func DefaultConfig() Config {
	return Config{
		ECG:      conditioner.ECGConfig(),
		PPG:      conditioner.PPGConfig(),
		Age:      30,
		HeightCm: 170,
		IsMale:   true,
	}
}

// ConfigFromTuning builds an estimator Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		ECG:      conditioner.ConfigFromTuning(cfg, conditioner.ChannelECG),
		PPG:      conditioner.ConfigFromTuning(cfg, conditioner.ChannelPPG),
		Age:      cfg.GetDefaultAge(),
		HeightCm: cfg.GetDefaultHeightCm(),
		IsMale:   cfg.GetDefaultIsMale(),
	}
}

// Coefficients is the linear PTT to pressure model.
type Coefficients struct {
	SystolicSlope      float64 `json:"systolic_slope"`
	SystolicIntercept  float64 `json:"systolic_intercept"`
	DiastolicSlope     float64 `json:"diastolic_slope"`
	DiastolicIntercept float64 `json:"diastolic_intercept"`
}

// FallbackCoefficients is the population model used without calibration.
func FallbackCoefficients() Coefficients {
	return Coefficients{
		SystolicSlope:      -1.2,
		SystolicIntercept:  180,
		DiastolicSlope:     -0.8,
		DiastolicIntercept: 120,
	}
}

// Apply evaluates the model at pttMs.
func (c Coefficients) Apply(pttMs float64) (systolic, diastolic float64) {
	return c.SystolicSlope*pttMs + c.SystolicIntercept, c.DiastolicSlope*pttMs + c.DiastolicIntercept
}

// CalibrationPoint pairs a measured PTT with a reference cuff reading.
type CalibrationPoint struct {
	PTTMs     float64   `json:"ptt_ms"`
	Systolic  float64   `json:"systolic"`
	Diastolic float64   `json:"diastolic"`
	Time      time.Time `json:"time"`
}

// Demographics are the personal parameters used for compensation and
// pulse wave velocity.
type Demographics struct {
	Age      int     `json:"age"`
	HeightCm float64 `json:"height_cm"`
	IsMale   bool    `json:"is_male"`
}

// Estimate is one blood pressure computation.
type Estimate struct {
	Systolic         float64   `json:"systolic"`
	Diastolic        float64   `json:"diastolic"`
	MAP              float64   `json:"mean_arterial_pressure"`
	PTTMs            float64   `json:"ptt_ms"`
	PWV              float64   `json:"pwv_mps"`
	HRV              float64   `json:"hrv_rmssd_ms"`
	Quality          float64   `json:"quality"`
	Correlation      int       `json:"correlation"`
	RhythmRegular    bool      `json:"rhythm_regular"`
	NeedsCalibration bool      `json:"needs_calibration"`
	Valid            bool      `json:"valid"`
	Diagnostic       diag.Code `json:"diagnostic"`
	Time             time.Time `json:"time"`
}

// Estimator turns ECG and PPG sample streams into blood pressure and HRV
// estimates. It performs no locking; a single owner must serialize calls.
type Estimator struct {
	clock timeutil.Clock

	ecg *conditioner.Conditioner
	ppg *conditioner.Conditioner

	ecgPeaks *ring[conditioner.Peak]
	ppgPeaks *ring[conditioner.Peak]
	rr       *ring[float64]

	calibration []CalibrationPoint
	coeff       Coefficients
	person      Demographics

	lastValid time.Time
}

// NewEstimator returns an Estimator using cfg. A nil clock uses wall time.
func NewEstimator(cfg Config, clock timeutil.Clock) *Estimator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Estimator{
		clock:       clock,
		ecg:         conditioner.New(cfg.ECG),
		ppg:         conditioner.New(cfg.PPG),
		ecgPeaks:    newRing[conditioner.Peak](PeakRingSize),
		ppgPeaks:    newRing[conditioner.Peak](PeakRingSize),
		rr:          newRing[float64](RRRingSize),
		calibration: make([]CalibrationPoint, 0, MaxCalibrationPoints),
		coeff:       FallbackCoefficients(),
		person:      Demographics{Age: cfg.Age, HeightCm: cfg.HeightCm, IsMale: cfg.IsMale},
	}
}

// AddECGSample feeds one raw ECG sample.
func (e *Estimator) AddECGSample(value float64, t time.Time) {
	if _, peak, ok := e.ecg.Process(value, t); ok {
		e.addECGPeak(peak)
	}
}

// AddLeadOffSample feeds one ECG sample taken while an electrode was
// detached. It keeps the filter and history moving but can never yield a
// peak or an RR interval.
func (e *Estimator) AddLeadOffSample(value float64, t time.Time) {
	e.ecg.Hold(value, t)
}

// AddPPGSample feeds one PPG sample. Only the IR channel is used for pulse
// detection.
func (e *Estimator) AddPPGSample(ir, red float64, t time.Time) {
	_ = red
	if _, peak, ok := e.ppg.Process(ir, t); ok {
		e.ppgPeaks.push(peak)
	}
}

func (e *Estimator) addECGPeak(p conditioner.Peak) {
	prev, hadPrev := e.ecgPeaks.newest()
	e.ecgPeaks.push(p)
	if !hadPrev {
		return
	}
	rr := msBetween(prev.Time, p.Time)
	if rr >= minRRMs && rr <= maxRRMs {
		e.rr.push(rr)
	}
}

// IsReadyForMeasurement reports whether enough peaks have been seen on both
// channels and the signal quality is acceptable.
func (e *Estimator) IsReadyForMeasurement() bool {
	return e.ecgPeaks.total >= 5 && e.ppgPeaks.total >= 5 && e.SignalQuality() > 60
}

// CalculateBloodPressure computes an Estimate from the current peak state.
func (e *Estimator) CalculateBloodPressure() Estimate {
	now := e.clock.Now()
	est := Estimate{
		Time:             now,
		NeedsCalibration: len(e.calibration) < MinCalibrationPoints,
		Diagnostic:       diag.InsufficientData,
	}

	if e.ecgPeaks.total < 3 || e.ppgPeaks.total < 3 {
		monitoring.Diagf("ptt: insufficient peaks (ecg=%d ppg=%d)", e.ecgPeaks.total, e.ppgPeaks.total)
		return est
	}

	ptt := e.PulseTransitTime()
	if ptt <= 0 {
		monitoring.Logf("ptt: no ECG/PPG peak pair within %.0f-%.0f ms", minPTTMs, maxPTTMs)
		est.PTTMs = -1
		return est
	}
	est.PTTMs = ptt
	est.PWV = e.PulseWaveVelocity(ptt)

	coeff := FallbackCoefficients()
	if !est.NeedsCalibration {
		coeff = e.coeff
	}
	sys, dia := coeff.Apply(ptt)

	age := e.person.Age
	sys = CompensateForSex(CompensateForAge(sys, age), e.person.IsMale)
	dia = CompensateForSex(CompensateForAge(dia, age), e.person.IsMale)

	est.Systolic = sys
	est.Diastolic = dia
	est.MAP = dia + (sys-dia)/3
	est.HRV = e.HRV()
	est.Quality = e.SignalQuality()
	est.Correlation = e.Correlation()
	est.RhythmRegular = e.RhythmRegular()

	switch {
	case est.Quality <= 70:
		est.Diagnostic = diag.SignalQuality
	case sys < 70 || sys > 250 || dia < 40 || dia > 150 || ptt < minPTTMs || ptt > 500:
		est.Diagnostic = diag.OutOfRange
	default:
		est.Valid = true
		est.Diagnostic = diag.OK
		if est.NeedsCalibration {
			est.Diagnostic = diag.CalibrationUnavailable
		}
		e.lastValid = now
	}
	return est
}

// PulseTransitTime averages, over the newest ECG peaks, the delay to the
// earliest PPG peak that follows within the accepted window. It returns -1
// when no pair is found.
func (e *Estimator) PulseTransitTime() float64 {
	if e.ecgPeaks.total < 2 || e.ppgPeaks.total < 2 {
		return -1
	}

	ppgPeaks := e.ppgPeaks.last(pttSearchPeaks)
	var total float64
	var pairs int
	for _, ep := range e.ecgPeaks.last(pttSearchPeaks) {
		for _, pp := range ppgPeaks {
			if !pp.Time.After(ep.Time) {
				continue
			}
			d := msBetween(ep.Time, pp.Time)
			if d >= minPTTMs && d <= maxPTTMs {
				total += d
				pairs++
				break
			}
		}
	}
	if pairs == 0 {
		return -1
	}
	return total / float64(pairs)
}

// PulseWaveVelocity converts a PTT in milliseconds to m/s using an arterial
// path length of 40% of body height.
func (e *Estimator) PulseWaveVelocity(pttMs float64) float64 {
	if pttMs <= 0 {
		return 0
	}
	path := e.person.HeightCm * 0.4 / 100
	return path / (pttMs / 1000)
}

// HRV returns the RMSSD of the stored RR intervals in chronological order,
// or 0 when fewer than ten are stored.
func (e *Estimator) HRV() float64 {
	if e.rr.total < minHRVCount {
		return 0
	}
	return RMSSD(e.rr.last(RRRingSize))
}

// RMSSD is the root mean square of successive differences of intervals.
func RMSSD(intervals []float64) float64 {
	if len(intervals) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(intervals); i++ {
		d := intervals[i] - intervals[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(intervals)-1))
}

// RhythmRegular reports whether the newest RR intervals vary by less than
// 20% of their mean (population standard deviation).
func (e *Estimator) RhythmRegular() bool {
	if e.rr.total < minRhythmCount {
		return false
	}
	mean, variance := stat.PopMeanVariance(e.rr.last(rhythmWindow), nil)
	return math.Sqrt(variance) < mean*0.2
}

// Correlation returns the placeholder ECG/PPG correlation score.
func (e *Estimator) Correlation() int {
	if e.ecgPeaks.total < 3 || e.ppgPeaks.total < 3 {
		return 0
	}
	return placeholderCorrelation
}

// SignalQuality scores the current signal state between 0 and 100.
func (e *Estimator) SignalQuality() float64 {
	quality := 100.0
	if e.ecgPeaks.total < 5 || e.ppgPeaks.total < 5 {
		quality -= 30
	}
	if !e.RhythmRegular() {
		quality -= 20
	}
	if c := e.Correlation(); c < 50 && c > -50 {
		quality -= 25
	}
	if e.lastValid.IsZero() || e.clock.Since(e.lastValid) > staleReadingAfter {
		quality -= 25
	}
	return math.Max(0, math.Min(100, quality))
}

// AddCalibrationPoint records a reference reading against the current PTT
// and refits the model. It reports false when the store is full or no PTT
// is available.
func (e *Estimator) AddCalibrationPoint(systolic, diastolic float64) bool {
	return e.Calibrate(systolic, diastolic) == nil
}

// Calibrate is AddCalibrationPoint with the rejection reason.
func (e *Estimator) Calibrate(systolic, diastolic float64) error {
	if len(e.calibration) >= MaxCalibrationPoints {
		monitoring.Logf("ptt: calibration rejected: %v", ErrCalibrationFull)
		return ErrCalibrationFull
	}
	ptt := e.PulseTransitTime()
	if ptt <= 0 {
		monitoring.Logf("ptt: calibration rejected: %v", ErrNoPTT)
		return ErrNoPTT
	}
	return e.addCalibration(CalibrationPoint{
		PTTMs:     ptt,
		Systolic:  systolic,
		Diastolic: diastolic,
		Time:      e.clock.Now(),
	})
}

// RestoreCalibration loads previously stored calibration points, as read
// back from persistent storage, and refits the model.
func (e *Estimator) RestoreCalibration(points []CalibrationPoint) error {
	e.ClearCalibration()
	for _, p := range points {
		if len(e.calibration) >= MaxCalibrationPoints {
			return ErrCalibrationFull
		}
		if p.PTTMs <= 0 {
			return ErrNoPTT
		}
		if err := e.addCalibration(p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Estimator) addCalibration(p CalibrationPoint) error {
	e.calibration = append(e.calibration, p)
	monitoring.Logf("ptt: calibration point added: PTT=%.1fms BP=%.0f/%.0f (%d/%d)",
		p.PTTMs, p.Systolic, p.Diastolic, len(e.calibration), MaxCalibrationPoints)
	e.refit()
	return nil
}

// refit replaces the coefficients with a least-squares fit over all stored
// points. Degenerate point sets (fewer than two, or identical PTTs) leave
// the coefficients unchanged.
func (e *Estimator) refit() {
	n := len(e.calibration)
	if n < MinCalibrationPoints {
		return
	}
	xs := make([]float64, n)
	sys := make([]float64, n)
	dia := make([]float64, n)
	for i, p := range e.calibration {
		xs[i], sys[i], dia[i] = p.PTTMs, p.Systolic, p.Diastolic
	}
	if stat.Variance(xs, nil) == 0 {
		monitoring.Logf("ptt: calibration points share one PTT; keeping previous model")
		return
	}

	sa, sb := stat.LinearRegression(xs, sys, nil, false)
	da, db := stat.LinearRegression(xs, dia, nil, false)
	e.coeff = Coefficients{
		SystolicSlope:      sb,
		SystolicIntercept:  sa,
		DiastolicSlope:     db,
		DiastolicIntercept: da,
	}
	monitoring.Logf("ptt: calibration updated: Sys=%.3f*PTT+%.1f, Dia=%.3f*PTT+%.1f",
		sb, sa, db, da)
}

// ClearCalibration discards all calibration points and restores the
// fallback model.
func (e *Estimator) ClearCalibration() {
	e.calibration = e.calibration[:0]
	e.coeff = FallbackCoefficients()
}

// CalibrationCount returns the number of stored calibration points.
func (e *Estimator) CalibrationCount() int { return len(e.calibration) }

// CalibrationPoints returns a copy of the stored calibration points.
func (e *Estimator) CalibrationPoints() []CalibrationPoint {
	return append([]CalibrationPoint(nil), e.calibration...)
}

// Coefficients returns the current model coefficients.
func (e *Estimator) Coefficients() Coefficients { return e.coeff }

// SetPersonalParameters stores the demographics and nudges the current
// coefficients. The nudges are replaced by the next calibration refit.
func (e *Estimator) SetPersonalParameters(age int, heightCm float64, isMale bool) {
	e.person = Demographics{Age: age, HeightCm: heightCm, IsMale: isMale}

	if age > 60 {
		e.coeff.SystolicSlope *= 1.1
		e.coeff.DiastolicSlope *= 1.05
	}
	if !isMale {
		e.coeff.SystolicIntercept -= 5
		e.coeff.DiastolicIntercept -= 3
	}
	if heightCm > 180 {
		e.coeff.SystolicIntercept += 3
	} else if heightCm < 160 {
		e.coeff.SystolicIntercept -= 3
	}
	monitoring.Logf("ptt: personal parameters updated: age=%d height=%.1fcm male=%v", age, heightCm, isMale)
}

// Demographics returns the stored personal parameters.
func (e *Estimator) Demographics() Demographics { return e.person }

// SetAdaptiveMode toggles adaptive thresholding on both channels.
func (e *Estimator) SetAdaptiveMode(enabled bool) {
	e.ecg.SetAdaptive(enabled)
	e.ppg.SetAdaptive(enabled)
}

// Reset clears all signal state. Calibration and demographics are kept.
func (e *Estimator) Reset() {
	e.ecg.Reset()
	e.ppg.Reset()
	e.ecgPeaks.reset()
	e.ppgPeaks.reset()
	e.rr.reset()
	e.lastValid = time.Time{}
}

// Status summarizes the estimator for display.
type Status struct {
	Ready             bool         `json:"ready"`
	ECGPeaks          int          `json:"ecg_peaks"`
	PPGPeaks          int          `json:"ppg_peaks"`
	RRIntervals       int          `json:"rr_intervals"`
	Quality           float64      `json:"quality"`
	CalibrationPoints int          `json:"calibration_points"`
	MaxCalibration    int          `json:"max_calibration_points"`
	ECGThreshold      float64      `json:"ecg_threshold"`
	PPGThreshold      float64      `json:"ppg_threshold"`
	Coefficients      Coefficients `json:"coefficients"`
	Demographics      Demographics `json:"demographics"`
}

// Status returns a snapshot of the estimator state.
func (e *Estimator) Status() Status {
	return Status{
		Ready:             e.IsReadyForMeasurement(),
		ECGPeaks:          e.ecgPeaks.total,
		PPGPeaks:          e.ppgPeaks.total,
		RRIntervals:       e.rr.total,
		Quality:           e.SignalQuality(),
		CalibrationPoints: len(e.calibration),
		MaxCalibration:    MaxCalibrationPoints,
		ECGThreshold:      e.ecg.Threshold(),
		PPGThreshold:      e.ppg.Threshold(),
		Coefficients:      e.coeff,
		Demographics:      e.person,
	}
}

func msBetween(a, b time.Time) float64 {
	return float64(b.Sub(a)) / float64(time.Millisecond)
}
