// Package session owns the measurement pipelines for one sensor bridge. It
// feeds bridge lines into the PTT estimator, runs impedance sweeps through
// the BIA coordinator, and publishes results to subscribers and a Store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/composition"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/ptt"
	"github.com/banshee-data/vitals.report/internal/serialmux"
	"github.com/banshee-data/vitals.report/internal/timeutil"
)

var ErrSweepInProgress = errors.New("impedance sweep already in progress")

// Store persists session results. Implementations must be safe for
// concurrent use.
type Store interface {
	RecordEstimate(ptt.Estimate) error
	RecordCalibrationPoint(ptt.CalibrationPoint) error
	ClearCalibrationPoints() error
	SaveProfile(composition.Profile) error
	RecordComposition(Measurement) error
}

// Measurement is the result of one sweep and its analysis.
type Measurement struct {
	ID          string                  `json:"id"`
	Report      bia.SweepReport         `json:"report"`
	Composition composition.Composition `json:"composition"`
}

// Config controls a Session.
type Config struct {
	Estimator     ptt.Config
	Sweep         bia.Config
	Plan          []float64
	EstimateEvery time.Duration
}

// impedanceSink is implemented by drivers that consume bridge IMP lines.
type impedanceSink interface {
	Deliver(serialmux.Event)
}

// Session serializes access to the estimator and analyzer. Sweeps run
// outside the estimator lock so sample ingestion continues meanwhile.
type Session struct {
	clock timeutil.Clock
	cfg   Config
	store Store

	mu        sync.Mutex
	estimator *ptt.Estimator
	analyzer  *composition.Analyzer
	latest    ptt.Estimate
	last      *Measurement
	origin    time.Time
	lastMs    [channelCount]int64
	seen      [channelCount]bool
	synced    bool

	sweepMu     sync.Mutex
	coordinator *bia.Coordinator
	impedance   impedanceSink

	state *serialmux.DeviceState

	subMu       sync.Mutex
	subscribers map[string]chan ptt.Estimate
}

// New returns a Session measuring through driver. store may be nil. A nil
// clock uses wall time.
func New(cfg Config, driver bia.Driver, store Store, clock timeutil.Clock) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if cfg.EstimateEvery <= 0 {
		cfg.EstimateEvery = time.Second
	}
	if len(cfg.Plan) == 0 {
		cfg.Plan = bia.FixedFrequencies()
	}
	s := &Session{
		clock:       clock,
		cfg:         cfg,
		store:       store,
		estimator:   ptt.NewEstimator(cfg.Estimator, clock),
		analyzer:    composition.NewAnalyzer(clock),
		coordinator: bia.NewCoordinator(driver, cfg.Sweep, clock),
		state:       &serialmux.DeviceState{},
		subscribers: make(map[string]chan ptt.Estimate),
	}
	if sink, ok := driver.(impedanceSink); ok {
		s.impedance = sink
	}
	return s
}

// sampleChannel indexes the per-channel timestamp state.
type sampleChannel int

const (
	channelECG sampleChannel = iota
	channelPPG
	channelCount
)

// sampleTime maps a bridge timestamp onto the session clock. Timestamps are
// only ordered within a channel, so the mapping is re-anchored when a
// channel's own counter goes backwards. A re-anchor forgets every channel's
// last timestamp so the other channel follows the new origin.
func (s *Session) sampleTime(ch sampleChannel, deviceMs int64) time.Time {
	if !s.synced || (s.seen[ch] && deviceMs < s.lastMs[ch]) {
		if s.synced {
			monitoring.Logf("session: %s counter went back %d -> %d ms; re-anchoring",
				ch, s.lastMs[ch], deviceMs)
		}
		s.origin = s.clock.Now().Add(-time.Duration(deviceMs) * time.Millisecond)
		s.synced = true
		s.seen = [channelCount]bool{}
	}
	s.lastMs[ch] = deviceMs
	s.seen[ch] = true
	return s.origin.Add(time.Duration(deviceMs) * time.Millisecond)
}

func (c sampleChannel) String() string {
	if c == channelPPG {
		return "ppg"
	}
	return "ecg"
}

// HandleECG feeds one ECG sample. Lead-off samples advance the filter but
// are never peak candidates.
func (s *Session) HandleECG(ev serialmux.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.sampleTime(channelECG, ev.DeviceMs)
	if ev.LeadOff {
		s.estimator.AddLeadOffSample(ev.ECG, t)
		return
	}
	s.estimator.AddECGSample(ev.ECG, t)
}

func (s *Session) HandlePPG(ev serialmux.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimator.AddPPGSample(ev.IR, ev.Red, s.sampleTime(channelPPG, ev.DeviceMs))
}

func (s *Session) HandleImpedance(ev serialmux.Event) {
	if s.impedance != nil {
		s.impedance.Deliver(ev)
	}
}

// Ingest decodes and dispatches one bridge line.
func (s *Session) Ingest(line string) error {
	return serialmux.HandleEvent(s, s.state, line)
}

// DeviceState returns the latest config values reported by the bridge.
func (s *Session) DeviceState() map[string]any {
	return s.state.Snapshot()
}

// Run consumes lines from mux and publishes an estimate every
// EstimateEvery until ctx is done or the mux closes.
func (s *Session) Run(ctx context.Context, mux serialmux.SerialMuxInterface) error {
	id, lines := mux.Subscribe()
	defer mux.Unsubscribe(id)

	ticker := s.clock.NewTicker(s.cfg.EstimateEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := s.Ingest(line); err != nil {
				monitoring.Diagf("session: %v", err)
			}
		case <-ticker.C():
			s.Publish()
		}
	}
}

// Estimate computes a blood pressure estimate from the current state
// without publishing it.
func (s *Session) Estimate() ptt.Estimate {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.estimator.CalculateBloodPressure()
	s.latest = e
	return e
}

// Latest returns the most recent estimate.
func (s *Session) Latest() ptt.Estimate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Publish computes an estimate, sends it to subscribers, and records it
// in the store when valid.
func (s *Session) Publish() ptt.Estimate {
	e := s.Estimate()
	s.broadcast(e)
	if e.Valid && s.store != nil {
		if err := s.store.RecordEstimate(e); err != nil {
			monitoring.Logf("session: failed to record estimate: %v", err)
		}
	}
	return e
}

// Subscribe returns a channel that receives every published estimate.
func (s *Session) Subscribe() (string, <-chan ptt.Estimate) {
	id := uuid.NewString()
	ch := make(chan ptt.Estimate, 8)
	s.subMu.Lock()
	s.subscribers[id] = ch
	s.subMu.Unlock()
	return id, ch
}

func (s *Session) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Session) broadcast(e ptt.Estimate) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- e:
		default:
			monitoring.Diagf("session: subscriber %s is behind; dropping estimate", id)
		}
	}
}

// Status returns a snapshot of the estimator state.
func (s *Session) Status() ptt.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimator.Status()
}

// Calibrate records a reference cuff reading against the current PTT.
func (s *Session) Calibrate(systolic, diastolic float64) (ptt.CalibrationPoint, error) {
	s.mu.Lock()
	if err := s.estimator.Calibrate(systolic, diastolic); err != nil {
		s.mu.Unlock()
		return ptt.CalibrationPoint{}, err
	}
	points := s.estimator.CalibrationPoints()
	s.mu.Unlock()

	p := points[len(points)-1]
	if s.store != nil {
		if err := s.store.RecordCalibrationPoint(p); err != nil {
			return p, fmt.Errorf("failed to store calibration point: %w", err)
		}
	}
	return p, nil
}

// CalibrationPoints returns the stored calibration points.
func (s *Session) CalibrationPoints() []ptt.CalibrationPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimator.CalibrationPoints()
}

// ClearCalibration discards all calibration points.
func (s *Session) ClearCalibration() error {
	s.mu.Lock()
	s.estimator.ClearCalibration()
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.ClearCalibrationPoints(); err != nil {
			return fmt.Errorf("failed to clear stored calibration: %w", err)
		}
	}
	return nil
}

// Reset clears signal state. Calibration and profile are kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimator.Reset()
	s.synced = false
	s.latest = ptt.Estimate{}
}

// SetAdaptiveMode toggles adaptive peak thresholds.
func (s *Session) SetAdaptiveMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimator.SetAdaptiveMode(enabled)
}

// SetProfile validates p and applies it to both pipelines.
func (s *Session) SetProfile(p composition.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.applyProfile(p, false)
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.SaveProfile(p); err != nil {
			return fmt.Errorf("failed to store profile: %w", err)
		}
	}
	return nil
}

// applyProfile stores p and nudges the blood pressure model only when the
// demographics it depends on changed, or always when force is set after a
// refit. s.mu must be held.
func (s *Session) applyProfile(p composition.Profile, force bool) {
	prev, ok := s.analyzer.Profile()
	s.analyzer.SetProfile(p)
	if !force && ok && prev.Age == p.Age && prev.HeightCm == p.HeightCm && prev.IsMale == p.IsMale {
		return
	}
	s.estimator.SetPersonalParameters(p.Age, p.HeightCm, p.IsMale)
}

// Profile returns the stored profile and whether one has been set.
func (s *Session) Profile() (composition.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzer.Profile()
}

// SetAthleteMode toggles the athlete water correction.
func (s *Session) SetAthleteMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzer.SetAthleteMode(enabled)
}

// Restore loads persisted calibration points and profile without writing
// them back to the store. profile may be nil. The profile is applied after
// the calibration refit, matching a profile saved after calibrating.
func (s *Session) Restore(points []ptt.CalibrationPoint, profile *composition.Profile) error {
	if profile != nil {
		if err := profile.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.estimator.RestoreCalibration(points); err != nil {
		return fmt.Errorf("failed to restore calibration: %w", err)
	}
	if profile != nil {
		s.applyProfile(*profile, true)
	}
	return nil
}

// Measure runs one impedance sweep over plan, or the configured plan when
// plan is empty, and analyses the result. A positive weightKg overrides the
// profile weight for this measurement only.
func (s *Session) Measure(ctx context.Context, plan []float64, weightKg float64) (Measurement, error) {
	if !s.sweepMu.TryLock() {
		return Measurement{}, ErrSweepInProgress
	}
	defer s.sweepMu.Unlock()

	if len(plan) == 0 {
		plan = s.cfg.Plan
	}
	report := s.coordinator.SweepWithReport(ctx, plan)
	if err := ctx.Err(); err != nil {
		return Measurement{Report: report}, fmt.Errorf("sweep interrupted: %w", err)
	}

	s.mu.Lock()
	c := s.analyzer.Analyze(report.Points, weightKg)
	s.mu.Unlock()

	if len(report.Points) == 0 {
		c.Diagnostic = report.Diagnostic()
	}
	m := Measurement{ID: uuid.NewString(), Report: report, Composition: c}

	s.mu.Lock()
	s.last = &m
	s.mu.Unlock()

	monitoring.Logf("session: sweep %s: %d/%d points, valid=%t diagnostic=%s",
		m.ID, len(report.Points), report.Requested, c.Valid, c.Diagnostic)
	if s.store != nil {
		if err := s.store.RecordComposition(m); err != nil {
			return m, fmt.Errorf("failed to store composition: %w", err)
		}
	}
	return m, nil
}

// LastMeasurement returns the most recent sweep result.
func (s *Session) LastMeasurement() (Measurement, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Measurement{}, false
	}
	return *s.last, true
}

// CalibrateImpedance derives sweep gain and phase offset from a reference
// resistor of knownOhms.
func (s *Session) CalibrateImpedance(ctx context.Context, knownOhms float64) (gain, phaseOffsetDeg float64, err error) {
	if !s.sweepMu.TryLock() {
		return 0, 0, ErrSweepInProgress
	}
	defer s.sweepMu.Unlock()
	if err := s.coordinator.Calibrate(ctx, knownOhms); err != nil {
		return 0, 0, err
	}
	gain, phaseOffsetDeg = s.coordinator.CalibrationFactors()
	return gain, phaseOffsetDeg, nil
}

// Plan returns the configured sweep frequencies.
func (s *Session) Plan() []float64 {
	return append([]float64(nil), s.cfg.Plan...)
}
