package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/composition"
	"github.com/banshee-data/vitals.report/internal/diag"
	"github.com/banshee-data/vitals.report/internal/ptt"
	"github.com/banshee-data/vitals.report/internal/sensorsim"
	"github.com/banshee-data/vitals.report/internal/serialmux"
	"github.com/banshee-data/vitals.report/internal/timeutil"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type memStore struct {
	mu           sync.Mutex
	estimates    []ptt.Estimate
	calibration  []ptt.CalibrationPoint
	profiles     []composition.Profile
	measurements []Measurement
}

func (m *memStore) RecordEstimate(e ptt.Estimate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimates = append(m.estimates, e)
	return nil
}

func (m *memStore) RecordCalibrationPoint(p ptt.CalibrationPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibration = append(m.calibration, p)
	return nil
}

func (m *memStore) ClearCalibrationPoints() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibration = nil
	return nil
}

func (m *memStore) SaveProfile(p composition.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles = append(m.profiles, p)
	return nil
}

func (m *memStore) RecordComposition(c Measurement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.measurements = append(m.measurements, c)
	return nil
}

// blockingDriver holds the first request until release is closed.
type blockingDriver struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingDriver) RequestMeasurement(float64) error {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return nil
}

func (b *blockingDriver) IsReady() bool { return true }

func (b *blockingDriver) ReadResult() (bia.Reading, error) {
	return bia.Reading{Resistance: 500, Reactance: 50, Valid: true}, nil
}

func newTestSession(store Store) (*Session, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(t0)
	cfg := Config{Estimator: ptt.DefaultConfig(), Sweep: bia.DefaultConfig()}
	return New(cfg, &blockingDriver{started: make(chan struct{}), release: make(chan struct{})}, store, clock), clock
}

func ingestStream(t *testing.T, s *Session, transit time.Duration, samples int) {
	t.Helper()
	src := sensorsim.NewSource(t0, 800*time.Millisecond, transit)
	for _, line := range src.Lines(samples) {
		require.NoError(t, s.Ingest(line))
	}
}

// twoPointCalibration brackets a 200 ms transit time.
func twoPointCalibration() []ptt.CalibrationPoint {
	return []ptt.CalibrationPoint{
		{PTTMs: 150, Systolic: 130, Diastolic: 85, Time: t0},
		{PTTMs: 250, Systolic: 110, Diastolic: 75, Time: t0},
	}
}

func TestIngest_CalibratedStreamYieldsValidEstimate(t *testing.T) {
	s, _ := newTestSession(nil)
	require.NoError(t, s.Restore(twoPointCalibration(), nil))

	ingestStream(t, s, 200*time.Millisecond, 2000)

	status := s.Status()
	assert.True(t, status.Ready)
	assert.Equal(t, 2, status.CalibrationPoints)

	e := s.Estimate()
	require.True(t, e.Valid, "diagnostic %s", e.Diagnostic)
	assert.Equal(t, diag.OK, e.Diagnostic)
	assert.False(t, e.NeedsCalibration)
	assert.Greater(t, e.Systolic, 105.0)
	assert.Less(t, e.Systolic, 140.0)
	assert.Equal(t, e, s.Latest())
}

func TestIngest_RejectsMalformedLines(t *testing.T) {
	s, _ := newTestSession(nil)
	assert.Error(t, s.Ingest("ECG,notanumber,1,0"))
	assert.NoError(t, s.Ingest("garbage"))

	require.NoError(t, s.Ingest(`{"rate_hz":250,"fw":"1.4.2"}`))
	assert.Equal(t, map[string]any{"rate_hz": 250.0, "fw": "1.4.2"}, s.DeviceState())
}

func TestSampleTime_ReanchorsWhenBridgeRestarts(t *testing.T) {
	s, clock := newTestSession(nil)

	assert.Equal(t, t0, s.sampleTime(channelECG, 5000))
	assert.Equal(t, t0.Add(time.Second), s.sampleTime(channelECG, 6000))
	assert.Equal(t, t0.Add(time.Second), s.sampleTime(channelPPG, 6000))

	clock.Advance(time.Minute)
	// counter went backwards
	assert.Equal(t, t0.Add(time.Minute), s.sampleTime(channelECG, 10))
	assert.Equal(t, t0.Add(time.Minute+90*time.Millisecond), s.sampleTime(channelECG, 100))
	assert.Equal(t, t0.Add(time.Minute+40*time.Millisecond), s.sampleTime(channelPPG, 50),
		"the other channel follows the new origin")
}

func TestSampleTime_InterleavedChannelsKeepOneTimeline(t *testing.T) {
	s, clock := newTestSession(nil)

	require.NoError(t, s.Ingest("ECG,1000,2000,0"))
	clock.Advance(30 * time.Millisecond)
	require.NoError(t, s.Ingest("PPG,999,60000,40000"))
	require.NoError(t, s.Ingest("ECG,1004,2000,0"))

	assert.Equal(t, t0.Add(-time.Millisecond), s.sampleTime(channelPPG, 999))
	assert.Equal(t, t0.Add(8*time.Millisecond), s.sampleTime(channelECG, 1008))
	assert.Equal(t, t0.Add(3*time.Millisecond), s.sampleTime(channelPPG, 1003))
}

func TestIngest_LeadOffNeverConfirmsPeak(t *testing.T) {
	for _, tc := range []struct {
		name  string
		last  string
		peaks int
	}{
		{"electrode attached", "ECG,1084,0,0", 1},
		{"electrode lifted", "ECG,1084,3100,1", 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestSession(nil)
			ms := 1000
			for i := 0; i < 20; i++ {
				require.NoError(t, s.Ingest("ECG,"+strconv.Itoa(ms)+",2000,0"))
				ms += 4
			}
			// rising sample arms the detector
			require.NoError(t, s.Ingest("ECG,1080,4000,0"))
			require.NoError(t, s.Ingest(tc.last))
			for i := 0; i < 20; i++ {
				ms = 1088 + 4*i
				require.NoError(t, s.Ingest("ECG,"+strconv.Itoa(ms)+",2000,0"))
			}

			st := s.Status()
			assert.Equal(t, tc.peaks, st.ECGPeaks)
			assert.Zero(t, st.RRIntervals)
		})
	}
}

func TestPublish_BroadcastsAndStoresValidEstimates(t *testing.T) {
	store := &memStore{}
	s, _ := newTestSession(store)

	id, ch := s.Subscribe()

	e := s.Publish()
	assert.False(t, e.Valid)
	assert.Equal(t, diag.InsufficientData, e.Diagnostic)
	assert.Equal(t, e, <-ch)
	assert.Empty(t, store.estimates)

	require.NoError(t, s.Restore(twoPointCalibration(), nil))
	ingestStream(t, s, 200*time.Millisecond, 2000)

	e = s.Publish()
	require.True(t, e.Valid)
	assert.Equal(t, e, <-ch)
	assert.Len(t, store.estimates, 1)

	s.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	s.Unsubscribe(id)
}

func TestCalibrate(t *testing.T) {
	store := &memStore{}
	s, _ := newTestSession(store)

	_, err := s.Calibrate(120, 80)
	assert.ErrorIs(t, err, ptt.ErrNoPTT)
	assert.Empty(t, store.calibration)

	ingestStream(t, s, 200*time.Millisecond, 2000)
	p, err := s.Calibrate(120, 80)
	require.NoError(t, err)
	assert.Greater(t, p.PTTMs, 150.0)
	assert.Equal(t, 120.0, p.Systolic)
	assert.Equal(t, []ptt.CalibrationPoint{p}, store.calibration)
	assert.Equal(t, []ptt.CalibrationPoint{p}, s.CalibrationPoints())

	require.NoError(t, s.ClearCalibration())
	assert.Empty(t, s.CalibrationPoints())
	assert.Empty(t, store.calibration)
}

func TestReset_KeepsCalibration(t *testing.T) {
	s, _ := newTestSession(nil)
	require.NoError(t, s.Restore(twoPointCalibration(), nil))
	ingestStream(t, s, 200*time.Millisecond, 2000)

	s.Reset()
	status := s.Status()
	assert.Zero(t, status.ECGPeaks)
	assert.Equal(t, 2, status.CalibrationPoints)
	assert.Equal(t, ptt.Estimate{}, s.Latest())
}

func TestSetProfile(t *testing.T) {
	store := &memStore{}
	s, _ := newTestSession(store)

	_, ok := s.Profile()
	assert.False(t, ok)

	err := s.SetProfile(composition.Profile{Age: 0, HeightCm: 170})
	assert.ErrorIs(t, err, composition.ErrInvalidProfile)
	assert.Empty(t, store.profiles)

	p := composition.Profile{Age: 45, HeightCm: 185, WeightKg: 82, IsMale: false, ActivityLevel: 2}
	require.NoError(t, s.SetProfile(p))

	got, ok := s.Profile()
	require.True(t, ok)
	assert.Equal(t, p, got)
	assert.Equal(t, ptt.Demographics{Age: 45, HeightCm: 185, IsMale: false}, s.Status().Demographics)
	assert.Equal(t, []composition.Profile{p}, store.profiles)
}

func TestRestore_DoesNotWriteBack(t *testing.T) {
	store := &memStore{}
	s, _ := newTestSession(store)
	p := composition.Profile{Age: 30, HeightCm: 170, WeightKg: 70, IsMale: true, ActivityLevel: 3}

	require.NoError(t, s.Restore(twoPointCalibration(), &p))
	assert.Len(t, s.CalibrationPoints(), 2)
	got, ok := s.Profile()
	require.True(t, ok)
	assert.Equal(t, p, got)
	assert.Empty(t, store.profiles)
	assert.Empty(t, store.calibration)

	bad := []ptt.CalibrationPoint{{PTTMs: 0, Systolic: 120, Diastolic: 80}}
	assert.ErrorIs(t, s.Restore(bad, nil), ptt.ErrNoPTT)
}

func TestSetProfile_NudgesOnlyOnDemographicChange(t *testing.T) {
	s, _ := newTestSession(nil)
	require.NoError(t, s.Restore(twoPointCalibration(), nil))
	fitted := s.Status().Coefficients
	assert.InDelta(t, 160, fitted.SystolicIntercept, 1e-9)

	p := composition.Profile{Age: 30, HeightCm: 170, WeightKg: 60, IsMale: false, ActivityLevel: 3}
	require.NoError(t, s.SetProfile(p))
	assert.InDelta(t, 155, s.Status().Coefficients.SystolicIntercept, 1e-9)

	for _, w := range []float64{61, 62, 63} {
		p.WeightKg = w
		require.NoError(t, s.SetProfile(p))
	}
	live := s.Status().Coefficients
	assert.InDelta(t, 155, live.SystolicIntercept, 1e-9, "weight edits must not move the model")
	assert.InDelta(t, 97, live.DiastolicIntercept, 1e-9)

	restarted, _ := newTestSession(nil)
	require.NoError(t, restarted.Restore(twoPointCalibration(), &p))
	assert.Equal(t, live, restarted.Status().Coefficients)

	// restoring again refits and nudges exactly once more
	require.NoError(t, restarted.Restore(twoPointCalibration(), &p))
	assert.Equal(t, live, restarted.Status().Coefficients)
}

func TestMeasure_RejectsConcurrentSweep(t *testing.T) {
	d := &blockingDriver{started: make(chan struct{}), release: make(chan struct{})}
	s := New(Config{Plan: []float64{50000}}, d, nil, timeutil.NewMockClock(t0))

	done := make(chan Measurement)
	go func() {
		m, _ := s.Measure(context.Background(), nil, 0)
		done <- m
	}()
	<-d.started

	_, err := s.Measure(context.Background(), nil, 0)
	assert.ErrorIs(t, err, ErrSweepInProgress)
	_, _, err = s.CalibrateImpedance(context.Background(), 500)
	assert.ErrorIs(t, err, ErrSweepInProgress)

	close(d.release)
	m := <-done
	require.Len(t, m.Report.Points, 1)
	// no profile yet
	assert.Equal(t, diag.InsufficientData, m.Composition.Diagnostic)
}

func TestMeasure_Cancelled(t *testing.T) {
	s, _ := newTestSession(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, err := s.Measure(ctx, nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, len(bia.FixedFrequencies()), m.Report.Requested)
	assert.Empty(t, m.Report.Points)

	_, ok := s.LastMeasurement()
	assert.False(t, ok)
}

// subscribeCounter wraps a mux and signals each Subscribe call.
type subscribeCounter struct {
	serialmux.SerialMuxInterface
	subscribed chan struct{}
}

func (s *subscribeCounter) Subscribe() (string, chan string) {
	id, ch := s.SerialMuxInterface.Subscribe()
	s.subscribed <- struct{}{}
	return id, ch
}

func TestRun_SweepOverBridge(t *testing.T) {
	tissue := sensorsim.DefaultTissue()
	port := serialmux.NewTestableSerialPort()
	port.Respond = func(cmd string) string {
		hz, ok := strings.CutPrefix(cmd, "Z ")
		if !ok {
			return ""
		}
		f, err := strconv.ParseFloat(hz, 64)
		if err != nil {
			return ""
		}
		return tissue.ImpedanceLine(f)
	}
	mux := &subscribeCounter{SerialMuxInterface: serialmux.NewSerialMux(port), subscribed: make(chan struct{}, 1)}
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	store := &memStore{}
	s := New(Config{Sweep: bia.DefaultConfig()}, bia.NewSerialDriver(mux), store, nil)
	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx, mux) }()
	select {
	case <-mux.subscribed:
	case <-time.After(time.Second):
		t.Fatal("session never subscribed")
	}

	require.NoError(t, s.SetProfile(composition.Profile{Age: 16, HeightCm: 100, WeightKg: 16, IsMale: true, ActivityLevel: 3}))
	m, err := s.Measure(ctx, nil, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, m.ID)
	require.Len(t, m.Report.Points, 4)
	require.Len(t, m.Report.Rejected, 1)
	assert.Equal(t, 1000.0, m.Report.Rejected[0].FrequencyHz)

	wantR, _ := tissue.Rectangular(50000)
	assert.Equal(t, 50000.0, m.Composition.FrequencyHz)
	assert.InDelta(t, wantR, m.Composition.Resistance50kHz, 0.05)
	assert.Equal(t, 16.0, m.Composition.WeightKg)

	last, ok := s.LastMeasurement()
	require.True(t, ok)
	assert.Equal(t, m, last)
	require.Len(t, store.measurements, 1)
	assert.Equal(t, m.ID, store.measurements[0].ID)

	cancel()
	select {
	case err := <-runErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
