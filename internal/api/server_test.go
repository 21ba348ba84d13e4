package api

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/ptt"
	"github.com/banshee-data/vitals.report/internal/sensorsim"
	"github.com/banshee-data/vitals.report/internal/serialmux"
	"github.com/banshee-data/vitals.report/internal/session"
	"github.com/banshee-data/vitals.report/internal/testutil"
	"github.com/banshee-data/vitals.report/internal/timeutil"
	"github.com/banshee-data/vitals.report/internal/version"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

// tissueDriver answers every request immediately from a Cole model.
type tissueDriver struct {
	tissue sensorsim.Tissue
	freq   float64
}

func (d *tissueDriver) RequestMeasurement(freqHz float64) error {
	d.freq = freqHz
	return nil
}

func (d *tissueDriver) IsReady() bool { return true }

func (d *tissueDriver) ReadResult() (bia.Reading, error) {
	r, x := d.tissue.Rectangular(d.freq)
	return bia.Reading{Resistance: r, Reactance: x, Valid: true}, nil
}

type testEnv struct {
	srv     *Server
	handler http.Handler
	sess    *session.Session
	db      *db.DB
	clock   *timeutil.MockClock
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "vitals.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	clock := timeutil.NewMockClock(t0)
	cfg := session.Config{Estimator: ptt.DefaultConfig(), Sweep: bia.DefaultConfig()}
	sess := session.New(cfg, &tissueDriver{tissue: sensorsim.DefaultTissue()}, database, clock)
	srv := NewServer(sess, database, nil, Options{})
	return &testEnv{srv: srv, handler: srv.ServeMux(), sess: sess, db: database, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return testutil.Serve(e.handler, testutil.NewJSONRequest(t, method, path, body))
}

// twoPointCalibration brackets the 200 ms transit time of calibratedStream.
func twoPointCalibration() []ptt.CalibrationPoint {
	return []ptt.CalibrationPoint{
		{PTTMs: 150, Systolic: 130, Diastolic: 85, Time: t0},
		{PTTMs: 250, Systolic: 110, Diastolic: 75, Time: t0},
	}
}

func ingestStream(t *testing.T, sess *session.Session) {
	t.Helper()
	src := sensorsim.NewSource(t0, 800*time.Millisecond, 200*time.Millisecond)
	for _, line := range src.Lines(2000) {
		if err := sess.Ingest(line); err != nil {
			t.Fatalf("Ingest(%q) failed: %v", line, err)
		}
	}
}

func TestNewServer_Defaults(t *testing.T) {
	srv := NewServer(nil, nil, nil, Options{PressureUnits: "psi", MassUnits: "stone"})
	if srv.opts.PressureUnits != "mmHg" || srv.opts.MassUnits != "kg" || srv.opts.Timezone != "UTC" {
		t.Errorf("Unexpected defaults %+v", srv.opts)
	}

	srv = NewServer(nil, nil, nil, Options{PressureUnits: "kPa", MassUnits: "lb", Timezone: "Europe/Berlin"})
	if srv.opts.PressureUnits != "kPa" || srv.opts.MassUnits != "lb" || srv.opts.Timezone != "Europe/Berlin" {
		t.Errorf("Expected options to be kept, got %+v", srv.opts)
	}
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{304, colorYellow + "304" + colorReset},
		{404, colorBoldRed + "404" + colorReset},
		{503, colorBoldRed + "503" + colorReset},
		{101, "101"},
	}
	for _, tt := range tests {
		if got := statusCodeColor(tt.code); got != tt.want {
			t.Errorf("statusCodeColor(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var logged strings.Builder
	log.SetOutput(&logged)
	defer log.SetOutput(io.Discard)

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := testutil.Serve(h, httptest.NewRequest(http.MethodGet, "/api/bp?units=kPa", nil))

	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	if !strings.Contains(logged.String(), "418") || !strings.Contains(logged.String(), "/api/bp?units=kPa") {
		t.Errorf("Unexpected log line %q", logged.String())
	}
}

func TestHandleVersion(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodGet, "/api/version", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if got := testutil.DecodeBody[version.Info](t, rec); got != version.Get() {
		t.Errorf("version = %+v, want %+v", got, version.Get())
	}

	rec = env.do(t, http.MethodPost, "/api/version", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestHandleDevice(t *testing.T) {
	env := setupTestServer(t)
	if err := env.sess.Ingest(`{"fw":"1.4.2","rate_hz":250}`); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	rec := env.do(t, http.MethodGet, "/api/device", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	got := testutil.DecodeBody[deviceResponse](t, rec)
	if got.Bridge["fw"] != "1.4.2" {
		t.Errorf("Expected bridge fw 1.4.2, got %v", got.Bridge)
	}
	if len(got.SweepPlan) != len(bia.FixedFrequencies()) {
		t.Errorf("Expected the fixed plan, got %v", got.SweepPlan)
	}
	if got.Estimator.Ready {
		t.Errorf("Expected estimator not ready without samples")
	}
}

func TestHandleDeviceCommand(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/device/command", commandRequest{Command: "LED ON"})
	testutil.AssertJSONError(t, rec, http.StatusServiceUnavailable, "no sensor bridge")

	port := serialmux.NewTestableSerialPort()
	mux := serialmux.NewSerialMux(port)
	defer mux.Close()
	env.srv.m = mux

	rec = env.do(t, http.MethodPost, "/api/device/command", commandRequest{Command: " LED ON "})
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if got := port.GetWrittenData(); got != "LED ON\n" {
		t.Errorf("Expected command written to the port, got %q", got)
	}

	for _, cmd := range []string{"", "LED ON\nRESET"} {
		rec = env.do(t, http.MethodPost, "/api/device/command", commandRequest{Command: cmd})
		testutil.AssertJSONError(t, rec, http.StatusBadRequest, "single non-empty line")
	}

	rec = env.do(t, http.MethodGet, "/api/device/command", nil)
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestHistoryUnavailable(t *testing.T) {
	env := setupTestServer(t)
	srv := NewServer(env.sess, nil, nil, Options{})
	h := srv.ServeMux()

	for _, path := range []string{"/api/bp/history", "/api/composition/history", "/api/composition/abc", "/api/charts/bp"} {
		rec := testutil.Serve(h, httptest.NewRequest(http.MethodGet, path, nil))
		testutil.AssertJSONError(t, rec, http.StatusServiceUnavailable, "history is not available")
	}
}
