// Package api serves the vitals HTTP API: live and stored blood pressure
// estimates, calibration, the user profile, impedance sweeps and charts.
package api

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/httputil"
	"github.com/banshee-data/vitals.report/internal/serialmux"
	"github.com/banshee-data/vitals.report/internal/session"
	"github.com/banshee-data/vitals.report/internal/units"
	"github.com/banshee-data/vitals.report/internal/version"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// History is the read side of the result store.
type History interface {
	Estimates(limit int) ([]db.EstimateRecord, error)
	Compositions(limit int) ([]db.CompositionRecord, error)
	Composition(id string) (db.CompositionRecord, error)
}

// Options sets the display defaults used when a request does not carry
// units, mass or tz query parameters.
type Options struct {
	PressureUnits string
	MassUnits     string
	Timezone      string
}

type Server struct {
	sess    *session.Session
	history History
	m       serialmux.SerialMuxInterface
	opts    Options
}

// NewServer returns a Server. history and m may be nil; the endpoints that
// need them then answer 503.
func NewServer(sess *session.Session, history History, m serialmux.SerialMuxInterface, opts Options) *Server {
	if !units.IsValidPressure(opts.PressureUnits) {
		opts.PressureUnits = units.MMHG
	}
	if !units.IsValidMass(opts.MassUnits) {
		opts.MassUnits = units.KG
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	return &Server{sess: sess, history: history, m: m, opts: opts}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets /api/live upgrade through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	code := strconv.Itoa(statusCode)
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + code + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + code + colorReset
	case statusCode >= 400:
		return colorBoldRed + code + colorReset
	default:
		return code
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/bp", s.handleBP)
	mux.HandleFunc("/api/bp/calibrate", s.handleCalibrate)
	mux.HandleFunc("/api/bp/history", s.handleBPHistory)
	mux.HandleFunc("/api/bp/status", s.handleBPStatus)
	mux.HandleFunc("/api/bp/reset", s.handleBPReset)
	mux.HandleFunc("/api/profile", s.handleProfile)
	mux.HandleFunc("/api/bia/sweep", s.handleSweep)
	mux.HandleFunc("/api/bia/calibrate", s.handleImpedanceCalibrate)
	mux.HandleFunc("/api/composition/history", s.handleCompositionHistory)
	mux.HandleFunc("/api/composition/latest", s.handleLatestComposition)
	mux.HandleFunc("/api/composition/{id}", s.handleComposition)
	mux.HandleFunc("/api/charts/bp", s.handleBPChart)
	mux.HandleFunc("/api/charts/spectrum", s.handleSpectrumChart)
	mux.HandleFunc("/api/live", s.handleLive)
	mux.HandleFunc("/api/device", s.handleDevice)
	mux.HandleFunc("/api/device/command", s.handleDeviceCommand)
	mux.HandleFunc("/api/version", s.handleVersion)
	return mux
}

// pressureUnits returns the requested pressure units or writes a 400.
func (s *Server) pressureUnits(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.opts.PressureUnits, true
	}
	if !units.IsValidPressure(u) {
		httputil.BadRequest(w, fmt.Sprintf("invalid units %q; valid: %s", u, units.GetValidPressureUnitsString()))
		return "", false
	}
	return u, true
}

// massUnits returns the requested mass units or writes a 400.
func (s *Server) massUnits(w http.ResponseWriter, r *http.Request) (string, bool) {
	u := r.URL.Query().Get("mass")
	if u == "" {
		return s.opts.MassUnits, true
	}
	if !units.IsValidMass(u) {
		httputil.BadRequest(w, fmt.Sprintf("invalid mass units %q; valid: %s", u, units.GetValidMassUnitsString()))
		return "", false
	}
	return u, true
}

// limit parses the optional limit query parameter. Zero means the store
// default.
func limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return 0, true
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return 0, false
	}
	return n, true
}

func (s *Server) requireHistory(w http.ResponseWriter) bool {
	if s.history == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "history is not available")
		return false
	}
	return true
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}
