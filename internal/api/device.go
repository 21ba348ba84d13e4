package api

import (
	"net/http"
	"strings"

	"github.com/banshee-data/vitals.report/internal/httputil"
	"github.com/banshee-data/vitals.report/internal/ptt"
)

type deviceResponse struct {
	Bridge    map[string]any `json:"bridge"`
	Estimator ptt.Status     `json:"estimator"`
	SweepPlan []float64      `json:"sweep_plan_hz"`
}

// handleDevice reports the bridge's last config line alongside the
// estimator state.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, deviceResponse{
		Bridge:    s.sess.DeviceState(),
		Estimator: s.sess.Status(),
		SweepPlan: s.sess.Plan(),
	})
}

type commandRequest struct {
	Command string `json:"command"`
}

// handleDeviceCommand writes a raw command line to the bridge.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.m == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "no sensor bridge attached")
		return
	}
	var req commandRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cmd := strings.TrimSpace(req.Command)
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		httputil.BadRequest(w, "command must be a single non-empty line")
		return
	}
	if err := s.m.SendCommand(cmd); err != nil {
		httputil.InternalServerError(w, "failed to send command: "+err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"sent": cmd})
}
