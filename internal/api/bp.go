package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/httputil"
	"github.com/banshee-data/vitals.report/internal/ptt"
	"github.com/banshee-data/vitals.report/internal/units"
)

// EstimateView is an Estimate in the requested pressure units.
type EstimateView struct {
	ID string `json:"id,omitempty"`
	ptt.Estimate
	Units          string              `json:"units"`
	Interpretation *ptt.Interpretation `json:"interpretation,omitempty"`
}

func estimateView(e ptt.Estimate, u string) EstimateView {
	v := EstimateView{Estimate: e, Units: u}
	if e.Valid {
		in := ptt.Interpret(e)
		in.PulsePressure = units.ConvertPressure(in.PulsePressure, u)
		v.Interpretation = &in
	}
	v.Systolic = units.ConvertPressure(e.Systolic, u)
	v.Diastolic = units.ConvertPressure(e.Diastolic, u)
	v.MAP = units.ConvertPressure(e.MAP, u)
	return v
}

type calibrationRequest struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

type calibrationResponse struct {
	Point  ptt.CalibrationPoint   `json:"point"`
	Points []ptt.CalibrationPoint `json:"points"`
	Status ptt.Status             `json:"status"`
}

// handleBP computes an estimate from the current signal state.
func (s *Server) handleBP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, ok := s.pressureUnits(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, estimateView(s.sess.Estimate(), u))
}

// handleCalibrate lists (GET), adds (POST) or clears (DELETE) cuff
// calibration points. Readings are accepted in the requested units.
func (s *Server) handleCalibrate(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.sess.CalibrationPoints())
	case http.MethodPost:
		u, ok := s.pressureUnits(w, r)
		if !ok {
			return
		}
		var req calibrationRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		sys := units.ToMMHg(req.Systolic, u)
		dia := units.ToMMHg(req.Diastolic, u)
		if sys <= 0 || dia <= 0 || dia >= sys {
			httputil.BadRequest(w, "systolic and diastolic must be positive with systolic above diastolic")
			return
		}
		p, err := s.sess.Calibrate(sys, dia)
		switch {
		case errors.Is(err, ptt.ErrNoPTT), errors.Is(err, ptt.ErrCalibrationFull):
			httputil.Conflict(w, err.Error())
			return
		case err != nil:
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, calibrationResponse{Point: p, Points: s.sess.CalibrationPoints(), Status: s.sess.Status()})
	case http.MethodDelete:
		if err := s.sess.ClearCalibration(); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, s.sess.Status())
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleBPHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireHistory(w) {
		return
	}
	u, ok := s.pressureUnits(w, r)
	if !ok {
		return
	}
	n, ok := limit(w, r)
	if !ok {
		return
	}

	records, err := s.history.Estimates(n)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve estimates: "+err.Error())
		return
	}
	out := make([]EstimateView, len(records))
	for i, rec := range records {
		out[i] = estimateView(rec.Estimate, u)
		out[i].ID = rec.ID
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleBPStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.sess.Status())
}

// handleBPReset discards signal state. Calibration is kept.
func (s *Server) handleBPReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.sess.Reset()
	httputil.WriteJSONOK(w, s.sess.Status())
}

var _ History = (*db.DB)(nil)
