package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/composition"
	"github.com/banshee-data/vitals.report/internal/db"
	"github.com/banshee-data/vitals.report/internal/httputil"
	"github.com/banshee-data/vitals.report/internal/session"
	"github.com/banshee-data/vitals.report/internal/units"
)

// CompositionView is a composition with masses in the requested units.
type CompositionView struct {
	ID string `json:"id"`
	composition.Composition
	MassUnits       string               `json:"mass_units"`
	RequestedPoints int                  `json:"requested_points"`
	Points          []bia.ImpedancePoint `json:"points,omitempty"`
	Rejected        []bia.Rejection      `json:"rejected,omitempty"`
	Summary         string               `json:"summary,omitempty"`
	Recommendations []string             `json:"recommendations,omitempty"`
}

func compositionView(id string, c composition.Composition, mass string) CompositionView {
	v := CompositionView{ID: id, Composition: c, MassUnits: mass}
	v.FatMassKg = units.ConvertMass(c.FatMassKg, mass)
	v.FatFreeMassKg = units.ConvertMass(c.FatFreeMassKg, mass)
	v.MuscleMassKg = units.ConvertMass(c.MuscleMassKg, mass)
	v.BoneMassKg = units.ConvertMass(c.BoneMassKg, mass)
	v.WeightKg = units.ConvertMass(c.WeightKg, mass)
	return v
}

func (s *Server) measurementView(m session.Measurement, mass string) CompositionView {
	v := compositionView(m.ID, m.Composition, mass)
	v.RequestedPoints = m.Report.Requested
	v.Points = m.Report.Points
	v.Rejected = m.Report.Rejected
	if m.Composition.Valid {
		v.Summary = composition.Summary(m.Composition)
	}
	if p, ok := s.sess.Profile(); ok {
		v.Recommendations = composition.Recommendations(m.Composition, p)
	}
	return v
}

func recordView(rec db.CompositionRecord, mass string) CompositionView {
	v := compositionView(rec.ID, rec.Composition, mass)
	v.RequestedPoints = rec.RequestedPoints
	v.Points = rec.Points
	return v
}

// handleProfile reads (GET) or replaces (PUT) the user profile. Weight is
// accepted and returned in the requested mass units.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	mass, ok := s.massUnits(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		p, ok := s.sess.Profile()
		if !ok {
			httputil.NotFound(w, "no profile has been set")
			return
		}
		p.WeightKg = units.ConvertMass(p.WeightKg, mass)
		httputil.WriteJSONOK(w, p)
	case http.MethodPut:
		var p composition.Profile
		if err := httputil.DecodeJSON(w, r, &p); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		p.WeightKg = units.ToKilograms(p.WeightKg, mass)
		if err := s.sess.SetProfile(p); err != nil {
			if errors.Is(err, composition.ErrInvalidProfile) {
				httputil.BadRequest(w, err.Error())
				return
			}
			httputil.InternalServerError(w, err.Error())
			return
		}
		p.WeightKg = units.ConvertMass(p.WeightKg, mass)
		httputil.WriteJSONOK(w, p)
	default:
		httputil.MethodNotAllowed(w)
	}
}

type sweepRequest struct {
	Mode     string  `json:"mode"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Points   int     `json:"points"`
	WeightKg float64 `json:"weight_kg"`
}

// plan resolves the frequencies for a sweep request. An empty mode uses
// the configured plan.
func (req sweepRequest) plan() ([]float64, error) {
	switch req.Mode {
	case "":
		return nil, nil
	case "fixed":
		return bia.FixedFrequencies(), nil
	case "log":
		return bia.LogSpacedFrequencies(req.Start, req.End, req.Points)
	default:
		return nil, fmt.Errorf("invalid mode %q; valid: fixed, log", req.Mode)
	}
}

// handleSweep runs an impedance sweep and returns the analysed
// composition. The request body is optional.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	mass, ok := s.massUnits(w, r)
	if !ok {
		return
	}
	var req sweepRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
	}
	plan, err := req.plan()
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.WeightKg < 0 {
		httputil.BadRequest(w, "weight_kg must not be negative")
		return
	}

	m, err := s.sess.Measure(r.Context(), plan, units.ToKilograms(req.WeightKg, mass))
	switch {
	case errors.Is(err, session.ErrSweepInProgress):
		httputil.Conflict(w, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.measurementView(m, mass))
}

type impedanceCalibrationRequest struct {
	KnownOhms float64 `json:"known_ohms"`
}

type impedanceCalibrationResponse struct {
	Gain           float64 `json:"gain"`
	PhaseOffsetDeg float64 `json:"phase_offset_deg"`
}

// handleImpedanceCalibrate measures a reference resistor connected in
// place of the electrodes.
func (s *Server) handleImpedanceCalibrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req impedanceCalibrationRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.KnownOhms <= 0 {
		httputil.BadRequest(w, "known_ohms must be positive")
		return
	}
	gain, offset, err := s.sess.CalibrateImpedance(r.Context(), req.KnownOhms)
	switch {
	case errors.Is(err, session.ErrSweepInProgress), errors.Is(err, bia.ErrCalibrationFailed):
		httputil.Conflict(w, err.Error())
		return
	case err != nil:
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, impedanceCalibrationResponse{Gain: gain, PhaseOffsetDeg: offset})
}

func (s *Server) handleCompositionHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireHistory(w) {
		return
	}
	mass, ok := s.massUnits(w, r)
	if !ok {
		return
	}
	n, ok := limit(w, r)
	if !ok {
		return
	}
	records, err := s.history.Compositions(n)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve compositions: "+err.Error())
		return
	}
	out := make([]CompositionView, len(records))
	for i, rec := range records {
		out[i] = recordView(rec, mass)
	}
	httputil.WriteJSONOK(w, out)
}

// handleLatestComposition returns the last sweep of this session.
func (s *Server) handleLatestComposition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	mass, ok := s.massUnits(w, r)
	if !ok {
		return
	}
	m, ok := s.sess.LastMeasurement()
	if !ok {
		httputil.NotFound(w, "no sweep has been run")
		return
	}
	httputil.WriteJSONOK(w, s.measurementView(m, mass))
}

func (s *Server) handleComposition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireHistory(w) {
		return
	}
	mass, ok := s.massUnits(w, r)
	if !ok {
		return
	}
	rec, err := s.history.Composition(r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, "composition not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, recordView(rec, mass))
}
