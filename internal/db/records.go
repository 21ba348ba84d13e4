package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/composition"
	"github.com/banshee-data/vitals.report/internal/diag"
	"github.com/banshee-data/vitals.report/internal/ptt"
	"github.com/banshee-data/vitals.report/internal/session"
)

// DefaultHistoryLimit caps history queries that pass a non-positive limit.
const DefaultHistoryLimit = 100

// EstimateRecord is a stored blood pressure estimate.
type EstimateRecord struct {
	ID string `json:"id"`
	ptt.Estimate
}

// CompositionRecord is a stored sweep result with its accepted points.
type CompositionRecord struct {
	ID string `json:"id"`
	composition.Composition
	RequestedPoints int                  `json:"requested_points"`
	Points          []bia.ImpedancePoint `json:"points"`
}

func unixMs(t time.Time) int64 { return t.UnixMilli() }

func fromUnixMs(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func historyLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

func (db *DB) RecordEstimate(e ptt.Estimate) error {
	_, err := db.Exec(
		`INSERT INTO bp_estimates (
			estimate_id, systolic, diastolic, map, ptt_ms, pwv_mps, hrv_rmssd_ms,
			quality, correlation, rhythm_regular, needs_calibration, valid,
			diagnostic, measured_unix_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), e.Systolic, e.Diastolic, e.MAP, e.PTTMs, e.PWV, e.HRV,
		e.Quality, e.Correlation, e.RhythmRegular, e.NeedsCalibration, e.Valid,
		string(e.Diagnostic), unixMs(e.Time),
	)
	if err != nil {
		return fmt.Errorf("failed to insert estimate: %w", err)
	}
	return nil
}

// Estimates returns up to limit stored estimates, newest first.
func (db *DB) Estimates(limit int) ([]EstimateRecord, error) {
	rows, err := db.Query(
		`SELECT estimate_id, systolic, diastolic, map, ptt_ms, pwv_mps, hrv_rmssd_ms,
			quality, correlation, rhythm_regular, needs_calibration, valid,
			diagnostic, measured_unix_ms
		FROM bp_estimates ORDER BY measured_unix_ms DESC LIMIT ?`, historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query estimates: %w", err)
	}
	defer rows.Close()

	var out []EstimateRecord
	for rows.Next() {
		var (
			r          EstimateRecord
			diagnostic string
			ms         int64
		)
		if err := rows.Scan(&r.ID, &r.Systolic, &r.Diastolic, &r.MAP, &r.PTTMs, &r.PWV, &r.HRV,
			&r.Quality, &r.Correlation, &r.RhythmRegular, &r.NeedsCalibration, &r.Valid,
			&diagnostic, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan estimate: %w", err)
		}
		r.Diagnostic = diag.Code(diagnostic)
		r.Time = fromUnixMs(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (db *DB) RecordCalibrationPoint(p ptt.CalibrationPoint) error {
	_, err := db.Exec(
		`INSERT INTO calibration_points (ptt_ms, systolic, diastolic, recorded_unix_ms) VALUES (?, ?, ?, ?)`,
		p.PTTMs, p.Systolic, p.Diastolic, unixMs(p.Time),
	)
	if err != nil {
		return fmt.Errorf("failed to insert calibration point: %w", err)
	}
	return nil
}

// CalibrationPoints returns the stored calibration points in the order
// they were recorded.
func (db *DB) CalibrationPoints() ([]ptt.CalibrationPoint, error) {
	rows, err := db.Query(`SELECT ptt_ms, systolic, diastolic, recorded_unix_ms FROM calibration_points ORDER BY point_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration points: %w", err)
	}
	defer rows.Close()

	var out []ptt.CalibrationPoint
	for rows.Next() {
		var p ptt.CalibrationPoint
		var ms int64
		if err := rows.Scan(&p.PTTMs, &p.Systolic, &p.Diastolic, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan calibration point: %w", err)
		}
		p.Time = fromUnixMs(ms)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (db *DB) ClearCalibrationPoints() error {
	if _, err := db.Exec(`DELETE FROM calibration_points`); err != nil {
		return fmt.Errorf("failed to clear calibration points: %w", err)
	}
	return nil
}

// SaveProfile replaces the single stored profile.
func (db *DB) SaveProfile(p composition.Profile) error {
	_, err := db.Exec(
		`INSERT INTO profile (profile_id, age, height_cm, weight_kg, is_male, activity_level, is_athlete, updated_unix_ms)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			age = excluded.age,
			height_cm = excluded.height_cm,
			weight_kg = excluded.weight_kg,
			is_male = excluded.is_male,
			activity_level = excluded.activity_level,
			is_athlete = excluded.is_athlete,
			updated_unix_ms = excluded.updated_unix_ms`,
		p.Age, p.HeightCm, p.WeightKg, p.IsMale, p.ActivityLevel, p.IsAthlete, unixMs(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Profile returns the stored profile or ErrNotFound.
func (db *DB) Profile() (composition.Profile, error) {
	var p composition.Profile
	err := db.QueryRow(
		`SELECT age, height_cm, weight_kg, is_male, activity_level, is_athlete FROM profile WHERE profile_id = 1`,
	).Scan(&p.Age, &p.HeightCm, &p.WeightKg, &p.IsMale, &p.ActivityLevel, &p.IsAthlete)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

// RecordComposition stores a sweep result and its accepted points in one
// transaction.
func (db *DB) RecordComposition(m session.Measurement) error {
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	c := m.Composition

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO compositions (
			composition_id, body_fat_pct, fat_mass_kg, fat_free_mass_kg, muscle_mass_kg,
			muscle_pct, bone_mass_kg, total_body_water_l, body_water_pct, visceral_fat_level,
			bmr, metabolic_age, phase_angle, frequency_hz, resistance, reactance, impedance,
			quality, weight_kg, valid, diagnostic, requested_points, measured_unix_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, c.BodyFatPct, c.FatMassKg, c.FatFreeMassKg, c.MuscleMassKg,
		c.MusclePct, c.BoneMassKg, c.TotalBodyWaterL, c.BodyWaterPct, c.VisceralFatLevel,
		c.BMR, c.MetabolicAge, c.PhaseAngle, c.FrequencyHz, c.Resistance50kHz, c.Reactance50kHz, c.Impedance50kHz,
		c.MeasurementQuality, c.WeightKg, c.Valid, string(c.Diagnostic), m.Report.Requested, unixMs(c.Time),
	)
	if err != nil {
		return fmt.Errorf("failed to insert composition: %w", err)
	}

	for _, p := range m.Report.Points {
		if _, err := tx.Exec(
			`INSERT INTO impedance_points (composition_id, frequency_hz, resistance, reactance, magnitude, phase_deg)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, p.FrequencyHz, p.Resistance, p.Reactance, p.Magnitude, p.PhaseDeg,
		); err != nil {
			return fmt.Errorf("failed to insert impedance point: %w", err)
		}
	}
	return tx.Commit()
}

const compositionColumns = `composition_id, body_fat_pct, fat_mass_kg, fat_free_mass_kg, muscle_mass_kg,
	muscle_pct, bone_mass_kg, total_body_water_l, body_water_pct, visceral_fat_level,
	bmr, metabolic_age, phase_angle, frequency_hz, resistance, reactance, impedance,
	quality, weight_kg, valid, diagnostic, requested_points, measured_unix_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanComposition(s scanner) (CompositionRecord, error) {
	var (
		r          CompositionRecord
		diagnostic string
		ms         int64
	)
	err := s.Scan(&r.ID, &r.BodyFatPct, &r.FatMassKg, &r.FatFreeMassKg, &r.MuscleMassKg,
		&r.MusclePct, &r.BoneMassKg, &r.TotalBodyWaterL, &r.BodyWaterPct, &r.VisceralFatLevel,
		&r.BMR, &r.MetabolicAge, &r.PhaseAngle, &r.FrequencyHz, &r.Resistance50kHz, &r.Reactance50kHz, &r.Impedance50kHz,
		&r.MeasurementQuality, &r.WeightKg, &r.Valid, &diagnostic, &r.RequestedPoints, &ms)
	r.Diagnostic = diag.Code(diagnostic)
	r.Time = fromUnixMs(ms)
	return r, err
}

// Compositions returns up to limit stored compositions, newest first,
// without their impedance points.
func (db *DB) Compositions(limit int) ([]CompositionRecord, error) {
	rows, err := db.Query(
		`SELECT `+compositionColumns+` FROM compositions ORDER BY measured_unix_ms DESC LIMIT ?`,
		historyLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query compositions: %w", err)
	}
	defer rows.Close()

	var out []CompositionRecord
	for rows.Next() {
		r, err := scanComposition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan composition: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Composition returns one stored composition with its points, or
// ErrNotFound.
func (db *DB) Composition(id string) (CompositionRecord, error) {
	r, err := scanComposition(db.QueryRow(
		`SELECT `+compositionColumns+` FROM compositions WHERE composition_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CompositionRecord{}, ErrNotFound
	}
	if err != nil {
		return CompositionRecord{}, fmt.Errorf("failed to load composition: %w", err)
	}

	rows, err := db.Query(
		`SELECT frequency_hz, resistance, reactance, magnitude, phase_deg
		FROM impedance_points WHERE composition_id = ? ORDER BY frequency_hz ASC`, id)
	if err != nil {
		return r, fmt.Errorf("failed to query impedance points: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p := bia.ImpedancePoint{Valid: true, Time: r.Time}
		if err := rows.Scan(&p.FrequencyHz, &p.Resistance, &p.Reactance, &p.Magnitude, &p.PhaseDeg); err != nil {
			return r, fmt.Errorf("failed to scan impedance point: %w", err)
		}
		r.Points = append(r.Points, p)
	}
	return r, rows.Err()
}

var _ session.Store = (*DB)(nil)
