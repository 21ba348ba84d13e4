// Package composition derives body composition from bioimpedance points and
// a demographic profile using single-frequency BIA regressions at 50 kHz.
package composition

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/vitals.report/internal/bia"
	"github.com/banshee-data/vitals.report/internal/diag"
	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/timeutil"
)

// MinQuality is the exclusive lower bound on MeasurementQuality for a valid
// composition.
const MinQuality = 60.0

// Profile is the demographic context for the regressions.
type Profile struct {
	Age           int     `json:"age"`
	HeightCm      float64 `json:"height_cm"`
	WeightKg      float64 `json:"weight_kg"`
	IsMale        bool    `json:"is_male"`
	ActivityLevel int     `json:"activity_level"` // 1 (sedentary) to 5
	IsAthlete     bool    `json:"is_athlete"`
}

// DefaultProfile is the profile an Analyzer reports before one is set.
func DefaultProfile() Profile {
	return Profile{Age: 25, HeightCm: 170, WeightKg: 70, IsMale: true, ActivityLevel: 3}
}

var ErrInvalidProfile = errors.New("invalid profile")

// Validate checks that the profile values are physically plausible.
func (p Profile) Validate() error {
	switch {
	case p.Age < 1 || p.Age > 120:
		return fmt.Errorf("%w: age %d must be between 1 and 120", ErrInvalidProfile, p.Age)
	case p.HeightCm < 50 || p.HeightCm > 250:
		return fmt.Errorf("%w: height %.1f cm must be between 50 and 250", ErrInvalidProfile, p.HeightCm)
	case p.WeightKg < 0 || p.WeightKg > 400:
		return fmt.Errorf("%w: weight %.1f kg must be between 0 and 400", ErrInvalidProfile, p.WeightKg)
	case p.ActivityLevel < 1 || p.ActivityLevel > 5:
		return fmt.Errorf("%w: activity level %d must be between 1 and 5", ErrInvalidProfile, p.ActivityLevel)
	}
	return nil
}

// Composition is one body-composition result. Derived fields are zero when
// no usable impedance point was available.
type Composition struct {
	BodyFatPct         float64   `json:"body_fat_pct"`
	FatMassKg          float64   `json:"fat_mass_kg"`
	FatFreeMassKg      float64   `json:"fat_free_mass_kg"`
	MuscleMassKg       float64   `json:"muscle_mass_kg"`
	MusclePct          float64   `json:"muscle_pct"`
	BoneMassKg         float64   `json:"bone_mass_kg"`
	TotalBodyWaterL    float64   `json:"total_body_water_l"`
	BodyWaterPct       float64   `json:"body_water_pct"`
	VisceralFatLevel   float64   `json:"visceral_fat_level"`
	BMR                float64   `json:"bmr"`
	MetabolicAge       float64   `json:"metabolic_age"`
	PhaseAngle         float64   `json:"phase_angle"`
	FrequencyHz        float64   `json:"frequency_hz"`
	Resistance50kHz    float64   `json:"resistance_50khz"`
	Reactance50kHz     float64   `json:"reactance_50khz"`
	Impedance50kHz     float64   `json:"impedance_50khz"`
	MeasurementQuality float64   `json:"measurement_quality"`
	WeightKg           float64   `json:"weight_kg"`
	Valid              bool      `json:"valid"`
	Diagnostic         diag.Code `json:"diagnostic"`
	Time               time.Time `json:"time"`
}

// Analyzer holds the user profile and athlete mode. It is not safe for
// concurrent use.
type Analyzer struct {
	clock      timeutil.Clock
	profile    Profile
	profileSet bool
	athlete    bool
}

// NewAnalyzer returns an Analyzer with no profile set. A nil clock uses the
// real clock.
func NewAnalyzer(clock timeutil.Clock) *Analyzer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Analyzer{clock: clock, profile: DefaultProfile()}
}

// SetProfile stores the profile used by Analyze.
func (a *Analyzer) SetProfile(p Profile) {
	a.profile = p
	a.profileSet = true
	monitoring.Logf("composition: profile set: age=%d height=%.1fcm weight=%.1fkg male=%t athlete=%t",
		p.Age, p.HeightCm, p.WeightKg, p.IsMale, p.IsAthlete)
}

// Profile returns the stored profile and whether one has been set.
func (a *Analyzer) Profile() (Profile, bool) {
	return a.profile, a.profileSet
}

// SetAthleteMode applies the athlete water correction regardless of the
// profile flag.
func (a *Analyzer) SetAthleteMode(enabled bool) { a.athlete = enabled }

// AthleteMode reports whether athlete mode is on.
func (a *Analyzer) AthleteMode() bool { return a.athlete }

// Analyze computes a composition from points with the stored profile. A
// positive weightKg overrides the profile weight for this call only.
func (a *Analyzer) Analyze(points []bia.ImpedancePoint, weightKg float64) Composition {
	if !a.profileSet {
		return Composition{Diagnostic: diag.InsufficientData, Time: a.clock.Now()}
	}
	return a.AnalyzeWith(points, a.profile, weightKg)
}

// AnalyzeWith computes a composition for an explicit profile. It does not
// read or modify the stored profile.
func (a *Analyzer) AnalyzeWith(points []bia.ImpedancePoint, p Profile, weightKg float64) Composition {
	c := Composition{Diagnostic: diag.InsufficientData, Time: a.clock.Now()}

	weight := p.WeightKg
	if weightKg > 0 {
		weight = weightKg
	}
	if weight <= 0 || p.HeightCm <= 0 {
		return c
	}
	c.WeightKg = weight

	ref, ok := nearestValid(points, bia.ReferenceFrequencyHz)
	if !ok {
		monitoring.Diagf("composition: no valid point among %d", len(points))
		return c
	}

	c.FrequencyHz = ref.FrequencyHz
	c.Resistance50kHz = ref.Resistance
	c.Reactance50kHz = ref.Reactance
	c.Impedance50kHz = ref.Magnitude
	c.PhaseAngle = bia.PhaseAngle(ref.Resistance, ref.Reactance)

	athlete := p.IsAthlete || a.athlete
	c.TotalBodyWaterL = TotalBodyWater(ref.Resistance, p.HeightCm, weight, p.Age, p.IsMale, athlete)
	c.FatFreeMassKg = FatFreeMass(c.TotalBodyWaterL, p.Age)
	c.FatMassKg = FatMass(weight, c.FatFreeMassKg)
	c.BodyFatPct = c.FatMassKg / weight * 100
	c.BoneMassKg = BoneMass(p.HeightCm, weight, p.Age, p.IsMale)
	c.MuscleMassKg = MuscleMass(c.FatFreeMassKg, c.BoneMassKg, weight)
	c.MusclePct = c.MuscleMassKg / weight * 100
	c.BodyWaterPct = c.TotalBodyWaterL / weight * 100
	c.VisceralFatLevel = VisceralFatLevel(c.BodyFatPct, p.Age, p.IsMale)
	c.BMR = BMR(weight, p.HeightCm, p.Age, p.IsMale, c.MuscleMassKg)
	c.MetabolicAge = MetabolicAge(c.BMR, p.Age, p.IsMale)
	c.MeasurementQuality = MeasurementQuality(points)

	switch {
	case c.MeasurementQuality <= MinQuality:
		c.Diagnostic = diag.SignalQuality
	case !ReasonableBodyFat(c.BodyFatPct, p.Age, p.IsMale), !ReasonableMusclePct(c.MusclePct, p.Age, p.IsMale):
		c.Diagnostic = diag.OutOfRange
	default:
		c.Diagnostic = diag.OK
		c.Valid = true
	}
	return c
}

// AnalyzeSingleFrequency analyses one rectangular reading with the stored
// profile.
func (a *Analyzer) AnalyzeSingleFrequency(resistance, reactance, freqHz, weightKg float64) Composition {
	p := bia.PointFromRectangular(freqHz, resistance, reactance)
	p.Time = a.clock.Now()
	return a.Analyze([]bia.ImpedancePoint{p}, weightKg)
}

// nearestValid returns the first valid point with the smallest distance to
// targetHz.
func nearestValid(points []bia.ImpedancePoint, targetHz float64) (bia.ImpedancePoint, bool) {
	var best bia.ImpedancePoint
	bestDiff := math.Inf(1)
	for _, p := range points {
		if bia.ValidatePoint(p) != nil {
			continue
		}
		if d := math.Abs(p.FrequencyHz - targetHz); d < bestDiff {
			best, bestDiff = p, d
		}
	}
	return best, !math.IsInf(bestDiff, 1)
}
