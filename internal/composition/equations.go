package composition

import (
	"math"

	"github.com/banshee-data/vitals.report/internal/bia"
)

// TotalBodyWater returns litres of body water from resistance at 50 kHz
// (Kushner regression, height in m²), with the age and athlete corrections
// applied.
func TotalBodyWater(resistance, heightCm, weightKg float64, age int, isMale, athlete bool) float64 {
	heightSq := heightCm * heightCm / 10000
	var tbw float64
	if isMale {
		tbw = 0.396*(heightSq/resistance) + 0.143*weightKg + 8.399
	} else {
		tbw = 0.372*(heightSq/resistance) + 0.096*weightKg + 4.649
	}
	if age > 30 {
		tbw *= 1 - float64(age-30)*0.02
	}
	if athlete {
		tbw *= 1.05
	}
	return tbw
}

// HydrationConstant is the water fraction of fat-free mass for age.
func HydrationConstant(age int) float64 {
	switch {
	case age > 60:
		return 0.715
	case age < 18:
		return 0.750
	default:
		return 0.732
	}
}

// FatFreeMass converts body water to fat-free mass.
func FatFreeMass(tbw float64, age int) float64 {
	return tbw / HydrationConstant(age)
}

// FatMass is weight less fat-free mass, clamped to [0, 0.6·weight].
func FatMass(weightKg, ffm float64) float64 {
	return math.Min(math.Max(weightKg-ffm, 0), 0.6*weightKg)
}

// BoneMass scales a sex-specific weight regression by height and reduces
// it by half a percent per year over 30.
func BoneMass(heightCm, weightKg float64, age int, isMale bool) float64 {
	var bone float64
	if isMale {
		bone = 0.244*weightKg + 7.8
	} else {
		bone = 0.245*weightKg + 5.4
	}
	bone *= heightCm / 170
	if age > 30 {
		bone *= 1 - float64(age-30)*0.005
	}
	return bone
}

// MuscleMass is fat-free mass less bone and an 8% organ allowance, clamped
// to [0.25·weight, 0.55·weight].
func MuscleMass(ffm, boneKg, weightKg float64) float64 {
	m := ffm - boneKg - 0.08*weightKg
	return math.Min(math.Max(m, 0.25*weightKg), 0.55*weightKg)
}

// BMR is Mifflin-St Jeor scaled by muscle fraction relative to the sex
// average.
func BMR(weightKg, heightCm float64, age int, isMale bool, muscleKg float64) float64 {
	bmr := 10*weightKg + 6.25*heightCm - 5*float64(age)
	avgMuscle := 0.36
	if isMale {
		bmr += 5
		avgMuscle = 0.45
	} else {
		bmr -= 161
	}
	factor := (muscleKg / weightKg) / avgMuscle
	return bmr * (0.85 + 0.3*factor)
}

var (
	maleAverageBMR   = [6]float64{1800, 1750, 1700, 1650, 1600, 1550}
	femaleAverageBMR = [6]float64{1400, 1350, 1300, 1250, 1200, 1150}
)

// AverageBMR returns the reference BMR for an age band: <25, <35, <45, <55,
// <65 and older.
func AverageBMR(age int, isMale bool) float64 {
	band := 5
	for i, upper := range []int{25, 35, 45, 55, 65} {
		if age < upper {
			band = i
			break
		}
	}
	if isMale {
		return maleAverageBMR[band]
	}
	return femaleAverageBMR[band]
}

// MetabolicAge scales chronological age by how the BMR compares with the
// band average, limited to ±15 years and to [18, 80].
func MetabolicAge(bmr float64, age int, isMale bool) float64 {
	chrono := float64(age)
	metabolic := chrono / (bmr / AverageBMR(age, isMale))

	lo := math.Max(chrono-15, 18)
	hi := math.Min(chrono+15, 80)
	return math.Min(math.Max(metabolic, lo), hi)
}

// VisceralFatLevel estimates the visceral fat rating on a 1 to 30 scale.
func VisceralFatLevel(bodyFatPct float64, age int, isMale bool) float64 {
	ageFactor := math.Max(float64(age-20)*0.05, 0)
	sexFactor := 0.8
	if isMale {
		sexFactor = 1.2
	}

	var base float64
	switch {
	case bodyFatPct < 10:
		base = 1
	case bodyFatPct < 15:
		base = 2 + (bodyFatPct-10)*0.3
	case bodyFatPct < 25:
		base = 3.5 + (bodyFatPct-15)*0.4
	case bodyFatPct < 35:
		base = 7.5 + (bodyFatPct-25)*0.6
	default:
		base = 13.5 + (bodyFatPct-35)*0.8
	}

	return math.Min(math.Max(base*sexFactor+ageFactor, 1), 30)
}

// MeasurementQuality scores a point set from 0 to 100. Consecutive R and X
// deltas are summed and divided by the point count; large mean deltas and
// points with a phase outside [3°, 15°] are penalised.
func MeasurementQuality(points []bia.ImpedancePoint) float64 {
	n := len(points)
	if n == 0 {
		return 0
	}

	score := 100.0
	if n > 1 {
		var dR, dX float64
		for i := 1; i < n; i++ {
			dR += math.Abs(points[i].Resistance - points[i-1].Resistance)
			dX += math.Abs(points[i].Reactance - points[i-1].Reactance)
		}
		if dR/float64(n) > 20 {
			score -= 30
		}
		if dX/float64(n) > 10 {
			score -= 20
		}
	}
	for _, p := range points {
		if ph := bia.PhaseAngle(p.Resistance, p.Reactance); ph < 3 || ph > 15 {
			score -= 15
		}
	}
	return math.Max(score, 0)
}

// ReasonableBodyFat reports whether bodyFatPct lies in the plausible band
// for the age group and sex.
func ReasonableBodyFat(bodyFatPct float64, age int, isMale bool) bool {
	var lo, hi float64
	switch {
	case isMale && age < 30:
		lo, hi = 8, 25
	case isMale && age < 50:
		lo, hi = 11, 28
	case isMale:
		lo, hi = 13, 32
	case age < 30:
		lo, hi = 16, 35
	case age < 50:
		lo, hi = 19, 38
	default:
		lo, hi = 22, 42
	}
	return bodyFatPct >= lo && bodyFatPct <= hi
}

// ReasonableMusclePct reports whether the muscle percentage is plausible.
func ReasonableMusclePct(musclePct float64, age int, isMale bool) bool {
	lo, hi := 28.0, 48.0
	if isMale {
		lo, hi = 35, 55
	}
	if age > 50 {
		lo -= 5
		hi -= 3
	}
	return musclePct >= lo && musclePct <= hi
}
