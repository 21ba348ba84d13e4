package composition

import (
	"fmt"
	"strings"
)

// BMI returns weight / height² with height in metres.
func BMI(weightKg, heightCm float64) float64 {
	h := heightCm / 100
	return weightKg / (h * h)
}

type BMICategory string

const (
	BMIUnderweight BMICategory = "underweight"
	BMINormal      BMICategory = "normal"
	BMIOverweight  BMICategory = "overweight"
	BMIObeseClass1 BMICategory = "obese_class_1"
	BMIObeseClass2 BMICategory = "obese_class_2"
	BMIObeseClass3 BMICategory = "obese_class_3"
)

func CategorizeBMI(bmi float64) BMICategory {
	switch {
	case bmi < 18.5:
		return BMIUnderweight
	case bmi < 25:
		return BMINormal
	case bmi < 30:
		return BMIOverweight
	case bmi < 35:
		return BMIObeseClass1
	case bmi < 40:
		return BMIObeseClass2
	default:
		return BMIObeseClass3
	}
}

type BodyFatCategory string

const (
	BodyFatEssential    BodyFatCategory = "essential"
	BodyFatAthletic     BodyFatCategory = "athletic"
	BodyFatFitness      BodyFatCategory = "fitness"
	BodyFatAverage      BodyFatCategory = "average"
	BodyFatAboveAverage BodyFatCategory = "above_average"
	BodyFatObese        BodyFatCategory = "obese"
)

var (
	maleFatBounds   = [5]float64{6, 14, 18, 25, 30}
	femaleFatBounds = [5]float64{14, 21, 25, 32, 38}
	fatCategories   = [6]BodyFatCategory{
		BodyFatEssential, BodyFatAthletic, BodyFatFitness,
		BodyFatAverage, BodyFatAboveAverage, BodyFatObese,
	}
)

func CategorizeBodyFat(bodyFatPct float64, isMale bool) BodyFatCategory {
	bounds := femaleFatBounds
	if isMale {
		bounds = maleFatBounds
	}
	for i, b := range bounds {
		if bodyFatPct < b {
			return fatCategories[i]
		}
	}
	return BodyFatObese
}

// ReferenceRanges are the healthy percentage bands for an age group and sex.
type ReferenceRanges struct {
	BodyFatMin float64 `json:"body_fat_min"`
	BodyFatMax float64 `json:"body_fat_max"`
	MuscleMin  float64 `json:"muscle_min"`
	MuscleMax  float64 `json:"muscle_max"`
	WaterMin   float64 `json:"water_min"`
	WaterMax   float64 `json:"water_max"`
}

func ReferenceRangesFor(age int, isMale bool) ReferenceRanges {
	switch {
	case isMale && age < 30:
		return ReferenceRanges{8, 20, 38, 52, 55, 65}
	case isMale && age < 50:
		return ReferenceRanges{11, 23, 35, 49, 52, 62}
	case isMale:
		return ReferenceRanges{13, 25, 32, 46, 50, 60}
	case age < 30:
		return ReferenceRanges{16, 30, 32, 45, 50, 60}
	case age < 50:
		return ReferenceRanges{19, 33, 30, 43, 48, 58}
	default:
		return ReferenceRanges{22, 35, 28, 40, 45, 55}
	}
}

// InterpretPhaseAngle grades a 50 kHz phase angle in degrees.
func InterpretPhaseAngle(phaseDeg float64) string {
	switch {
	case phaseDeg >= 7:
		return "Excellent cellular health"
	case phaseDeg >= 5.5:
		return "Good cellular health"
	case phaseDeg >= 4:
		return "Average cellular health"
	default:
		return "Below average cellular health"
	}
}

// IdealWeight returns the Devine ideal body weight in kg.
func IdealWeight(heightCm float64, isMale bool) float64 {
	inchesOver5ft := heightCm/2.54 - 60
	if isMale {
		return 50 + 2.3*inchesOver5ft
	}
	return 45.5 + 2.3*inchesOver5ft
}

// Recommendations returns short guidance lines for a valid composition.
func Recommendations(c Composition, p Profile) []string {
	if !c.Valid {
		return []string{"Repeat the measurement with dry skin and firm electrode contact."}
	}

	var out []string
	ref := ReferenceRangesFor(p.Age, p.IsMale)
	switch {
	case c.BodyFatPct > ref.BodyFatMax:
		out = append(out, fmt.Sprintf("Body fat is above the %.0f-%.0f%% reference range.", ref.BodyFatMin, ref.BodyFatMax))
	case c.BodyFatPct < ref.BodyFatMin:
		out = append(out, fmt.Sprintf("Body fat is below the %.0f-%.0f%% reference range.", ref.BodyFatMin, ref.BodyFatMax))
	}
	if c.MusclePct < ref.MuscleMin {
		out = append(out, "Muscle mass is below reference; resistance training may help.")
	}
	if c.BodyWaterPct < ref.WaterMin {
		out = append(out, "Body water is low; check hydration before measuring.")
	}
	if c.VisceralFatLevel >= 13 {
		out = append(out, "Visceral fat level is elevated.")
	}
	if len(out) == 0 {
		out = append(out, "All measured values are within reference ranges.")
	}
	return out
}

// Summary renders a composition as a short multi-line report.
func Summary(c Composition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Body fat:     %.1f%%\n", c.BodyFatPct)
	fmt.Fprintf(&b, "Muscle mass:  %.1f kg\n", c.MuscleMassKg)
	fmt.Fprintf(&b, "Body water:   %.1f%%\n", c.BodyWaterPct)
	fmt.Fprintf(&b, "Bone mass:    %.1f kg\n", c.BoneMassKg)
	fmt.Fprintf(&b, "BMR:          %.0f kcal/day\n", c.BMR)
	fmt.Fprintf(&b, "Phase angle:  %.1f deg (%s)\n", c.PhaseAngle, InterpretPhaseAngle(c.PhaseAngle))
	fmt.Fprintf(&b, "Quality:      %.0f%%\n", c.MeasurementQuality)
	return b.String()
}
