package ptt

// Category is a blood pressure classification.
type Category string

const (
	CategoryNormal   Category = "Normal"
	CategoryElevated Category = "Elevated"
	CategoryStage1   Category = "Stage 1 Hypertension"
	CategoryStage2   Category = "Stage 2 Hypertension"
	CategoryCrisis   Category = "Hypertensive Crisis"
)

// Assessment thresholds.
const (
	PWVGoodThreshold     = 7.0  // m/s
	PWVModerateThreshold = 10.0 // m/s
	HRVGoodThreshold     = 50.0 // ms
	HRVModerateThreshold = 30.0 // ms
)

// CompensateForAge scales a pressure by 0.5% per year of age relative to 30.
func CompensateForAge(pressure float64, age int) float64 {
	return pressure * (1 + float64(age-30)*0.005)
}

// CompensateForSex scales a pressure by 2% for males.
func CompensateForSex(pressure float64, isMale bool) float64 {
	if isMale {
		return pressure * 1.02
	}
	return pressure
}

// Classify maps a systolic/diastolic pair to a Category. The bands are
// checked in order, so the first match wins.
func Classify(systolic, diastolic float64) Category {
	switch {
	case systolic < 120 && diastolic < 80:
		return CategoryNormal
	case systolic < 130 && diastolic < 80:
		return CategoryElevated
	case systolic < 140 || diastolic < 90:
		return CategoryStage1
	case systolic < 180 || diastolic < 120:
		return CategoryStage2
	default:
		return CategoryCrisis
	}
}

// IsHypertensive reports whether either pressure reaches the stage 1 limit.
func IsHypertensive(systolic, diastolic float64) bool {
	return systolic >= 130 || diastolic >= 80
}

// PulsePressure is systolic minus diastolic.
func PulsePressure(systolic, diastolic float64) float64 {
	return systolic - diastolic
}

// PWVAssessment grades arterial stiffness from pulse wave velocity.
func PWVAssessment(pwv float64) string {
	switch {
	case pwv <= 0:
		return "unknown"
	case pwv < PWVGoodThreshold:
		return "good"
	case pwv < PWVModerateThreshold:
		return "moderate"
	default:
		return "high"
	}
}

// HRVAssessment grades an RMSSD value.
func HRVAssessment(rmssd float64) string {
	switch {
	case rmssd <= 0:
		return "unknown"
	case rmssd >= HRVGoodThreshold:
		return "good"
	case rmssd >= HRVModerateThreshold:
		return "moderate"
	default:
		return "low"
	}
}

// Interpretation bundles the derived assessments for one Estimate.
type Interpretation struct {
	Category      Category `json:"category"`
	Hypertensive  bool     `json:"hypertensive"`
	PulsePressure float64  `json:"pulse_pressure"`
	Stiffness     string   `json:"arterial_stiffness"`
	HRV           string   `json:"hrv"`
	Message       string   `json:"message"`
}

// Interpret derives the assessments for est.
func Interpret(est Estimate) Interpretation {
	return Interpretation{
		Category:      Classify(est.Systolic, est.Diastolic),
		Hypertensive:  IsHypertensive(est.Systolic, est.Diastolic),
		PulsePressure: PulsePressure(est.Systolic, est.Diastolic),
		Stiffness:     PWVAssessment(est.PWV),
		HRV:           HRVAssessment(est.HRV),
		Message:       est.Diagnostic.Message(),
	}
}
