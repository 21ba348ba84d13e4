// Package diag defines the diagnostic codes attached to measurement results.
//
// Measurement failures never surface as Go errors: they resolve into a
// result with Valid=false and one of these codes.
package diag

// Code classifies why a measurement result is (or is not) usable.
type Code string

const (
	OK                     Code = "ok"
	InsufficientData       Code = "insufficient_data"
	SignalQuality          Code = "signal_quality"
	OutOfRange             Code = "out_of_range"
	DriverTimeout          Code = "driver_timeout"
	CalibrationUnavailable Code = "calibration_unavailable"
)

// Message returns a short human-readable description of c.
func (c Code) Message() string {
	switch c {
	case OK:
		return "measurement valid"
	case InsufficientData:
		return "not enough data for a measurement"
	case SignalQuality:
		return "signal quality below threshold, check sensor placement"
	case OutOfRange:
		return "computed value outside physiological range"
	case DriverTimeout:
		return "measurement front-end did not respond in time"
	case CalibrationUnavailable:
		return "uncalibrated estimate, add reference readings"
	default:
		return string(c)
	}
}
