package serialmux

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EventType identifies the kind of line emitted by the sensor bridge.
type EventType string

const (
	EventTypeECG       EventType = "ecg"
	EventTypePPG       EventType = "ppg"
	EventTypeImpedance EventType = "impedance"
	EventTypeConfig    EventType = "config"
	EventTypeUnknown   EventType = "unknown"
)

// ErrMalformedLine is returned when a line has a recognised prefix but the
// wrong field count or unparsable numbers.
var ErrMalformedLine = errors.New("malformed bridge line")

// Event is one decoded bridge line. Only the fields relevant to Type are set.
type Event struct {
	Type     EventType
	DeviceMs int64

	// ECG
	ECG     float64
	LeadOff bool

	// PPG
	IR  float64
	Red float64

	// Impedance
	FrequencyHz float64
	Magnitude   float64
	PhaseDeg    float64
	OK          bool

	Raw string
}

// ClassifyPayload returns the event type of a line from its prefix alone.
func ClassifyPayload(payload string) EventType {
	switch {
	case strings.HasPrefix(payload, "ECG,"):
		return EventTypeECG
	case strings.HasPrefix(payload, "PPG,"):
		return EventTypePPG
	case strings.HasPrefix(payload, "IMP,"):
		return EventTypeImpedance
	case strings.HasPrefix(payload, "{"):
		return EventTypeConfig
	}
	return EventTypeUnknown
}

// ParseLine decodes a bridge line. Lead-off ECG samples carry a zero value
// with LeadOff set, and must not reach peak detection. Config and unknown
// lines are returned with only Type and Raw set.
func ParseLine(line string) (Event, error) {
	line = strings.TrimSpace(line)
	ev := Event{Type: ClassifyPayload(line), Raw: line}

	switch ev.Type {
	case EventTypeECG:
		f, err := splitFields(line, 4)
		if err != nil {
			return ev, err
		}
		if ev.DeviceMs, err = strconv.ParseInt(f[1], 10, 64); err != nil {
			return ev, malformed(line, err)
		}
		if ev.ECG, err = strconv.ParseFloat(f[2], 64); err != nil {
			return ev, malformed(line, err)
		}
		if ev.LeadOff, err = parseFlag(f[3]); err != nil {
			return ev, malformed(line, err)
		}
		if ev.LeadOff {
			ev.ECG = 0
		}

	case EventTypePPG:
		f, err := splitFields(line, 4)
		if err != nil {
			return ev, err
		}
		if ev.DeviceMs, err = strconv.ParseInt(f[1], 10, 64); err != nil {
			return ev, malformed(line, err)
		}
		if ev.IR, err = strconv.ParseFloat(f[2], 64); err != nil {
			return ev, malformed(line, err)
		}
		if ev.Red, err = strconv.ParseFloat(f[3], 64); err != nil {
			return ev, malformed(line, err)
		}

	case EventTypeImpedance:
		f, err := splitFields(line, 5)
		if err != nil {
			return ev, err
		}
		if ev.FrequencyHz, err = strconv.ParseFloat(f[1], 64); err != nil {
			return ev, malformed(line, err)
		}
		if ev.Magnitude, err = strconv.ParseFloat(f[2], 64); err != nil {
			return ev, malformed(line, err)
		}
		if ev.PhaseDeg, err = strconv.ParseFloat(f[3], 64); err != nil {
			return ev, malformed(line, err)
		}
		if ev.OK, err = parseFlag(f[4]); err != nil {
			return ev, malformed(line, err)
		}
	}

	return ev, nil
}

func splitFields(line string, want int) ([]string, error) {
	f := strings.Split(line, ",")
	if len(f) != want {
		return nil, fmt.Errorf("%w: %q has %d fields, want %d", ErrMalformedLine, line, len(f), want)
	}
	for i := range f {
		f[i] = strings.TrimSpace(f[i])
	}
	return f, nil
}

func parseFlag(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("flag %q is not 0 or 1", s)
}

func malformed(line string, err error) error {
	return fmt.Errorf("%w: %q: %v", ErrMalformedLine, line, err)
}
