// Package sensorsim synthesizes deterministic ECG and PPG pulse trains and
// the matching sensor bridge lines. It backs the simulated serial device
// and the signal pipeline tests.
package sensorsim

import (
	"fmt"
	"strings"
	"time"
)

// DefaultInterval is the sample spacing of a 250 Hz stream.
const DefaultInterval = 4 * time.Millisecond

// ShoulderBeat returns one beat: a ramp to shoulder, a flat hold, a ramp to
// top and a linear decay to zero. The flat hold is longer than the
// moving-average window so the filtered trace holds exactly at shoulder
// before the final upstroke. Integer-valued inputs keep the filtered sums
// exact.
func ShoulderBeat(shoulder, top float64) []float64 {
	b := make([]float64, 0, 32)
	for i := 1; i <= 5; i++ {
		b = append(b, float64(int(shoulder)*i/5))
	}
	for i := 0; i < 12; i++ {
		b = append(b, shoulder)
	}
	for i := 1; i <= 5; i++ {
		b = append(b, shoulder+float64(int(top-shoulder)*i/5))
	}
	for i := 1; i <= 10; i++ {
		b = append(b, top-float64(int(top)*i/10))
	}
	return b
}

// ECGBeat is the default ECG template (raw ADC counts).
func ECGBeat() []float64 { return ShoulderBeat(2000, 4000) }

// PPGBeat is the default PPG IR template.
func PPGBeat() []float64 { return ShoulderBeat(60000, 100000) }

// PulseTrain repeats a beat template every Period samples after an initial
// delay of Offset samples.
type PulseTrain struct {
	Template []float64
	Period   int
	Offset   int

	pos int
}

// NewPulseTrain returns a PulseTrain. Period is raised to the template
// length if shorter.
func NewPulseTrain(template []float64, period, offset int) *PulseTrain {
	if period < len(template) {
		period = len(template)
	}
	return &PulseTrain{Template: template, Period: period, Offset: offset}
}

// Next returns the next sample.
func (p *PulseTrain) Next() float64 {
	i := p.pos
	p.pos++
	if i < p.Offset {
		return 0
	}
	k := (i - p.Offset) % p.Period
	if k < len(p.Template) {
		return p.Template[k]
	}
	return 0
}

// Sample is one synthesized ECG/PPG pair.
type Sample struct {
	Time time.Time
	ECG  float64
	IR   float64
	Red  float64
}

// Source produces time-aligned ECG and PPG samples. The PPG train is
// delayed against the ECG train by the configured transit time.
type Source struct {
	Start    time.Time
	Interval time.Duration
	ECG      *PulseTrain
	PPG      *PulseTrain

	n int
}

// NewSource returns a Source with one beat per beatInterval and the PPG
// upstroke trailing the ECG upstroke by transit.
func NewSource(start time.Time, beatInterval, transit time.Duration) *Source {
	period := int(beatInterval / DefaultInterval)
	offset := int(transit / DefaultInterval)
	return &Source{
		Start:    start,
		Interval: DefaultInterval,
		ECG:      NewPulseTrain(ECGBeat(), period, 0),
		PPG:      NewPulseTrain(PPGBeat(), period, offset),
	}
}

// Next returns the next sample pair.
func (s *Source) Next() Sample {
	t := s.Start.Add(time.Duration(s.n) * s.Interval)
	s.n++
	ir := s.PPG.Next()
	return Sample{Time: t, ECG: s.ECG.Next(), IR: ir, Red: ir / 2}
}

// Take returns the next n sample pairs.
func (s *Source) Take(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

// Lines renders the next n sample pairs as sensor bridge lines, with
// timestamps in milliseconds since Start.
func (s *Source) Lines(n int) []string {
	out := make([]string, 0, 2*n)
	for _, smp := range s.Take(n) {
		ms := smp.Time.Sub(s.Start).Milliseconds()
		out = append(out,
			fmt.Sprintf("ECG,%d,%.0f,0", ms, smp.ECG),
			fmt.Sprintf("PPG,%d,%.0f,%.0f", ms, smp.IR, smp.Red))
	}
	return out
}

// Payload joins lines into a newline-terminated serial payload.
func Payload(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}
