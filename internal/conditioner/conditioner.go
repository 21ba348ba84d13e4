package conditioner

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/vitals.report/internal/monitoring"
)

// Peak is one confirmed cardiac cycle marker.
type Peak struct {
	Index int       // history ring slot holding the peak sample
	Value float64   // filtered value at the peak
	Time  time.Time // sample timestamp
}

// Conditioner smooths one raw sample stream and detects peaks in it.
type Conditioner struct {
	cfg       Config
	threshold float64

	window    [FilterWindow]float64
	windowPos int

	history    [HistorySize]float64
	historyPos int
	historyLen int

	// detector state
	lastValue      float64
	lastDerivative float64
	risingEdge     bool
	lastPeak       time.Time
	havePeak       bool

	lastAdapt time.Time
	started   bool
}

// New returns a Conditioner for cfg. Invalid configurations fall back to
// the channel defaults for the offending fields.
func New(cfg Config) *Conditioner {
	if err := cfg.Validate(); err != nil {
		monitoring.Logf("conditioner: %v; using defaults", err)
		def := ECGConfig()
		if cfg.Channel == ChannelPPG {
			def = PPGConfig()
		}
		if cfg.Refractory <= 0 {
			cfg.Refractory = def.Refractory
		}
		if cfg.AdaptationInterval <= 0 {
			cfg.AdaptationInterval = def.AdaptationInterval
		}
		if cfg.ThresholdMultiplier <= 0 {
			cfg.ThresholdMultiplier = def.ThresholdMultiplier
		}
	}
	return &Conditioner{cfg: cfg, threshold: cfg.Threshold}
}

// Channel reports which signal this Conditioner processes.
func (c *Conditioner) Channel() Channel { return c.cfg.Channel }

// Threshold returns the current peak threshold.
func (c *Conditioner) Threshold() float64 { return c.threshold }

// SetThreshold overrides the current peak threshold.
func (c *Conditioner) SetThreshold(v float64) { c.threshold = v }

// SetAdaptive enables or disables adaptive threshold tracking.
func (c *Conditioner) SetAdaptive(enabled bool) { c.cfg.Adaptive = enabled }

// Adaptive reports whether adaptive threshold tracking is enabled.
func (c *Conditioner) Adaptive() bool { return c.cfg.Adaptive }

// Filter pushes raw into the moving-average window and returns the mean of
// the window. The window starts zero-filled, so the first FilterWindow-1
// outputs are attenuated.
func (c *Conditioner) Filter(raw float64) float64 {
	c.window[c.windowPos] = raw
	c.windowPos = (c.windowPos + 1) % FilterWindow

	var sum float64
	for _, v := range c.window {
		sum += v
	}
	return sum / FilterWindow
}

// DetectPeak advances the rising-edge state machine with one filtered value.
//
// A rising edge is armed when value exceeds the threshold and the first
// derivative turns from <= 0 to > 0. An armed edge is resolved on the next
// derivative turn from >= 0 to < 0: it becomes a peak if more than the
// refractory period has elapsed since the last confirmed peak, otherwise
// it is discarded. Either way the edge is disarmed.
func (c *Conditioner) DetectPeak(value float64, t time.Time) (Peak, bool) {
	derivative := value - c.lastValue
	defer func() {
		c.lastValue = value
		c.lastDerivative = derivative
	}()

	if value > c.threshold && derivative > 0 && c.lastDerivative <= 0 {
		c.risingEdge = true
	}

	if !c.risingEdge || derivative >= 0 || c.lastDerivative < 0 {
		return Peak{}, false
	}

	c.risingEdge = false
	if c.havePeak && t.Sub(c.lastPeak) <= c.cfg.Refractory {
		monitoring.Diagf("%s: candidate at %s inside refractory (%v since last)",
			c.cfg.Channel, t.Format(time.StampMilli), t.Sub(c.lastPeak))
		return Peak{}, false
	}

	c.lastPeak = t
	c.havePeak = true
	idx := (c.historyPos - 1 + HistorySize) % HistorySize
	return Peak{Index: idx, Value: value, Time: t}, true
}

// Process filters raw, records the filtered value in the history ring,
// runs peak detection and, when enabled, adapts the threshold.
func (c *Conditioner) Process(raw float64, t time.Time) (float64, Peak, bool) {
	if !c.started {
		c.started = true
		c.lastAdapt = t
	}

	filtered := c.Filter(raw)
	c.record(filtered)
	peak, ok := c.DetectPeak(filtered, t)

	if c.cfg.Adaptive {
		c.adapt(t)
	}
	return filtered, peak, ok
}

// Hold filters raw and records it like Process but never confirms a peak.
// Any armed rising edge is dropped so a later sample cannot resolve it.
// It is used for samples flagged as unreliable, such as ECG lead-off.
func (c *Conditioner) Hold(raw float64, t time.Time) float64 {
	if !c.started {
		c.started = true
		c.lastAdapt = t
	}

	filtered := c.Filter(raw)
	c.record(filtered)
	c.lastDerivative = filtered - c.lastValue
	c.lastValue = filtered
	c.risingEdge = false

	if c.cfg.Adaptive {
		c.adapt(t)
	}
	return filtered
}

func (c *Conditioner) record(v float64) {
	c.history[c.historyPos] = v
	c.historyPos = (c.historyPos + 1) % HistorySize
	if c.historyLen < HistorySize {
		c.historyLen++
	}
}

// adapt sets the threshold to multiplier × mean of the most recent
// AdaptiveWindow filtered samples, at most once per adaptation interval.
func (c *Conditioner) adapt(t time.Time) {
	if t.Sub(c.lastAdapt) < c.cfg.AdaptationInterval {
		return
	}
	c.lastAdapt = t

	recent := c.Recent(AdaptiveWindow)
	if len(recent) == 0 {
		return
	}
	prev := c.threshold
	c.threshold = stat.Mean(recent, nil) * c.cfg.ThresholdMultiplier
	monitoring.Diagf("%s: threshold %.1f -> %.1f", c.cfg.Channel, prev, c.threshold)
}

// Recent returns up to n of the most recent filtered samples, oldest first.
func (c *Conditioner) Recent(n int) []float64 {
	if n > c.historyLen {
		n = c.historyLen
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	start := (c.historyPos - n + HistorySize) % HistorySize
	for i := 0; i < n; i++ {
		out[i] = c.history[(start+i)%HistorySize]
	}
	return out
}

// Len returns the number of filtered samples currently held in history.
func (c *Conditioner) Len() int { return c.historyLen }

// Reset clears all filter, history and detector state and restores the
// configured threshold.
func (c *Conditioner) Reset() {
	cfg := c.cfg
	*c = Conditioner{cfg: cfg, threshold: cfg.Threshold}
}
