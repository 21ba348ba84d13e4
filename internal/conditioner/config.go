package conditioner

import (
	"fmt"
	"time"

	"github.com/banshee-data/vitals.report/internal/config"
)

// Channel identifies the physiological signal a Conditioner processes.
type Channel string

const (
	ChannelECG Channel = "ecg"
	ChannelPPG Channel = "ppg"
)

// Fixed buffer geometry.
const (
	FilterWindow   = 10
	HistorySize    = 200
	AdaptiveWindow = 50
)

// Config holds the tunable parameters of one Conditioner.
type Config struct {
	Channel             Channel
	Threshold           float64       // initial peak threshold in filtered units
	Refractory          time.Duration // minimum spacing between confirmed peaks
	Adaptive            bool          // recompute the threshold from recent history
	AdaptationInterval  time.Duration // default: 5s
	ThresholdMultiplier float64       // default: 1.5
}

// ECGConfig returns the default configuration for the ECG channel.
func ECGConfig() Config {
	return Config{
		Channel:             ChannelECG,
		Threshold:           1500,
		Refractory:          300 * time.Millisecond,
		Adaptive:            true,
		AdaptationInterval:  5 * time.Second,
		ThresholdMultiplier: 1.5,
	}
}

// PPGConfig returns the default configuration for the PPG channel.
func PPGConfig() Config {
	return Config{
		Channel:             ChannelPPG,
		Threshold:           50000,
		Refractory:          400 * time.Millisecond,
		Adaptive:            true,
		AdaptationInterval:  5 * time.Second,
		ThresholdMultiplier: 1.5,
	}
}

// ConfigFromTuning builds the configuration for channel from a loaded
// TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig, channel Channel) Config {
	c := Config{
		Channel:             channel,
		Adaptive:            cfg.GetAdaptiveThreshold(),
		AdaptationInterval:  cfg.GetAdaptationInterval(),
		ThresholdMultiplier: cfg.GetThresholdMultiplier(),
	}
	switch channel {
	case ChannelPPG:
		c.Threshold = cfg.GetPPGThreshold()
		c.Refractory = cfg.GetPPGRefractory()
	default:
		c.Threshold = cfg.GetECGThreshold()
		c.Refractory = cfg.GetECGRefractory()
	}
	return c
}

// Validate checks that the configuration can drive a Conditioner.
func (c Config) Validate() error {
	if c.Refractory <= 0 {
		return fmt.Errorf("%s refractory must be positive, got %v", c.Channel, c.Refractory)
	}
	if c.Adaptive && c.AdaptationInterval <= 0 {
		return fmt.Errorf("%s adaptation interval must be positive, got %v", c.Channel, c.AdaptationInterval)
	}
	if c.Adaptive && c.ThresholdMultiplier <= 0 {
		return fmt.Errorf("%s threshold multiplier must be positive, got %f", c.Channel, c.ThresholdMultiplier)
	}
	return nil
}

// WithThreshold returns a copy with the initial threshold replaced.
func (c Config) WithThreshold(v float64) Config {
	c.Threshold = v
	return c
}

// WithAdaptive returns a copy with adaptive thresholding toggled.
func (c Config) WithAdaptive(enabled bool) Config {
	c.Adaptive = enabled
	return c
}
