package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig is the root configuration for the signal pipelines, the
// bioimpedance sweep and the device service. All fields are optional; the
// Get* methods supply defaults for anything omitted.
type TuningConfig struct {
	// Signal conditioning
	ECGThreshold        *float64 `json:"ecg_threshold,omitempty"`
	PPGThreshold        *float64 `json:"ppg_threshold,omitempty"`
	AdaptiveThreshold   *bool    `json:"adaptive_threshold,omitempty"`
	ThresholdMultiplier *float64 `json:"threshold_multiplier,omitempty"`
	AdaptationInterval  *string  `json:"adaptation_interval,omitempty"` // duration string like "5s"
	ECGRefractory       *string  `json:"ecg_refractory,omitempty"`      // duration string like "300ms"
	PPGRefractory       *string  `json:"ppg_refractory,omitempty"`

	// Blood pressure estimation
	DefaultHeightCm *float64 `json:"default_height_cm,omitempty"`
	DefaultAge      *int     `json:"default_age,omitempty"`
	DefaultIsMale   *bool    `json:"default_is_male,omitempty"`
	EstimateEvery   *string  `json:"estimate_every,omitempty"` // duration string like "1s"

	// Bioimpedance sweep
	SweepMode         *string  `json:"sweep_mode,omitempty"` // "fixed" or "log"
	SweepStartHz      *float64 `json:"sweep_start_hz,omitempty"`
	SweepEndHz        *float64 `json:"sweep_end_hz,omitempty"`
	SweepPoints       *int     `json:"sweep_points,omitempty"`
	SweepReadyTimeout *string  `json:"sweep_ready_timeout,omitempty"`
	SweepPollInterval *string  `json:"sweep_poll_interval,omitempty"`
	SweepSettleDelay  *string  `json:"sweep_settle_delay,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// its built-in default. It matches config/tuning.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		ECGThreshold:        ptrFloat64(1500),
		PPGThreshold:        ptrFloat64(50000),
		AdaptiveThreshold:   ptrBool(true),
		ThresholdMultiplier: ptrFloat64(1.5),
		AdaptationInterval:  ptrString("5s"),
		ECGRefractory:       ptrString("300ms"),
		PPGRefractory:       ptrString("400ms"),
		DefaultHeightCm:     ptrFloat64(170),
		DefaultAge:          ptrInt(30),
		DefaultIsMale:       ptrBool(true),
		EstimateEvery:       ptrString("1s"),
		SweepMode:           ptrString("fixed"),
		SweepStartHz:        ptrFloat64(1000),
		SweepEndHz:          ptrFloat64(100000),
		SweepPoints:         ptrInt(5),
		SweepReadyTimeout:   ptrString("1s"),
		SweepPollInterval:   ptrString("10ms"),
		SweepSettleDelay:    ptrString("0s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to defaults through the Get* methods,
// so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // deeper packages
		"../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ECGThreshold != nil && *c.ECGThreshold <= 0 {
		return fmt.Errorf("ecg_threshold must be positive, got %f", *c.ECGThreshold)
	}
	if c.PPGThreshold != nil && *c.PPGThreshold <= 0 {
		return fmt.Errorf("ppg_threshold must be positive, got %f", *c.PPGThreshold)
	}
	if c.ThresholdMultiplier != nil && *c.ThresholdMultiplier <= 0 {
		return fmt.Errorf("threshold_multiplier must be positive, got %f", *c.ThresholdMultiplier)
	}
	if c.DefaultHeightCm != nil && (*c.DefaultHeightCm < 50 || *c.DefaultHeightCm > 250) {
		return fmt.Errorf("default_height_cm must be between 50 and 250, got %f", *c.DefaultHeightCm)
	}
	if c.DefaultAge != nil && (*c.DefaultAge < 1 || *c.DefaultAge > 120) {
		return fmt.Errorf("default_age must be between 1 and 120, got %d", *c.DefaultAge)
	}

	for name, v := range map[string]*string{
		"adaptation_interval": c.AdaptationInterval,
		"ecg_refractory":      c.ECGRefractory,
		"ppg_refractory":      c.PPGRefractory,
		"estimate_every":      c.EstimateEvery,
		"sweep_ready_timeout": c.SweepReadyTimeout,
		"sweep_poll_interval": c.SweepPollInterval,
		"sweep_settle_delay":  c.SweepSettleDelay,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
	}

	if c.SweepMode != nil && *c.SweepMode != "" && *c.SweepMode != "fixed" && *c.SweepMode != "log" {
		return fmt.Errorf("sweep_mode must be 'fixed' or 'log', got %q", *c.SweepMode)
	}
	if c.SweepPoints != nil && (*c.SweepPoints < 1 || *c.SweepPoints > 1000) {
		return fmt.Errorf("sweep_points must be between 1 and 1000, got %d", *c.SweepPoints)
	}
	if c.SweepStartHz != nil && c.SweepEndHz != nil && *c.SweepStartHz >= *c.SweepEndHz {
		return fmt.Errorf("sweep_start_hz (%f) must be below sweep_end_hz (%f)", *c.SweepStartHz, *c.SweepEndHz)
	}

	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetECGThreshold returns the ecg_threshold value or the default.
func (c *TuningConfig) GetECGThreshold() float64 {
	if c.ECGThreshold == nil {
		return 1500
	}
	return *c.ECGThreshold
}

// GetPPGThreshold returns the ppg_threshold value or the default.
func (c *TuningConfig) GetPPGThreshold() float64 {
	if c.PPGThreshold == nil {
		return 50000
	}
	return *c.PPGThreshold
}

// GetAdaptiveThreshold returns the adaptive_threshold value or the default.
func (c *TuningConfig) GetAdaptiveThreshold() bool {
	if c.AdaptiveThreshold == nil {
		return true
	}
	return *c.AdaptiveThreshold
}

// GetThresholdMultiplier returns the threshold_multiplier value or the default.
func (c *TuningConfig) GetThresholdMultiplier() float64 {
	if c.ThresholdMultiplier == nil {
		return 1.5
	}
	return *c.ThresholdMultiplier
}

// GetAdaptationInterval parses and returns the adaptation_interval.
func (c *TuningConfig) GetAdaptationInterval() time.Duration {
	return durationOr(c.AdaptationInterval, 5*time.Second)
}

// GetECGRefractory parses and returns the ecg_refractory period.
func (c *TuningConfig) GetECGRefractory() time.Duration {
	return durationOr(c.ECGRefractory, 300*time.Millisecond)
}

// GetPPGRefractory parses and returns the ppg_refractory period.
func (c *TuningConfig) GetPPGRefractory() time.Duration {
	return durationOr(c.PPGRefractory, 400*time.Millisecond)
}

// GetDefaultHeightCm returns the default_height_cm value or the default.
func (c *TuningConfig) GetDefaultHeightCm() float64 {
	if c.DefaultHeightCm == nil {
		return 170
	}
	return *c.DefaultHeightCm
}

// GetDefaultAge returns the default_age value or the default.
func (c *TuningConfig) GetDefaultAge() int {
	if c.DefaultAge == nil {
		return 30
	}
	return *c.DefaultAge
}

// GetDefaultIsMale returns the default_is_male value or the default.
func (c *TuningConfig) GetDefaultIsMale() bool {
	if c.DefaultIsMale == nil {
		return true
	}
	return *c.DefaultIsMale
}

// GetEstimateEvery parses and returns how often the service computes an estimate.
func (c *TuningConfig) GetEstimateEvery() time.Duration {
	return durationOr(c.EstimateEvery, time.Second)
}

// GetSweepMode returns the sweep_mode value or the default.
func (c *TuningConfig) GetSweepMode() string {
	if c.SweepMode == nil || *c.SweepMode == "" {
		return "fixed"
	}
	return *c.SweepMode
}

// GetSweepStartHz returns the sweep_start_hz value or the default.
func (c *TuningConfig) GetSweepStartHz() float64 {
	if c.SweepStartHz == nil {
		return 1000
	}
	return *c.SweepStartHz
}

// GetSweepEndHz returns the sweep_end_hz value or the default.
func (c *TuningConfig) GetSweepEndHz() float64 {
	if c.SweepEndHz == nil {
		return 100000
	}
	return *c.SweepEndHz
}

// GetSweepPoints returns the sweep_points value or the default.
func (c *TuningConfig) GetSweepPoints() int {
	if c.SweepPoints == nil {
		return 5
	}
	return *c.SweepPoints
}

// GetSweepReadyTimeout parses and returns the per-point readiness timeout.
func (c *TuningConfig) GetSweepReadyTimeout() time.Duration {
	return durationOr(c.SweepReadyTimeout, time.Second)
}

// GetSweepPollInterval parses and returns the readiness poll interval.
func (c *TuningConfig) GetSweepPollInterval() time.Duration {
	return durationOr(c.SweepPollInterval, 10*time.Millisecond)
}

// GetSweepSettleDelay parses and returns the delay between sweep points.
func (c *TuningConfig) GetSweepSettleDelay() time.Duration {
	return durationOr(c.SweepSettleDelay, 0)
}
