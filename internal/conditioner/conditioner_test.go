package conditioner

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/config"
	"github.com/banshee-data/vitals.report/internal/sensorsim"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func at(i int) time.Time { return t0.Add(time.Duration(i) * sensorsim.DefaultInterval) }

func TestFilter(t *testing.T) {
	t.Parallel()

	c := New(ECGConfig())
	assert.Equal(t, 100.0, c.Filter(1000), "zero-filled window dilutes the first sample")

	for i := 0; i < FilterWindow; i++ {
		c.Filter(500)
	}
	assert.Equal(t, 500.0, c.Filter(500))
}

func TestDetectPeak_OnePeakPerBeat(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		cfg  Config
		beat []float64
	}{
		{"ecg", ECGConfig().WithAdaptive(false), sensorsim.ECGBeat()},
		{"ppg", PPGConfig().WithAdaptive(false), sensorsim.PPGBeat()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := New(tc.cfg)
			train := sensorsim.NewPulseTrain(tc.beat, 200, 0)

			var peaks []Peak
			for i := 0; i < 2000; i++ {
				if _, p, ok := c.Process(train.Next(), at(i)); ok {
					peaks = append(peaks, p)
				}
			}

			require.Len(t, peaks, 10)
			for i := 1; i < len(peaks); i++ {
				assert.Equal(t, 800*time.Millisecond, peaks[i].Time.Sub(peaks[i-1].Time))
			}
			assert.Greater(t, peaks[0].Value, tc.cfg.Threshold)
		})
	}
}

func TestDetectPeak_NoArmWithoutThreshold(t *testing.T) {
	t.Parallel()

	// A beat whose shoulder never clears the threshold cannot arm.
	c := New(ECGConfig().WithAdaptive(false).WithThreshold(5000))
	train := sensorsim.NewPulseTrain(sensorsim.ECGBeat(), 200, 0)
	for i := 0; i < 1000; i++ {
		_, _, ok := c.Process(train.Next(), at(i))
		require.False(t, ok, "unexpected peak at sample %d", i)
	}
}

func TestPeakSpacingInvariant(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{ECGConfig(), PPGConfig()} {
		cfg := cfg.WithAdaptive(false).WithThreshold(0)
		t.Run(string(cfg.Channel), func(t *testing.T) {
			t.Parallel()
			for seed := uint64(1); seed <= 5; seed++ {
				rng := rand.New(rand.NewPCG(seed, 42))
				c := New(cfg)

				var last time.Time
				var count int
				for i := 0; i < 5000; i++ {
					_, p, ok := c.Process(rng.Float64()*1000, at(i))
					if !ok {
						continue
					}
					if count > 0 {
						require.Greater(t, p.Time.Sub(last), cfg.Refractory,
							"seed %d: peaks %v apart", seed, p.Time.Sub(last))
					}
					last = p.Time
					count++
				}
				assert.Positive(t, count, "seed %d produced no peaks", seed)
			}
		})
	}
}

func TestDetectPeak_RefractoryDropsFastBeats(t *testing.T) {
	t.Parallel()

	// Beats every 200 ms are faster than the 300 ms ECG refractory period.
	c := New(ECGConfig().WithAdaptive(false))
	train := sensorsim.NewPulseTrain(sensorsim.ECGBeat(), 50, 0)

	var peaks []Peak
	for i := 0; i < 1000; i++ {
		if _, p, ok := c.Process(train.Next(), at(i)); ok {
			peaks = append(peaks, p)
		}
	}
	require.NotEmpty(t, peaks)
	assert.Less(t, len(peaks), 20, "every beat was accepted")
	for i := 1; i < len(peaks); i++ {
		assert.Greater(t, peaks[i].Time.Sub(peaks[i-1].Time), 300*time.Millisecond)
	}
}

func TestAdaptiveThreshold(t *testing.T) {
	t.Parallel()

	c := New(ECGConfig())
	// 1250 samples at 4 ms end at t=4996ms, just inside the first interval.
	for i := 0; i < 1250; i++ {
		c.Process(100, at(i))
	}
	assert.Equal(t, 1500.0, c.Threshold())

	c.Process(100, at(1250))
	assert.InDelta(t, 150.0, c.Threshold(), 1e-9)
}

func TestAdaptiveDisabled(t *testing.T) {
	t.Parallel()

	c := New(ECGConfig())
	c.SetAdaptive(false)
	assert.False(t, c.Adaptive())
	for i := 0; i < 3000; i++ {
		c.Process(100, at(i))
	}
	assert.Equal(t, 1500.0, c.Threshold())
}

func TestInstancesDoNotShareState(t *testing.T) {
	t.Parallel()

	ecg := New(ECGConfig().WithAdaptive(false))
	ppg := New(PPGConfig().WithAdaptive(false))

	train := sensorsim.NewPulseTrain(sensorsim.ECGBeat(), 200, 0)
	var n int
	for i := 0; i < 1000; i++ {
		if _, _, ok := ecg.Process(train.Next(), at(i)); ok {
			n++
		}
	}
	assert.Equal(t, 5, n)
	assert.Zero(t, ppg.Len())
	assert.Equal(t, 50000.0, ppg.Threshold())
}

func TestRecentAndReset(t *testing.T) {
	t.Parallel()

	c := New(ECGConfig().WithAdaptive(false))
	for i := 0; i < HistorySize+20; i++ {
		c.Process(1000, at(i))
	}
	assert.Equal(t, HistorySize, c.Len())
	recent := c.Recent(AdaptiveWindow)
	require.Len(t, recent, AdaptiveWindow)
	for _, v := range recent {
		assert.Equal(t, 1000.0, v)
	}

	c.SetThreshold(42)
	c.Reset()
	assert.Zero(t, c.Len())
	assert.Nil(t, c.Recent(10))
	assert.Equal(t, 1500.0, c.Threshold())
}

func TestConfigFromTuning(t *testing.T) {
	t.Parallel()

	tuning := config.DefaultTuningConfig()
	ecg := ConfigFromTuning(tuning, ChannelECG)
	ppg := ConfigFromTuning(tuning, ChannelPPG)

	assert.Equal(t, ECGConfig(), ecg)
	assert.Equal(t, PPGConfig(), ppg)
	assert.NoError(t, ecg.Validate())

	bad := ECGConfig()
	bad.Refractory = 0
	assert.Error(t, bad.Validate())
	assert.Equal(t, 300*time.Millisecond, New(bad).cfg.Refractory)
}

func TestHold_DropsArmedEdge(t *testing.T) {
	t.Parallel()

	arm := func(c *Conditioner) int {
		i := 0
		for ; i < 20; i++ {
			c.Process(2000, at(i))
		}
		_, _, ok := c.Process(4000, at(i))
		require.False(t, ok)
		return i + 1
	}

	t.Run("process confirms", func(t *testing.T) {
		t.Parallel()
		c := New(ECGConfig().WithAdaptive(false))
		i := arm(c)
		_, _, ok := c.Process(0, at(i))
		assert.True(t, ok, "a falling sample resolves the armed edge")
	})

	t.Run("hold never confirms", func(t *testing.T) {
		t.Parallel()
		c := New(ECGConfig().WithAdaptive(false))
		i := arm(c)
		filtered := c.Hold(0, at(i))
		assert.Equal(t, 2000.0, filtered)
		assert.Equal(t, i+1, c.Len(), "held samples still enter history")
		for j := i + 1; j < i+20; j++ {
			_, _, ok := c.Process(2000, at(j))
			require.False(t, ok, "stale edge resolved at sample %d", j)
		}
	})
}
