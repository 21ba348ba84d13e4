package bia

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/sensorsim"
	"github.com/banshee-data/vitals.report/internal/serialmux"
)

// subscribeSignal wraps a mux and closes subscribed once Subscribe is
// called, so tests can wait for the driver to be listening.
type subscribeSignal struct {
	serialmux.SerialMuxInterface
	subscribed chan struct{}
}

func (s *subscribeSignal) Subscribe() (string, chan string) {
	id, ch := s.SerialMuxInterface.Subscribe()
	close(s.subscribed)
	return id, ch
}

func bridgePort(tissue sensorsim.Tissue) *serialmux.TestableSerialPort {
	port := serialmux.NewTestableSerialPort()
	port.Respond = func(cmd string) string {
		hz, ok := strings.CutPrefix(cmd, "Z ")
		if !ok {
			return ""
		}
		f, err := strconv.ParseFloat(hz, 64)
		if err != nil {
			return ""
		}
		return tissue.ImpedanceLine(f)
	}
	return port
}

func TestSerialDriver_SweepOverBridge(t *testing.T) {
	port := bridgePort(sensorsim.DefaultTissue())
	mux := &subscribeSignal{SerialMuxInterface: serialmux.NewSerialMux(port), subscribed: make(chan struct{})}
	defer mux.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	d := NewSerialDriver(mux)
	go d.Run(ctx)
	select {
	case <-mux.subscribed:
	case <-time.After(time.Second):
		t.Fatal("driver never subscribed")
	}

	rep := NewCoordinator(d, DefaultConfig(), nil).SweepWithReport(ctx, FixedFrequencies())

	// the default tissue sits under two degrees at 1 kHz
	require.Len(t, rep.Rejected, 1)
	assert.Contains(t, rep.Rejected[0].Reason, "phase")
	assert.Equal(t, 1000.0, rep.Rejected[0].FrequencyHz)
	require.Len(t, rep.Points, 4)

	wantR, wantX := sensorsim.DefaultTissue().Rectangular(50000)
	p := rep.Points[2]
	assert.Equal(t, 50000.0, p.FrequencyHz)
	assert.InDelta(t, wantR, p.Resistance, 0.05)
	assert.InDelta(t, wantX, p.Reactance, 0.05)

	assert.Contains(t, port.GetWrittenData(), "Z 1000\nZ 5000\nZ 10000\nZ 50000\nZ 100000\n")
}

func TestSerialDriver_Deliver(t *testing.T) {
	port := serialmux.NewTestableSerialPort()
	d := NewSerialDriver(serialmux.NewSerialMux(port))

	_, err := d.ReadResult()
	assert.Error(t, err)

	// nothing pending
	d.Deliver(serialmux.Event{Type: serialmux.EventTypeImpedance, FrequencyHz: 5000, Magnitude: 600, OK: true})
	assert.False(t, d.IsReady())

	require.NoError(t, d.RequestMeasurement(5000))
	assert.Equal(t, "Z 5000\n", port.GetWrittenData())

	d.Deliver(serialmux.Event{Type: serialmux.EventTypeImpedance, FrequencyHz: 10000, Magnitude: 580, OK: true})
	d.Deliver(serialmux.Event{Type: serialmux.EventTypeECG, FrequencyHz: 5000})
	assert.False(t, d.IsReady())

	d.Deliver(serialmux.Event{Type: serialmux.EventTypeImpedance, FrequencyHz: 5000, Magnitude: 607.14, PhaseDeg: 3.86, OK: true})
	require.True(t, d.IsReady())

	r, err := d.ReadResult()
	require.NoError(t, err)
	assert.Equal(t, Reading{Magnitude: 607.14, PhaseDeg: 3.86, Valid: true}, r)
	assert.False(t, d.IsReady())
}
