package serialmux

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/vitals.report/internal/sensorsim"
)

func TestSimulatedBridge_StreamsAndAnswers(t *testing.T) {
	src := sensorsim.NewSource(time.Unix(0, 0), 800*time.Millisecond, 200*time.Millisecond)
	bridge := NewSimulatedBridge(src, sensorsim.DefaultTissue(), 5*time.Millisecond)
	mux := NewSerialMux(bridge)
	defer mux.Close()

	_, lines := mux.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	require.NoError(t, mux.SendCommand("Z 50000"))

	var sawECG, sawPPG, sawIMP bool
	deadline := time.After(2 * time.Second)
	for !(sawECG && sawPPG && sawIMP) {
		select {
		case line := <-lines:
			ev, err := ParseLine(line)
			require.NoError(t, err, line)
			switch ev.Type {
			case EventTypeECG:
				sawECG = true
			case EventTypePPG:
				sawPPG = true
			case EventTypeImpedance:
				sawIMP = true
				assert.Equal(t, 50000.0, ev.FrequencyHz)
				assert.True(t, ev.OK)
				assert.InDelta(t, 518.37, ev.Magnitude, 0.01)
			}
		case <-deadline:
			t.Fatalf("ecg=%v ppg=%v imp=%v", sawECG, sawPPG, sawIMP)
		}
	}

	assert.Equal(t, []string{"Z 50000"}, bridge.Commands())
}

func TestTestableSerialPort_Respond(t *testing.T) {
	port := NewTestableSerialPort()
	port.Respond = func(cmd string) string {
		if strings.HasPrefix(cmd, "Z ") {
			return "IMP," + strings.TrimPrefix(cmd, "Z ") + ",500,7,1"
		}
		return ""
	}
	_, err := port.Write([]byte("Z 1000\nCONFIG?\n"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "IMP,1000,500,7,1\n", string(buf[:n]))

	require.NoError(t, port.Close())
	_, err = port.Read(buf)
	assert.Error(t, err)
}
