package bia

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/vitals.report/internal/serialmux"
)

// SerialDriver is a Driver for the sensor bridge. It requests a measurement
// with `Z <hz>` and completes when the bridge answers with a matching
// `IMP,<hz>,<magnitude>,<phase>,<ok>` line.
type SerialDriver struct {
	mux serialmux.SerialMuxInterface

	mu      sync.Mutex
	pending float64
	result  *Reading
}

var errNoResult = errors.New("no impedance result available")

func NewSerialDriver(mux serialmux.SerialMuxInterface) *SerialDriver {
	return &SerialDriver{mux: mux}
}

// RequestMeasurement discards any earlier result and asks the bridge for a
// measurement at freqHz.
func (d *SerialDriver) RequestMeasurement(freqHz float64) error {
	d.mu.Lock()
	d.pending = freqHz
	d.result = nil
	d.mu.Unlock()

	if err := d.mux.SendCommand(fmt.Sprintf("Z %.0f", freqHz)); err != nil {
		return fmt.Errorf("failed to send impedance request: %w", err)
	}
	return nil
}

// IsReady reports whether the bridge has answered the pending request.
func (d *SerialDriver) IsReady() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result != nil
}

// ReadResult returns and clears the answer to the pending request.
func (d *SerialDriver) ReadResult() (Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.result == nil {
		return Reading{}, errNoResult
	}
	r := *d.result
	d.result = nil
	d.pending = 0
	return r, nil
}

// Deliver accepts an impedance event from the bridge. Events for any
// frequency other than the pending one are ignored.
func (d *SerialDriver) Deliver(ev serialmux.Event) {
	if ev.Type != serialmux.EventTypeImpedance {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// the bridge echoes the frequency rounded to whole hertz
	if d.pending == 0 || math.Abs(ev.FrequencyHz-d.pending) > 0.5 {
		return
	}
	d.result = &Reading{Magnitude: ev.Magnitude, PhaseDeg: ev.PhaseDeg, Valid: ev.OK}
}

// Run subscribes to the mux and delivers impedance lines until ctx is done
// or the mux closes. Callers that already consume the mux can call Deliver
// directly instead.
func (d *SerialDriver) Run(ctx context.Context) error {
	id, lines := d.mux.Subscribe()
	defer d.mux.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if serialmux.ClassifyPayload(line) != serialmux.EventTypeImpedance {
				continue
			}
			ev, err := serialmux.ParseLine(line)
			if err != nil {
				continue
			}
			d.Deliver(ev)
		}
	}
}
