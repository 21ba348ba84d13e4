package serialmux

import (
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/banshee-data/vitals.report/internal/monitoring"
)

// Sink receives decoded sample and impedance events.
type Sink interface {
	HandleECG(Event)
	HandlePPG(Event)
	HandleImpedance(Event)
}

// DeviceState holds the latest config values reported by the bridge.
type DeviceState struct {
	mu     sync.Mutex
	values map[string]any
}

// Update merges a JSON status line into the state.
func (d *DeviceState) Update(payload string) error {
	var configValues map[string]any
	if err := json.Unmarshal([]byte(payload), &configValues); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.values == nil {
		d.values = make(map[string]any)
	}
	maps.Copy(d.values, configValues)
	return nil
}

// Snapshot returns a copy of the current values.
func (d *DeviceState) Snapshot() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.values)
}

// HandleEvent decodes one bridge line and dispatches it. state may be nil,
// in which case config lines are only logged.
func HandleEvent(sink Sink, state *DeviceState, payload string) error {
	ev, err := ParseLine(payload)
	if err != nil {
		return fmt.Errorf("failed to parse bridge line: %w", err)
	}

	switch ev.Type {
	case EventTypeECG:
		sink.HandleECG(ev)
	case EventTypePPG:
		sink.HandlePPG(ev)
	case EventTypeImpedance:
		sink.HandleImpedance(ev)
	case EventTypeConfig:
		if state != nil {
			if err := state.Update(ev.Raw); err != nil {
				return fmt.Errorf("failed to handle config response: %w", err)
			}
		}
		monitoring.Logf("Config Line: %s", ev.Raw)
	default:
		monitoring.Diagf("unknown event type: %s", payload)
	}
	return nil
}
