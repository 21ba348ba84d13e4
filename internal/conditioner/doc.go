// Package conditioner owns per-channel signal conditioning for the cardiac
// pipeline.
//
// Responsibilities: moving-average smoothing, the rising-edge peak state
// machine with a refractory gate, and adaptive threshold tracking.
// Key types: Conditioner, Config, Peak.
//
// Each Conditioner carries its own filter window, history ring and detector
// state, so ECG and PPG instances never share state. Conditioners are not
// safe for concurrent use; callers serialize access.
package conditioner
