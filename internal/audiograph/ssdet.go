package audiograph

import "time"

// StreamStateDetector emits (isActive, isIdle) transitions. "Idle" becomes
// true once the source has produced no samples for the configured
// hangover duration (default: immediate, i.e. idle as soon as writes
// stop). It sits upstream of a Selector's SelectorInput in the wiring
// diagrams of §4.6, driving SetActive on it.
type StreamStateDetector struct {
	Passthrough
	hangover time.Duration
	now      func() time.Time

	active     bool
	lastWrite  time.Time
	onChange   func(isActive, isIdle bool)
}

// NewStreamStateDetector returns a detector with the given hangover. now
// defaults to time.Now when nil; tests inject a fake clock.
func NewStreamStateDetector(hangover time.Duration, now func() time.Time) *StreamStateDetector {
	if now == nil {
		now = time.Now
	}
	return &StreamStateDetector{
		Passthrough: Passthrough{downstream: Discard},
		hangover:    hangover,
		now:         now,
	}
}

// OnChange registers the callback invoked on every active/idle edge.
func (d *StreamStateDetector) OnChange(fn func(isActive, isIdle bool)) {
	d.onChange = fn
}

// WriteSamples marks the stream active (if it wasn't already) before
// forwarding downstream.
func (d *StreamStateDetector) WriteSamples(samples []int16) {
	d.lastWrite = d.now()
	if !d.active {
		d.active = true
		if d.onChange != nil {
			d.onChange(true, false)
		}
	}
	d.Passthrough.WriteSamples(samples)
}

// Poll must be called periodically by the event loop; it declares the
// stream idle once hangover has elapsed since the last write.
func (d *StreamStateDetector) Poll(now time.Time) {
	if !d.active {
		return
	}
	if now.Sub(d.lastWrite) >= d.hangover {
		d.active = false
		if d.onChange != nil {
			d.onChange(false, true)
		}
	}
}

// IsActive reports the current state.
func (d *StreamStateDetector) IsActive() bool {
	return d.active
}
