// Package audiograph implements the real-time audio graph primitives every
// logic core mounts onto: passthroughs, valves, fifos, splitters,
// selectors, stream-state detectors, gain stages and pacers. Nodes compose
// by wrapping a downstream Sink and forwarding (possibly transformed)
// sample slices and flush events to it, the same composition style the
// teacher's gen_tone.go/demod.go pipeline stages use for 16-bit PCM
// buffers, minus the cgo plumbing.
//
// All samples are mono 16-bit PCM, matching spec §6's recorded-file and
// wire-format contracts.
package audiograph

// Sink is anything that can receive a run of samples or a flush event.
// Every node below is itself a Sink so nodes compose by nesting.
type Sink interface {
	WriteSamples(samples []int16)
	Flush()
}

// discard is a Sink that drops everything; used as the default downstream
// for nodes constructed before wiring, so WriteSamples/Flush calls never
// need a nil check at every node.
type discard struct{}

func (discard) WriteSamples([]int16) {}
func (discard) Flush()               {}

// Discard is the canonical no-op Sink.
var Discard Sink = discard{}

// Passthrough forwards samples and flush events unmodified to its
// downstream sink. It is also the embeddable base for Valve.
type Passthrough struct {
	downstream Sink
}

// NewPassthrough returns a Passthrough initially wired to Discard.
func NewPassthrough() *Passthrough {
	return &Passthrough{downstream: Discard}
}

// SetSink rewires the downstream sink. Passing nil wires to Discard.
func (p *Passthrough) SetSink(sink Sink) {
	if sink == nil {
		sink = Discard
	}
	p.downstream = sink
}

func (p *Passthrough) WriteSamples(samples []int16) {
	p.downstream.WriteSamples(samples)
}

func (p *Passthrough) Flush() {
	p.downstream.Flush()
}

// Valve is a passthrough that can be closed: while closed, writes are
// silently discarded (no samples reach downstream) but Flush is always
// forwarded immediately, matching §4.1 ("destruction implies an implicit
// flush" and "closed valve drops all samples").
type Valve struct {
	Passthrough
	open bool
}

// NewValve returns a Valve in the given initial state.
func NewValve(open bool) *Valve {
	return &Valve{Passthrough: Passthrough{downstream: Discard}, open: open}
}

// SetOpen opens or closes the valve.
func (v *Valve) SetOpen(open bool) {
	v.open = open
}

// IsOpen reports the current gate state.
func (v *Valve) IsOpen() bool {
	return v.open
}

func (v *Valve) WriteSamples(samples []int16) {
	if !v.open {
		return
	}
	v.Passthrough.WriteSamples(samples)
}

// Flush is always forwarded, open or closed.
func (v *Valve) Flush() {
	v.Passthrough.Flush()
}
