package audiograph

// splitterSink is a handle returned by Splitter.AddSink that lets the
// caller enable/disable fan-out to that one downstream without touching
// the others.
type splitterSink struct {
	sink    Sink
	enabled bool
}

// Splitter broadcasts every WriteSamples/Flush call to each of its enabled
// sinks. A disabled sink receives neither samples nor flush, and its being
// disabled has no effect on the other sinks (§4.1).
type Splitter struct {
	sinks []*splitterSink
}

// NewSplitter returns an empty Splitter.
func NewSplitter() *Splitter {
	return &Splitter{}
}

// SplitterHandle lets a caller toggle one fan-out leg.
type SplitterHandle struct {
	entry *splitterSink
}

// SetEnabled toggles whether this leg receives samples/flush.
func (h SplitterHandle) SetEnabled(enabled bool) {
	h.entry.enabled = enabled
}

// Enabled reports the current state.
func (h SplitterHandle) Enabled() bool {
	return h.entry.enabled
}

// AddSink registers a new fan-out leg, initially enabled per the enabled
// argument, and returns a handle for later toggling.
func (sp *Splitter) AddSink(sink Sink, enabled bool) SplitterHandle {
	entry := &splitterSink{sink: sink, enabled: enabled}
	sp.sinks = append(sp.sinks, entry)
	return SplitterHandle{entry: entry}
}

func (sp *Splitter) WriteSamples(samples []int16) {
	for _, e := range sp.sinks {
		if e.enabled {
			e.sink.WriteSamples(samples)
		}
	}
}

func (sp *Splitter) Flush() {
	for _, e := range sp.sinks {
		if e.enabled {
			e.sink.Flush()
		}
	}
}
