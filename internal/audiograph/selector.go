package audiograph

// Selector fans in several prioritised sources onto one downstream sink.
// At any instant at most one source is "selected"; the highest-priority
// currently-active source wins, ties broken by registration order (§4.1,
// Data Model invariant on Selector).
type Selector struct {
	downstream Sink
	inputs     []*SelectorInput
	selected   int // index into inputs, or -1
}

// NewSelector returns an empty Selector wired to Discard.
func NewSelector() *Selector {
	return &Selector{downstream: Discard, selected: -1}
}

// SetSink rewires the downstream sink.
func (s *Selector) SetSink(sink Sink) {
	if sink == nil {
		sink = Discard
	}
	s.downstream = sink
}

// SelectorInput is one fan-in leg: upstream writes samples to it via
// WriteSamples, and its owner (typically a stream-state detector sitting
// just upstream) toggles activity with SetActive.
type SelectorInput struct {
	sel        *Selector
	idx        int
	prio       int
	autoSelect bool
	active     bool
}

// AddSource registers a new input at the given priority (higher wins).
// When autoSelect is true, the input grabbing activity can preempt a
// lower-priority currently-selected input; when false, the input never
// takes part in the automatic contest, so its activity never selects it.
func (s *Selector) AddSource(prio int, autoSelect bool) *SelectorInput {
	in := &SelectorInput{sel: s, idx: len(s.inputs), prio: prio, autoSelect: autoSelect}
	s.inputs = append(s.inputs, in)
	return in
}

// SetActive marks this input as currently producing audio (true) or
// quiescent (false) and re-runs the selection contest.
func (in *SelectorInput) SetActive(active bool) {
	if in.active == active {
		return
	}
	in.active = active
	in.sel.recompute()
}

// Active reports whether this input currently considers itself producing.
func (in *SelectorInput) Active() bool {
	return in.active
}

// WriteSamples forwards to the selector's downstream only if this input is
// currently the selected one.
func (in *SelectorInput) WriteSamples(samples []int16) {
	if in.sel.selected == in.idx {
		in.sel.downstream.WriteSamples(samples)
	}
}

// Flush is only forwarded while this input is selected, mirroring
// WriteSamples; a flush from a non-selected input is a no-op.
func (in *SelectorInput) Flush() {
	if in.sel.selected == in.idx {
		in.sel.downstream.Flush()
	}
}

// recompute picks, among all autoSelect-eligible active inputs, the
// highest priority one, ties broken by lowest index (first registered),
// and switches the winner in if it differs from the current selection.
// An already-selected input that is still active and still the winner is
// left in place (no spurious flush/reselect).
func (s *Selector) recompute() {
	winner := -1
	for _, in := range s.inputs {
		if !in.active || !in.autoSelect {
			continue
		}
		if winner == -1 || in.prio > s.inputs[winner].prio {
			winner = in.idx
		}
	}
	if winner == s.selected {
		return
	}
	if s.selected != -1 {
		s.inputs[s.selected].sel.downstream.Flush()
	}
	s.selected = winner
}

// Selected returns the index of the currently selected input, or -1.
func (s *Selector) Selected() int {
	return s.selected
}

// ForceSelect selects an input regardless of its active/autoSelect state;
// used by the few callers that need manual override (e.g. explicit module
// activation audio routing without going through activity detection).
func (s *Selector) ForceSelect(idx int) {
	if idx == s.selected {
		return
	}
	if s.selected != -1 {
		s.downstream.Flush()
	}
	s.selected = idx
}
