package audiograph

// Pacer reads fixed-size frames from an upstream Fifo and forwards them
// downstream once per Tick, decoupling a bursty producer (e.g. the message
// handler writing whole prompt items at once) from a fixed-rate consumer
// (the mixer), per the "msgHandler -> fxGainAmp -> pacer -> mixer" leg of
// §4.6's pipeline diagram.
type Pacer struct {
	source    *Fifo
	downstream Sink
	frameLen  int
}

// NewPacer returns a Pacer pulling frameLen-sample frames from source and
// forwarding them to Discard until SetSink is called.
func NewPacer(source *Fifo, frameLen int) *Pacer {
	return &Pacer{source: source, downstream: Discard, frameLen: frameLen}
}

// SetSink rewires the downstream sink.
func (p *Pacer) SetSink(sink Sink) {
	if sink == nil {
		sink = Discard
	}
	p.downstream = sink
}

// Tick pulls one frame from the source fifo and writes it downstream.
func (p *Pacer) Tick() {
	p.downstream.WriteSamples(p.source.Read(p.frameLen))
}
