package audiograph

import "math"

// Amp scales every sample by a linear gain factor before forwarding
// downstream, used for the fxGainNormal/fxGainLow policy in §4.6 and for
// preamp stages ahead of SIP/reflector jitter fifos (§4.10, §4.11).
type Amp struct {
	Passthrough
	gain float64
}

// NewAmp returns an Amp at unity gain.
func NewAmp() *Amp {
	return &Amp{Passthrough: Passthrough{downstream: Discard}, gain: 1.0}
}

// SetGaindB sets the gain in decibels (0 dB = unity).
func (a *Amp) SetGaindB(db float64) {
	a.gain = math.Pow(10, db/20)
}

// SetGain sets a raw linear gain multiplier.
func (a *Amp) SetGain(g float64) {
	a.gain = g
}

func (a *Amp) WriteSamples(samples []int16) {
	if a.gain == 1.0 {
		a.Passthrough.WriteSamples(samples)
		return
	}
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clampSample(float64(s) * a.gain)
	}
	a.Passthrough.WriteSamples(out)
}

// Clipper hard-clips samples to +/-limit before forwarding.
type Clipper struct {
	Passthrough
	limit int16
}

// NewClipper returns a Clipper with the given symmetric limit (e.g.
// 32000 to leave headroom below int16's true maximum).
func NewClipper(limit int16) *Clipper {
	return &Clipper{Passthrough: Passthrough{downstream: Discard}, limit: limit}
}

func (c *Clipper) WriteSamples(samples []int16) {
	out := make([]int16, len(samples))
	for i, s := range samples {
		switch {
		case s > c.limit:
			out[i] = c.limit
		case s < -c.limit:
			out[i] = -c.limit
		default:
			out[i] = s
		}
	}
	c.Passthrough.WriteSamples(out)
}

// Limiter applies a soft knee above threshold, tapering toward limit
// instead of clipping abruptly; used ahead of the hard Clipper on SIP and
// reflector media legs per §4.10/§4.11 ("soft limiter and a hard
// clipper").
type Limiter struct {
	Passthrough
	threshold float64
	limit     float64
}

// NewLimiter returns a Limiter with the given soft threshold and hard
// ceiling, both expressed as a fraction of full scale (0..1].
func NewLimiter(threshold, limit float64) *Limiter {
	return &Limiter{Passthrough: Passthrough{downstream: Discard}, threshold: threshold, limit: limit}
}

func (l *Limiter) WriteSamples(samples []int16) {
	thresh := l.threshold * 32767
	ceil := l.limit * 32767
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s)
		mag := math.Abs(v)
		if mag <= thresh {
			out[i] = s
			continue
		}
		sign := 1.0
		if v < 0 {
			sign = -1.0
		}
		over := mag - thresh
		span := ceil - thresh
		knee := span * (1 - math.Exp(-over/span))
		out[i] = clampSample(sign * (thresh + knee))
	}
	l.Passthrough.WriteSamples(out)
}

func clampSample(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Mixer sums two input legs (program audio and message audio) into one
// downstream sink, attenuating the program leg while the message leg is
// non-silent — the §4.6 "fxGainLow vs fxGainNormal" policy. Callers drive
// that attenuation externally via each leg's SetGain; Mixer itself just sums.
type Mixer struct {
	downstream Sink
	pending    map[*mixerLeg][]int16
	legs       []*mixerLeg
}

type mixerLeg struct {
	m    *Mixer
	gain float64
}

// NewMixer returns a Mixer wired to Discard.
func NewMixer() *Mixer {
	return &Mixer{downstream: Discard, pending: make(map[*mixerLeg][]int16)}
}

// SetSink rewires the downstream sink.
func (m *Mixer) SetSink(sink Sink) {
	if sink == nil {
		sink = Discard
	}
	m.downstream = sink
}

// AddLeg registers an input leg at unity gain and returns its Sink handle.
func (m *Mixer) AddLeg() Sink {
	leg := &mixerLeg{m: m, gain: 1.0}
	m.legs = append(m.legs, leg)
	return leg
}

// SetGain adjusts this leg's mix gain (e.g. fxGainLow while messages play).
func (l *mixerLeg) SetGain(g float64) {
	l.gain = g
}

// WriteSamples accumulates this leg's contribution for the current frame.
// The Mixer expects every leg to write exactly one (possibly empty, i.e.
// silent) slice of the same length per frame; Mixer.Mix sums and emits.
func (l *mixerLeg) WriteSamples(samples []int16) {
	l.m.pending[l] = samples
}

func (l *mixerLeg) Flush() {}

// Mix sums whatever each leg last wrote (scaled by its gain) and forwards
// the result downstream; call once per output frame after all legs have
// written.
func (m *Mixer) Mix(frameLen int) {
	acc := make([]float64, frameLen)
	for _, leg := range m.legs {
		samples := m.pending[leg]
		for i := 0; i < frameLen && i < len(samples); i++ {
			acc[i] += float64(samples[i]) * leg.gain
		}
	}
	out := make([]int16, frameLen)
	for i, v := range acc {
		out[i] = clampSample(v)
	}
	m.downstream.WriteSamples(out)
}
