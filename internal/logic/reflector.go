package logic

import (
	"time"

	"github.com/kc9wx/linkcore/internal/audiograph"
)

// ReflectorTransport is the send side a Reflector logic drives, either a
// usrp.Packet encoder/UDP socket or a rewind.Frame encoder/connection;
// the wire protocol itself is an external collaborator wired in by the
// daemon (§1 non-goals: "the async I/O framework").
type ReflectorTransport interface {
	SendVoiceFrame(samples []int16, keyUp bool) error
}

// ReflectorConfig configures the soft-duplex audio bridge shared by the
// USRP and Rewind logic variants (§4.11).
type ReflectorConfig struct {
	Base Config

	PreampGainDb     float64
	LimiterThreshold float64 // fraction of full scale, e.g. 0.8
	LimiterCeiling   float64 // e.g. 0.98
	ClipperLimit     int16   // e.g. 32000

	FlushTimeout time.Duration // default 3s
}

// logicConInSink adapts Graph.WriteLogicConIn/FlushLogicConIn to the
// audiograph.Sink interface so the preamp/limiter/clipper chain can
// terminate on it like any other node.
type logicConInSink struct{ graph *Graph }

func (s logicConInSink) WriteSamples(samples []int16) { s.graph.WriteLogicConIn(samples) }
func (s logicConInSink) Flush()                       { s.graph.FlushLogicConIn() }

// Reflector is the shared packet-voice logic core of §4.11: a
// preamp/soft-limiter/hard-clipper chain bridging the network transport
// into the logic's logicConIn path, with a flush-timeout watchdog forcing
// allEncodedSamplesFlushed if the far end goes silent without an explicit
// end-of-transmission marker.
type Reflector struct {
	*LogicBase
	cfg ReflectorConfig

	transport ReflectorTransport
	chainIn   audiograph.Sink // preamp's WriteSamples is the chain's entry point

	now       func() time.Time
	lastRxAt  time.Time
	hasLastRx bool
}

// NewReflector constructs a Reflector logic and wires the preamp ->
// limiter -> clipper -> logicConIn chain described in §4.11.
func NewReflector(cfg ReflectorConfig, graph *Graph, deps LogicDeps, transport ReflectorTransport, now func() time.Time) *Reflector {
	if now == nil {
		now = time.Now
	}
	if cfg.FlushTimeout == 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	lb := New(cfg.Base, graph, deps.Msg, deps.Events, deps.PublishEvent)
	lb.Config = deps.Config
	lb.Recorder = deps.Recorder
	lb.Scheduler = deps.Scheduler

	preamp := audiograph.NewAmp()
	preamp.SetGaindB(cfg.PreampGainDb)

	threshold, ceiling := cfg.LimiterThreshold, cfg.LimiterCeiling
	if threshold == 0 {
		threshold = 0.8
	}
	if ceiling == 0 {
		ceiling = 0.98
	}
	limiter := audiograph.NewLimiter(threshold, ceiling)

	clipLimit := cfg.ClipperLimit
	if clipLimit == 0 {
		clipLimit = 32000
	}
	clipper := audiograph.NewClipper(clipLimit)

	preamp.SetSink(limiter)
	limiter.SetSink(clipper)
	clipper.SetSink(logicConInSink{graph: graph})

	return &Reflector{LogicBase: lb, cfg: cfg, transport: transport, chainIn: preamp, now: now}
}

// ReceiveVoiceFrame pushes one decoded frame of far-end audio through the
// preamp/limiter/clipper chain into the logic's logicConIn path, and
// resets the flush-timeout deadline.
func (r *Reflector) ReceiveVoiceFrame(samples []int16) {
	r.lastRxAt = r.now()
	r.hasLastRx = true
	r.chainIn.WriteSamples(samples)
}

// EndOfTransmission flushes the logicConIn path on an explicit
// end-of-transmission marker (a header-only USRP VOICE packet with
// keyUp=false, or a Rewind TALKER_STOP frame).
func (r *Reflector) EndOfTransmission() {
	r.hasLastRx = false
	r.chainIn.Flush()
}

// Poll forces allEncodedSamplesFlushed if the far end goes silent for
// longer than FlushTimeout without an explicit end-of-transmission
// marker.
func (r *Reflector) Poll(now time.Time) {
	if !r.hasLastRx {
		return
	}
	if now.Sub(r.lastRxAt) >= r.cfg.FlushTimeout {
		r.PublishStateEvent("all_encoded_samples_flushed", "")
		r.EndOfTransmission()
	}
}

// SendVoiceFrame pushes one frame of local (transmit-side) audio out
// through the configured transport.
func (r *Reflector) SendVoiceFrame(samples []int16, keyUp bool) error {
	return r.transport.SendVoiceFrame(samples, keyUp)
}
