package logic

// Simplex is the simplex logic core of §4.7: a thin layer over LogicBase
// that mutes Rx while transmitting (muteRxOnTx) and optionally always
// emits a roger-beep even with no active module (rgrSoundAlways).
// MuteTxOnRx is stored but has no effect: the logic has no TX control
// mode to force off while squelch is open.
type Simplex struct {
	*LogicBase

	MuteRxOnTx     bool
	MuteTxOnRx     bool
	RgrSoundAlways bool

	txActive bool
}

// SimplexConfig configures a Simplex logic's additions over LogicBase.
type SimplexConfig struct {
	Base           Config
	MuteRxOnTx     bool
	MuteTxOnRx     bool
	RgrSoundAlways bool
}

// NewSimplex constructs a Simplex logic around a fresh LogicBase and opens
// the Rx valve. No TX control mode is set at init; the logic has none.
func NewSimplex(cfg SimplexConfig, graph *Graph, deps LogicDeps) *Simplex {
	lb := New(cfg.Base, graph, deps.Msg, deps.Events, deps.PublishEvent)
	lb.Config = deps.Config
	lb.Recorder = deps.Recorder
	lb.Scheduler = deps.Scheduler
	graph.RxValve.SetOpen(true)

	return &Simplex{
		LogicBase:      lb,
		MuteRxOnTx:     cfg.MuteRxOnTx,
		MuteTxOnRx:     cfg.MuteTxOnRx,
		RgrSoundAlways: cfg.RgrSoundAlways,
	}
}

// SetTxActive is called by the transmitter-control layer whenever TX keys
// up or drops; it drives MuteRxOnTx.
func (s *Simplex) SetTxActive(active bool) {
	if s.txActive == active {
		return
	}
	s.txActive = active
	if s.MuteRxOnTx {
		s.Graph.RxValve.SetOpen(!active)
	}
}

// SquelchOpened defers to LogicBase; MuteTxOnRx is not acted on here.
func (s *Simplex) SquelchOpened() {
	s.LogicBase.SquelchOpened()
}

// SquelchClosed overrides LogicBase: after draining the command queue, a
// roger-beep plays if an active module exists or RgrSoundAlways is set.
func (s *Simplex) SquelchClosed() {
	s.LogicBase.SquelchClosed()
	if s.RgrSoundAlways || s.ActiveModuleName() != "" {
		s.PublishStateEvent("send_rgr_sound", "")
	}
}
