package logic

import "time"

// OpenReason identifies why the repeater opened (§4.8).
type OpenReason int

const (
	ReasonNone OpenReason = iota
	ReasonSquelch
	ReasonToneBurst
	ReasonCtcss
	ReasonDtmf
	ReasonSelcall
	ReasonAudio
	ReasonModuleActivation
)

// SqlFlank selects when a squelch-based open trigger actually opens the
// repeater (§4.8 "OPEN_SQL_FLANK").
type SqlFlank int

const (
	FlankOpen SqlFlank = iota
	FlankClose
)

// RepeaterConfig configures the repeater FSM's timers and triggers.
type RepeaterConfig struct {
	Base Config

	OpenOnSqlMs     time.Duration
	OpenOnToneMs    time.Duration
	OpenOnCtcssMs   time.Duration
	OpenOnDtmfDigit byte
	SqlFlank        SqlFlank
	ReopenWindow    time.Duration // "open-on-SQL-after-rpt-close"

	IdleTimeout       time.Duration
	IdleSoundInterval time.Duration
	IdentNagTimeout   time.Duration
	RgrEnabled        bool

	SqlFlapSupMinTime time.Duration
	SqlFlapSupMaxCnt  int
}

// Repeater is the repeater logic core of §4.8: a squelch/tone/CTCSS/DTMF
// triggered open/close FSM layered over LogicBase.
type Repeater struct {
	*LogicBase
	cfg RepeaterConfig

	repeaterUp         bool
	openReason         OpenReason
	activateOnSqlClose bool

	sqlOpenedAt   time.Time
	sqlClosedAt   time.Time
	lastCloseTime time.Time

	sqlFlapCount int

	idleDeadline     time.Time
	identDeadline    time.Time
	idleSoundDeadline time.Time

	delayedTg    int
	hasDelayedTg bool

	now func() time.Time
}

// NewRepeater constructs a Repeater logic around a fresh LogicBase.
func NewRepeater(cfg RepeaterConfig, graph *Graph, deps LogicDeps, now func() time.Time) *Repeater {
	if now == nil {
		now = time.Now
	}
	lb := New(cfg.Base, graph, deps.Msg, deps.Events, deps.PublishEvent)
	lb.Config = deps.Config
	lb.Recorder = deps.Recorder
	lb.Scheduler = deps.Scheduler
	return &Repeater{LogicBase: lb, cfg: cfg, now: now}
}

// IsUp reports whether the repeater is currently open.
func (r *Repeater) IsUp() bool { return r.repeaterUp }

// reasonTag maps an OpenReason to the literal token carried on the
// repeater_up/repeater_down state events (§8 S2).
func reasonTag(r OpenReason) string {
	switch r {
	case ReasonSquelch:
		return "SQL"
	case ReasonToneBurst:
		return "TONE"
	case ReasonCtcss:
		return "CTCSS"
	case ReasonDtmf:
		return "DTMF"
	case ReasonSelcall:
		return "SELCALL"
	case ReasonAudio:
		return "AUDIO"
	case ReasonModuleActivation:
		return "MODULE"
	default:
		return "NONE"
	}
}

// setUp is the FSM's only transition point (Data Model: "transitions only
// through setUp(true/false)"). closeCause names why the repeater is
// dropping (e.g. "IDLE", "SQL_FLAP"); ignored when up is true, where the
// published reason is derived from the open trigger instead.
func (r *Repeater) setUp(up bool, reason OpenReason) {
	r.setUpCause(up, reason, "NONE")
}

func (r *Repeater) setUpCause(up bool, reason OpenReason, closeCause string) {
	if r.repeaterUp == up {
		return
	}
	r.repeaterUp = up
	r.openReason = reason
	t := r.now()
	if up {
		r.Graph.RptValve.SetOpen(true)
		r.idleDeadline = t.Add(r.cfg.IdleTimeout)
		r.identDeadline = t.Add(r.cfg.IdentNagTimeout)
		r.idleSoundDeadline = t.Add(r.cfg.IdleSoundInterval)
		r.PublishStateEvent("repeater_up", reasonTag(reason))
		if r.hasDelayedTg {
			r.SetReceivedTg(r.delayedTg)
			r.hasDelayedTg = false
		}
	} else {
		r.Graph.RptValve.SetOpen(false)
		r.activateOnSqlClose = false
		r.lastCloseTime = t
		r.PublishStateEvent("repeater_down", closeCause)
	}
}

// SquelchOpenTrigger is called by the radio-interface layer on squelch
// open; it implements the triggers-to-open and OPEN_SQL_FLANK logic.
func (r *Repeater) SquelchOpenTrigger() {
	r.SquelchOpened()
	r.sqlOpenedAt = r.now()

	if r.repeaterUp {
		return
	}
	if r.cfg.SqlFlank == FlankClose {
		r.activateOnSqlClose = true
		return
	}
	r.setUp(true, ReasonSquelch)
}

// SquelchCloseTrigger is called on squelch close; it applies flutter
// suppression, the CLOSE flank, the reopen window, and the roger-beep
// timer.
func (r *Repeater) SquelchCloseTrigger() {
	now := r.now()
	openDuration := now.Sub(r.sqlOpenedAt)
	r.sqlClosedAt = now

	if r.cfg.SqlFlapSupMinTime > 0 && openDuration < r.cfg.SqlFlapSupMinTime {
		r.sqlFlapCount++
		if r.cfg.SqlFlapSupMaxCnt > 0 && r.sqlFlapCount >= r.cfg.SqlFlapSupMaxCnt {
			r.setUpCause(false, ReasonNone, "SQL_FLAP")
			r.PublishStateEvent("SQL_FLAP_SUP", "")
			r.sqlFlapCount = 0
			r.SquelchClosed()
			return
		}
	} else {
		r.sqlFlapCount = 0
	}

	if r.activateOnSqlClose {
		r.setUp(true, ReasonSquelch)
	}

	r.SquelchClosed()

	if !r.repeaterUp && r.cfg.ReopenWindow > 0 && !r.lastCloseTime.IsZero() &&
		now.Sub(r.lastCloseTime) <= r.cfg.ReopenWindow {
		r.setUp(true, ReasonSquelch)
		return
	}

	if r.repeaterUp && r.cfg.RgrEnabled && r.ActiveModuleName() == "" {
		r.PublishStateEvent("send_rgr_sound", "")
	}
}

// ToneBurstDetected opens on a 1750Hz (or configured) tone burst of
// sufficient duration.
func (r *Repeater) ToneBurstDetected() {
	if !r.repeaterUp {
		r.setUp(true, ReasonToneBurst)
	}
}

// CtcssOpenTrigger opens on a qualifying CTCSS tone presence.
func (r *Repeater) CtcssOpenTrigger() {
	if !r.repeaterUp {
		r.setUp(true, ReasonCtcss)
	}
}

// DtmfOpenTrigger opens on the configured open digit.
func (r *Repeater) DtmfOpenTrigger(digit byte) {
	if digit == r.cfg.OpenOnDtmfDigit && !r.repeaterUp {
		r.setUp(true, ReasonDtmf)
	}
}

// SelcallOpenTrigger opens on the configured selcall sequence.
func (r *Repeater) SelcallOpenTrigger() {
	if !r.repeaterUp {
		r.setUp(true, ReasonSelcall)
	}
}

// ModuleAudioTrigger opens on non-silent module audio ("AUDIO" reason).
func (r *Repeater) ModuleAudioTrigger() {
	if !r.repeaterUp {
		r.setUp(true, ReasonAudio)
	}
}

// ModuleActivationTrigger opens on module activation ("MODULE" reason).
func (r *Repeater) ModuleActivationTrigger() {
	if !r.repeaterUp {
		r.setUp(true, ReasonModuleActivation)
	}
}

// ActivateTg applies a received talkgroup activation; if the repeater is
// closed it is deferred via delayedTgActivation and applied on open.
func (r *Repeater) ActivateTg(tg int) {
	if !r.repeaterUp {
		r.delayedTg = tg
		r.hasDelayedTg = true
		return
	}
	r.SetReceivedTg(tg)
}

// Poll drives the idle timeout, idle-sound interval, and ident-nag timer;
// call once per tick while the repeater is up.
func (r *Repeater) Poll(now time.Time) {
	if !r.repeaterUp {
		return
	}
	if r.cfg.IdleTimeout > 0 && !now.Before(r.idleDeadline) {
		r.setUpCause(false, ReasonNone, "IDLE")
		return
	}
	if r.cfg.IdleSoundInterval > 0 && !now.Before(r.idleSoundDeadline) {
		r.PublishStateEvent("repeater_idle", "")
		r.idleSoundDeadline = now.Add(r.cfg.IdleSoundInterval)
	}
	if r.cfg.IdentNagTimeout > 0 && !now.Before(r.identDeadline) {
		r.PublishStateEvent("identify_nag", "")
		r.identDeadline = now.Add(r.cfg.IdentNagTimeout)
	}
}

// ResetIdleTimer restarts the idle-close countdown; called whenever
// activity (squelch, module audio, TX) is observed while up.
func (r *Repeater) ResetIdleTimer() {
	if r.repeaterUp && r.cfg.IdleTimeout > 0 {
		r.idleDeadline = r.now().Add(r.cfg.IdleTimeout)
	}
}

// Identified clears the ident-nag timer once identification audio has
// been heard.
func (r *Repeater) Identified() {
	if r.repeaterUp && r.cfg.IdentNagTimeout > 0 {
		r.identDeadline = r.now().Add(r.cfg.IdentNagTimeout)
	}
}
