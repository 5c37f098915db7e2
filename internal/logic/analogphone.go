package logic

import "time"

// AnalogPhoneConfig configures an AnalogPhone logic's modem wiring and
// authentication flow (§4.9).
type AnalogPhoneConfig struct {
	Base Config

	// AuthRequired, when true, requires a caller to key in a PIN followed
	// by '#' within AuthTimeout before the phone line is raised.
	AuthRequired bool
	AuthTimeout  time.Duration // default 10s
	AuthSettle   time.Duration // default 1.5s, delay before raising the line on success
	Pins         map[string]string // pin -> caller identity
}

// AnalogPhone is the analog-phone logic core of §4.9: a modem automaton
// plus an optional PIN authentication gate before a dialed-in call is
// allowed to raise the phone line.
type AnalogPhone struct {
	*LogicBase
	cfg AnalogPhoneConfig
	now func() time.Time

	raiseLine func()

	authPending  bool
	authDigits   string
	authDeadline time.Time

	settlePending  bool
	settleDeadline time.Time

	CallerID string
}

// NewAnalogPhone constructs an AnalogPhone logic around a fresh LogicBase.
// raiseLine is the callback that actually raises the phone line once
// authentication (if required) succeeds; it is normally
// modem.Automaton.hooks.RaisePhoneLine's ultimate target, wired the other
// way: the modem automaton's RaisePhoneLine hook should call
// ap.IncomingCallAuthenticate (or, if AuthRequired is false,
// ap.raiseLineNow) rather than raising the line itself.
func NewAnalogPhone(cfg AnalogPhoneConfig, graph *Graph, deps LogicDeps, raiseLine func(), now func() time.Time) *AnalogPhone {
	if now == nil {
		now = time.Now
	}
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.AuthSettle == 0 {
		cfg.AuthSettle = 1500 * time.Millisecond
	}
	lb := New(cfg.Base, graph, deps.Msg, deps.Events, deps.PublishEvent)
	lb.Config = deps.Config
	lb.Recorder = deps.Recorder
	lb.Scheduler = deps.Scheduler
	return &AnalogPhone{LogicBase: lb, cfg: cfg, now: now, raiseLine: raiseLine}
}

// IsMsgHandlerBusy is wired into modem.Hooks.IsMsgHandlerBusy so the
// hangup sequence defers while an announcement is still playing.
func (ap *AnalogPhone) IsMsgHandlerBusy() bool {
	return ap.Msg.IsWritingMessage()
}

// IncomingCallAuthenticate is the modem automaton's RaisePhoneLine hook
// target. If authentication isn't required the line is raised
// immediately; otherwise a digit-collection window is opened and the
// line is raised only after a correct PIN is entered.
func (ap *AnalogPhone) IncomingCallAuthenticate() {
	if !ap.cfg.AuthRequired {
		ap.raiseLineNow()
		return
	}
	ap.authPending = true
	ap.authDigits = ""
	ap.authDeadline = ap.now().Add(ap.cfg.AuthTimeout)
	ap.PublishStateEvent("auth_started", "")
}

func (ap *AnalogPhone) raiseLineNow() {
	if ap.raiseLine != nil {
		ap.raiseLine()
	}
}

// AuthDigitReceived feeds one DTMF digit from the phone side into the
// authentication collector. A '#' terminates entry and looks the
// collected digits up against the PIN table; any other digit is
// appended (subject to a 20-char cap shared with the radio-side DTMF
// aggregator's anti-flood behaviour).
func (ap *AnalogPhone) AuthDigitReceived(digit byte) {
	if !ap.authPending {
		return
	}
	if digit == '#' {
		caller, ok := ap.cfg.Pins[ap.authDigits]
		ap.authPending = false
		if !ok {
			ap.PublishStateEvent("wrong_pin", "")
			return
		}
		ap.CallerID = caller
		ap.PublishStateEvent("auth_ok", caller)
		ap.settlePending = true
		ap.settleDeadline = ap.now().Add(ap.cfg.AuthSettle)
		return
	}
	if len(ap.authDigits) < 20 {
		ap.authDigits += string(digit)
	}
}

// Poll advances the authentication timeout and the post-auth settle
// delay; call once per tick while a call is incoming.
func (ap *AnalogPhone) Poll(now time.Time) {
	if ap.authPending && !now.Before(ap.authDeadline) {
		ap.authPending = false
		ap.PublishStateEvent("auth_timeout", "")
		return
	}
	if ap.settlePending && !now.Before(ap.settleDeadline) {
		ap.settlePending = false
		ap.raiseLineNow()
	}
}
