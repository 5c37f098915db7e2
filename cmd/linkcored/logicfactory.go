package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/kc9wx/linkcore/internal/audiograph"
	"github.com/kc9wx/linkcore/internal/eventhandler"
	"github.com/kc9wx/linkcore/internal/logic"
	"github.com/kc9wx/linkcore/internal/modem"
	"github.com/kc9wx/linkcore/internal/msghandler"
	"github.com/kc9wx/linkcore/internal/ptyctrl"
	"github.com/kc9wx/linkcore/internal/sip"
)

// parseFloat reads a float-valued config tag, defaulting on a missing or
// malformed value (config.Store has no GetValueFloat; every float-valued
// tag in §6 is parsed here instead of growing the store's API for the two
// callers that need it).
func parseFloat(raw string, def float64) float64 {
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return def
	}
	return v
}

func durMs(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// baseConfig reads the logic-base config tags shared by every variant
// (§6's core-variable list, LogicBase subset).
func (d *daemon) baseConfig(section string) logic.Config {
	return logic.Config{
		Name:          section,
		OnlineCmd:     d.cfg.GetValueDefault(section, "ONLINE_CMD", ""),
		MacroPrefix:   d.cfg.GetValueDefault(section, "MACRO_PREFIX", ""),
		LongCmdDigits: d.cfg.GetValueInt(section, "LONG_CMD_DIGITS", 0),
		LongCmdModule: d.cfg.GetValueDefault(section, "LONG_CMD_MODULE", ""),
		FxGainNormal:  parseFloat(d.cfg.GetValueDefault(section, "FX_GAIN_NORMAL", ""), 0),
		FxGainLow:     parseFloat(d.cfg.GetValueDefault(section, "FX_GAIN_LOW", ""), 0),
	}
}

// statePublisher relays PublishEvent calls to a STATE_PTY that doesn't
// exist yet at the point LogicDeps.PublishEvent has to be supplied (ports
// are only opened once the logic core is fully constructed).
type statePublisher struct {
	target func(name, msg string)
}

func (p *statePublisher) emit(name, msg string) {
	if p.target != nil {
		p.target(name, msg)
	}
}

// buildLogic constructs one logic section's full collaborator set: audio
// graph, message handler, event handler, recorder, PTY surfaces, and the
// TYPE-specific logic core, per §4.6-§4.11.
func (d *daemon) buildLogic(section string, engine eventhandler.ScriptEngine) (*runningLogic, error) {
	typ := d.cfg.GetValueDefault(section, "TYPE", "")
	if typ == "" {
		return nil, fmt.Errorf("logic %q: missing TYPE", section)
	}

	prebuf := d.sampleRate / 5  // ~200ms prebuffer
	maxFifo := d.sampleRate * 2 // ~2s ceiling
	graph := logic.NewGraph(d.frameLen, prebuf, maxFifo)
	graph.SetTxSink(audiograph.Discard) // the Tx audio device is an external I/O collaborator (§1 non-goal)

	msg := msghandler.New(d.sampleRate, d.frameLen, nil) // no GSM decoder wired; see DESIGN.md
	msg.SetSink(graph.MsgAmp)

	rl := &runningLogic{name: section, daemon: d, graph: graph}

	events := eventhandler.New(engine, section, msg)
	if path := d.cfg.GetValueDefault(section, "EVENT_HANDLER", ""); path != "" {
		_ = events.Load(path)
	}
	rl.events = events

	recorder := buildRecorder(d.cfg, section, graph, d.sampleRate, d.now)
	rl.recorder = recorder

	statePub := &statePublisher{}
	publishEvent := func(name, msg string) {
		if _, err := events.ProcessEvent(name, msg); err != nil {
			log.Default().Debug("event not handled", "logic", section, "event", name, "err", err)
		}
		statePub.emit(name, msg)
	}

	deps := logic.LogicDeps{
		Msg:          msg,
		Events:       events,
		PublishEvent: publishEvent,
		Config:       d.cfg,
		Recorder:     recorder,
		Scheduler:    nil,
	}

	switch typ {
	case "Simplex":
		l := logic.NewSimplex(logic.SimplexConfig{
			Base:           d.baseConfig(section),
			MuteRxOnTx:     d.cfg.GetValueBool(section, "MUTE_RX_ON_TX", true),
			MuteTxOnRx:     d.cfg.GetValueBool(section, "MUTE_TX_ON_RX", false),
			RgrSoundAlways: d.cfg.GetValueBool(section, "RGR_SOUND_ALWAYS", false),
		}, graph, deps)
		rl.base = l.LogicBase

	case "Repeater":
		cfg := logic.RepeaterConfig{
			Base:              d.baseConfig(section),
			OpenOnSqlMs:       durMs(d.cfg.GetValueInt(section, "OPEN_ON_SQL_MS", 0)),
			OpenOnToneMs:      durMs(d.cfg.GetValueInt(section, "OPEN_ON_TONE_MS", 0)),
			OpenOnCtcssMs:     durMs(d.cfg.GetValueInt(section, "OPEN_ON_CTCSS_MS", 0)),
			ReopenWindow:      durMs(d.cfg.GetValueInt(section, "REOPEN_WINDOW_MS", 0)),
			IdleTimeout:       durMs(d.cfg.GetValueInt(section, "IDLE_TIMEOUT_MS", 300000)),
			IdleSoundInterval: durMs(d.cfg.GetValueInt(section, "IDLE_SOUND_INTERVAL_MS", 0)),
			IdentNagTimeout:   durMs(d.cfg.GetValueInt(section, "IDENT_NAG_TIMEOUT_MS", 0)),
			RgrEnabled:        d.cfg.GetValueBool(section, "RGR_ENABLED", true),
			SqlFlapSupMinTime: durMs(d.cfg.GetValueInt(section, "SQL_FLAP_SUP_MIN_TIME_MS", 0)),
			SqlFlapSupMaxCnt:  d.cfg.GetValueInt(section, "SQL_FLAP_SUP_MAX_CNT", 0),
		}
		if flank := d.cfg.GetValueDefault(section, "OPEN_SQL_FLANK", "OPEN"); flank == "CLOSE" {
			cfg.SqlFlank = logic.FlankClose
		}
		if digit := d.cfg.GetValueDefault(section, "OPEN_ON_DTMF_DIGIT", ""); digit != "" {
			cfg.OpenOnDtmfDigit = digit[0]
		}
		r := logic.NewRepeater(cfg, graph, deps, d.now)
		rl.base = r.LogicBase
		rl.pollVariant = func(now time.Time) { r.Poll(now) }

	case "AnalogPhone":
		device := d.cfg.GetValueDefault(section, "RX", d.cfg.GetValueDefault(section, "SERIAL_DEVICE", ""))
		if device == "" {
			return nil, fmt.Errorf("logic %q: AnalogPhone needs RX (serial device path)", section)
		}
		f, err := os.OpenFile(device, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("logic %q: open modem device %s: %w", section, device, err)
		}
		rl.closers = append(rl.closers, f)

		pins := make(map[string]string)
		for _, entry := range splitList(d.cfg.GetValueDefault(section, "PINS", "")) {
			parts := strings.SplitN(entry, ":", 2)
			if len(parts) == 2 {
				pins[parts[0]] = parts[1]
			}
		}
		apCfg := logic.AnalogPhoneConfig{
			Base:         d.baseConfig(section),
			AuthRequired: d.cfg.GetValueBool(section, "AUTH_REQUIRED", false),
			AuthTimeout:  durMs(d.cfg.GetValueInt(section, "AUTH_TIMEOUT_MS", 10000)),
			AuthSettle:   durMs(d.cfg.GetValueInt(section, "AUTH_SETTLE_MS", 1500)),
			Pins:         pins,
		}
		var ap *logic.AnalogPhone
		ap = logic.NewAnalogPhone(apCfg, graph, deps, func() {
			// Raising the phone line to the RF side is an external
			// hardware action this daemon doesn't own (§1 non-goal); the
			// completion is still observable on STATE_PTY.
			ap.PublishStateEvent("phone_line_raised", "")
		}, d.now)
		rl.base = ap.LogicBase

		modemCfg := modem.Config{
			Commands: modem.Commands{
				Init:    d.cfg.GetValueDefault(section, "MODEM_INIT_CMD", "ATZ"),
				Reset:   d.cfg.GetValueDefault(section, "MODEM_RESET_CMD", "ATZ"),
				Hangup:  d.cfg.GetValueDefault(section, "MODEM_HANGUP_CMD", "ATH"),
				Pickup:  d.cfg.GetValueDefault(section, "MODEM_PICKUP_CMD", "ATA"),
				Voice:   d.cfg.GetValueDefault(section, "MODEM_VOICE_CMD", "AT+FCLASS=8"),
				DialFmt: d.cfg.GetValueDefault(section, "MODEM_DIAL_FMT", "ATD%s"),
			},
			ResponseTimeout:    durMs(d.cfg.GetValueInt(section, "MODEM_RESPONSE_TIMEOUT_MS", 5000)),
			MaxRings:           d.cfg.GetValueInt(section, "MAX_RINGS", 2),
			VconTimeout:        durMs(d.cfg.GetValueInt(section, "VCON_TIMEOUT_MS", 30000)),
			BusyToneMinMs:      durMs(d.cfg.GetValueInt(section, "BUSY_TONE_MIN_MS", 300)),
			BusyToneMaxMs:      durMs(d.cfg.GetValueInt(section, "BUSY_TONE_MAX_MS", 700)),
			MaxHangupDeferrals: d.cfg.GetValueInt(section, "MAX_HANGUP_DEFERRALS", 4),
		}
		automaton := modem.New(modemCfg, modem.SerialWriter{W: f}, modem.Hooks{
			RaisePhoneLine:   ap.IncomingCallAuthenticate,
			LowerPhoneLine:   func() { ap.PublishStateEvent("phone_line_lowered", "") },
			OnBusy:           func(reason string) { ap.PublishStateEvent("phone_busy", reason) },
			IsMsgHandlerBusy: ap.IsMsgHandlerBusy,
		}, d.now)
		if err := automaton.Boot(); err != nil {
			log.Default().Warn("modem boot failed", "logic", section, "err", err)
		}
		go runModemReplyLoop(f, automaton, d.deliver)
		rl.pollVariant = func(now time.Time) {
			ap.Poll(now)
			if err := automaton.Poll(now); err != nil {
				log.Default().Warn("modem poll error", "logic", section, "err", err)
			}
		}

	case "Sip":
		acctCfg := sip.AccountConfig{
			User:       d.cfg.GetValueDefault(section, "SIP_USER", ""),
			Password:   d.cfg.GetValueDefault(section, "SIP_PASSWORD", ""),
			Proxy:      d.cfg.GetValueDefault(section, "SIP_PROXY", ""),
			Transport:  d.cfg.GetValueDefault(section, "SIP_TRANSPORT", "udp"),
			RegExpires: durMs(d.cfg.GetValueInt(section, "SIP_REG_EXPIRES_MS", 3600000)),
			ListenAddr: d.cfg.GetValueDefault(section, "SIP_LISTEN_ADDR", "0.0.0.0:5060"),
		}
		sipCfg := logic.SipConfig{
			Base:             d.baseConfig(section),
			Account:          acctCfg,
			AcceptIncoming:   compileRegex(d.cfg.GetValueDefault(section, "SIP_ACCEPT_INCOMING", "")),
			RejectIncoming:   compileRegex(d.cfg.GetValueDefault(section, "SIP_REJECT_INCOMING", "")),
			AcceptOutgoing:   compileRegex(d.cfg.GetValueDefault(section, "SIP_ACCEPT_OUTGOING", "")),
			RejectOutgoing:   compileRegex(d.cfg.GetValueDefault(section, "SIP_REJECT_OUTGOING", "")),
			AutoAnswer:       d.cfg.GetValueBool(section, "SIP_AUTO_ANSWER", false),
			AutoConnect:      d.cfg.GetValueDefault(section, "SIP_AUTO_CONNECT", ""),
			CallTimeout:      durMs(d.cfg.GetValueInt(section, "SIP_CALL_TIMEOUT_MS", 30000)),
			MaxCalls:         d.cfg.GetValueInt(section, "SIP_MAX_CALLS", 1),
			FullDuplex:       d.cfg.GetValueBool(section, "SIP_FULL_DUPLEX", false),
			PhoneToTg:        parsePhoneToTg(d.cfg.GetValueDefault(section, "SIP_PHONE_TO_TG", "")),
			PeerCheckEnabled: d.cfg.GetValueBool(section, "SIP_PEER_CHECK", false),
			SipProxyHost:     d.cfg.GetValueDefault(section, "SIP_PROXY_HOST", ""),
		}
		s, err := logic.NewSip(sipCfg, graph, deps, d.now)
		if err != nil {
			return nil, fmt.Errorf("logic %q: %w", section, err)
		}
		rl.base = s.LogicBase
		go func() {
			if err := s.ListenAndRegister(d.ctx); err != nil {
				log.Default().Error("sip registration failed", "logic", section, "err", err)
			}
		}()
		rl.pollVariant = func(now time.Time) { s.Poll(d.ctx, now) }
		if path := d.cfg.GetValueDefault(section, "SIP_CTRL_PTY", ""); path != "" {
			server := acctCfg.Proxy
			p, err := ptyctrl.OpenCommandPort(path, func(verb, rest string) {
				cmd := verb + rest
				d.deliver(func() { dispatchSipCommand(d.ctx, s, server, cmd) })
			})
			if err != nil {
				log.Default().Error("open SIP_CTRL_PTY failed", "logic", section, "err", err)
			} else {
				rl.closers = append(rl.closers, p)
			}
		}

	case "ReflectorUsrp":
		local := d.cfg.GetValueDefault(section, "REFLECTOR_BIND", ":12345")
		remote := d.cfg.GetValueDefault(section, "REFLECTOR_HOST", "")
		if remote == "" {
			return nil, fmt.Errorf("logic %q: ReflectorUsrp needs REFLECTOR_HOST", section)
		}
		tg := uint32(d.cfg.GetValueInt(section, "REFLECTOR_TG", 0))
		callsign := d.cfg.GetValueDefault(section, "CALLSIGN", "")
		transport, err := newUsrpTransport(local, remote, callsign, tg)
		if err != nil {
			return nil, fmt.Errorf("logic %q: %w", section, err)
		}
		rl.closers = append(rl.closers, transport)
		refl := buildReflectorLogic(d, section, graph, deps, transport)
		rl.base = refl.LogicBase
		if table := parseFrequencyTable(d.cfg.GetValueDefault(section, "CTCSS_TO_TG", "")); len(table) > 0 {
			debounce := durMs(d.cfg.GetValueInt(section, "CTCSS_DEBOUNCE_MS", 500))
			rl.base.TgMapper = logic.NewTgMapper(table, debounce, transport.SetTg)
		}
		go runUsrpReceiveLoop(transport.conn, refl, d.deliver)
		rl.pollVariant = func(now time.Time) { refl.Poll(now) }

	case "ReflectorRewind":
		remote := d.cfg.GetValueDefault(section, "REFLECTOR_HOST", "")
		if remote == "" {
			return nil, fmt.Errorf("logic %q: ReflectorRewind needs REFLECTOR_HOST", section)
		}
		password := d.cfg.GetValueDefault(section, "REFLECTOR_PASSWORD", "")
		transport, err := dialRewind(remote, password)
		if err != nil {
			return nil, fmt.Errorf("logic %q: %w", section, err)
		}
		rl.closers = append(rl.closers, transport)
		refl := buildReflectorLogic(d, section, graph, deps, transport)
		rl.base = refl.LogicBase
		go runRewindReceiveLoop(transport.conn, refl, d.deliver)
		rl.pollVariant = func(now time.Time) { refl.Poll(now) }

	default:
		return nil, fmt.Errorf("logic %q: unrecognised TYPE %q", section, typ)
	}

	rl.outSplitter = audiograph.NewSplitter()
	graph.ToLogicConOutSel.SetSink(rl.outSplitter)
	rl.ports = buildPorts(d.cfg, section, rl, d.deliver)
	if rl.ports.state != nil {
		statePub.target = rl.ports.state.PublishStateEvent
	}
	return rl, nil
}

func buildReflectorLogic(d *daemon, section string, graph *logic.Graph, deps logic.LogicDeps, transport logic.ReflectorTransport) *logic.Reflector {
	cfg := logic.ReflectorConfig{
		Base:             d.baseConfig(section),
		PreampGainDb:     parseFloat(d.cfg.GetValueDefault(section, "PREAMP_GAIN_DB", ""), 0),
		LimiterThreshold: parseFloat(d.cfg.GetValueDefault(section, "LIMITER_THRESHOLD", ""), 0.8),
		LimiterCeiling:   parseFloat(d.cfg.GetValueDefault(section, "LIMITER_CEILING", ""), 0.98),
		ClipperLimit:     int16(d.cfg.GetValueInt(section, "CLIPPER_LIMIT", 32000)),
		FlushTimeout:     durMs(d.cfg.GetValueInt(section, "FLUSH_TIMEOUT_MS", 3000)),
	}
	return logic.NewReflector(cfg, graph, deps, transport, d.now)
}

func compileRegex(pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		log.Default().Warn("invalid regex in config, ignoring", "pattern", pattern, "err", err)
		return nil
	}
	return re
}

func parsePhoneToTg(raw string) map[string]int {
	out := make(map[string]int)
	for _, entry := range splitList(raw) {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			continue
		}
		tg, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(parts[0])] = tg
	}
	return out
}

// dispatchSipCommand implements the §4.10 SIP_CTRL_PTY surface: "C#" hangs
// up all calls, "CA" answers the oldest pending incoming call, and
// "C<digits>#" places an outgoing call to sip:<digits>@server.
func dispatchSipCommand(ctx context.Context, s *logic.Sip, server, cmd string) {
	switch {
	case cmd == "C#":
		s.HangupAll(ctx)
	case cmd == "CA":
		if !s.AnswerPending() {
			log.Default().Warn("CA: no pending incoming call")
		}
	case strings.HasPrefix(cmd, "C") && strings.HasSuffix(cmd, "#"):
		digits := strings.TrimSuffix(strings.TrimPrefix(cmd, "C"), "#")
		if err := s.Dial(ctx, digits, server); err != nil {
			log.Default().Warn("sip dial failed", "digits", digits, "err", err)
		}
	default:
		log.Default().Warn("unrecognised SIP_CTRL_PTY command", "cmd", cmd)
	}
}

func runModemReplyLoop(f *os.File, automaton *modem.Automaton, deliver func(func())) {
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "RING" {
			deliver(func() { _ = automaton.RingReceived() })
			continue
		}
		kind := modem.Classify(line)
		deliver(func() { _ = automaton.ReplyReceived(kind) })
	}
}
