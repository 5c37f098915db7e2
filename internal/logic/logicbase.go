// Package logic implements the logic-core state machines of spec §4.6-§4.11:
// a shared audio-graph/command-pipeline base (LogicBase) plus the tagged
// variants (Simplex, Repeater, AnalogPhone, SIP, Reflector) that configure
// it differently.
//
// Grounded on svxlink's Logic/LogicBase + RxSplitter/TxSelector wiring
// pattern (original_source/), reworked onto the internal/audiograph
// primitives.
package logic

import (
	"fmt"
	"strings"
	"time"

	"github.com/kc9wx/linkcore/internal/audiograph"
	"github.com/kc9wx/linkcore/internal/cmdparser"
	"github.com/kc9wx/linkcore/internal/dtmfagg"
	"github.com/kc9wx/linkcore/internal/eventhandler"
	"github.com/kc9wx/linkcore/internal/msghandler"
)

// Module is an activatable module a logic can route DTMF commands to
// (§4.4 step 5). Echolink-style, parrot, and similar modules implement
// this.
type Module interface {
	Name() string
	Activate()
	Deactivate()
	DtmfCmdReceived(cmd string)
	DtmfDigitReceived(digit byte)
}

// Graph is the audio-node wiring owned by every logic, following the
// §4.6 diagram exactly:
//
//	Rx -> rxValve -> rxSplitter -+-> (toModule selector src, prio 10)
//	                             +-> (toLogicConOut src, prio 10)
//	                             +-> rptValve -> (txSelector src, prio 20)
//	                             +-> [recorder sink] (optional, via RxSplitter.AddSink)
//	logicConIn -> (toModule selector src, prio 0)
//	           -> ssdet -> (txSelector src, prio 10)
//	moduleAudio -> splitter -+-> ssdet -> (txSelector src, prio 0)
//	                         +-> (toLogicConOut src, prio 0)
//	txSelector -> ssdet -> fifo(prebuf) -> mixer -> Tx
//	msgHandler -> fxGainAmp -> fifo -> pacer -> mixer (second source)
type Graph struct {
	RxValve    *audiograph.Valve
	RxSplitter *audiograph.Splitter
	RptValve   *audiograph.Valve

	ToModuleSelector *audiograph.Selector
	ModuleAudioIn    *audiograph.SelectorInput // toModule selector's logicConIn leg, prio 0
	RxToModuleIn     *audiograph.SelectorInput // toModule selector's rxSplitter leg, prio 10

	ToLogicConOutSel   *audiograph.Selector
	RxToLogicConOutIn  *audiograph.SelectorInput // prio 10
	ModToLogicConOutIn *audiograph.SelectorInput // prio 0

	TxSelector      *audiograph.Selector
	RptToTxIn       *audiograph.SelectorInput // prio 20
	LogicConInToTxIn *audiograph.SelectorInput // prio 10
	ModuleToTxIn    *audiograph.SelectorInput // prio 0

	RxSsdet          *audiograph.StreamStateDetector
	LogicConInSplit  *audiograph.Splitter
	LogicConInSsdet  *audiograph.StreamStateDetector
	ModuleAudioSplit *audiograph.Splitter
	ModuleAudioSsdet *audiograph.StreamStateDetector
	TxSsdet          *audiograph.StreamStateDetector

	TxFifo  *audiograph.Fifo
	TxPacer *audiograph.Pacer
	Mixer   *audiograph.Mixer

	MsgAmp   *audiograph.Amp
	MsgFifo  *audiograph.Fifo
	MsgPacer *audiograph.Pacer

	frameLen int

	onLogicConInActivity  func(active bool)
	onModuleAudioActivity func(active bool)
}

// OnLogicConInActivity registers an additional observer of the
// logic-con-in stream-state edge, used to drive the CTCSS "Logic" reason
// without giving the routing wiring itself a second responsibility.
func (g *Graph) OnLogicConInActivity(fn func(active bool)) { g.onLogicConInActivity = fn }

// OnModuleAudioActivity registers an additional observer of the
// module-audio stream-state edge, used to drive the CTCSS "Module"
// reason.
func (g *Graph) OnModuleAudioActivity(fn func(active bool)) { g.onModuleAudioActivity = fn }

// WriteRx pushes one frame of received radio audio into the graph.
func (g *Graph) WriteRx(samples []int16) { g.RxValve.WriteSamples(samples) }

// FlushRx flushes the Rx path (e.g. on squelch close).
func (g *Graph) FlushRx() { g.RxValve.Flush() }

// WriteLogicConIn pushes one frame of audio arriving from another linked
// logic into both the toModule selector (direct, prio 0) and the tx
// selector (through the logicConIn stream-state detector, prio 10).
func (g *Graph) WriteLogicConIn(samples []int16) { g.LogicConInSplit.WriteSamples(samples) }

// FlushLogicConIn flushes the logic-con-in path.
func (g *Graph) FlushLogicConIn() { g.LogicConInSplit.Flush() }

// WriteModuleAudio pushes one frame of audio produced by the active
// module into both the tx selector (prio 0) and the logic-con-out path
// (prio 0).
func (g *Graph) WriteModuleAudio(samples []int16) { g.ModuleAudioSplit.WriteSamples(samples) }

// FlushModuleAudio flushes the module-audio path.
func (g *Graph) FlushModuleAudio() { g.ModuleAudioSplit.Flush() }

// Poll drives every stream-state detector's hangover timer; call once per
// audio tick.
func (g *Graph) Poll(now func() time.Time) {
	t := now()
	g.RxSsdet.Poll(t)
	g.LogicConInSsdet.Poll(t)
	g.ModuleAudioSsdet.Poll(t)
	g.TxSsdet.Poll(t)
}

// NewGraph constructs and fully wires a Graph. frameLen is the pacer's
// pull size for the message-handler leg; prebufSamples/maxFifoSamples
// size both the tx prebuffer fifo and the message fifo.
func NewGraph(frameLen, prebufSamples, maxFifoSamples int) *Graph {
	g := &Graph{
		RxValve:          audiograph.NewValve(true),
		RxSplitter:       audiograph.NewSplitter(),
		RptValve:         audiograph.NewValve(false),
		ToModuleSelector: audiograph.NewSelector(),
		ToLogicConOutSel: audiograph.NewSelector(),
		TxSelector:       audiograph.NewSelector(),
		ModuleAudioSplit: audiograph.NewSplitter(),
		TxFifo:           audiograph.NewFifo(prebufSamples, maxFifoSamples),
		Mixer:            audiograph.NewMixer(),
	}

	g.RxSsdet = audiograph.NewStreamStateDetector(0, nil)
	g.LogicConInSplit = audiograph.NewSplitter()
	g.LogicConInSsdet = audiograph.NewStreamStateDetector(0, nil)
	g.ModuleAudioSsdet = audiograph.NewStreamStateDetector(0, nil)
	g.TxSsdet = audiograph.NewStreamStateDetector(0, nil)

	// rxValve -> ssdet (activity edge for every rx-derived selector input) -> rxSplitter
	g.RxValve.SetSink(g.RxSsdet)
	g.RxSsdet.SetSink(g.RxSplitter)

	// rxSplitter fan-out: toModule (prio 10), toLogicConOut (prio 10), rptValve -> txSelector (prio 20)
	g.RxToModuleIn = g.ToModuleSelector.AddSource(10, true)
	g.RxSplitter.AddSink(g.RxToModuleIn, true)
	g.RxToLogicConOutIn = g.ToLogicConOutSel.AddSource(10, true)
	g.RxSplitter.AddSink(g.RxToLogicConOutIn, true)
	g.RptToTxIn = g.TxSelector.AddSource(20, true)
	g.RptValve.SetSink(g.RptToTxIn)
	g.RxSplitter.AddSink(g.RptValve, true)
	g.RxSsdet.OnChange(func(isActive, _ bool) {
		g.RxToModuleIn.SetActive(isActive)
		g.RxToLogicConOutIn.SetActive(isActive)
		g.RptToTxIn.SetActive(isActive)
	})

	// logicConIn -> toModule (prio 0) direct, and -> ssdet -> txSelector (prio 10)
	g.ModuleAudioIn = g.ToModuleSelector.AddSource(0, true)
	g.LogicConInToTxIn = g.TxSelector.AddSource(10, true)
	g.LogicConInSplit.AddSink(g.ModuleAudioIn, true)
	g.LogicConInSplit.AddSink(g.LogicConInSsdet, true)
	g.LogicConInSsdet.SetSink(g.LogicConInToTxIn)
	g.LogicConInSsdet.OnChange(func(isActive, _ bool) {
		g.ModuleAudioIn.SetActive(isActive)
		g.LogicConInToTxIn.SetActive(isActive)
		if g.onLogicConInActivity != nil {
			g.onLogicConInActivity(isActive)
		}
	})

	// moduleAudio splitter -+-> ssdet -> txSelector (prio 0)
	//                       +-> toLogicConOut (prio 0)
	g.ModuleToTxIn = g.TxSelector.AddSource(0, true)
	g.ModToLogicConOutIn = g.ToLogicConOutSel.AddSource(0, true)
	g.ModuleAudioSsdet.SetSink(g.ModuleToTxIn)
	g.ModuleAudioSplit.AddSink(g.ModuleAudioSsdet, true)
	g.ModuleAudioSplit.AddSink(g.ModToLogicConOutIn, true)
	g.ModuleAudioSsdet.OnChange(func(isActive, _ bool) {
		g.ModuleToTxIn.SetActive(isActive)
		g.ModToLogicConOutIn.SetActive(isActive)
		if g.onModuleAudioActivity != nil {
			g.onModuleAudioActivity(isActive)
		}
	})

	// txSelector -> ssdet -> fifo(prebuf) -> pacer -> mixer
	g.TxSelector.SetSink(g.TxSsdet)
	g.TxSsdet.SetSink(g.TxFifo)
	g.TxPacer = audiograph.NewPacer(g.TxFifo, frameLen)
	txLeg := g.Mixer.AddLeg()
	g.TxPacer.SetSink(txLeg)

	// msgHandler -> fxGainAmp -> fifo -> pacer -> mixer (second leg)
	g.MsgFifo = audiograph.NewFifo(prebufSamples, maxFifoSamples)
	g.MsgAmp = audiograph.NewAmp()
	g.MsgAmp.SetSink(g.MsgFifo)
	g.MsgPacer = audiograph.NewPacer(g.MsgFifo, frameLen)
	msgLeg := g.Mixer.AddLeg()
	g.MsgPacer.SetSink(msgLeg)

	g.frameLen = frameLen
	return g
}

// Tick pulls one frame from both mixer legs (tx program audio and paced
// message audio) and mixes them to the Tx sink, the per-frame pump the
// single-threaded event loop calls at the audio rate.
func (g *Graph) Tick() {
	g.TxPacer.Tick()
	g.MsgPacer.Tick()
	g.Mixer.Mix(g.frameLen)
}

// SetTxSink wires the mixer's final output (the Tx path) to sink.
func (g *Graph) SetTxSink(sink audiograph.Sink) {
	g.Mixer.SetSink(sink)
}

// Config is the subset of a logic's configuration every LogicBase needs,
// independent of which variant mounts it.
type Config struct {
	Name          string
	OnlineCmd     string
	MacroPrefix   string
	LongCmdDigits int
	LongCmdModule string
	FxGainNormal  float64
	FxGainLow     float64
}

// LogicBase is the shared state and audio-graph wiring every logic
// variant embeds (§4.6). It is not itself a complete logic: variants
// (Simplex, Repeater, ...) add triggers that call into LogicBase's
// exported methods.
type LogicBase struct {
	cfg Config

	Graph    *Graph
	Cmd      *cmdparser.Parser
	Macros   *cmdparser.MacroTable
	Dtmf     *dtmfagg.Aggregator
	Msg      *msghandler.MsgHandler
	Events   *eventhandler.Handler
	Ctcss    *CtcssPolicy
	TgMapper *TgMapper
	Recorder RecorderController // optional; nil if this logic has no QSO recorder mounted
	Config   ConfigAccessor     // optional; nil disables getConfigValue/setConfigValue
	Scheduler AnnouncementScheduler

	isOnline     bool
	activeModule Module
	modules      map[string]Module
	receivedTg   int
	sqlOpen      bool
	cmdQueue     []string

	publishEvent func(name, msg string)
}

// RecorderController is the QSO recorder surface the event handler's
// recordStart/recordStop callbacks drive (§4.5).
type RecorderController interface {
	Start(path string, maxMs int) error
	Stop() error
}

// ConfigAccessor is the subset of the config store the event handler's
// getConfigValue/setConfigValue callbacks use.
type ConfigAccessor interface {
	GetValueDefault(section, tag, def string) string
	SetValue(section, tag, value string)
}

// AnnouncementScheduler runs the §4.15 scheduleAnnouncement hook.
type AnnouncementScheduler interface {
	Schedule(cronSpec, event string)
}

// LogicDeps bundles the collaborators every variant constructor needs,
// so Simplex/Repeater/AnalogPhone/Sip/Reflector constructors take one
// struct instead of five positional parameters.
type LogicDeps struct {
	Msg          *msghandler.MsgHandler
	Events       *eventhandler.Handler
	PublishEvent func(name, msg string)
	Config       ConfigAccessor
	Recorder     RecorderController
	Scheduler    AnnouncementScheduler
}

// New constructs a LogicBase with a freshly wired graph and empty command
// registry. The caller (a variant constructor) should register built-in
// commands and modules afterward.
func New(cfg Config, graph *Graph, msg *msghandler.MsgHandler, events *eventhandler.Handler, publishEvent func(name, msg string)) *LogicBase {
	if publishEvent == nil {
		publishEvent = func(string, string) {}
	}
	lb := &LogicBase{
		cfg:          cfg,
		Graph:        graph,
		Cmd:          cmdparser.New(),
		Macros:       cmdparser.NewMacroTable(),
		Dtmf:         dtmfagg.New(),
		Msg:          msg,
		Events:       events,
		Ctcss:        NewCtcssPolicy(ReasonAlways),
		modules:      make(map[string]Module),
		publishEvent: publishEvent,
	}
	lb.Dtmf.OnCommandComplete(lb.commandComplete)
	graph.OnLogicConInActivity(func(active bool) { lb.Ctcss.SetReason(ReasonLogic, active) })
	graph.OnModuleAudioActivity(func(active bool) { lb.Ctcss.SetReason(ReasonModule, active) })
	msg.OnAllMsgsWritten(func() { lb.Ctcss.SetReason(ReasonAnnouncement, false) })
	return lb
}

// Name returns the logic's configured name.
func (lb *LogicBase) Name() string { return lb.cfg.Name }

// IsOnline reports whether the logic currently accepts activations.
func (lb *LogicBase) IsOnline() bool { return lb.isOnline }

// SetOnline sets/clears online state (§4.6 "Online/offline"): going
// offline deactivates any module and forbids further activation until
// brought back online. LogicBase has no TX control mode, so none is
// changed, and the flag is not persisted.
func (lb *LogicBase) SetOnline(online bool) {
	if lb.isOnline == online {
		return
	}
	lb.isOnline = online
	if !online {
		lb.DeactivateModule()
	}
	if online {
		lb.publishEvent("logic_online", "1")
	} else {
		lb.publishEvent("logic_online", "0")
	}
}

// ReceivedTg returns the last talkgroup id set via SetReceivedTg.
func (lb *LogicBase) ReceivedTg() int { return lb.receivedTg }

// SetReceivedTg records the received talkgroup id (called by the CTCSS
// mapper or reflector TLV metadata).
func (lb *LogicBase) SetReceivedTg(tg int) { lb.receivedTg = tg }

// RegisterModule makes a module activatable by numeric command id.
func (lb *LogicBase) RegisterModule(id string, m Module) error {
	if _, exists := lb.modules[id]; exists {
		return fmt.Errorf("logic: module id %q already registered", id)
	}
	lb.modules[id] = m
	return lb.Cmd.AddCmd(&cmdparser.Command{
		Key: id,
		Handler: func(sub string) {
			lb.activateModuleByID(id, sub)
		},
	})
}

// ActiveModuleName returns the currently active module's name, or "" if
// none (Data Model: Logic.activeModule).
func (lb *LogicBase) ActiveModuleName() string {
	if lb.activeModule == nil {
		return ""
	}
	return lb.activeModule.Name()
}

// ActivateModule activates the module registered under name, which may be
// its command id or its module name. Fails (returns false) if no such
// module exists or a different module is already active.
func (lb *LogicBase) ActivateModule(name string) bool {
	m, ok := lb.modules[name]
	if !ok {
		for _, cand := range lb.modules {
			if cand.Name() == name {
				m, ok = cand, true
				break
			}
		}
	}
	if !ok {
		return false
	}
	if lb.activeModule != nil && lb.activeModule != m {
		return false
	}
	lb.activeModule = m
	m.Activate()
	return true
}

func (lb *LogicBase) activateModuleByID(id, sub string) {
	if !lb.ActivateModule(id) {
		lb.publishEvent("activate_module_failed", id)
		return
	}
	if sub != "" {
		lb.activeModule.DtmfCmdReceived(sub)
	}
}

// DeactivateModule deactivates the currently active module, if any
// (eventhandler.HostCallbacks).
func (lb *LogicBase) DeactivateModule() {
	if lb.activeModule == nil {
		return
	}
	lb.activeModule.Deactivate()
	lb.activeModule = nil
}

// SquelchOpened/SquelchClosed track the local Rx squelch state; variants
// call these from their triggers, and LogicBase uses sqlOpen to gate
// command-queue drain (§4.4 step 2) and the SqlOpen CTCSS reason.
func (lb *LogicBase) SquelchOpened() {
	lb.sqlOpen = true
	lb.Ctcss.SetReason(ReasonSqlOpen, true)
}

func (lb *LogicBase) SquelchClosed() {
	lb.sqlOpen = false
	lb.Ctcss.SetReason(ReasonSqlOpen, false)
	lb.drainCmdQueue()
}

// DtmfDigitReceived feeds one DTMF digit through the aggregator.
func (lb *LogicBase) DtmfDigitReceived(digit byte, now time.Time) {
	lb.Dtmf.DigitReceived(digit, now)
}

// commandComplete is the DTMF aggregator's OnCommandComplete callback: it
// implements §4.4's command-processing pipeline steps 1-2 (offline
// filtering and enqueue-then-gate-on-squelch); steps 3-7 run in
// drainCmdQueue/ProcessCmd.
func (lb *LogicBase) commandComplete(cmd string) {
	lb.Dtmf.Reset()
	if !lb.isOnline {
		if cmd == lb.cfg.OnlineCmd+"1" {
			lb.SetOnline(true)
		}
		return
	}
	lb.cmdQueue = append(lb.cmdQueue, cmd)
	if !lb.sqlOpen {
		lb.drainCmdQueue()
	}
}

func (lb *LogicBase) drainCmdQueue() {
	for !lb.sqlOpen && len(lb.cmdQueue) > 0 {
		cmd := lb.cmdQueue[0]
		lb.cmdQueue = lb.cmdQueue[1:]
		lb.processCmd(cmd)
	}
}

// processCmd runs §4.4 steps 2-7 for one fully-aggregated command.
func (lb *LogicBase) processCmd(cmd string) {
	handled, err := lb.Events.ProcessEvent("dtmf_cmd_received", cmd)
	if err == nil && handled {
		return
	}

	force := false
	if strings.HasPrefix(cmd, "*") {
		cmd = cmd[1:]
		force = true
	}

	if lb.cfg.MacroPrefix != "" && strings.HasPrefix(cmd, lb.cfg.MacroPrefix) {
		lb.runMacro(strings.TrimSuffix(strings.TrimPrefix(cmd, lb.cfg.MacroPrefix), "#"))
		return
	}

	if lb.activeModule != nil && !force {
		lb.activeModule.DtmfCmdReceived(cmd)
		return
	}

	if lb.cfg.LongCmdDigits > 0 && len(cmd) >= lb.cfg.LongCmdDigits && lb.cfg.LongCmdModule != "" {
		if lb.ActivateModule(lb.cfg.LongCmdModule) {
			lb.activeModule.DtmfCmdReceived(cmd)
			return
		}
	}

	if ok := lb.Cmd.ProcessCmd(cmd); !ok {
		lb.publishEvent("unknown_command", cmd)
	}
}

// runMacro expands the numeric macro id (after stripping the prefix and
// any trailing '#') per §4.4's macro-expansion rule.
func (lb *LogicBase) runMacro(idStr string) {
	id, err := cmdparser.ParseMacroID(idStr)
	if err != nil {
		lb.publishEvent("macro_not_found", idStr)
		return
	}
	macro, ok := lb.Macros.Get(id)
	if !ok {
		lb.publishEvent("macro_not_found", idStr)
		return
	}
	moduleName, moduleCmd := macro.Split()
	if moduleName == "" {
		for i := 0; i < len(moduleCmd); i++ {
			lb.Dtmf.DigitReceived(moduleCmd[i], time.Now())
		}
		return
	}
	if lb.activeModule != nil && lb.activeModule.Name() != moduleName {
		lb.publishEvent("macro_module_conflict", moduleName)
		return
	}
	if !lb.ActivateModule(moduleName) {
		lb.publishEvent("macro_module_conflict", moduleName)
		return
	}
	for i := 0; i < len(moduleCmd); i++ {
		lb.activeModule.DtmfDigitReceived(moduleCmd[i])
	}
}

// The methods below implement eventhandler.HostCallbacks, letting
// LogicBase be passed directly as the host for its own event handler.

func (lb *LogicBase) PlayFile(path string, idleMarked bool) error {
	lb.Ctcss.SetReason(ReasonAnnouncement, true)
	return lb.Msg.PlayFile(path, idleMarked)
}

func (lb *LogicBase) PlaySilence(ms int, idleMarked bool) error {
	lb.Ctcss.SetReason(ReasonAnnouncement, true)
	return lb.Msg.PlaySilence(ms, idleMarked)
}

func (lb *LogicBase) PlayTone(fqHz float64, amplPermille, ms int, idleMarked bool) error {
	lb.Ctcss.SetReason(ReasonAnnouncement, true)
	return lb.Msg.PlayTone(fqHz, amplPermille, ms, idleMarked)
}

func (lb *LogicBase) PlayDtmf(digit byte, amplPermille, ms int, idleMarked bool) error {
	lb.Ctcss.SetReason(ReasonAnnouncement, true)
	return lb.Msg.PlayDtmf(digit, amplPermille, ms, idleMarked)
}

func (lb *LogicBase) RecordStart(path string, maxMs int) error {
	if lb.Recorder == nil {
		return fmt.Errorf("logic: %s has no recorder mounted", lb.cfg.Name)
	}
	return lb.Recorder.Start(path, maxMs)
}

func (lb *LogicBase) RecordStop() error {
	if lb.Recorder == nil {
		return nil
	}
	return lb.Recorder.Stop()
}

func (lb *LogicBase) PublishStateEvent(name, msg string) { lb.publishEvent(name, msg) }

func (lb *LogicBase) InjectDtmf(digits string, msPerDigit int) {
	now := time.Now()
	for i := 0; i < len(digits); i++ {
		lb.Dtmf.DigitReceived(digits[i], now)
	}
}

func (lb *LogicBase) GetConfigValue(section, tag, def string) string {
	if lb.Config == nil {
		return def
	}
	return lb.Config.GetValueDefault(section, tag, def)
}

func (lb *LogicBase) SetConfigValue(section, tag, value string) {
	if lb.Config == nil {
		return
	}
	lb.Config.SetValue(section, tag, value)
}

func (lb *LogicBase) ScheduleAnnouncement(cronSpec, event string) {
	if lb.Scheduler == nil {
		return
	}
	lb.Scheduler.Schedule(cronSpec, event)
}
