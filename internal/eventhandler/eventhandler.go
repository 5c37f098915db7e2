// Package eventhandler implements the scriptable event dispatcher of spec
// §4.5: named events run a user script/procedure in a bundled
// interpreter, which calls back into the owning logic through a fixed set
// of host operations. Per §9's redesign note, the interpreter itself is
// abstracted behind ScriptEngine so the daemon can ship an in-process
// engine (ProcEngine) and, where an operator wants a real scripting
// language, a subprocess engine without changing any logic core code.
package eventhandler

import "github.com/kc9wx/linkcore/internal/msghandler"

// HostCallbacks is the fixed set of operations a script may invoke back
// into its owning logic (§4.5).
type HostCallbacks interface {
	PlayFile(path string, idleMarked bool) error
	PlaySilence(ms int, idleMarked bool) error
	PlayTone(fqHz float64, amplPermille, ms int, idleMarked bool) error
	PlayDtmf(digit byte, amplPermille, ms int, idleMarked bool) error
	RecordStart(path string, maxMs int) error
	RecordStop() error
	DeactivateModule()
	PublishStateEvent(name, msg string)
	InjectDtmf(digits string, msPerDigit int)
	GetConfigValue(section, tag, def string) string
	SetConfigValue(section, tag, value string)
	// ScheduleAnnouncement is the §4.15 supplemented AnnounceLogic-style
	// hook: run a periodic time announcement without a bespoke per-logic
	// timer.
	ScheduleAnnouncement(cronSpec, event string)
}

// ScriptEngine abstracts the interpreter a logic's EVENT_HANDLER script
// runs in. ProcessEvent evaluates the named procedure in the namespace
// scope and returns a result string; a truthy result (any value other
// than "", "0", "false" or "no") means "handled".
type ScriptEngine interface {
	Load(path string) error
	SetVar(namespace, name, value string)
	GetVar(namespace, name string) (string, bool)
	RegisterCallback(name string, fn func(namespace string, args []string) string)
	ProcessEvent(namespace, name string, args []string) (string, error)
}

// Handler owns one logic's script engine binding, the msghandler it wraps
// every ProcessEvent call in begin()/end() around (so multi-play
// sequences scheduled from a single event are atomic, per §4.5), and the
// namespace (logic name) events run under.
type Handler struct {
	engine    ScriptEngine
	msg       *msghandler.MsgHandler
	namespace string
}

// New returns a Handler bound to engine, namespace (the owning logic's
// name), and the msghandler whose begin/end the handler wraps every event
// in.
func New(engine ScriptEngine, namespace string, msg *msghandler.MsgHandler) *Handler {
	return &Handler{engine: engine, msg: msg, namespace: namespace}
}

// Load reads the script/procedure source at path into the engine.
func (h *Handler) Load(path string) error {
	return h.engine.Load(path)
}

// SetVar sets a namespace-scoped variable.
func (h *Handler) SetVar(name, value string) {
	h.engine.SetVar(h.namespace, name, value)
}

// GetVar reads a namespace-scoped variable.
func (h *Handler) GetVar(name string) (string, bool) {
	return h.engine.GetVar(h.namespace, name)
}

// RegisterCustomCommand exposes an additional host-registered callback
// beyond the fixed HostCallbacks set (§4.5: "plus host-registered custom
// commands").
func (h *Handler) RegisterCustomCommand(name string, fn func(namespace string, args []string) string) {
	h.engine.RegisterCallback(name, fn)
}

// ProcessEvent evaluates name in this handler's namespace, wrapped in a
// begin()/end() pair on the message handler so any plays the event
// triggers are staged atomically. Returns true if the script's result was
// truthy ("handled").
func (h *Handler) ProcessEvent(name string, args ...string) (handled bool, err error) {
	h.msg.Begin()
	defer h.msg.End()
	result, err := h.engine.ProcessEvent(h.namespace, name, args)
	if err != nil {
		return false, err
	}
	return isTruthy(result), nil
}

func isTruthy(s string) bool {
	switch s {
	case "", "0", "false", "no":
		return false
	default:
		return true
	}
}
