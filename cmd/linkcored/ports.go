package main

import (
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/kc9wx/linkcore/internal/config"
	"github.com/kc9wx/linkcore/internal/ptyctrl"
)

// logicPorts bundles the three optional pty surfaces of §6 for one logic.
type logicPorts struct {
	dtmf  *ptyctrl.DtmfPort
	cmd   *ptyctrl.CommandPort
	state *ptyctrl.StatePort
}

func (p *logicPorts) close() {
	if p == nil {
		return
	}
	if p.dtmf != nil {
		_ = p.dtmf.Close()
	}
	if p.cmd != nil {
		_ = p.cmd.Close()
	}
	if p.state != nil {
		_ = p.state.Close()
	}
}

// buildPorts opens DTMF_CTRL_PTY/COMMAND_PTY/STATE_PTY for one logic
// section, if configured, delivering every callback onto deliver (the
// main event loop's marshalling queue) so pty-reader goroutines never
// touch logic state directly (§5).
func buildPorts(cfg *config.Store, section string, rl *runningLogic, deliver func(func())) *logicPorts {
	var ports logicPorts

	if path := cfg.GetValueDefault(section, "DTMF_CTRL_PTY", ""); path != "" {
		// A flood of inbound digits must not starve the event loop's
		// single drain goroutine (§5); cap the rate at which digits from
		// this pty are allowed onto the queue, dropping the rest.
		maxRate := cfg.GetValueInt(section, "DTMF_MAX_RATE", 20)
		limiter := rate.NewLimiter(rate.Limit(maxRate), maxRate)
		p, err := ptyctrl.OpenDtmfPort(path, func(digit byte) {
			if !limiter.Allow() {
				log.Default().Warn("DTMF_CTRL_PTY rate limit exceeded, dropping digit", "logic", section)
				return
			}
			deliver(func() { rl.base.Dtmf.DigitReceived(digit, time.Now()) })
		})
		if err != nil {
			log.Default().Error("open DTMF_CTRL_PTY failed", "logic", section, "path", path, "err", err)
		} else {
			ports.dtmf = p
		}
	}

	if path := cfg.GetValueDefault(section, "COMMAND_PTY", ""); path != "" {
		p, err := ptyctrl.OpenCommandPort(path, func(verb, rest string) {
			deliver(func() { dispatchCommandLine(cfg, section, rl, verb, rest) })
		})
		if err != nil {
			log.Default().Error("open COMMAND_PTY failed", "logic", section, "path", path, "err", err)
		} else {
			ports.cmd = p
		}
	}

	if path := cfg.GetValueDefault(section, "STATE_PTY", ""); path != "" {
		p, err := ptyctrl.OpenStatePort(path, nil)
		if err != nil {
			log.Default().Error("open STATE_PTY failed", "logic", section, "path", path, "err", err)
		} else {
			ports.state = p
		}
	}

	return &ports
}

// dispatchCommandLine implements COMMAND_PTY's two recognised verbs (§6):
// "CFG <section> <tag> <value>" sets a config variable; "EVENT <name>
// [args...]" raises an event, qualified with the owning logic's name
// unless name already contains "::".
func dispatchCommandLine(cfg *config.Store, logicName string, rl *runningLogic, verb, rest string) {
	switch verb {
	case "CFG":
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) != 3 {
			log.Default().Warn("malformed CFG command", "logic", logicName, "line", rest)
			return
		}
		cfg.SetValue(fields[0], fields[1], fields[2])
	case "EVENT":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return
		}
		name := fields[0]
		args := fields[1:]
		namespace := logicName
		if idx := strings.Index(name, "::"); idx >= 0 {
			namespace = name[:idx]
			name = name[idx+2:]
		}
		if namespace != logicName {
			// Raised in another logic's namespace: route through its own
			// handler if we have it; otherwise there is nothing local to do.
			if other, ok := rl.daemon.logics[namespace]; ok {
				if _, err := other.events.ProcessEvent(name, args...); err != nil {
					log.Default().Warn("event processing failed", "logic", namespace, "event", name, "err", err)
				}
			}
			return
		}
		if _, err := rl.events.ProcessEvent(name, args...); err != nil {
			log.Default().Warn("event processing failed", "logic", logicName, "event", name, "err", err)
		}
	default:
		log.Default().Warn("unrecognised COMMAND_PTY verb", "logic", logicName, "verb", verb)
	}
}
