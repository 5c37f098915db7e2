package main

import (
	"github.com/kc9wx/linkcore/internal/config"
	"github.com/kc9wx/linkcore/internal/eventhandler"
)

// registerBuiltinProcedures installs the handful of built-in event
// reactions the distilled spec names by example (§4.6-§4.8): a roger
// beep, the repeater idle/nag sounds, and the three command-failure
// announcements (unknown command, macro not found, module activation
// failed). Anything else configured via EVENT_HANDLER falls
// through to ProcessEvent's "no procedure registered" error, which
// callers already treat as non-fatal (§7).
func registerBuiltinProcedures(e *eventhandler.ProcEngine) {
	e.RegisterProcedure("send_rgr_sound", func(cb eventhandler.HostCallbacks, v *eventhandler.Vars, args []string) string {
		_ = cb.PlayFile("roger.wav", true)
		return "1"
	})
	e.RegisterProcedure("repeater_idle", func(cb eventhandler.HostCallbacks, v *eventhandler.Vars, args []string) string {
		_ = cb.PlaySilence(100, true)
		return "1"
	})
	e.RegisterProcedure("identify_nag", func(cb eventhandler.HostCallbacks, v *eventhandler.Vars, args []string) string {
		_ = cb.PlayFile("ident.wav", false)
		return "1"
	})
	e.RegisterProcedure("unknown_command", func(cb eventhandler.HostCallbacks, v *eventhandler.Vars, args []string) string {
		_ = cb.PlayFile("unknown_command.wav", true)
		return "1"
	})
	e.RegisterProcedure("macro_not_found", func(cb eventhandler.HostCallbacks, v *eventhandler.Vars, args []string) string {
		_ = cb.PlayFile("macro_not_found.wav", true)
		return "1"
	})
	e.RegisterProcedure("activate_module_failed", func(cb eventhandler.HostCallbacks, v *eventhandler.Vars, args []string) string {
		_ = cb.PlayFile("operation_failed.wav", true)
		return "1"
	})
}

// buildScriptEngine picks once for the whole daemon between the
// in-process ProcEngine and a SubprocessEngine shelling out to a real
// interpreter. If any configured logic's EVENT_HANDLER names a script
// whose extension identifies an interpreter, that interpreter backs
// every logic's Handler (mirroring svxlink's single shared events.tcl);
// otherwise every logic runs on the built-in procedures.
func buildScriptEngine(cfg *config.Store, sections []string, hostFor func(namespace string) eventhandler.HostCallbacks) eventhandler.ScriptEngine {
	for _, section := range sections {
		path := cfg.GetValueDefault(section, "EVENT_HANDLER", "")
		if path == "" {
			continue
		}
		interpreter := interpreterFor(extOf(path))
		if interpreter == "" {
			continue
		}
		eng := eventhandler.NewSubprocessEngine(interpreter)
		_ = eng.Load(path)
		return eng
	}
	eng := eventhandler.NewProcEngine(hostFor)
	registerBuiltinProcedures(eng)
	return eng
}

func interpreterFor(ext string) string {
	switch ext {
	case ".tcl":
		return "tclsh"
	case ".lua":
		return "lua"
	case ".sh":
		return "sh"
	}
	return ""
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		switch path[i] {
		case '.':
			return path[i:]
		case '/':
			return ""
		}
	}
	return ""
}
