package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/kc9wx/linkcore/internal/config"
	"github.com/kc9wx/linkcore/internal/eventhandler"
)

func main() {
	flags := parseFlags()
	if flags.showVer {
		fmt.Println(version)
		return
	}

	lw, err := setupLogging(flags, "%Y-%m-%d %H:%M:%S.%f")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lw.Close()

	if err := run(flags); err != nil {
		log.Default().Error("linkcored exiting", "err", err)
		os.Exit(1)
	}
}

// run loads config, constructs every configured logic and the link
// manager, then either exits immediately (--reset) or drives the event
// loop until a termination signal arrives.
func run(flags cliFlags) error {
	if flags.configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg := config.New()
	if strings.HasSuffix(flags.configPath, ".yaml") || strings.HasSuffix(flags.configPath, ".yml") {
		if err := cfg.LoadYAMLFile(flags.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		if err := cfg.LoadINIFile(flags.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	if flags.pidfile != "" {
		if err := writePidFile(flags.pidfile); err != nil {
			return err
		}
		defer removePidFile(flags.pidfile)
	}

	if flags.runAsUser != "" {
		if err := dropPrivileges(flags.runAsUser); err != nil {
			return err
		}
	}

	d := newDaemon(cfg, nil)

	var logicSections []string
	for _, section := range cfg.Sections() {
		if cfg.GetValueDefault(section, "TYPE", "") != "" {
			logicSections = append(logicSections, section)
		}
	}
	if len(logicSections) == 0 {
		return fmt.Errorf("config names no logic sections (no TYPE tag found)")
	}

	// hostFor is only invoked once ProcessEvent runs, well after every
	// logic below has been constructed, so the forward reference into
	// d.logics resolves by the time it matters.
	hostFor := func(namespace string) eventhandler.HostCallbacks {
		rl, ok := d.logics[namespace]
		if !ok {
			return nil
		}
		return rl.base
	}
	engine := buildScriptEngine(cfg, logicSections, hostFor)

	for _, section := range logicSections {
		rl, err := d.buildLogic(section, engine)
		if err != nil {
			return fmt.Errorf("build logic %q: %w", section, err)
		}
		d.logics[section] = rl
		log.Default().Info("logic online", "logic", section, "type", cfg.GetValueDefault(section, "TYPE", ""))
	}

	mgr, err := buildLinkManager(cfg, d.now, func(event, arg string) {
		log.Default().Info("link event", "event", event, "arg", arg)
	})
	if err != nil {
		return fmt.Errorf("build link manager: %w", err)
	}
	d.linkMgr = mgr

	wireConnectors(d)
	for name := range d.logics {
		mgr.LogicIsUp(name)
	}

	if flags.reset {
		log.Default().Info("reset complete, exiting without entering the run loop")
		d.shutdown()
		return nil
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Default().Info("received signal, shutting down", "signal", sig.String())
		d.shutdown()
	}()

	d.run()
	return nil
}
