package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// version is stamped at release time; left as a placeholder constant the
// way the teacher's own command-line tools report it.
const version = "linkcored 0.1.0"

// cliFlags mirrors spec §6's CLI surface: --pidfile, --logfile,
// --runasuser, --config, --daemon, --reset, --quiet, --version.
type cliFlags struct {
	pidfile    string
	logfile    string
	runAsUser  string
	configPath string
	daemonize  bool
	reset      bool
	quiet      bool
	showVer    bool
}

// parseFlags declares the flag set in the teacher's direwolf/main.go
// style (pflag.StringP/BoolP with a custom Usage), then parses os.Args.
func parseFlags() cliFlags {
	var f cliFlags
	pflag.StringVarP(&f.pidfile, "pidfile", "p", "", "write the daemon's pid to this file")
	pflag.StringVarP(&f.logfile, "logfile", "l", "", "redirect the log channel to this file instead of stdout")
	pflag.StringVarP(&f.runAsUser, "runasuser", "u", "", "drop privileges to this user after opening the log file and pidfile")
	pflag.StringVarP(&f.configPath, "config", "c", "", "path to the INI or YAML config file")
	pflag.BoolVarP(&f.daemonize, "daemon", "d", false, "accepted but ignored; the process stays in the foreground")
	pflag.BoolVar(&f.reset, "reset", false, "initialise every logic, then exit without entering the run loop")
	pflag.BoolVarP(&f.quiet, "quiet", "q", false, "suppress info-level log output")
	pflag.BoolVarP(&f.showVer, "version", "v", false, "print the version and exit")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: linkcored [flags]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	return f
}
