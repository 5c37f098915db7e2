package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/kc9wx/linkcore/internal/logwriter"
)

// setupLogging wires the §6 log channel: a pipe feeds a logwriter.Writer
// (file, or syslog when logfile is the literal "syslog:"), and
// charmbracelet/log's default logger is pointed at the pipe's write end so
// every structured log line is timestamped/classified by the writer. When
// a logfile is given, os.Stdout and os.Stderr are also pointed at the
// pipe; without one the writer itself prints to stdout, so they are left
// as they are.
func setupLogging(flags cliFlags, timestampPattern string) (*logwriter.Writer, error) {
	var opts []logwriter.Option
	if flags.logfile == "syslog:" {
		opts = append(opts, logwriter.WithSyslog())
	} else if flags.logfile != "" {
		f, err := os.OpenFile(flags.logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", flags.logfile, err)
		}
		opts = append(opts, logwriter.WithFile(f))
	}

	w, err := logwriter.New(timestampPattern, opts...)
	if err != nil {
		return nil, err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("logging: pipe: %w", err)
	}
	go w.PumpPipe(pr)
	if flags.logfile != "" {
		os.Stdout = pw
		os.Stderr = pw
	}

	level := log.InfoLevel
	if flags.quiet {
		level = log.WarnLevel
	}
	logger := log.NewWithOptions(pw, log.Options{
		ReportTimestamp: false, // logwriter supplies the timestamp prefix
		Level:           level,
	})
	log.SetDefault(logger)
	return w, nil
}
