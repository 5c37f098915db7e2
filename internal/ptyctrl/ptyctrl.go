// Package ptyctrl exposes a logic's DTMF/command/state surfaces as
// symlinked pseudo-terminals, per spec §6: DTMF_CTRL_PTY (a raw
// single-byte digit stream), COMMAND_PTY (line-buffered CFG/EVENT
// commands), and STATE_PTY (a one-way published-event writer).
//
// Grounded on the teacher's kisspt_open_pt/kisspt_listen_thread
// (teacher_src/kiss.go): creack/pty.Open(), a stable /tmp symlink pointing
// at the pty's slave path, and a dedicated goroutine reading bytes off
// the master end instead of a C select()/read() loop.
package ptyctrl

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/creack/pty"
)

// Port is one open pseudo-terminal with a stable symlink at SymlinkPath
// pointing at the (unstable) slave device name.
type Port struct {
	master     *os.File
	slave      *os.File
	symlinkPath string
}

// Open creates a new pty and symlinks its slave device at symlinkPath
// (an existing symlink there is replaced, matching the teacher's
// os.Remove-then-Symlink sequence).
func Open(symlinkPath string) (*Port, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("ptyctrl: open pty for %s: %w", symlinkPath, err)
	}
	_ = os.Remove(symlinkPath)
	if err := os.Symlink(slave.Name(), symlinkPath); err != nil {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("ptyctrl: symlink %s -> %s: %w", symlinkPath, slave.Name(), err)
	}
	return &Port{master: master, slave: slave, symlinkPath: symlinkPath}, nil
}

// SlaveName returns the pty's real (unstable) slave device path.
func (p *Port) SlaveName() string { return p.slave.Name() }

// Close closes both ends of the pty and removes the stable symlink.
func (p *Port) Close() error {
	_ = os.Remove(p.symlinkPath)
	err1 := p.slave.Close()
	err2 := p.master.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// DtmfPort is a DTMF_CTRL_PTY: clients write raw DTMF digit bytes, which
// are delivered one at a time to OnDigit.
type DtmfPort struct {
	*Port
	onDigit func(digit byte)
}

// OpenDtmfPort opens a DTMF_CTRL_PTY and starts its listen goroutine.
func OpenDtmfPort(symlinkPath string, onDigit func(digit byte)) (*DtmfPort, error) {
	p, err := Open(symlinkPath)
	if err != nil {
		return nil, err
	}
	d := &DtmfPort{Port: p, onDigit: onDigit}
	go d.listen()
	return d, nil
}

func (d *DtmfPort) listen() {
	buf := make([]byte, 1)
	for {
		n, err := d.master.Read(buf)
		if err != nil {
			return
		}
		if n > 0 && d.onDigit != nil {
			d.onDigit(buf[0])
		}
	}
}

// CommandPort is a COMMAND_PTY: clients write newline-terminated lines of
// the form "CFG <section> <tag> <value>" or "EVENT <name> <arg>";
// OnCommand is called once per complete line with the verb and the
// remainder of the line.
type CommandPort struct {
	*Port
	onCommand func(verb, rest string)
}

// OpenCommandPort opens a COMMAND_PTY and starts its line-reading
// goroutine.
func OpenCommandPort(symlinkPath string, onCommand func(verb, rest string)) (*CommandPort, error) {
	p, err := Open(symlinkPath)
	if err != nil {
		return nil, err
	}
	c := &CommandPort{Port: p, onCommand: onCommand}
	go c.listen()
	return c, nil
}

func (c *CommandPort) listen() {
	scanner := bufio.NewScanner(c.master)
	for scanner.Scan() {
		line := scanner.Text()
		verb, rest := splitVerb(line)
		if verb == "" {
			continue
		}
		if c.onCommand != nil {
			c.onCommand(verb, rest)
		}
	}
}

func splitVerb(line string) (verb, rest string) {
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			return line[:i], line[i+1:]
		}
	}
	return line, ""
}

// StatePort is a STATE_PTY: a one-way channel the host writes published
// state events to; nothing is read from clients.
type StatePort struct {
	*Port
	now func() time.Time
}

// OpenStatePort opens a STATE_PTY. No listener goroutine is started since
// the port is write-only from the host's perspective.
func OpenStatePort(symlinkPath string, now func() time.Time) (*StatePort, error) {
	p, err := Open(symlinkPath)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &StatePort{Port: p, now: now}, nil
}

// PublishStateEvent writes one "<unixSec>.<ms> <event> <msg>\n" line to
// every connected client, matching LogicBase.PublishStateEvent's signature
// so a StatePort can be registered directly as an eventhandler observer.
func (s *StatePort) PublishStateEvent(name, msg string) {
	t := s.now()
	line := fmt.Sprintf("%d.%03d %s", t.Unix(), t.Nanosecond()/1e6, name)
	if msg != "" {
		line += " " + msg
	}
	_, _ = s.master.Write([]byte(line + "\n"))
}
