// Package logwriter redirects the daemon's stdout/stderr through a pipe
// into a log writer that prepends a strftime-style timestamp, or into
// syslog, classifying severity by line prefix. Grounded on the teacher's
// log.go (plain CSV append) and the svxlink original's LogWriter.cpp
// (pipe + prefix-sniffing), re-expressed without cgo or C++ stream idioms.
package logwriter

import (
	"bufio"
	"fmt"
	"io"
	"log/syslog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
)

// Severity mirrors the three prefixes from spec §6 plus the original's
// bare '#' info marker (§4.15 supplemented feature).
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityNotice
	SeverityWarning
	SeverityError
)

func classify(line string) Severity {
	switch {
	case strings.HasPrefix(line, "*** ERROR:"):
		return SeverityError
	case strings.HasPrefix(line, "*** WARNING:"):
		return SeverityWarning
	case strings.HasPrefix(line, "### "):
		return SeverityNotice
	case strings.HasPrefix(line, "#"):
		return SeverityInfo
	default:
		return SeverityInfo
	}
}

// pctF matches the %f millisecond extension strftime does not natively
// support, so it can be pre-expanded before compiling the pattern.
var pctF = regexp.MustCompile(`%f`)

// Writer is the destination for redirected stdout/stderr: either a plain
// file (possibly daily-rotated by the caller reopening it) or syslog.
type Writer struct {
	mu       sync.Mutex
	pattern  *strftime.Strftime
	file     *os.File
	syslogw  *syslog.Writer
	toSyslog bool
}

// Option configures a Writer.
type Option func(*Writer) error

// WithFile directs output at an open file.
func WithFile(f *os.File) Option {
	return func(w *Writer) error {
		w.file = f
		return nil
	}
}

// WithSyslog directs output at the local syslog daemon instead of a file.
// dest should be the bare string "syslog" per spec §6 ("Destination
// `syslog:` switches to syslog").
func WithSyslog() Option {
	return func(w *Writer) error {
		sw, err := syslog.New(syslog.LOG_INFO, "linkcored")
		if err != nil {
			return fmt.Errorf("logwriter: connect syslog: %w", err)
		}
		w.syslogw = sw
		w.toSyslog = true
		return nil
	}
}

// New builds a Writer with the given strftime-style timestamp pattern
// (e.g. "%Y-%m-%d %H:%M:%S.%f"). An empty pattern disables timestamping.
func New(timestampPattern string, opts ...Option) (*Writer, error) {
	w := &Writer{}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	if timestampPattern != "" {
		expanded := pctF.ReplaceAllString(timestampPattern, "999")
		p, err := strftime.New(expanded)
		if err != nil {
			return nil, fmt.Errorf("logwriter: bad timestamp pattern %q: %w", timestampPattern, err)
		}
		w.pattern = p
	}
	return w, nil
}

func (w *Writer) timestamp(now time.Time) string {
	if w.pattern == nil {
		return ""
	}
	ms := fmt.Sprintf("%03d", now.Nanosecond()/1_000_000)
	s := w.pattern.FormatString(now)
	return strings.ReplaceAll(s, "999", ms)
}

// WriteLine formats and emits a single already-trimmed log line.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.toSyslog {
		switch classify(line) {
		case SeverityError:
			return w.syslogw.Err(line)
		case SeverityWarning:
			return w.syslogw.Warning(line)
		case SeverityNotice:
			return w.syslogw.Notice(line)
		default:
			return w.syslogw.Info(line)
		}
	}

	ts := w.timestamp(time.Now())
	out := line
	if ts != "" {
		out = ts + ": " + line
	}
	if w.file != nil {
		_, err := fmt.Fprintln(w.file, out)
		return err
	}
	_, err := fmt.Fprintln(os.Stdout, out)
	return err
}

// PumpPipe reads newline-delimited lines from r until EOF and writes each
// through WriteLine. Intended to run in its own goroutine reading the read
// end of an os.Pipe() whose write end has replaced os.Stdout/os.Stderr, in
// line with the "only additional thread is the log-writer" rule of §5.
func (w *Writer) PumpPipe(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		_ = w.WriteLine(scanner.Text())
	}
}

// Close releases the syslog connection, if any.
func (w *Writer) Close() error {
	if w.syslogw != nil {
		return w.syslogw.Close()
	}
	return nil
}
