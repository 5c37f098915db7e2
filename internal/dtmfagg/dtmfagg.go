// Package dtmfagg converts a stream of detected DTMF digits into complete
// commands, per spec §4.3. Grounded on svxlink's original
// DtmfDigitHandler.cpp (see original_source/), re-expressed with an
// explicit Timer callback instead of signal/slot connections.
package dtmfagg

import "time"

const (
	bufferCap            = 20
	defaultCmdTimeout     = 10 * time.Second
)

// Aggregator holds the buffer, anti-flutter state, and inter-digit timer
// described in the Data Model's DtmfAggregator entity.
type Aggregator struct {
	buffer      string
	antiFlutter bool
	prevDigit   byte // '?' means "none"
	cmdTimeout  time.Duration

	timerDeadline time.Time
	timerArmed    bool

	onComplete func(cmd string)
}

// New returns an Aggregator with the default 10s inter-digit timeout.
func New() *Aggregator {
	return &Aggregator{prevDigit: '?', cmdTimeout: defaultCmdTimeout}
}

// SetCmdTimeout overrides the inter-digit timeout.
func (a *Aggregator) SetCmdTimeout(d time.Duration) {
	a.cmdTimeout = d
}

// OnCommandComplete registers the callback fired with the finished command
// string (without separators) whenever a terminator completes it.
func (a *Aggregator) OnCommandComplete(fn func(cmd string)) {
	a.onComplete = fn
}

// DigitReceived processes one incoming digit per the semantics of §4.3.
// now is the caller-supplied clock, so tests can drive the timer without
// sleeping.
func (a *Aggregator) DigitReceived(digit byte, now time.Time) {
	a.resetTimer(now)

	switch {
	case digit == '#' || (a.antiFlutter && digit == 'C'):
		a.complete()
		a.Reset()
		return
	case digit == 'A':
		a.antiFlutter = true
		a.prevDigit = '?'
		return
	case digit == 'D':
		a.buffer = "D"
		a.prevDigit = '?'
		return
	}

	if len(a.buffer) >= bufferCap {
		return
	}

	switch {
	case digit == 'H':
		// Literal hash escape, used inside macro expansions (§4.3).
		a.buffer += "#"
	case digit == 'B':
		if a.antiFlutter && a.prevDigit != '?' {
			a.buffer += string(a.prevDigit)
			a.prevDigit = '?'
		}
	case isDigitOrStar(digit):
		if digit == '*' && a.buffer == "*" {
			return // dedupe at buffer-start
		}
		if a.antiFlutter {
			if digit != a.prevDigit {
				a.buffer += string(digit)
				a.prevDigit = digit
			}
			// else: consecutive duplicate suppressed.
		} else {
			a.buffer += string(digit)
		}
	}
}

func isDigitOrStar(d byte) bool {
	return (d >= '0' && d <= '9') || d == '*'
}

func (a *Aggregator) complete() {
	if a.onComplete != nil {
		a.onComplete(a.buffer)
	}
}

// ForceComplete flushes a non-empty, not-yet-terminated buffer into a
// command on demand (§4.15 supplemented feature, grounded on
// DtmfDigitHandler::forceCommandComplete in original_source/).
func (a *Aggregator) ForceComplete() {
	if a.buffer == "" {
		return
	}
	a.complete()
	a.Reset()
}

// Reset is idempotent (R3): calling it repeatedly leaves the same empty,
// disarmed state.
func (a *Aggregator) Reset() {
	a.timerArmed = false
	a.buffer = ""
	a.antiFlutter = false
	a.prevDigit = '?'
}

func (a *Aggregator) resetTimer(now time.Time) {
	a.timerArmed = true
	a.timerDeadline = now.Add(a.cmdTimeout)
}

// Poll must be called periodically by the event loop with the current
// time; if the inter-digit timeout has elapsed since the last digit, the
// buffer and anti-flutter state are cleared without emitting a completion
// (B2).
func (a *Aggregator) Poll(now time.Time) {
	if !a.timerArmed {
		return
	}
	if !now.Before(a.timerDeadline) {
		a.Reset()
	}
}

// Buffer returns the current (incomplete) buffer contents, mainly for
// tests and diagnostics.
func (a *Aggregator) Buffer() string {
	return a.buffer
}

// AntiFlutter reports whether anti-flutter mode is currently active.
func (a *Aggregator) AntiFlutter() bool {
	return a.antiFlutter
}
