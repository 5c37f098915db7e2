package logic

import "time"

// CtcssReason is one of the five bits that can demand a CTCSS tone on
// transmit (§4.6).
type CtcssReason int

const (
	ReasonAlways CtcssReason = 1 << iota
	ReasonSqlOpen
	ReasonLogic
	ReasonModule
	ReasonAnnouncement
)

// CtcssPolicy tracks which reasons are currently asserted and gates
// transmit-tone on a configured enabled mask.
type CtcssPolicy struct {
	enabledMask CtcssReason
	active      CtcssReason
}

// NewCtcssPolicy returns a policy transmitting tone for the reasons in
// enabledMask.
func NewCtcssPolicy(enabledMask CtcssReason) *CtcssPolicy {
	return &CtcssPolicy{enabledMask: enabledMask}
}

// SetReason asserts or deasserts one reason bit, driven by the
// corresponding stream-state edge.
func (p *CtcssPolicy) SetReason(reason CtcssReason, asserted bool) {
	if asserted {
		p.active |= reason
	} else {
		p.active &^= reason
	}
}

// ShouldTransmit reports whether any enabled reason is currently active.
func (p *CtcssPolicy) ShouldTransmit() bool {
	return p.active&p.enabledMask != 0
}

// TgMapper runs the CTCSS→talkgroup debounce of §4.6: a detected
// sub-audible tone frequency starts a debounce timer; on expiry the
// frequency is looked up in a configured table and setReceivedTg is
// called.
type TgMapper struct {
	debounce   time.Duration
	table      map[float64]int
	pending    float64
	hasPending bool
	deadline   time.Time
	setTg      func(tg int)
}

// NewTgMapper returns a mapper with the given frequency→TG table and
// debounce window (default 1s if debounce <= 0).
func NewTgMapper(table map[float64]int, debounce time.Duration, setTg func(tg int)) *TgMapper {
	if debounce <= 0 {
		debounce = time.Second
	}
	return &TgMapper{debounce: debounce, table: table, setTg: setTg}
}

// ToneDetected records a newly detected sub-audible tone frequency and
// (re)arms the debounce timer.
func (m *TgMapper) ToneDetected(freq float64, now time.Time) {
	m.pending = freq
	m.hasPending = true
	m.deadline = now.Add(m.debounce)
}

// ToneLost cancels any pending debounce (tone disappeared before expiry).
func (m *TgMapper) ToneLost() {
	m.hasPending = false
}

// Poll must be called periodically; once the debounce window elapses the
// pending frequency is mapped to a talkgroup and setTg is invoked.
func (m *TgMapper) Poll(now time.Time) {
	if !m.hasPending || now.Before(m.deadline) {
		return
	}
	m.hasPending = false
	if tg, ok := m.table[m.pending]; ok && m.setTg != nil {
		m.setTg(tg)
	}
}
