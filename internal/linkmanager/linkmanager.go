// Package linkmanager computes and maintains the reachability matrix
// between logics described in spec §4.12. It owns no audio nodes itself;
// a ConnectorToggle is registered per ordered (src, sink) pair when the
// daemon wires its logics together, and the manager enables/disables those toggles to
// realize each LinkDef's connectivity.
//
// Grounded on svxlink's LinkManager.cpp/.h (original_source/); §9's open
// question about the duplicated "linkCfg"/"link_cfg" declaration is
// resolved here by having exactly one LinkDef type.
package linkmanager

import (
	"fmt"
	"sort"
	"time"
)

// Member is one logic's participation in a LinkDef.
type Member struct {
	BaseCmd   string
	LinkLabel string
}

// LinkDef is a named group of logics whose audio may be cross-connected
// on demand (Data Model: LinkDef).
type LinkDef struct {
	Name           string
	Members        map[string]Member
	Timeout        time.Duration
	DefaultConnect bool
	NoDisconnect   bool
	AutoConnectOn  map[string]bool

	isConnected bool
}

// IsConnected reports whether this link is currently active.
func (l *LinkDef) IsConnected() bool {
	return l.isConnected
}

// memberNames returns the link's member logic names, sorted for
// deterministic iteration.
func (l *LinkDef) memberNames() []string {
	names := make([]string, 0, len(l.Members))
	for n := range l.Members {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// pair is one directed (src, sink) connector.
type pair struct {
	Src, Sink string
}

// requiredPairs returns every ordered (src, sink) pair among distinct
// members of l.
func (l *LinkDef) requiredPairs() []pair {
	names := l.memberNames()
	var out []pair
	for _, a := range names {
		for _, b := range names {
			if a != b {
				out = append(out, pair{a, b})
			}
		}
	}
	return out
}

// ConnectorToggle is the audio-graph side of a (src, sink) connector; in
// the running daemon this is an audiograph.SplitterHandle: the leg of the
// source logic's output splitter that feeds the sink logic.
type ConnectorToggle interface {
	SetEnabled(enabled bool)
}

// EventFunc receives the named link-manager events of §4.12/§7
// (activating_link, deactivating_link, link_already_active, ...).
type EventFunc func(event, arg string)

// Manager holds link definitions, the "is connected" reachability set,
// disconnect timers, and the set of logics known to be up.
type Manager struct {
	links      map[string]*LinkDef
	connectors map[pair]ConnectorToggle
	is         map[pair]bool
	upLogics   map[string]bool
	timers     map[string]time.Time // link name -> disconnect deadline
	timerArmed map[string]bool
	now        func() time.Time
	onEvent    EventFunc
}

// New returns an empty Manager. now defaults to time.Now when nil.
func New(now func() time.Time, onEvent EventFunc) *Manager {
	if now == nil {
		now = time.Now
	}
	if onEvent == nil {
		onEvent = func(string, string) {}
	}
	return &Manager{
		links:      make(map[string]*LinkDef),
		connectors: make(map[pair]ConnectorToggle),
		is:         make(map[pair]bool),
		upLogics:   make(map[string]bool),
		timers:     make(map[string]time.Time),
		timerArmed: make(map[string]bool),
		now:        now,
		onEvent:    onEvent,
	}
}

// AddLink registers a link definition. Member count must be >= 2 (Data
// Model invariant).
func (m *Manager) AddLink(l *LinkDef) error {
	if len(l.Members) < 2 {
		return fmt.Errorf("linkmanager: link %q needs at least 2 members, got %d", l.Name, len(l.Members))
	}
	m.links[l.Name] = l
	return nil
}

// RegisterConnector wires the audio-graph toggle for the (src, sink)
// connector pair, called once per pair when the daemon wires its logics.
func (m *Manager) RegisterConnector(src, sink string, toggle ConnectorToggle) {
	m.connectors[pair{src, sink}] = toggle
}

// Link returns a link definition by name.
func (m *Manager) Link(name string) (*LinkDef, bool) {
	l, ok := m.links[name]
	return l, ok
}

// isPairActiveElsewhere reports whether p is required by some other
// currently-connected link besides except.
func (m *Manager) isPairActiveElsewhere(p pair, except string) bool {
	for name, l := range m.links {
		if name == except || !l.isConnected {
			continue
		}
		for _, rp := range l.requiredPairs() {
			if rp == p {
				return true
			}
		}
	}
	return false
}

// ConnectLinks computes want = the full cross-product of logics in the
// link, diff = want - is, enables each new connector, and starts the
// disconnect timer if configured (§4.12).
func (m *Manager) ConnectLinks(name string) error {
	l, ok := m.links[name]
	if !ok {
		return fmt.Errorf("linkmanager: no such link %q", name)
	}
	for _, p := range l.requiredPairs() {
		if m.is[p] {
			continue
		}
		if toggle, ok := m.connectors[p]; ok {
			toggle.SetEnabled(true)
		}
		m.is[p] = true
	}
	l.isConnected = true
	m.startDisconnectTimer(l)
	return nil
}

// DisconnectLinks disables exactly the subset of is that is unique to this
// link — not held open by another currently-connected link (invariant 3
// of §8) — and stops its timer.
func (m *Manager) DisconnectLinks(name string) error {
	l, ok := m.links[name]
	if !ok {
		return fmt.Errorf("linkmanager: no such link %q", name)
	}
	if l.NoDisconnect {
		return nil
	}
	for _, p := range l.requiredPairs() {
		if !m.is[p] {
			continue
		}
		if m.isPairActiveElsewhere(p, name) {
			continue
		}
		if toggle, ok := m.connectors[p]; ok {
			toggle.SetEnabled(false)
		}
		delete(m.is, p)
	}
	l.isConnected = false
	delete(m.timers, name)
	delete(m.timerArmed, name)
	return nil
}

func (m *Manager) startDisconnectTimer(l *LinkDef) {
	if l.Timeout <= 0 || l.NoDisconnect {
		return
	}
	m.timers[l.Name] = m.now().Add(l.Timeout)
	m.timerArmed[l.Name] = true
}

// Poll must be called periodically by the event loop; any link whose
// disconnect timer has elapsed is disconnected, emitting
// deactivating_link.
func (m *Manager) Poll(now time.Time) {
	for name, armed := range m.timerArmed {
		if !armed {
			continue
		}
		if !now.Before(m.timers[name]) {
			_ = m.DisconnectLinks(name)
			m.onEvent("deactivating_link", name)
		}
	}
}

// CmdReceived locates the link whose member `logic` has BaseCmd == cmd and
// dispatches by sub ("0" disconnect, "1" connect), mapping outcomes to the
// events of §4.12/§7.
func (m *Manager) CmdReceived(logic, cmd, sub string) {
	var found *LinkDef
	for _, l := range m.links {
		if mem, ok := l.Members[logic]; ok && mem.BaseCmd == cmd {
			found = l
			break
		}
	}
	if found == nil {
		m.onEvent("activating_link_failed", logic+" "+cmd)
		return
	}
	switch sub {
	case "1":
		if found.isConnected {
			m.onEvent("link_already_active", found.Name)
			return
		}
		if err := m.ConnectLinks(found.Name); err != nil {
			m.onEvent("activating_link_failed", found.Name)
			return
		}
		m.onEvent("activating_link", found.Name)
	case "0":
		if !found.isConnected {
			return
		}
		if err := m.DisconnectLinks(found.Name); err != nil {
			m.onEvent("activating_link_failed", found.Name)
			return
		}
		m.onEvent("deactivating_link", found.Name)
	}
}

// LogicIsUp records that `name` has come online and, for every link
// containing it whose every member is now up and whose DefaultConnect is
// set, connects it.
func (m *Manager) LogicIsUp(name string) {
	m.upLogics[name] = true
	for linkName, l := range m.links {
		if _, ok := l.Members[name]; !ok {
			continue
		}
		if !l.DefaultConnect || l.isConnected {
			continue
		}
		allUp := true
		for member := range l.Members {
			if !m.upLogics[member] {
				allUp = false
				break
			}
		}
		if allUp {
			_ = m.ConnectLinks(linkName)
			m.onEvent("activating_link", linkName)
		}
	}
}

// ResetTimers restarts disconnect timers for every connected link carrying
// `name` (called on squelch close in that logic), and connects any link
// where name is in AutoConnectOn.
func (m *Manager) ResetTimers(name string) {
	for linkName, l := range m.links {
		if _, ok := l.Members[name]; !ok {
			continue
		}
		if l.isConnected {
			m.startDisconnectTimer(l)
		}
		if l.AutoConnectOn[name] && !l.isConnected {
			_ = m.ConnectLinks(linkName)
			m.onEvent("activating_link", linkName)
		}
	}
}

// ReachableFrom reports whether src currently routes to sink (exported for
// tests verifying invariant 3).
func (m *Manager) ReachableFrom(src, sink string) bool {
	return m.is[pair{src, sink}]
}
