package linkmanager_test

import (
	"testing"
	"time"

	"github.com/kc9wx/linkcore/internal/linkmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToggle struct {
	enabled bool
}

func (f *fakeToggle) SetEnabled(enabled bool) { f.enabled = enabled }

func newManagerWithToggles(now func() time.Time, events *[]string, logics ...string) (*linkmanager.Manager, map[[2]string]*fakeToggle) {
	m := linkmanager.New(now, func(event, arg string) {
		*events = append(*events, event+" "+arg)
	})
	toggles := make(map[[2]string]*fakeToggle)
	for _, a := range logics {
		for _, b := range logics {
			if a == b {
				continue
			}
			t := &fakeToggle{}
			toggles[[2]string{a, b}] = t
			m.RegisterConnector(a, b, t)
		}
	}
	return m, toggles
}

func TestConnectThenDisconnectIsNoOpOnIs(t *testing.T) {
	var events []string
	m, toggles := newManagerWithToggles(nil, &events, "A", "B")
	require.NoError(t, m.AddLink(&linkmanager.LinkDef{
		Name:    "L1",
		Members: map[string]linkmanager.Member{"A": {BaseCmd: "10"}, "B": {BaseCmd: "10"}},
	}))

	require.NoError(t, m.ConnectLinks("L1"))
	assert.True(t, m.ReachableFrom("A", "B"))
	assert.True(t, m.ReachableFrom("B", "A"))

	require.NoError(t, m.DisconnectLinks("L1"))
	assert.False(t, m.ReachableFrom("A", "B"))
	assert.False(t, m.ReachableFrom("B", "A"))
	assert.False(t, toggles[[2]string{"A", "B"}].enabled)
	assert.False(t, toggles[[2]string{"B", "A"}].enabled)
}

func TestDisconnectLeavesConnectorsRequiredByOtherActiveLink(t *testing.T) {
	var events []string
	m, toggles := newManagerWithToggles(nil, &events, "A", "B", "C")
	require.NoError(t, m.AddLink(&linkmanager.LinkDef{
		Name:    "L1",
		Members: map[string]linkmanager.Member{"A": {BaseCmd: "10"}, "B": {BaseCmd: "10"}},
	}))
	require.NoError(t, m.AddLink(&linkmanager.LinkDef{
		Name:    "L2",
		Members: map[string]linkmanager.Member{"A": {BaseCmd: "20"}, "B": {BaseCmd: "20"}, "C": {BaseCmd: "20"}},
	}))

	require.NoError(t, m.ConnectLinks("L1"))
	require.NoError(t, m.ConnectLinks("L2"))

	require.NoError(t, m.DisconnectLinks("L1"))

	// invariant 3: connectors enabled after disconnecting L1 equal exactly
	// the union required by L2 (still active).
	assert.True(t, m.ReachableFrom("A", "B"), "A->B still required by L2")
	assert.True(t, m.ReachableFrom("B", "A"), "B->A still required by L2")
	assert.True(t, m.ReachableFrom("A", "C"))
	assert.True(t, toggles[[2]string{"A", "B"}].enabled)
}

func TestCmdReceivedConnectAndTimeoutDisconnectsScenario(t *testing.T) {
	// S4: two logics A/B in link L1, TIMEOUT=30s, DEFAULT_CONNECT=0.
	// Connect command on A yields is={(A,B),(B,A)} and activating_link L1;
	// after 30s idle, deactivating_link L1 and an empty is.
	start := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	var events []string
	m, _ := newManagerWithToggles(now, &events, "A", "B")
	require.NoError(t, m.AddLink(&linkmanager.LinkDef{
		Name:           "L1",
		Members:        map[string]linkmanager.Member{"A": {BaseCmd: "10"}, "B": {BaseCmd: "10"}},
		Timeout:        30 * time.Second,
		DefaultConnect: false,
	}))

	m.CmdReceived("A", "10", "1")
	assert.Contains(t, events, "activating_link L1")
	assert.True(t, m.ReachableFrom("A", "B"))
	assert.True(t, m.ReachableFrom("B", "A"))

	clock = clock.Add(30 * time.Second)
	m.Poll(clock)

	assert.Contains(t, events, "deactivating_link L1")
	assert.False(t, m.ReachableFrom("A", "B"))
	assert.False(t, m.ReachableFrom("B", "A"))
}

func TestCmdReceivedAlreadyActiveEmitsEvent(t *testing.T) {
	var events []string
	m, _ := newManagerWithToggles(nil, &events, "A", "B")
	require.NoError(t, m.AddLink(&linkmanager.LinkDef{
		Name:    "L1",
		Members: map[string]linkmanager.Member{"A": {BaseCmd: "10"}, "B": {BaseCmd: "10"}},
	}))

	m.CmdReceived("A", "10", "1")
	m.CmdReceived("A", "10", "1")
	assert.Contains(t, events, "link_already_active L1")
}

func TestLogicIsUpAutoConnectsOnceAllMembersUp(t *testing.T) {
	var events []string
	m, _ := newManagerWithToggles(nil, &events, "A", "B")
	require.NoError(t, m.AddLink(&linkmanager.LinkDef{
		Name:           "L1",
		Members:        map[string]linkmanager.Member{"A": {BaseCmd: "10"}, "B": {BaseCmd: "10"}},
		DefaultConnect: true,
	}))

	m.LogicIsUp("A")
	link, _ := m.Link("L1")
	assert.False(t, link.IsConnected(), "should not connect until both members are up")

	m.LogicIsUp("B")
	assert.True(t, link.IsConnected())
	assert.Contains(t, events, "activating_link L1")
}

func TestResetTimersRestartsDisconnectDeadline(t *testing.T) {
	start := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	clock := start
	now := func() time.Time { return clock }

	var events []string
	m, _ := newManagerWithToggles(now, &events, "A", "B")
	require.NoError(t, m.AddLink(&linkmanager.LinkDef{
		Name:    "L1",
		Members: map[string]linkmanager.Member{"A": {BaseCmd: "10"}, "B": {BaseCmd: "10"}},
		Timeout: 30 * time.Second,
	}))

	m.CmdReceived("A", "10", "1")

	clock = clock.Add(20 * time.Second)
	m.ResetTimers("A") // squelch closed on A, restart the 30s window

	clock = clock.Add(20 * time.Second) // 40s since connect, 20s since reset
	m.Poll(clock)
	link, _ := m.Link("L1")
	assert.True(t, link.IsConnected(), "timer should have been pushed out by ResetTimers")

	clock = clock.Add(11 * time.Second) // 31s since reset
	m.Poll(clock)
	assert.False(t, link.IsConnected())
}

func TestNoDisconnectLinkIgnoresDisconnectLinks(t *testing.T) {
	var events []string
	m, toggles := newManagerWithToggles(nil, &events, "A", "B")
	require.NoError(t, m.AddLink(&linkmanager.LinkDef{
		Name:         "L1",
		Members:      map[string]linkmanager.Member{"A": {BaseCmd: "10"}, "B": {BaseCmd: "10"}},
		NoDisconnect: true,
	}))

	require.NoError(t, m.ConnectLinks("L1"))
	require.NoError(t, m.DisconnectLinks("L1"))
	assert.True(t, m.ReachableFrom("A", "B"))
	assert.True(t, toggles[[2]string{"A", "B"}].enabled)
}
