package logic_test

import (
	"testing"
	"time"

	"github.com/kc9wx/linkcore/internal/eventhandler"
	"github.com/kc9wx/linkcore/internal/logic"
	"github.com/kc9wx/linkcore/internal/msghandler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopEngine is a ScriptEngine with no procedures bound, so every
// ProcessEvent call falls through to "not handled".
type noopEngine struct{}

func (noopEngine) Load(string) error                                     { return nil }
func (noopEngine) SetVar(string, string, string)                         {}
func (noopEngine) GetVar(string, string) (string, bool)                  { return "", false }
func (noopEngine) RegisterCallback(string, func(string, []string) string) {}
func (noopEngine) ProcessEvent(string, string, []string) (string, error) { return "", nil }

func newTestGraph() *logic.Graph {
	return logic.NewGraph(160, 320, 3200)
}

func newTestHandler(name string) *eventhandler.Handler {
	msg := msghandler.New(8000, 160, nil)
	return eventhandler.New(noopEngine{}, name, msg)
}

func newTestDeps(events *eventhandler.Handler) logic.LogicDeps {
	return logic.LogicDeps{
		Msg:          msghandler.New(8000, 160, nil),
		Events:       events,
		PublishEvent: func(string, string) {},
	}
}

func TestCtcssPolicyTransmitsOnlyForEnabledReasons(t *testing.T) {
	p := logic.NewCtcssPolicy(logic.ReasonSqlOpen | logic.ReasonModule)
	assert.False(t, p.ShouldTransmit())

	p.SetReason(logic.ReasonLogic, true)
	assert.False(t, p.ShouldTransmit(), "Logic reason is not in the enabled mask")

	p.SetReason(logic.ReasonSqlOpen, true)
	assert.True(t, p.ShouldTransmit())

	p.SetReason(logic.ReasonSqlOpen, false)
	assert.False(t, p.ShouldTransmit())
}

func TestTgMapperDebouncesBeforeSettingTg(t *testing.T) {
	var got int
	m := logic.NewTgMapper(map[float64]int{100.0: 42}, time.Second, func(tg int) { got = tg })

	start := time.Unix(0, 0)
	m.ToneDetected(100.0, start)
	m.Poll(start.Add(500 * time.Millisecond))
	assert.Equal(t, 0, got, "debounce window hasn't elapsed yet")

	m.Poll(start.Add(time.Second))
	assert.Equal(t, 42, got)
}

func TestTgMapperToneLostCancelsPending(t *testing.T) {
	var got int
	m := logic.NewTgMapper(map[float64]int{100.0: 42}, time.Second, func(tg int) { got = tg })
	start := time.Unix(0, 0)
	m.ToneDetected(100.0, start)
	m.ToneLost()
	m.Poll(start.Add(2 * time.Second))
	assert.Equal(t, 0, got)
}

type fakeModule struct {
	name        string
	active      bool
	lastCmd     string
	lastDigit   byte
}

func (m *fakeModule) Name() string                   { return m.name }
func (m *fakeModule) Activate()                       { m.active = true }
func (m *fakeModule) Deactivate()                     { m.active = false }
func (m *fakeModule) DtmfCmdReceived(cmd string)      { m.lastCmd = cmd }
func (m *fakeModule) DtmfDigitReceived(digit byte)    { m.lastDigit = digit }

func TestLogicBaseOfflineCommandsAreIgnoredExceptOnlineCmd(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Test")
	lb := logic.New(logic.Config{Name: "Test", OnlineCmd: "99"}, graph, msghandler.New(8000, 160, nil), events, func(string, string) {})

	mod := &fakeModule{name: "Parrot"}
	require.NoError(t, lb.RegisterModule("1", mod))

	now := time.Unix(0, 0)
	for _, d := range "1#" {
		lb.DtmfDigitReceived(byte(d), now)
	}
	assert.False(t, mod.active, "module activation should be dropped while offline")

	for _, d := range "991#" {
		lb.DtmfDigitReceived(byte(d), now)
	}
	assert.True(t, lb.IsOnline())
}

func TestLogicBaseActivatesModuleByCommand(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Test")
	lb := logic.New(logic.Config{Name: "Test"}, graph, msghandler.New(8000, 160, nil), events, func(string, string) {})
	lb.SetOnline(true)

	mod := &fakeModule{name: "Parrot"}
	require.NoError(t, lb.RegisterModule("1", mod))

	now := time.Unix(0, 0)
	for _, d := range "1#" {
		lb.DtmfDigitReceived(byte(d), now)
	}
	assert.True(t, mod.active)
	assert.Equal(t, "Parrot", lb.ActiveModuleName())
}

func TestLogicBaseUnknownCommandEmitsEvent(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Test")
	var published []string
	lb := logic.New(logic.Config{Name: "Test"}, graph, msghandler.New(8000, 160, nil), events, func(name, msg string) {
		published = append(published, name+":"+msg)
	})
	lb.SetOnline(true)

	now := time.Unix(0, 0)
	for _, d := range "77#" {
		lb.DtmfDigitReceived(byte(d), now)
	}
	assert.Contains(t, published, "unknown_command:77")
}

func TestLogicBaseCommandQueueDrainsOnSquelchClose(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Test")
	lb := logic.New(logic.Config{Name: "Test"}, graph, msghandler.New(8000, 160, nil), events, func(string, string) {})
	lb.SetOnline(true)

	mod := &fakeModule{name: "Parrot"}
	require.NoError(t, lb.RegisterModule("1", mod))

	lb.SquelchOpened()
	now := time.Unix(0, 0)
	for _, d := range "1#" {
		lb.DtmfDigitReceived(byte(d), now)
	}
	assert.False(t, mod.active, "queued while squelch is open")

	lb.SquelchClosed()
	assert.True(t, mod.active, "drained once squelch closes")
}

func TestSimplexMutesRxWhileTransmitting(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Simplex")
	s := logic.NewSimplex(logic.SimplexConfig{
		Base:       logic.Config{Name: "Simplex"},
		MuteRxOnTx: true,
	}, graph, newTestDeps(events))

	assert.True(t, graph.RxValve.IsOpen())
	s.SetTxActive(true)
	assert.False(t, graph.RxValve.IsOpen())
	s.SetTxActive(false)
	assert.True(t, graph.RxValve.IsOpen())
}

func TestSimplexRgrSoundAlwaysEmitsOnSquelchClose(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Simplex")
	var published []string
	deps := newTestDeps(events)
	deps.PublishEvent = func(name, msg string) { published = append(published, name) }
	s := logic.NewSimplex(logic.SimplexConfig{
		Base:           logic.Config{Name: "Simplex"},
		RgrSoundAlways: true,
	}, graph, deps)
	s.SetOnline(true)

	s.SquelchOpened()
	s.SquelchClosed()
	assert.Contains(t, published, "send_rgr_sound")
}

func TestRepeaterOpensOnSquelchAndClosesOnIdleTimeout(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Repeater")
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	r := logic.NewRepeater(logic.RepeaterConfig{
		Base:        logic.Config{Name: "Repeater"},
		IdleTimeout: 5 * time.Second,
		SqlFlank:    logic.FlankOpen,
	}, graph, newTestDeps(events), clock)

	r.SquelchOpenTrigger()
	assert.True(t, r.IsUp())

	now = now.Add(1 * time.Second)
	r.SquelchCloseTrigger()
	assert.True(t, r.IsUp(), "still up, idle timeout hasn't elapsed")

	now = now.Add(6 * time.Second)
	r.Poll(now)
	assert.False(t, r.IsUp())
}

func TestRepeaterFlankCloseDefersOpenUntilSquelchCloses(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Repeater")
	now := time.Unix(0, 0)
	r := logic.NewRepeater(logic.RepeaterConfig{
		Base:     logic.Config{Name: "Repeater"},
		SqlFlank: logic.FlankClose,
	}, graph, newTestDeps(events), func() time.Time { return now })

	r.SquelchOpenTrigger()
	assert.False(t, r.IsUp(), "FlankClose should not open on the open edge")

	r.SquelchCloseTrigger()
	assert.True(t, r.IsUp(), "FlankClose opens on the close edge")
}

func TestRepeaterSquelchFlapSuppression(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Repeater")
	now := time.Unix(0, 0)
	var published []string
	deps := newTestDeps(events)
	deps.PublishEvent = func(name, msg string) { published = append(published, name) }
	r := logic.NewRepeater(logic.RepeaterConfig{
		Base:              logic.Config{Name: "Repeater"},
		SqlFlank:          logic.FlankOpen,
		SqlFlapSupMinTime: 500 * time.Millisecond,
		SqlFlapSupMaxCnt:  2,
	}, graph, deps, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		r.SquelchOpenTrigger()
		now = now.Add(100 * time.Millisecond) // shorter than SqlFlapSupMinTime
		r.SquelchCloseTrigger()
	}
	assert.Contains(t, published, "SQL_FLAP_SUP")
	assert.False(t, r.IsUp())
}

func TestRepeaterDelayedTgActivationAppliesOnOpen(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Repeater")
	now := time.Unix(0, 0)
	r := logic.NewRepeater(logic.RepeaterConfig{
		Base:     logic.Config{Name: "Repeater"},
		SqlFlank: logic.FlankOpen,
	}, graph, newTestDeps(events), func() time.Time { return now })

	r.ActivateTg(99)
	assert.Equal(t, 0, r.ReceivedTg(), "deferred while closed")

	r.SquelchOpenTrigger()
	assert.Equal(t, 99, r.ReceivedTg())
}

func TestAnalogPhoneAuthenticationSuccessRaisesLineAfterSettle(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Phone")
	now := time.Unix(0, 0)
	var raised bool
	ap := logic.NewAnalogPhone(logic.AnalogPhoneConfig{
		Base:         logic.Config{Name: "Phone"},
		AuthRequired: true,
		AuthTimeout:  10 * time.Second,
		AuthSettle:   1500 * time.Millisecond,
		Pins:         map[string]string{"1234": "KC9WX"},
	}, graph, newTestDeps(events), func() { raised = true }, func() time.Time { return now })

	ap.IncomingCallAuthenticate()
	for _, d := range "1234" {
		ap.AuthDigitReceived(byte(d))
	}
	ap.AuthDigitReceived('#')
	assert.False(t, raised, "line should not raise until the settle delay passes")
	assert.Equal(t, "KC9WX", ap.CallerID)

	now = now.Add(2 * time.Second)
	ap.Poll(now)
	assert.True(t, raised)
}

func TestAnalogPhoneWrongPinDoesNotRaiseLine(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Phone")
	now := time.Unix(0, 0)
	var raised bool
	var published []string
	deps := newTestDeps(events)
	deps.PublishEvent = func(name, msg string) { published = append(published, name) }
	ap := logic.NewAnalogPhone(logic.AnalogPhoneConfig{
		Base:         logic.Config{Name: "Phone"},
		AuthRequired: true,
		Pins:         map[string]string{"1234": "KC9WX"},
	}, graph, deps, func() { raised = true }, func() time.Time { return now })

	ap.IncomingCallAuthenticate()
	for _, d := range "0000" {
		ap.AuthDigitReceived(byte(d))
	}
	ap.AuthDigitReceived('#')

	now = now.Add(2 * time.Second)
	ap.Poll(now)
	assert.False(t, raised)
	assert.Contains(t, published, "wrong_pin")
}

func TestAnalogPhoneAuthTimeoutEmitsEvent(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Phone")
	now := time.Unix(0, 0)
	var published []string
	deps := newTestDeps(events)
	deps.PublishEvent = func(name, msg string) { published = append(published, name) }
	ap := logic.NewAnalogPhone(logic.AnalogPhoneConfig{
		Base:         logic.Config{Name: "Phone"},
		AuthRequired: true,
		AuthTimeout:  10 * time.Second,
		Pins:         map[string]string{"1234": "KC9WX"},
	}, graph, deps, func() {}, func() time.Time { return now })

	ap.IncomingCallAuthenticate()
	now = now.Add(11 * time.Second)
	ap.Poll(now)
	assert.Contains(t, published, "auth_timeout")
}

func TestAnalogPhoneNoAuthRaisesLineImmediately(t *testing.T) {
	graph := newTestGraph()
	events := newTestHandler("Phone")
	var raised bool
	ap := logic.NewAnalogPhone(logic.AnalogPhoneConfig{
		Base: logic.Config{Name: "Phone"},
	}, graph, newTestDeps(events), func() { raised = true }, nil)

	ap.IncomingCallAuthenticate()
	assert.True(t, raised)
}
